package pipeline

import "errors"

// Sentinel errors surfaced across subsystem boundaries.
var (
	// ErrPoolExhausted means no egress identity is eligible; callers must
	// back off rather than fetch unprotected.
	ErrPoolExhausted = errors.New("identity pool exhausted")

	// ErrNoParser means no adapter is registered for a parser ID.
	ErrNoParser = errors.New("no parser registered")

	// ErrSiteSuspended means the site's circuit breaker is open.
	ErrSiteSuspended = errors.New("site dispatch suspended")

	// ErrRobotsDisallowed means robots.txt forbids fetching the URL.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
)

package pipeline

import (
	"context"
	"time"
)

// Frontier holds pending fetch tasks partitioned per site. Dequeue never
// blocks; an empty result is normal, not an error.
type Frontier interface {
	// Enqueue admits a task unless its URL fingerprint is already seen or
	// the task exceeds the site's max depth. Returns true when admitted.
	Enqueue(ctx context.Context, task FetchTask) (bool, error)
	// Dequeue returns the next eligible task for a site: lower depth first,
	// FIFO within depth, skipping tasks still waiting out a retry delay.
	Dequeue(site SiteID) (FetchTask, bool)
	// Requeue returns an in-flight task to the frontier, eligible again
	// after delay. Used for retry scheduling instead of worker sleeps.
	Requeue(task FetchTask, delay time.Duration)
	// Complete removes a task from the in-flight set (success or drop).
	Complete(task FetchTask)
	// Len reports the number of queued tasks for a site.
	Len(site SiteID) int
	// InFlight reports dispatched tasks not yet completed or requeued.
	InFlight() int
	// Sites lists site partitions that currently hold tasks.
	Sites() []SiteID
}

// DedupIndex owns seen-URL and seen-content fingerprint state. Both
// operations have atomic check-and-set semantics: true means newly marked.
type DedupIndex interface {
	MarkSeenURL(ctx context.Context, fp Fingerprint) (bool, error)
	MarkSeenContent(ctx context.Context, fp Fingerprint) (bool, error)
}

// Governor gates dispatch per site. Acquire returns (0, true) when a permit
// is granted, or (wait, false) with a suggested delay when the site is rate
// limited or suspended by its circuit breaker.
type Governor interface {
	Acquire(site SiteID) (time.Duration, bool)
}

// IdentityPool selects egress identities weighted by health.
type IdentityPool interface {
	// Select returns an eligible identity or ErrPoolExhausted.
	Select(site SiteID) (Identity, error)
	// ReportOutcome feeds fetch results back into health tracking.
	ReportOutcome(id string, outcome Outcome)
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Parser extracts listings and links from a raw page. Adapters are pure
// functions of page content; parse errors are non-fatal to the pipeline.
type Parser interface {
	Parse(ctx context.Context, site SiteID, page FetchResponse) (ParseResult, error)
}

// ParserRegistry resolves the parser adapter for a site.
type ParserRegistry interface {
	Resolve(parserID string) (Parser, error)
}

// Sink receives deduplicated listings. Write errors are retryable up to a
// bound; the router treats persistent failure as terminal loss.
type Sink interface {
	Write(ctx context.Context, listing JobListing) error
}

// Router receives parse results, applies dedup, re-enqueues discovered
// links and forwards newly seen listings to the sink.
type Router interface {
	Route(ctx context.Context, task FetchTask, result ParseResult) error
}

// CrawlLog records fetch attempts and fans them out to observers.
type CrawlLog interface {
	Record(entry CrawlLogEntry)
}

// LogObserver is notified of every crawl log entry. The governor and the
// circuit breaker subscribe to drive backoff and suspension.
type LogObserver interface {
	Observe(entry CrawlLogEntry)
}

// HeadlessDetector decides whether a probe response warrants a headless
// refetch (JS-shell pages with no useful static content).
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock used outside tests.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

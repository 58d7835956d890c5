// Package pipeline defines core types shared across crawl subsystems.
package pipeline

import (
	"net/http"
	"time"
)

// SiteID identifies one configured target site.
type SiteID string

// FetchTask is a unit of pending crawl work owned by the Frontier.
type FetchTask struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Site            SiteID    `json:"site"`
	Depth           int       `json:"depth"`
	Priority        int       `json:"priority"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	Attempts        int       `json:"attempts"`
	BlockedAttempts int       `json:"blocked_attempts"`
}

// JobListing is one extracted job posting. Immutable once constructed; the
// router owns it until the sink accepts it.
type JobListing struct {
	Title         string    `json:"title"`
	CanonicalLink string    `json:"canonical_link"`
	Company       string    `json:"company"`
	Location      string    `json:"location"`
	PostedDate    string    `json:"posted_date"`
	Salary        string    `json:"salary,omitempty"`
	LogoURL       string    `json:"logo_url,omitempty"`
	Skills        []string  `json:"skills"`
	SourceSite    SiteID    `json:"source_site"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// RetryPolicy bounds per-task retry behavior for a site.
type RetryPolicy struct {
	MaxAttempts        int           `mapstructure:"max_attempts" json:"max_attempts"`
	MaxBlockedAttempts int           `mapstructure:"max_blocked_attempts" json:"max_blocked_attempts"`
	BaseBackoff        time.Duration `mapstructure:"base_backoff" json:"base_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff" json:"max_backoff"`
}

// SiteConfig captures per-site crawl settings. Loaded once at startup and
// read-only for the duration of a run.
type SiteConfig struct {
	Site           SiteID        `mapstructure:"site" json:"site"`
	SeedURLs       []string      `mapstructure:"seed_urls" json:"seed_urls"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" json:"rate_per_second"`
	Burst          int           `mapstructure:"burst" json:"burst"`
	MaxConcurrency int           `mapstructure:"max_concurrency" json:"max_concurrency"`
	MaxDepth       int           `mapstructure:"max_depth" json:"max_depth"`
	MaxPages       int           `mapstructure:"max_pages" json:"max_pages"`
	ParserID       string        `mapstructure:"parser_id" json:"parser_id"`
	RespectRobots  bool          `mapstructure:"respect_robots" json:"respect_robots"`
	AllowHeadless  bool          `mapstructure:"allow_headless" json:"allow_headless"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout" json:"fetch_timeout"`
	Retry          RetryPolicy   `mapstructure:"retry" json:"retry"`
}

// Outcome classifies the result of one fetch attempt.
type Outcome string

// Outcome values recorded in the crawl log.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomeBlocked   Outcome = "blocked"
	OutcomePermanent Outcome = "permanent"
	OutcomeTimeout   Outcome = "timeout"
)

// Failed reports whether the outcome counts against a site's error rate.
func (o Outcome) Failed() bool {
	return o != OutcomeSuccess
}

// CrawlLogEntry records one fetch attempt, success or failure.
type CrawlLogEntry struct {
	Site      SiteID        `json:"site"`
	URL       string        `json:"url"`
	Outcome   Outcome       `json:"outcome"`
	Status    int           `json:"status,omitempty"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// FetchRequest captures everything a Fetcher needs to retrieve one page.
type FetchRequest struct {
	TaskID        string
	URL           string
	Site          SiteID
	Depth         int
	Identity      Identity
	RespectRobots bool
	UseHeadless   bool
	Timeout       time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Identity is one egress configuration: an optional proxy plus header set.
type Identity struct {
	ID        string      `json:"id"`
	ProxyURL  string      `json:"proxy_url,omitempty"`
	UserAgent string      `json:"user_agent"`
	Headers   http.Header `json:"headers,omitempty"`
}

// ParseResult is what a parser adapter extracts from a fetched page.
type ParseResult struct {
	Listings        []JobListing
	DiscoveredLinks []string
}

// RunCounters tracks per-run totals reported at shutdown.
type RunCounters struct {
	PagesFetched      int64 `json:"pages_fetched"`
	PagesFailed       int64 `json:"pages_failed"`
	ListingsWritten   int64 `json:"listings_written"`
	DuplicatesDropped int64 `json:"duplicates_dropped"`
	TasksDropped      int64 `json:"tasks_dropped"`
	SinkLosses        int64 `json:"sink_losses"`
}

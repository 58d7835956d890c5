// Package router moves parse results onward: discovered links back into the
// frontier, new listings into the sink.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spiderjobs/crawler/internal/metrics"
	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Config bounds sink retry behavior.
type Config struct {
	SinkMaxRetries int
	SinkRetryBase  time.Duration
}

func (c *Config) applyDefaults() {
	if c.SinkMaxRetries <= 0 {
		c.SinkMaxRetries = 3
	}
	if c.SinkRetryBase <= 0 {
		c.SinkRetryBase = 200 * time.Millisecond
	}
}

// Router implements pipeline.Router. Listings are content-deduplicated
// before the sink sees them; a listing that exhausts sink retries is logged
// and counted as a loss, and its dedup mark stays. The pipeline never
// blocks on a broken sink beyond the retry budget.
type Router struct {
	cfg      Config
	frontier pipeline.Frontier
	dedup    pipeline.DedupIndex
	sink     pipeline.Sink
	counters *pipeline.Counters
	clock    pipeline.Clock
	logger   *zap.Logger
}

// New wires a router.
func New(cfg Config, frontier pipeline.Frontier, dedup pipeline.DedupIndex, sink pipeline.Sink, counters *pipeline.Counters, clock pipeline.Clock, logger *zap.Logger) *Router {
	cfg.applyDefaults()
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if counters == nil {
		counters = &pipeline.Counters{}
	}
	return &Router{
		cfg:      cfg,
		frontier: frontier,
		dedup:    dedup,
		sink:     sink,
		counters: counters,
		clock:    clock,
		logger:   logger,
	}
}

// Route processes one parse result. Failures are isolated per link and per
// listing: a malformed discovered link or a dedup error drops that item
// only, never the rest of the page. Link admission failures are silent
// drops (duplicate or over budget).
func (r *Router) Route(ctx context.Context, task pipeline.FetchTask, result pipeline.ParseResult) error {
	for _, link := range result.DiscoveredLinks {
		if err := r.enqueueLink(ctx, task, link); err != nil {
			r.logger.Warn("discovered link dropped",
				zap.String("site", string(task.Site)),
				zap.String("url", link),
				zap.Error(err),
			)
		}
	}
	for _, listing := range result.Listings {
		if err := r.routeListing(ctx, listing); err != nil {
			r.logger.Error("listing dropped",
				zap.String("site", string(listing.SourceSite)),
				zap.String("url", listing.CanonicalLink),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (r *Router) enqueueLink(ctx context.Context, task pipeline.FetchTask, link string) error {
	child := pipeline.FetchTask{
		ID:         uuid.NewString(),
		URL:        link,
		Site:       task.Site,
		Depth:      task.Depth + 1,
		Priority:   task.Priority,
		EnqueuedAt: r.clock.Now(),
	}
	admitted, err := r.frontier.Enqueue(ctx, child)
	if err != nil {
		return fmt.Errorf("enqueue discovered link %s: %w", link, err)
	}
	if !admitted {
		r.logger.Debug("link not admitted",
			zap.String("site", string(task.Site)),
			zap.String("url", link),
		)
	}
	return nil
}

func (r *Router) routeListing(ctx context.Context, listing pipeline.JobListing) error {
	fp := pipeline.FingerprintListing(listing)
	fresh, err := r.dedup.MarkSeenContent(ctx, fp)
	if err != nil {
		return fmt.Errorf("mark listing %s: %w", listing.CanonicalLink, err)
	}
	if !fresh {
		metrics.IncListingDuplicate(string(listing.SourceSite))
		r.counters.AddDuplicateDropped()
		return nil
	}

	if err := r.writeWithRetry(ctx, listing); err != nil {
		metrics.IncSinkLoss(string(listing.SourceSite))
		r.counters.AddSinkLoss()
		r.logger.Error("listing lost after sink retries",
			zap.String("site", string(listing.SourceSite)),
			zap.String("url", listing.CanonicalLink),
			zap.Int("attempts", r.cfg.SinkMaxRetries),
			zap.Error(err),
		)
		return nil
	}

	metrics.IncListingWritten(string(listing.SourceSite))
	r.counters.AddListingWritten()
	return nil
}

func (r *Router) writeWithRetry(ctx context.Context, listing pipeline.JobListing) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.SinkMaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.SinkRetryBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if lastErr = r.sink.Write(ctx, listing); lastErr == nil {
			return nil
		}
		r.logger.Warn("sink write failed",
			zap.String("url", listing.CanonicalLink),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

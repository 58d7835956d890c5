// Package worker implements the crawl execution loop: dequeue, govern,
// fetch, classify, route, retry.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spiderjobs/crawler/internal/metrics"
	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Config controls per-worker behavior.
type Config struct {
	// IdleBackoff is how long a worker sleeps after a sweep that found
	// no dispatchable task on any site.
	IdleBackoff time.Duration
	// DefaultTimeout applies when a site carries no fetch timeout.
	DefaultTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 250 * time.Millisecond
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 15 * time.Second
	}
}

// Deps are the collaborators a worker drives. Headless and Detector are
// optional; without them promotion never happens.
type Deps struct {
	Frontier   pipeline.Frontier
	Governor   pipeline.Governor
	Identities pipeline.IdentityPool
	Fetcher    pipeline.Fetcher
	Headless   pipeline.Fetcher
	Detector   pipeline.HeadlessDetector
	Registry   pipeline.ParserRegistry
	Router     pipeline.Router
	CrawlLog   pipeline.CrawlLog
	Counters   *pipeline.Counters
	Clock      pipeline.Clock
	Logger     *zap.Logger
}

// Worker sweeps site partitions round-robin. All retry waiting happens in
// the frontier's delay queue; the worker itself never sleeps holding a
// task.
type Worker struct {
	cfg   Config
	deps  Deps
	sites map[pipeline.SiteID]pipeline.SiteConfig
	order []pipeline.SiteID
}

// New constructs a Worker over the configured sites.
func New(cfg Config, sites []pipeline.SiteConfig, deps Deps) *Worker {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = pipeline.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Counters == nil {
		deps.Counters = &pipeline.Counters{}
	}
	byID := make(map[pipeline.SiteID]pipeline.SiteConfig, len(sites))
	order := make([]pipeline.SiteID, 0, len(sites))
	for _, s := range sites {
		byID[s.Site] = s
		order = append(order, s.Site)
	}
	return &Worker{cfg: cfg, deps: deps, sites: byID, order: order}
}

// Run blocks until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	for {
		if ctx.Err() != nil {
			return
		}
		if !w.sweep(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.IdleBackoff):
			}
		}
	}
}

// sweep visits every site once and reports whether any task was processed.
func (w *Worker) sweep(ctx context.Context) bool {
	worked := false
	for _, site := range w.order {
		if ctx.Err() != nil {
			return worked
		}
		if w.processSite(ctx, w.sites[site]) {
			worked = true
		}
	}
	return worked
}

// processSite dispatches at most one task for the site. Returns false when
// the site had nothing dispatchable right now.
func (w *Worker) processSite(ctx context.Context, cfg pipeline.SiteConfig) bool {
	task, ok := w.deps.Frontier.Dequeue(cfg.Site)
	if !ok {
		return false
	}

	wait, ok := w.deps.Governor.Acquire(cfg.Site)
	if !ok {
		// Rate limited or suspended. The task waits in the frontier's
		// delay queue, not in this goroutine. The governor records the
		// wait itself.
		w.deps.Frontier.Requeue(task, wait)
		return false
	}

	identity, err := w.deps.Identities.Select(cfg.Site)
	if err != nil {
		// Never fetch without an egress identity. Park the task and
		// let cooldowns expire.
		w.deps.Logger.Warn("no eligible identity, parking task",
			zap.String("site", string(cfg.Site)),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		w.deps.Frontier.Requeue(task, w.cfg.IdleBackoff*4)
		return false
	}

	w.execute(ctx, cfg, task, identity)
	return true
}

func (w *Worker) execute(ctx context.Context, cfg pipeline.SiteConfig, task pipeline.FetchTask, identity pipeline.Identity) {
	resp, err := w.fetch(ctx, cfg, task, identity)
	if errors.Is(err, pipeline.ErrRobotsDisallowed) {
		// Robots exclusion is a policy skip, not a site failure.
		w.drop(task, "robots")
		return
	}

	outcome := pipeline.Classify(resp, err)
	entry := pipeline.CrawlLogEntry{
		Site:      task.Site,
		URL:       task.URL,
		Outcome:   outcome,
		Status:    resp.StatusCode,
		Latency:   resp.Duration,
		Timestamp: w.deps.Clock.Now(),
	}
	w.deps.CrawlLog.Record(entry)
	w.deps.Identities.ReportOutcome(identity.ID, outcome)

	switch outcome {
	case pipeline.OutcomeSuccess:
		w.deps.Counters.AddPageFetched()
		w.handleSuccess(ctx, cfg, task, identity, resp)
	case pipeline.OutcomeTransient, pipeline.OutcomeTimeout:
		w.deps.Counters.AddPageFailed()
		w.retryTransient(cfg, task, err)
	case pipeline.OutcomeBlocked:
		w.deps.Counters.AddPageFailed()
		w.retryBlocked(cfg, task)
	default: // permanent
		w.deps.Counters.AddPageFailed()
		w.deps.Logger.Debug("permanent failure",
			zap.String("site", string(task.Site)),
			zap.String("url", task.URL),
			zap.Int("status", resp.StatusCode),
		)
		w.drop(task, "permanent")
	}
}

func (w *Worker) fetch(ctx context.Context, cfg pipeline.SiteConfig, task pipeline.FetchTask, identity pipeline.Identity) (pipeline.FetchResponse, error) {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = w.cfg.DefaultTimeout
	}
	req := pipeline.FetchRequest{
		TaskID:        task.ID,
		URL:           task.URL,
		Site:          task.Site,
		Depth:         task.Depth,
		Identity:      identity,
		RespectRobots: cfg.RespectRobots,
		Timeout:       timeout,
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.deps.Fetcher.Fetch(fetchCtx, req)
}

func (w *Worker) handleSuccess(ctx context.Context, cfg pipeline.SiteConfig, task pipeline.FetchTask, identity pipeline.Identity, resp pipeline.FetchResponse) {
	resp = w.maybePromote(ctx, cfg, task, identity, resp)

	p, err := w.deps.Registry.Resolve(cfg.ParserID)
	if err != nil {
		w.deps.Logger.Error("parser unavailable",
			zap.String("site", string(task.Site)),
			zap.String("parser_id", cfg.ParserID),
			zap.Error(err),
		)
		w.drop(task, "no_parser")
		return
	}

	result, err := p.Parse(ctx, task.Site, resp)
	if err != nil {
		// A page that fetched but would not parse is not retried; the
		// markup will not improve on a refetch.
		w.deps.Logger.Warn("parse failed",
			zap.String("site", string(task.Site)),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		w.drop(task, "parse")
		return
	}

	if err := w.deps.Router.Route(ctx, task, result); err != nil {
		w.deps.Logger.Error("route failed",
			zap.String("site", string(task.Site)),
			zap.String("url", task.URL),
			zap.Error(err),
		)
	}
	w.deps.Frontier.Complete(task)
}

func (w *Worker) maybePromote(ctx context.Context, cfg pipeline.SiteConfig, task pipeline.FetchTask, identity pipeline.Identity, resp pipeline.FetchResponse) pipeline.FetchResponse {
	if !cfg.AllowHeadless || w.deps.Headless == nil || w.deps.Detector == nil {
		return resp
	}
	if !w.deps.Detector.ShouldPromote(resp) {
		return resp
	}

	req := pipeline.FetchRequest{
		TaskID:      task.ID,
		URL:         task.URL,
		Site:        task.Site,
		Depth:       task.Depth,
		Identity:    identity,
		UseHeadless: true,
	}
	rendered, err := w.deps.Headless.Fetch(ctx, req)
	if err != nil {
		// Keep the static response; a shell page parses to nothing and
		// the task completes empty rather than erroring.
		w.deps.Logger.Warn("headless promotion failed",
			zap.String("site", string(task.Site)),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		return resp
	}
	w.deps.Logger.Info("headless promotion applied",
		zap.String("site", string(task.Site)),
		zap.String("url", task.URL),
	)
	return rendered
}

func (w *Worker) retryTransient(cfg pipeline.SiteConfig, task pipeline.FetchTask, err error) {
	task.Attempts++
	if task.Attempts >= cfg.Retry.MaxAttempts {
		w.deps.Logger.Warn("retries exhausted",
			zap.String("site", string(task.Site)),
			zap.String("url", task.URL),
			zap.Int("attempts", task.Attempts),
			zap.Error(err),
		)
		w.drop(task, "retries_exhausted")
		return
	}
	w.deps.Frontier.Requeue(task, pipeline.Backoff(cfg.Retry, task.Attempts))
}

// retryBlocked spends the separate blocked budget so a hostile site cannot
// starve ordinary transient retries.
func (w *Worker) retryBlocked(cfg pipeline.SiteConfig, task pipeline.FetchTask) {
	task.BlockedAttempts++
	if task.BlockedAttempts >= cfg.Retry.MaxBlockedAttempts {
		w.drop(task, "blocked")
		return
	}
	w.deps.Frontier.Requeue(task, pipeline.Backoff(cfg.Retry, task.BlockedAttempts))
}

func (w *Worker) drop(task pipeline.FetchTask, reason string) {
	metrics.IncTaskDropped(string(task.Site), reason)
	w.deps.Counters.AddTaskDropped()
	w.deps.Frontier.Complete(task)
}

// Package breaker implements per-site circuit breakers over rolling outcome
// windows. A tripped breaker suspends dispatch for the site while its queued
// work stays in the frontier.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spiderjobs/crawler/internal/metrics"
	"github.com/spiderjobs/crawler/internal/pipeline"
)

// State is the breaker position for one site.
type State int

// Breaker states.
const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String renders the state for logs and the status API.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config tunes breaker behavior.
type Config struct {
	// Window is the rolling interval over which error rate is computed.
	Window time.Duration
	// MinSamples is the minimum window population before the breaker may trip.
	MinSamples int
	// ErrorThreshold is the failure fraction that trips the breaker.
	ErrorThreshold float64
	// Cooldown is how long an open breaker suppresses dispatch before probing.
	Cooldown time.Duration
	// ProbeQuota is how many trial requests HALF_OPEN admits.
	ProbeQuota int
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.ErrorThreshold <= 0 || c.ErrorThreshold > 1 {
		c.ErrorThreshold = 0.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Minute
	}
	if c.ProbeQuota <= 0 {
		c.ProbeQuota = 1
	}
}

type sample struct {
	at     time.Time
	failed bool
}

type siteBreaker struct {
	state       State
	window      []sample
	openedAt    time.Time
	probeBudget int
}

// Breaker tracks one FSM per site. It observes the crawl log and is
// consulted by the governor before dispatch.
type Breaker struct {
	cfg    Config
	clock  pipeline.Clock
	logger *zap.Logger

	mu    sync.Mutex
	sites map[pipeline.SiteID]*siteBreaker
}

// New builds a Breaker.
func New(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Breaker {
	cfg.applyDefaults()
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		sites:  make(map[pipeline.SiteID]*siteBreaker),
	}
}

// Allow reports whether dispatch to the site is permitted right now. An open
// breaker whose cooldown has elapsed moves to HALF_OPEN and grants a bounded
// probe budget.
func (b *Breaker) Allow(site pipeline.SiteID) bool {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	sb := b.site(site)

	switch sb.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(sb.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.transition(site, sb, StateHalfOpen)
		sb.probeBudget = b.cfg.ProbeQuota
		fallthrough
	case StateHalfOpen:
		if sb.probeBudget <= 0 {
			return false
		}
		sb.probeBudget--
		return true
	default:
		return false
	}
}

// Observe folds one crawl log entry into the site's window and applies the
// transition function.
func (b *Breaker) Observe(entry pipeline.CrawlLogEntry) {
	now := entry.Timestamp
	if now.IsZero() {
		now = b.clock.Now()
	}
	failed := entry.Outcome.Failed()

	b.mu.Lock()
	defer b.mu.Unlock()
	sb := b.site(entry.Site)

	switch sb.state {
	case StateHalfOpen:
		// A single probe decides: success closes, failure reopens.
		if failed {
			sb.openedAt = now
			b.transition(entry.Site, sb, StateOpen)
		} else {
			sb.window = nil
			b.transition(entry.Site, sb, StateClosed)
		}
	case StateClosed:
		sb.window = append(b.pruned(sb.window, now), sample{at: now, failed: failed})
		total := len(sb.window)
		if total < b.cfg.MinSamples {
			return
		}
		fails := 0
		for _, s := range sb.window {
			if s.failed {
				fails++
			}
		}
		if float64(fails)/float64(total) >= b.cfg.ErrorThreshold {
			sb.openedAt = now
			sb.window = nil
			b.transition(entry.Site, sb, StateOpen)
		}
	case StateOpen:
		// Late results for requests already in flight when the breaker
		// tripped; nothing to do.
	}
}

// State reports the current FSM position for a site.
func (b *Breaker) State(site pipeline.SiteID) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.site(site).state
}

// Snapshot lists the state of every tracked site.
func (b *Breaker) Snapshot() map[pipeline.SiteID]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[pipeline.SiteID]State, len(b.sites))
	for site, sb := range b.sites {
		out[site] = sb.state
	}
	return out
}

func (b *Breaker) site(site pipeline.SiteID) *siteBreaker {
	sb, ok := b.sites[site]
	if !ok {
		sb = &siteBreaker{state: StateClosed}
		b.sites[site] = sb
	}
	return sb
}

func (b *Breaker) transition(site pipeline.SiteID, sb *siteBreaker, next State) {
	if sb.state == next {
		return
	}
	b.logger.Info("breaker transition",
		zap.String("site", string(site)),
		zap.String("from", sb.state.String()),
		zap.String("to", next.String()),
	)
	sb.state = next
	metrics.SetBreakerState(string(site), int(next))
}

func (b *Breaker) pruned(window []sample, now time.Time) []sample {
	cutoff := now.Add(-b.cfg.Window)
	idx := 0
	for idx < len(window) && window[idx].at.Before(cutoff) {
		idx++
	}
	return window[idx:]
}

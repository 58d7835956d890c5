// Package governor enforces per-site politeness: token-bucket rate limits,
// multiplicative backoff under block signals, and breaker/pause gating.
package governor

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spiderjobs/crawler/internal/metrics"
	"github.com/spiderjobs/crawler/internal/pipeline"
)

// BreakerGate is the slice of the circuit breaker the governor consults.
type BreakerGate interface {
	Allow(site pipeline.SiteID) bool
}

// Config tunes backoff behavior shared by all sites.
type Config struct {
	// MaxBackoffFactor caps the multiplicative slowdown applied to a site.
	MaxBackoffFactor float64
	// DecayAfterSuccesses is the sustained success count that halves the
	// current backoff factor.
	DecayAfterSuccesses int
	// SuspendedRetry is the wait hinted while a breaker holds a site open.
	SuspendedRetry time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBackoffFactor < 1 {
		c.MaxBackoffFactor = 64
	}
	if c.DecayAfterSuccesses <= 0 {
		c.DecayAfterSuccesses = 10
	}
	if c.SuspendedRetry <= 0 {
		c.SuspendedRetry = 5 * time.Second
	}
}

type siteGovernor struct {
	limiter       *rate.Limiter
	baseRate      float64
	backoffFactor float64
	successStreak int
	paused        bool
}

// Governor implements pipeline.Governor and observes the crawl log to adapt
// each site's effective rate.
type Governor struct {
	cfg     Config
	breaker BreakerGate
	logger  *zap.Logger

	mu    sync.Mutex
	sites map[pipeline.SiteID]*siteGovernor
}

// New builds a Governor for the configured sites.
func New(sites []pipeline.SiteConfig, breaker BreakerGate, cfg Config, logger *zap.Logger) *Governor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
		sites:   make(map[pipeline.SiteID]*siteGovernor, len(sites)),
	}
	for _, sc := range sites {
		r := sc.RatePerSecond
		if r <= 0 {
			r = 1
		}
		burst := sc.Burst
		if burst <= 0 {
			burst = 1
		}
		g.sites[sc.Site] = &siteGovernor{
			limiter:       rate.NewLimiter(rate.Limit(r), burst),
			baseRate:      r,
			backoffFactor: 1,
		}
	}
	return g
}

// Acquire grants a dispatch permit for the site, or returns the duration the
// caller should wait before trying again. It never blocks.
func (g *Governor) Acquire(site pipeline.SiteID) (time.Duration, bool) {
	g.mu.Lock()
	sg, ok := g.sites[site]
	paused := ok && sg.paused
	g.mu.Unlock()
	if !ok {
		return 0, false
	}
	if paused {
		return g.cfg.SuspendedRetry, false
	}
	if g.breaker != nil && !g.breaker.Allow(site) {
		metrics.ObserveGovernorWait(string(site), g.cfg.SuspendedRetry)
		return g.cfg.SuspendedRetry, false
	}

	reservation := sg.limiter.Reserve()
	if !reservation.OK() {
		return g.cfg.SuspendedRetry, false
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		metrics.ObserveGovernorWait(string(site), delay)
		return delay, false
	}
	return 0, true
}

// Observe adapts the site's effective rate from crawl log feedback: block
// signals double the backoff factor up to the ceiling; a sustained success
// window decays it back toward baseline.
func (g *Governor) Observe(entry pipeline.CrawlLogEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sg, ok := g.sites[entry.Site]
	if !ok {
		return
	}
	switch entry.Outcome {
	case pipeline.OutcomeBlocked:
		sg.successStreak = 0
		if sg.backoffFactor < g.cfg.MaxBackoffFactor {
			sg.backoffFactor *= 2
			if sg.backoffFactor > g.cfg.MaxBackoffFactor {
				sg.backoffFactor = g.cfg.MaxBackoffFactor
			}
			g.applyRate(entry.Site, sg)
		}
	case pipeline.OutcomeSuccess:
		if sg.backoffFactor <= 1 {
			return
		}
		sg.successStreak++
		if sg.successStreak >= g.cfg.DecayAfterSuccesses {
			sg.successStreak = 0
			sg.backoffFactor /= 2
			if sg.backoffFactor < 1 {
				sg.backoffFactor = 1
			}
			g.applyRate(entry.Site, sg)
		}
	default:
		// Transient and permanent failures don't change politeness; the
		// retry policy and breaker handle those.
	}
}

// Pause suspends dispatch for a site until Resume. Operator control surface.
func (g *Governor) Pause(site pipeline.SiteID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	sg, ok := g.sites[site]
	if !ok {
		return false
	}
	sg.paused = true
	g.logger.Info("site paused", zap.String("site", string(site)))
	return true
}

// Resume lifts an operator pause.
func (g *Governor) Resume(site pipeline.SiteID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	sg, ok := g.sites[site]
	if !ok {
		return false
	}
	sg.paused = false
	g.logger.Info("site resumed", zap.String("site", string(site)))
	return true
}

// Paused reports whether a site is operator-paused.
func (g *Governor) Paused(site pipeline.SiteID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	sg, ok := g.sites[site]
	return ok && sg.paused
}

// EffectiveInterval reports the current minimum spacing between requests to
// the site, including backoff.
func (g *Governor) EffectiveInterval(site pipeline.SiteID) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	sg, ok := g.sites[site]
	if !ok {
		return 0
	}
	effective := sg.baseRate / sg.backoffFactor
	if effective <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / effective)
}

func (g *Governor) applyRate(site pipeline.SiteID, sg *siteGovernor) {
	effective := sg.baseRate / sg.backoffFactor
	sg.limiter.SetLimit(rate.Limit(effective))
	g.logger.Info("governor rate adjusted",
		zap.String("site", string(site)),
		zap.Float64("effective_rps", effective),
		zap.Float64("backoff_factor", sg.backoffFactor),
	)
}

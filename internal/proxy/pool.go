// Package proxy manages the rotating pool of egress identities consulted by
// fetch workers.
package proxy

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spiderjobs/crawler/internal/metrics"
	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Record is the health-tracking state for one identity, exported on the
// status surface.
type Record struct {
	Identity            pipeline.Identity `json:"identity"`
	HealthScore         float64           `json:"health_score"`
	LastUsed            time.Time         `json:"last_used"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	CooldownUntil       time.Time         `json:"cooldown_until"`
}

// Config tunes pool behavior.
type Config struct {
	// ProxyURLs lists egress proxies; empty means direct egress only.
	ProxyURLs []string
	// UserAgents rotates apparent browser identities.
	UserAgents []string
	// CooldownAfter is the consecutive-failure count that benches an identity.
	CooldownAfter int
	// CooldownDuration is how long a benched identity stays ineligible.
	CooldownDuration time.Duration
	// MinSelectableHealth excludes identities whose score has collapsed.
	MinSelectableHealth float64
}

func (c *Config) applyDefaults() {
	if len(c.UserAgents) == 0 {
		c.UserAgents = []string{"spiderjobs-bot/0.1"}
	}
	if c.CooldownAfter <= 0 {
		c.CooldownAfter = 3
	}
	if c.CooldownDuration <= 0 {
		c.CooldownDuration = 2 * time.Minute
	}
	if c.MinSelectableHealth <= 0 {
		c.MinSelectableHealth = 0.1
	}
}

// Pool implements pipeline.IdentityPool with health-weighted selection.
type Pool struct {
	cfg    Config
	clock  pipeline.Clock
	logger *zap.Logger

	mu      sync.Mutex
	records map[string]*Record
	order   []string
	pick    func() float64
}

// New builds a Pool. With no proxies configured it still rotates direct
// identities, one per user agent.
func New(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Pool {
	cfg.applyDefaults()
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		records: make(map[string]*Record),
		pick:    rand.Float64,
	}
	for _, identity := range buildIdentities(cfg) {
		p.records[identity.ID] = &Record{Identity: identity, HealthScore: 1}
		p.order = append(p.order, identity.ID)
	}
	return p
}

func buildIdentities(cfg Config) []pipeline.Identity {
	headers := http.Header{
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": []string{"en-US,en;q=0.5"},
	}
	var out []pipeline.Identity
	if len(cfg.ProxyURLs) == 0 {
		for i, ua := range cfg.UserAgents {
			out = append(out, pipeline.Identity{
				ID:        idFor("direct", i),
				UserAgent: ua,
				Headers:   headers.Clone(),
			})
		}
		return out
	}
	for i, proxyURL := range cfg.ProxyURLs {
		ua := cfg.UserAgents[i%len(cfg.UserAgents)]
		out = append(out, pipeline.Identity{
			ID:        idFor("proxy", i),
			ProxyURL:  proxyURL,
			UserAgent: ua,
			Headers:   headers.Clone(),
		})
	}
	return out
}

func idFor(kind string, i int) string {
	return fmt.Sprintf("%s-%d", kind, i)
}

// Select returns an eligible identity weighted by health score, or
// ErrPoolExhausted when everything is benched.
func (p *Pool) Select(_ pipeline.SiteID) (pipeline.Identity, error) {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	var eligible []*Record
	total := 0.0
	for _, id := range p.order {
		rec := p.records[id]
		if now.Before(rec.CooldownUntil) {
			continue
		}
		if rec.HealthScore < p.cfg.MinSelectableHealth {
			continue
		}
		eligible = append(eligible, rec)
		total += rec.HealthScore
	}
	if len(eligible) == 0 {
		metrics.IncPoolExhausted()
		return pipeline.Identity{}, pipeline.ErrPoolExhausted
	}

	target := p.pick() * total
	chosen := eligible[len(eligible)-1]
	for _, rec := range eligible {
		target -= rec.HealthScore
		if target < 0 {
			chosen = rec
			break
		}
	}
	chosen.LastUsed = now
	return chosen.Identity, nil
}

// ReportOutcome folds a fetch result into the identity's health: block
// signals cut the score sharply and count toward cooldown, success restores
// it gradually and clears the failure streak.
func (p *Pool) ReportOutcome(id string, outcome pipeline.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return
	}
	switch outcome {
	case pipeline.OutcomeSuccess:
		rec.ConsecutiveFailures = 0
		rec.HealthScore += 0.1
		if rec.HealthScore > 1 {
			rec.HealthScore = 1
		}
	case pipeline.OutcomeBlocked:
		rec.HealthScore *= 0.5
		rec.ConsecutiveFailures++
	case pipeline.OutcomeTransient, pipeline.OutcomeTimeout:
		rec.HealthScore *= 0.8
		rec.ConsecutiveFailures++
	case pipeline.OutcomePermanent:
		// The page was bad, not the identity.
		return
	}

	if rec.ConsecutiveFailures >= p.cfg.CooldownAfter {
		rec.CooldownUntil = p.clock.Now().Add(p.cfg.CooldownDuration)
		rec.ConsecutiveFailures = 0
		metrics.IncIdentityCooldown()
		p.logger.Warn("identity benched",
			zap.String("identity", id),
			zap.Float64("health", rec.HealthScore),
			zap.Time("cooldown_until", rec.CooldownUntil),
		)
	}
	metrics.SetIdentityHealth(id, rec.HealthScore)
}

// CoolDown benches an identity immediately, independent of its streak.
// Used for hard ban signals.
func (p *Pool) CoolDown(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return
	}
	rec.CooldownUntil = p.clock.Now().Add(p.cfg.CooldownDuration)
	rec.ConsecutiveFailures = 0
	metrics.IncIdentityCooldown()
}

// Snapshot exports the pool's health records for the status surface.
func (p *Pool) Snapshot() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.records[id])
	}
	return out
}

// Package crawllog records fetch attempts and aggregates them into rolling
// per-site windows that feed the governor and circuit breaker.
package crawllog

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spiderjobs/crawler/internal/metrics"
	"github.com/spiderjobs/crawler/internal/pipeline"
)

// SiteStats summarizes a site's rolling outcome window.
type SiteStats struct {
	Site      pipeline.SiteID `json:"site"`
	Total     int             `json:"total"`
	Failed    int             `json:"failed"`
	Blocked   int             `json:"blocked"`
	ErrorRate float64         `json:"error_rate"`
}

// Log is an append-only crawl log. Every entry is logged, exported as
// metrics, folded into the site's rolling window, and fanned out to the
// registered observers.
type Log struct {
	mu        sync.Mutex
	window    time.Duration
	entries   map[pipeline.SiteID][]pipeline.CrawlLogEntry
	observers []pipeline.LogObserver
	clock     pipeline.Clock
	logger    *zap.Logger
}

// New builds a Log with the given rolling window.
func New(window time.Duration, clock pipeline.Clock, logger *zap.Logger) *Log {
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		window:  window,
		entries: make(map[pipeline.SiteID][]pipeline.CrawlLogEntry),
		clock:   clock,
		logger:  logger,
	}
}

// Subscribe registers an observer for future entries. Not safe to call once
// workers are running; wire observers during assembly.
func (l *Log) Subscribe(obs pipeline.LogObserver) {
	l.observers = append(l.observers, obs)
}

// Record appends one fetch attempt.
func (l *Log) Record(entry pipeline.CrawlLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock.Now()
	}

	l.mu.Lock()
	site := entry.Site
	kept := prune(l.entries[site], entry.Timestamp.Add(-l.window))
	l.entries[site] = append(kept, entry)
	l.mu.Unlock()

	metrics.ObserveFetch(string(entry.Site), string(entry.Outcome), entry.Latency)
	if entry.Outcome == pipeline.OutcomeSuccess {
		l.logger.Debug("fetch attempt",
			zap.String("site", string(entry.Site)),
			zap.String("url", entry.URL),
			zap.String("outcome", string(entry.Outcome)),
			zap.Duration("latency", entry.Latency),
		)
	} else {
		l.logger.Warn("fetch attempt failed",
			zap.String("site", string(entry.Site)),
			zap.String("url", entry.URL),
			zap.String("outcome", string(entry.Outcome)),
			zap.Int("status", entry.Status),
			zap.Duration("latency", entry.Latency),
		)
	}

	for _, obs := range l.observers {
		obs.Observe(entry)
	}
}

// Stats returns the rolling-window summary for one site.
func (l *Log) Stats(site pipeline.SiteID) SiteStats {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := prune(l.entries[site], now.Add(-l.window))
	l.entries[site] = kept

	stats := SiteStats{Site: site, Total: len(kept)}
	for _, e := range kept {
		if e.Outcome.Failed() {
			stats.Failed++
		}
		if e.Outcome == pipeline.OutcomeBlocked {
			stats.Blocked++
		}
	}
	if stats.Total > 0 {
		stats.ErrorRate = float64(stats.Failed) / float64(stats.Total)
	}
	return stats
}

// AllStats returns window summaries for every site with recent activity.
func (l *Log) AllStats() []SiteStats {
	l.mu.Lock()
	sites := make([]pipeline.SiteID, 0, len(l.entries))
	for site := range l.entries {
		sites = append(sites, site)
	}
	l.mu.Unlock()

	out := make([]SiteStats, 0, len(sites))
	for _, site := range sites {
		out = append(out, l.Stats(site))
	}
	return out
}

func prune(entries []pipeline.CrawlLogEntry, cutoff time.Time) []pipeline.CrawlLogEntry {
	idx := 0
	for idx < len(entries) && entries[idx].Timestamp.Before(cutoff) {
		idx++
	}
	return entries[idx:]
}

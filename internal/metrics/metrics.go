// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal     *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	listingsWrittenTotal   *prometheus.CounterVec
	listingsDuplicateTotal *prometheus.CounterVec
	sinkLossesTotal        *prometheus.CounterVec
	tasksDroppedTotal      *prometheus.CounterVec
	frontierDepth          *prometheus.GaugeVec
	breakerState           *prometheus.GaugeVec
	governorWaitSeconds    *prometheus.HistogramVec
	identityHealthScore    *prometheus.GaugeVec
	identityCooldownsTotal prometheus.Counter
	poolExhaustedTotal     prometheus.Counter
	activeWorkers          prometheus.Gauge

	once sync.Once
)

// Init registers all pipeline collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spiderjobs_fetch_attempts_total",
				Help: "Fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spiderjobs_fetch_duration_seconds",
				Help:    "Fetch latency per site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)
		listingsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spiderjobs_listings_written_total",
				Help: "Unique listings handed to the sink, labeled by site.",
			},
			[]string{"site"},
		)
		listingsDuplicateTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spiderjobs_listings_duplicate_total",
				Help: "Listings dropped by content dedup, labeled by site.",
			},
			[]string{"site"},
		)
		sinkLossesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spiderjobs_sink_losses_total",
				Help: "Listings lost after exhausting sink write retries.",
			},
			[]string{"site"},
		)
		tasksDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spiderjobs_tasks_dropped_total",
				Help: "Tasks dropped terminally, labeled by site and reason.",
			},
			[]string{"site", "reason"},
		)
		frontierDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spiderjobs_frontier_depth",
				Help: "Queued tasks per site.",
			},
			[]string{"site"},
		)
		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spiderjobs_breaker_state",
				Help: "Circuit breaker state per site (0 closed, 1 half-open, 2 open).",
			},
			[]string{"site"},
		)
		governorWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spiderjobs_governor_wait_seconds",
				Help:    "Delays suggested by the politeness governor.",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 30, 120},
			},
			[]string{"site"},
		)
		identityHealthScore = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spiderjobs_identity_health_score",
				Help: "Health score per egress identity.",
			},
			[]string{"identity"},
		)
		identityCooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spiderjobs_identity_cooldowns_total",
				Help: "Times an identity entered cooldown.",
			},
		)
		poolExhaustedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spiderjobs_pool_exhausted_total",
				Help: "Times no egress identity was eligible.",
			},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spiderjobs_active_workers",
				Help: "Workers currently processing a task.",
			},
		)
	})
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(site string, outcome string, latency time.Duration) {
	if fetchAttemptsTotal == nil {
		return
	}
	fetchAttemptsTotal.WithLabelValues(site, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(site).Observe(latency.Seconds())
}

// IncListingWritten counts a unique listing handed to the sink.
func IncListingWritten(site string) {
	if listingsWrittenTotal == nil {
		return
	}
	listingsWrittenTotal.WithLabelValues(site).Inc()
}

// IncListingDuplicate counts a listing dropped by content dedup.
func IncListingDuplicate(site string) {
	if listingsDuplicateTotal == nil {
		return
	}
	listingsDuplicateTotal.WithLabelValues(site).Inc()
}

// IncSinkLoss counts a listing lost after sink retries were exhausted.
func IncSinkLoss(site string) {
	if sinkLossesTotal == nil {
		return
	}
	sinkLossesTotal.WithLabelValues(site).Inc()
}

// IncTaskDropped counts a terminal task drop.
func IncTaskDropped(site string, reason string) {
	if tasksDroppedTotal == nil {
		return
	}
	tasksDroppedTotal.WithLabelValues(site, reason).Inc()
}

// SetFrontierDepth publishes the queued-task gauge for a site.
func SetFrontierDepth(site string, depth int) {
	if frontierDepth == nil {
		return
	}
	frontierDepth.WithLabelValues(site).Set(float64(depth))
}

// SetBreakerState publishes the breaker gauge for a site.
func SetBreakerState(site string, state int) {
	if breakerState == nil {
		return
	}
	breakerState.WithLabelValues(site).Set(float64(state))
}

// ObserveGovernorWait records a suggested dispatch delay.
func ObserveGovernorWait(site string, wait time.Duration) {
	if governorWaitSeconds == nil {
		return
	}
	governorWaitSeconds.WithLabelValues(site).Observe(wait.Seconds())
}

// SetIdentityHealth publishes an identity's health score.
func SetIdentityHealth(identity string, score float64) {
	if identityHealthScore == nil {
		return
	}
	identityHealthScore.WithLabelValues(identity).Set(score)
}

// IncIdentityCooldown counts an identity entering cooldown.
func IncIdentityCooldown() {
	if identityCooldownsTotal == nil {
		return
	}
	identityCooldownsTotal.Inc()
}

// IncPoolExhausted counts a pool-exhausted selection failure.
func IncPoolExhausted() {
	if poolExhaustedTotal == nil {
		return
	}
	poolExhaustedTotal.Inc()
}

// WorkerStarted marks a worker busy.
func WorkerStarted() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// WorkerStopped marks a worker idle.
func WorkerStopped() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

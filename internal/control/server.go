// Package control exposes the operator HTTP surface: pause/resume, status,
// health, and Prometheus metrics.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spiderjobs/crawler/internal/breaker"
	"github.com/spiderjobs/crawler/internal/crawllog"
	"github.com/spiderjobs/crawler/internal/pipeline"
	"github.com/spiderjobs/crawler/internal/proxy"
)

// SiteControls is the governor surface the API drives.
type SiteControls interface {
	Pause(site pipeline.SiteID) bool
	Resume(site pipeline.SiteID) bool
	Paused(site pipeline.SiteID) bool
	EffectiveInterval(site pipeline.SiteID) time.Duration
}

// BreakerStates reports circuit state per site.
type BreakerStates interface {
	State(site pipeline.SiteID) breaker.State
	Snapshot() map[pipeline.SiteID]breaker.State
}

// LogStats reports rolling outcome windows.
type LogStats interface {
	Stats(site pipeline.SiteID) crawllog.SiteStats
	AllStats() []crawllog.SiteStats
}

// QueueStats reports frontier depth.
type QueueStats interface {
	Len(site pipeline.SiteID) int
	InFlight() int
}

// PoolStats reports identity health records.
type PoolStats interface {
	Snapshot() []proxy.Record
}

// Server wires the operator endpoints onto a chi router.
type Server struct {
	router   chi.Router
	sites    []pipeline.SiteConfig
	controls SiteControls
	breakers BreakerStates
	stats    LogStats
	queue    QueueStats
	pool     PoolStats
	counters *pipeline.Counters
	logger   *zap.Logger
}

// NewServer builds the control surface.
func NewServer(
	sites []pipeline.SiteConfig,
	controls SiteControls,
	breakers BreakerStates,
	stats LogStats,
	queue QueueStats,
	pool PoolStats,
	counters *pipeline.Counters,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counters == nil {
		counters = &pipeline.Counters{}
	}
	s := &Server{
		sites:    sites,
		controls: controls,
		breakers: breakers,
		stats:    stats,
		queue:    queue,
		pool:     pool,
		counters: counters,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/identities", s.getIdentities)
		r.Route("/sites/{site}", func(r chi.Router) {
			r.Get("/status", s.getSiteStatus)
			r.Post("/pause", s.pauseSite)
			r.Post("/resume", s.resumeSite)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type siteStatus struct {
	Site         pipeline.SiteID    `json:"site"`
	QueueDepth   int                `json:"queue_depth"`
	Paused       bool               `json:"paused"`
	BreakerState string             `json:"breaker_state"`
	DispatchGap  string             `json:"dispatch_gap"`
	Window       crawllog.SiteStats `json:"window"`
}

type statusResponse struct {
	InFlight int                  `json:"in_flight"`
	Counters pipeline.RunCounters `json:"counters"`
	Sites    []siteStatus         `json:"sites"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		InFlight: s.queue.InFlight(),
		Counters: s.counters.Snapshot(),
	}
	for _, cfg := range s.sites {
		resp.Sites = append(resp.Sites, s.siteStatus(cfg.Site))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getSiteStatus(w http.ResponseWriter, r *http.Request) {
	site, ok := s.knownSite(chi.URLParam(r, "site"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown site")
		return
	}
	writeJSON(w, http.StatusOK, s.siteStatus(site))
}

func (s *Server) siteStatus(site pipeline.SiteID) siteStatus {
	return siteStatus{
		Site:         site,
		QueueDepth:   s.queue.Len(site),
		Paused:       s.controls.Paused(site),
		BreakerState: s.breakers.State(site).String(),
		DispatchGap:  s.controls.EffectiveInterval(site).String(),
		Window:       s.stats.Stats(site),
	}
}

func (s *Server) pauseSite(w http.ResponseWriter, r *http.Request) {
	site, ok := s.knownSite(chi.URLParam(r, "site"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown site")
		return
	}
	s.controls.Pause(site)
	s.logger.Info("site paused via control api", zap.String("site", string(site)))
	writeJSON(w, http.StatusOK, map[string]string{"site": string(site), "state": "paused"})
}

func (s *Server) resumeSite(w http.ResponseWriter, r *http.Request) {
	site, ok := s.knownSite(chi.URLParam(r, "site"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown site")
		return
	}
	s.controls.Resume(site)
	s.logger.Info("site resumed via control api", zap.String("site", string(site)))
	writeJSON(w, http.StatusOK, map[string]string{"site": string(site), "state": "running"})
}

func (s *Server) getIdentities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"identities": s.pool.Snapshot()})
}

func (s *Server) knownSite(raw string) (pipeline.SiteID, bool) {
	site := pipeline.SiteID(raw)
	for _, cfg := range s.sites {
		if cfg.Site == site {
			return site, true
		}
	}
	return "", false
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package app initializes and holds the long-lived pipeline services.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spiderjobs/crawler/internal/breaker"
	"github.com/spiderjobs/crawler/internal/config"
	"github.com/spiderjobs/crawler/internal/control"
	"github.com/spiderjobs/crawler/internal/crawllog"
	"github.com/spiderjobs/crawler/internal/dedup"
	collyfetch "github.com/spiderjobs/crawler/internal/fetch/colly"
	"github.com/spiderjobs/crawler/internal/fetch/detector"
	"github.com/spiderjobs/crawler/internal/fetch/headless"
	"github.com/spiderjobs/crawler/internal/frontier"
	"github.com/spiderjobs/crawler/internal/governor"
	"github.com/spiderjobs/crawler/internal/logging"
	"github.com/spiderjobs/crawler/internal/metrics"
	"github.com/spiderjobs/crawler/internal/parser"
	"github.com/spiderjobs/crawler/internal/parser/itviec"
	"github.com/spiderjobs/crawler/internal/pipeline"
	"github.com/spiderjobs/crawler/internal/proxy"
	"github.com/spiderjobs/crawler/internal/router"
	"github.com/spiderjobs/crawler/internal/sink"
	"github.com/spiderjobs/crawler/internal/sink/csvsink"
	"github.com/spiderjobs/crawler/internal/sink/kafkasink"
	"github.com/spiderjobs/crawler/internal/sink/postgres"
	"github.com/spiderjobs/crawler/internal/worker"
)

// App wires the crawl pipeline from configuration and owns its lifecycle.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	frontier   *frontier.Frontier
	governor   *governor.Governor
	breaker    *breaker.Breaker
	crawlLog   *crawllog.Log
	identities *proxy.Pool
	counters   *pipeline.Counters
	pool       *worker.Pool
	control    *control.Server
	closers    []func() error
}

// New builds all services. It fails fast: a sink or fetcher that cannot be
// constructed aborts startup rather than degrading silently.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, counters: &pipeline.Counters{}}
	a.closers = append(a.closers, func() error { return logger.Sync() })

	index, err := a.buildDedup()
	if err != nil {
		return nil, err
	}

	a.crawlLog = crawllog.New(cfg.Breaker.Window, nil, logger.Named("crawllog"))
	a.breaker = breaker.New(breaker.Config{
		Window:         cfg.Breaker.Window,
		MinSamples:     cfg.Breaker.MinSamples,
		ErrorThreshold: cfg.Breaker.ErrorThreshold,
		Cooldown:       cfg.Breaker.Cooldown,
		ProbeQuota:     cfg.Breaker.ProbeQuota,
	}, nil, logger.Named("breaker"))
	a.governor = governor.New(cfg.Sites, a.breaker, governor.Config{}, logger.Named("governor"))
	a.crawlLog.Subscribe(a.governor)
	a.crawlLog.Subscribe(a.breaker)

	a.identities = proxy.New(proxy.Config{
		ProxyURLs:           cfg.Proxy.ProxyURLs,
		UserAgents:          cfg.Proxy.UserAgents,
		CooldownAfter:       cfg.Proxy.CooldownAfter,
		CooldownDuration:    cfg.Proxy.CooldownDuration,
		MinSelectableHealth: cfg.Proxy.MinSelectableHealth,
	}, nil, logger.Named("proxy"))

	a.frontier = frontier.New(cfg.Sites, index, nil)

	listingSink, err := a.buildSink(ctx)
	if err != nil {
		return nil, err
	}
	rt := router.New(router.Config{
		SinkMaxRetries: cfg.Sink.MaxRetries,
		SinkRetryBase:  cfg.Sink.RetryBase,
	}, a.frontier, index, listingSink, a.counters, nil, logger.Named("router"))

	registry := parser.NewRegistry()
	registry.Register(itviec.ParserID, itviec.New(nil))

	robots := collyfetch.NewRobotsCache(cfg.FetchTimeout())
	fetcher := collyfetch.New(collyfetch.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, robots)

	deps := worker.Deps{
		Frontier:   a.frontier,
		Governor:   a.governor,
		Identities: a.identities,
		Fetcher:    fetcher,
		Registry:   registry,
		Router:     rt,
		CrawlLog:   a.crawlLog,
		Counters:   a.counters,
		Logger:     logger.Named("worker"),
	}
	if cfg.Headless.Enabled {
		hl, err := headless.NewChromedp(headless.Config{
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, promotion disabled", zap.Error(err))
		} else {
			deps.Headless = hl
			deps.Detector = detector.NewHeuristic(0)
			a.closers = append(a.closers, func() error { hl.Close(); return nil })
		}
	}

	a.pool = worker.NewPool(cfg.Workers.Count, worker.Config{
		IdleBackoff:    cfg.Workers.IdleBackoff,
		DefaultTimeout: cfg.FetchTimeout(),
	}, cfg.Sites, deps, cfg.Workers.DrainInterval)

	a.control = control.NewServer(cfg.Sites, a.governor, a.breaker, a.crawlLog, a.frontier, a.identities, a.counters, logger.Named("api"))

	return a, nil
}

func (a *App) buildDedup() (pipeline.DedupIndex, error) {
	if a.cfg.Dedup.RedisAddr != "" {
		a.logger.Info("using redis dedup index", zap.String("addr", a.cfg.Dedup.RedisAddr))
		return dedup.NewRedisIndex(a.cfg.Dedup.RedisAddr, a.cfg.Dedup.RedisPrefix, 0), nil
	}
	return dedup.New(dedup.Config{
		Capacity:      a.cfg.Dedup.BloomCapacity,
		FalsePositive: a.cfg.Dedup.BloomFalsePositive,
	}), nil
}

func (a *App) buildSink(ctx context.Context) (pipeline.Sink, error) {
	switch a.cfg.Sink.Kind {
	case "memory":
		return sink.NewMemory(), nil
	case "csv":
		s, err := csvsink.New(a.cfg.Sink.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("init csv sink: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Sink.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		return s, nil
	case "kafka":
		s := kafkasink.New(a.cfg.Sink.KafkaBroker, a.cfg.Sink.KafkaTopic)
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", a.cfg.Sink.Kind)
	}
}

// Logger exposes the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// SeedFrontier enqueues every configured seed URL.
func (a *App) SeedFrontier(ctx context.Context) error {
	for _, site := range a.cfg.Sites {
		for _, seed := range site.SeedURLs {
			admitted, err := a.frontier.Enqueue(ctx, pipeline.FetchTask{
				ID:   uuid.NewString(),
				URL:  seed,
				Site: site.Site,
			})
			if err != nil {
				return fmt.Errorf("seed %s: %w", seed, err)
			}
			if !admitted {
				a.logger.Warn("seed not admitted",
					zap.String("site", string(site.Site)),
					zap.String("url", seed),
				)
			}
		}
	}
	return nil
}

// Crawl runs a one-shot crawl: seed, drain, report.
func (a *App) Crawl(ctx context.Context) error {
	if err := a.SeedFrontier(ctx); err != nil {
		return err
	}
	a.logger.Info("crawl started",
		zap.Int("workers", a.cfg.Workers.Count),
		zap.Int("sites", len(a.cfg.Sites)),
	)
	a.pool.RunUntilDrained(ctx)

	// Remaining tasks exist only when the run was interrupted.
	if remaining := a.frontier.Snapshot(); len(remaining) > 0 {
		a.logger.Warn("crawl interrupted with tasks remaining", zap.Int("remaining", len(remaining)))
	}
	a.logRunSummary()
	return ctx.Err()
}

// Serve runs the pipeline and the control API until the context finishes.
func (a *App) Serve(ctx context.Context) error {
	if err := a.SeedFrontier(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.control.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("control api started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("control api error", zap.Error(err))
		}
	}()

	a.pool.Run(ctx)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("control api shutdown error", zap.Error(err))
	}
	a.logRunSummary()
	return nil
}

func (a *App) logRunSummary() {
	snap := a.counters.Snapshot()
	a.logger.Info("run summary",
		zap.Int64("pages_fetched", snap.PagesFetched),
		zap.Int64("pages_failed", snap.PagesFailed),
		zap.Int64("listings_written", snap.ListingsWritten),
		zap.Int64("duplicates_dropped", snap.DuplicatesDropped),
		zap.Int64("tasks_dropped", snap.TasksDropped),
		zap.Int64("sink_losses", snap.SinkLosses),
	)
}

// Close releases sinks, browsers, and finally the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		// The logger flush is last (index 0); its error is not loggable.
		if err := a.closers[i](); err != nil && i > 0 {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}

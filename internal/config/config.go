// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Workers  WorkerConfig          `mapstructure:"workers"`
	HTTP     HTTPConfig            `mapstructure:"http"`
	Headless HeadlessConfig        `mapstructure:"headless"`
	Dedup    DedupConfig           `mapstructure:"dedup"`
	Breaker  BreakerConfig         `mapstructure:"breaker"`
	Proxy    ProxyConfig           `mapstructure:"proxy"`
	Sink     SinkConfig            `mapstructure:"sink"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Sites    []pipeline.SiteConfig `mapstructure:"sites"`
}

// ServerConfig controls the control-surface HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WorkerConfig sizes the fetch worker pool.
type WorkerConfig struct {
	Count         int           `mapstructure:"count"`
	IdleBackoff   time.Duration `mapstructure:"idle_backoff"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
}

// HTTPConfig configures the plain HTTP fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the chromedp rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DedupConfig tunes the two-tier deduplication index.
type DedupConfig struct {
	BloomCapacity      uint    `mapstructure:"bloom_capacity"`
	BloomFalsePositive float64 `mapstructure:"bloom_false_positive"`
	RedisAddr          string  `mapstructure:"redis_addr"`
	RedisPrefix        string  `mapstructure:"redis_prefix"`
}

// BreakerConfig tunes per-site circuit breakers.
type BreakerConfig struct {
	Window         time.Duration `mapstructure:"window"`
	MinSamples     int           `mapstructure:"min_samples"`
	ErrorThreshold float64       `mapstructure:"error_threshold"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	ProbeQuota     int           `mapstructure:"probe_quota"`
}

// ProxyConfig lists egress identities and health tuning.
type ProxyConfig struct {
	ProxyURLs           []string      `mapstructure:"proxy_urls"`
	UserAgents          []string      `mapstructure:"user_agents"`
	CooldownAfter       int           `mapstructure:"cooldown_after"`
	CooldownDuration    time.Duration `mapstructure:"cooldown_duration"`
	MinSelectableHealth float64       `mapstructure:"min_selectable_health"`
}

// SinkConfig selects and configures the listing sink.
type SinkConfig struct {
	Kind        string        `mapstructure:"kind"`
	CSVPath     string        `mapstructure:"csv_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	KafkaBroker string        `mapstructure:"kafka_broker"`
	KafkaTopic  string        `mapstructure:"kafka_topic"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPIDERJOBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	applySiteDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.idle_backoff", "250ms")
	v.SetDefault("workers.drain_interval", "100ms")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "spiderjobs-bot/0.1")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("dedup.bloom_capacity", 1_000_000)
	v.SetDefault("dedup.bloom_false_positive", 0.001)
	v.SetDefault("breaker.window", "60s")
	v.SetDefault("breaker.min_samples", 10)
	v.SetDefault("breaker.error_threshold", 0.5)
	v.SetDefault("breaker.cooldown", "120s")
	v.SetDefault("breaker.probe_quota", 2)
	v.SetDefault("proxy.cooldown_after", 3)
	v.SetDefault("proxy.cooldown_duration", "120s")
	v.SetDefault("proxy.min_selectable_health", 0.1)
	v.SetDefault("sink.kind", "csv")
	v.SetDefault("sink.csv_path", "outputs/listings.csv")
	v.SetDefault("sink.max_retries", 3)
	v.SetDefault("sink.retry_base", "100ms")
	v.SetDefault("logging.development", true)
}

func applySiteDefaults(cfg *Config) {
	for i := range cfg.Sites {
		site := &cfg.Sites[i]
		if site.RatePerSecond <= 0 {
			site.RatePerSecond = 1
		}
		if site.Burst <= 0 {
			site.Burst = 1
		}
		if site.MaxConcurrency <= 0 {
			site.MaxConcurrency = 2
		}
		if site.MaxDepth <= 0 {
			site.MaxDepth = 3
		}
		if site.MaxPages <= 0 {
			site.MaxPages = 10
		}
		if site.FetchTimeout <= 0 {
			site.FetchTimeout = 15 * time.Second
		}
		if site.Retry.MaxAttempts <= 0 {
			site.Retry.MaxAttempts = 3
		}
		if site.Retry.MaxBlockedAttempts <= 0 {
			site.Retry.MaxBlockedAttempts = 6
		}
		if site.Retry.BaseBackoff <= 0 {
			site.Retry.BaseBackoff = 250 * time.Millisecond
		}
		if site.Retry.MaxBackoff <= 0 {
			site.Retry.MaxBackoff = 30 * time.Second
		}
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Breaker.ErrorThreshold <= 0 || c.Breaker.ErrorThreshold > 1 {
		return fmt.Errorf("breaker.error_threshold must be in (0, 1]")
	}
	if len(c.Sites) == 0 {
		return fmt.Errorf("at least one site must be configured")
	}
	seen := make(map[pipeline.SiteID]struct{}, len(c.Sites))
	for _, site := range c.Sites {
		if site.Site == "" {
			return fmt.Errorf("site entries require a site id")
		}
		if _, dup := seen[site.Site]; dup {
			return fmt.Errorf("duplicate site id %q", site.Site)
		}
		seen[site.Site] = struct{}{}
		if len(site.SeedURLs) == 0 {
			return fmt.Errorf("site %q has no seed urls", site.Site)
		}
		if site.ParserID == "" {
			return fmt.Errorf("site %q has no parser id", site.Site)
		}
	}
	switch c.Sink.Kind {
	case "csv", "memory":
	case "postgres":
		if c.Sink.PostgresDSN == "" {
			return fmt.Errorf("sink.postgres_dsn required for postgres sink")
		}
	case "kafka":
		if c.Sink.KafkaBroker == "" || c.Sink.KafkaTopic == "" {
			return fmt.Errorf("sink.kafka_broker and sink.kafka_topic required for kafka sink")
		}
	default:
		return fmt.Errorf("unknown sink.kind %q", c.Sink.Kind)
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

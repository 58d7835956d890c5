package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
sites:
  - site: itviec
    seed_urls: ["https://itviec.com/it-jobs"]
    parser_id: itviec
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Workers.Count)
	require.Equal(t, "csv", cfg.Sink.Kind)
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())

	require.Len(t, cfg.Sites, 1)
	site := cfg.Sites[0]
	require.Equal(t, pipeline.SiteID("itviec"), site.Site)
	require.Equal(t, float64(1), site.RatePerSecond)
	require.Equal(t, 3, site.MaxDepth)
	require.Equal(t, 3, site.Retry.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, site.Retry.BaseBackoff)
}

func TestLoadFullSite(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
workers:
  count: 8
sink:
  kind: kafka
  kafka_broker: localhost:9092
  kafka_topic: listings
sites:
  - site: itviec
    seed_urls: ["https://itviec.com/it-jobs"]
    parser_id: itviec
    rate_per_second: 0.5
    max_depth: 2
    respect_robots: true
    retry:
      max_attempts: 5
      base_backoff: 1s
`))
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Workers.Count)
	require.Equal(t, "kafka", cfg.Sink.Kind)
	require.Equal(t, 0.5, cfg.Sites[0].RatePerSecond)
	require.Equal(t, 5, cfg.Sites[0].Retry.MaxAttempts)
	require.Equal(t, time.Second, cfg.Sites[0].Retry.BaseBackoff)
	require.True(t, cfg.Sites[0].RespectRobots)
}

func TestLoadValidationFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"no sites", `server: {port: 8080}`},
		{"missing seeds", `
sites:
  - site: itviec
    parser_id: itviec
`},
		{"missing parser", `
sites:
  - site: itviec
    seed_urls: ["https://itviec.com"]
`},
		{"duplicate site", `
sites:
  - site: itviec
    seed_urls: ["https://itviec.com"]
    parser_id: itviec
  - site: itviec
    seed_urls: ["https://itviec.com"]
    parser_id: itviec
`},
		{"postgres sink without dsn", `
sink:
  kind: postgres
sites:
  - site: itviec
    seed_urls: ["https://itviec.com"]
    parser_id: itviec
`},
		{"unknown sink", `
sink:
  kind: carrier-pigeon
sites:
  - site: itviec
    seed_urls: ["https://itviec.com"]
    parser_id: itviec
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiderjobs/crawler/internal/crawllog"
	"github.com/spiderjobs/crawler/internal/dedup"
	"github.com/spiderjobs/crawler/internal/frontier"
	"github.com/spiderjobs/crawler/internal/pipeline"
	"github.com/spiderjobs/crawler/internal/router"
	"github.com/spiderjobs/crawler/internal/sink"
)

func TestPoolRunUntilDrained(t *testing.T) {
	t.Parallel()

	site := siteConfig()
	index := dedup.New(dedup.Config{})
	fr := frontier.New([]pipeline.SiteConfig{site}, index, nil)
	mem := sink.NewMemory()
	counters := &pipeline.Counters{}
	rt := router.New(router.Config{SinkRetryBase: time.Millisecond}, fr, index, mem, counters, nil, nil)

	parser := &scriptParser{results: map[string]pipeline.ParseResult{
		"page1": {
			Listings:        []pipeline.JobListing{job("Go Engineer", "https://itviec.com/it-jobs/1")},
			DiscoveredLinks: []string{"https://itviec.com/it-jobs?page=2"},
		},
		"page2": {Listings: []pipeline.JobListing{job("QA Engineer", "https://itviec.com/it-jobs/3")}},
	}}
	fetcher := newScriptFetcher()
	fetcher.on("https://itviec.com/it-jobs", ok("https://itviec.com/it-jobs", "page1"))
	fetcher.on("https://itviec.com/it-jobs?page=2", ok("https://itviec.com/it-jobs?page=2", "page2"))

	deps := Deps{
		Frontier:   fr,
		Governor:   openGovernor{},
		Identities: &recordingPool{identity: pipeline.Identity{ID: "direct-0"}},
		Fetcher:    fetcher,
		Registry:   staticRegistry{parser: parser},
		Router:     rt,
		CrawlLog:   crawllog.New(time.Minute, nil, nil),
		Counters:   counters,
	}
	pool := NewPool(3, Config{IdleBackoff: 5 * time.Millisecond}, []pipeline.SiteConfig{site}, deps, 10*time.Millisecond)

	_, err := fr.Enqueue(context.Background(), pipeline.FetchTask{ID: "seed", URL: "https://itviec.com/it-jobs", Site: site.Site})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool.RunUntilDrained(ctx)

	require.NoError(t, ctx.Err(), "pool must drain before the deadline")
	require.Equal(t, 2, mem.Len())
	require.Equal(t, 0, fr.InFlight())
	require.EqualValues(t, 2, counters.Snapshot().PagesFetched)
}

func TestPoolRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	site := siteConfig()
	index := dedup.New(dedup.Config{})
	fr := frontier.New([]pipeline.SiteConfig{site}, index, nil)

	deps := Deps{
		Frontier:   fr,
		Governor:   openGovernor{},
		Identities: &recordingPool{identity: pipeline.Identity{ID: "direct-0"}},
		Fetcher:    newScriptFetcher(),
		Registry:   staticRegistry{},
		Router:     router.New(router.Config{}, fr, index, sink.NewMemory(), nil, nil, nil),
		CrawlLog:   crawllog.New(time.Minute, nil, nil),
	}
	pool := NewPool(2, Config{IdleBackoff: time.Millisecond}, []pipeline.SiteConfig{site}, deps, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

package frontier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiderjobs/crawler/internal/dedup"
	"github.com/spiderjobs/crawler/internal/pipeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func siteConfig(id pipeline.SiteID, maxDepth, maxPages int) pipeline.SiteConfig {
	return pipeline.SiteConfig{Site: id, MaxDepth: maxDepth, MaxPages: maxPages}
}

func newFrontier(t *testing.T, sites ...pipeline.SiteConfig) (*Frontier, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return New(sites, dedup.New(dedup.Config{}), clock), clock
}

func task(site pipeline.SiteID, url string, depth int) pipeline.FetchTask {
	return pipeline.FetchTask{ID: url, URL: url, Site: site, Depth: depth}
}

func TestEnqueueDedup(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 3, 0))
	ctx := context.Background()

	admitted, err := f.Enqueue(ctx, task("itviec", "https://itviec.com/it-jobs", 0))
	require.NoError(t, err)
	require.True(t, admitted)

	// Equivalent spelling of the same URL is rejected.
	admitted, err = f.Enqueue(ctx, task("itviec", "https://ITVIEC.com:443/it-jobs", 0))
	require.NoError(t, err)
	require.False(t, admitted)

	require.Equal(t, 1, f.Len("itviec"))
}

func TestEnqueueDepthGate(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 2, 0))
	admitted, err := f.Enqueue(context.Background(), task("itviec", "https://itviec.com/deep", 3))
	require.NoError(t, err)
	require.False(t, admitted)
}

func TestEnqueuePageBudget(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 5, 2))
	ctx := context.Background()

	for i, url := range []string{"https://itviec.com/1", "https://itviec.com/2"} {
		admitted, err := f.Enqueue(ctx, task("itviec", url, i))
		require.NoError(t, err)
		require.True(t, admitted)
	}
	admitted, err := f.Enqueue(ctx, task("itviec", "https://itviec.com/3", 0))
	require.NoError(t, err)
	require.False(t, admitted)
}

// A budget rejection must not consume the URL fingerprint: a frontier
// sharing the same dedup index can still admit it later.
func TestEnqueueBudgetRejectionKeepsURLUnseen(t *testing.T) {
	t.Parallel()

	index := dedup.New(dedup.Config{})
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	ctx := context.Background()

	capped := New([]pipeline.SiteConfig{siteConfig("itviec", 5, 1)}, index, clock)
	admitted, err := capped.Enqueue(ctx, task("itviec", "https://itviec.com/1", 0))
	require.NoError(t, err)
	require.True(t, admitted)

	admitted, err = capped.Enqueue(ctx, task("itviec", "https://itviec.com/2", 0))
	require.NoError(t, err)
	require.False(t, admitted)

	// A later run with budget headroom sees the rejected URL as new.
	next := New([]pipeline.SiteConfig{siteConfig("itviec", 5, 10)}, index, clock)
	admitted, err = next.Enqueue(ctx, task("itviec", "https://itviec.com/2", 0))
	require.NoError(t, err)
	require.True(t, admitted)
}

func TestEnqueueUnknownSite(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 3, 0))
	_, err := f.Enqueue(context.Background(), task("nowhere", "https://nowhere.example/", 0))
	require.Error(t, err)
}

func TestDequeueOrdering(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 5, 0))
	ctx := context.Background()

	// Enqueued deep-first; dequeue must come back shallow-first, FIFO
	// within a depth.
	urls := []struct {
		url   string
		depth int
	}{
		{"https://itviec.com/d2-a", 2},
		{"https://itviec.com/d0", 0},
		{"https://itviec.com/d1-a", 1},
		{"https://itviec.com/d1-b", 1},
	}
	for _, u := range urls {
		admitted, err := f.Enqueue(ctx, task("itviec", u.url, u.depth))
		require.NoError(t, err)
		require.True(t, admitted)
	}

	var got []string
	for {
		tk, ok := f.Dequeue("itviec")
		if !ok {
			break
		}
		got = append(got, tk.URL)
		f.Complete(tk)
	}
	require.Equal(t, []string{
		"https://itviec.com/d0",
		"https://itviec.com/d1-a",
		"https://itviec.com/d1-b",
		"https://itviec.com/d2-a",
	}, got)
	require.Equal(t, 0, f.InFlight())
}

func TestDequeueEmptyIsNormal(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 3, 0))
	_, ok := f.Dequeue("itviec")
	require.False(t, ok)
	_, ok = f.Dequeue("unknown")
	require.False(t, ok)
}

func TestRequeueDelayedEligibility(t *testing.T) {
	t.Parallel()

	f, clock := newFrontier(t, siteConfig("itviec", 3, 0))
	ctx := context.Background()

	admitted, err := f.Enqueue(ctx, task("itviec", "https://itviec.com/a", 0))
	require.NoError(t, err)
	require.True(t, admitted)

	tk, ok := f.Dequeue("itviec")
	require.True(t, ok)
	require.Equal(t, 1, f.InFlight())

	f.Requeue(tk, 5*time.Second)
	require.Equal(t, 0, f.InFlight())

	// Not yet eligible.
	_, ok = f.Dequeue("itviec")
	require.False(t, ok)

	clock.Advance(5 * time.Second)
	got, ok := f.Dequeue("itviec")
	require.True(t, ok)
	require.Equal(t, tk.URL, got.URL)
}

// Requeue releases the in-flight slot even when the task's site partition
// no longer resolves.
func TestRequeueUnknownSiteReleasesInFlight(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 3, 0))
	ctx := context.Background()

	admitted, err := f.Enqueue(ctx, task("itviec", "https://itviec.com/a", 0))
	require.NoError(t, err)
	require.True(t, admitted)

	tk, ok := f.Dequeue("itviec")
	require.True(t, ok)
	require.Equal(t, 1, f.InFlight())

	tk.Site = "nowhere"
	f.Requeue(tk, time.Second)
	require.Equal(t, 0, f.InFlight())
}

// TestDispatchAtMostOnce races workers over one task: only a single dequeue
// may win and duplicates must never be dispatched.
func TestDispatchAtMostOnce(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 3, 0))
	ctx := context.Background()

	admitted, err := f.Enqueue(ctx, task("itviec", "https://itviec.com/only", 0))
	require.NoError(t, err)
	require.True(t, admitted)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	dispatched := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := f.Dequeue("itviec"); ok {
				mu.Lock()
				dispatched++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, dispatched)
}

func TestSitePartitionIsolation(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 3, 0), siteConfig("topdev", 3, 0))
	ctx := context.Background()

	_, err := f.Enqueue(ctx, task("itviec", "https://itviec.com/a", 0))
	require.NoError(t, err)
	_, err = f.Enqueue(ctx, task("topdev", "https://topdev.vn/a", 0))
	require.NoError(t, err)

	_, ok := f.Dequeue("topdev")
	require.True(t, ok)
	require.Equal(t, 1, f.Len("itviec"))
	require.ElementsMatch(t, []pipeline.SiteID{"itviec"}, f.Sites())
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, siteConfig("itviec", 3, 0))
	ctx := context.Background()

	for _, url := range []string{"https://itviec.com/a", "https://itviec.com/b"} {
		_, err := f.Enqueue(ctx, task("itviec", url, 1))
		require.NoError(t, err)
	}

	snap := f.Snapshot()
	require.Len(t, snap, 2)

	// A fresh frontier sharing no dedup state accepts the restored tasks
	// without re-checking fingerprints.
	g, _ := newFrontier(t, siteConfig("itviec", 3, 0))
	g.Restore(snap)
	require.Equal(t, 2, g.Len("itviec"))
}

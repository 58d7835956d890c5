package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiderjobs/crawler/internal/pipeline"
	"github.com/spiderjobs/crawler/internal/sink"
)

type fakeFrontier struct {
	enqueued []pipeline.FetchTask
	admit    bool
	err      error
	failURL  string
}

func (f *fakeFrontier) Enqueue(_ context.Context, task pipeline.FetchTask) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.failURL != "" && task.URL == f.failURL {
		return false, fmt.Errorf("fingerprint %s: url missing scheme or host", task.URL)
	}
	f.enqueued = append(f.enqueued, task)
	return f.admit, nil
}

func (f *fakeFrontier) Dequeue(pipeline.SiteID) (pipeline.FetchTask, bool) {
	return pipeline.FetchTask{}, false
}
func (f *fakeFrontier) Requeue(pipeline.FetchTask, time.Duration) {}
func (f *fakeFrontier) Complete(pipeline.FetchTask)               {}
func (f *fakeFrontier) Len(pipeline.SiteID) int                   { return len(f.enqueued) }
func (f *fakeFrontier) InFlight() int                             { return 0 }
func (f *fakeFrontier) Sites() []pipeline.SiteID                  { return nil }

type fakeDedup struct {
	seen map[pipeline.Fingerprint]bool
	err  error
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[pipeline.Fingerprint]bool)}
}

func (d *fakeDedup) MarkSeenURL(_ context.Context, fp pipeline.Fingerprint) (bool, error) {
	return d.mark(fp)
}

func (d *fakeDedup) MarkSeenContent(_ context.Context, fp pipeline.Fingerprint) (bool, error) {
	return d.mark(fp)
}

func (d *fakeDedup) mark(fp pipeline.Fingerprint) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen[fp] {
		return false, nil
	}
	d.seen[fp] = true
	return true, nil
}

type flakySink struct {
	failures int
	calls    int
	written  []pipeline.JobListing
}

func (s *flakySink) Write(_ context.Context, listing pipeline.JobListing) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("sink unavailable")
	}
	s.written = append(s.written, listing)
	return nil
}

func listing(title, link string) pipeline.JobListing {
	return pipeline.JobListing{
		Title:         title,
		CanonicalLink: link,
		Company:       "Acme Corp",
		SourceSite:    "itviec",
	}
}

func TestRouteWritesNewListings(t *testing.T) {
	t.Parallel()

	mem := sink.NewMemory()
	counters := &pipeline.Counters{}
	r := New(Config{}, &fakeFrontier{admit: true}, newFakeDedup(), mem, counters, nil, nil)

	result := pipeline.ParseResult{
		Listings: []pipeline.JobListing{
			listing("Senior Golang Engineer", "https://itviec.com/it-jobs/1"),
			listing("Data Engineer", "https://itviec.com/it-jobs/2"),
		},
	}
	require.NoError(t, r.Route(context.Background(), pipeline.FetchTask{Site: "itviec"}, result))
	require.Equal(t, 2, mem.Len())
	require.EqualValues(t, 2, counters.Snapshot().ListingsWritten)
}

func TestRouteDropsDuplicateListings(t *testing.T) {
	t.Parallel()

	mem := sink.NewMemory()
	counters := &pipeline.Counters{}
	r := New(Config{}, &fakeFrontier{admit: true}, newFakeDedup(), mem, counters, nil, nil)

	same := listing("Senior Golang Engineer", "https://itviec.com/it-jobs/1")
	result := pipeline.ParseResult{Listings: []pipeline.JobListing{same, same}}

	require.NoError(t, r.Route(context.Background(), pipeline.FetchTask{Site: "itviec"}, result))
	require.Equal(t, 1, mem.Len())

	snap := counters.Snapshot()
	require.EqualValues(t, 1, snap.ListingsWritten)
	require.EqualValues(t, 1, snap.DuplicatesDropped)
}

func TestRouteEnqueuesDiscoveredLinks(t *testing.T) {
	t.Parallel()

	frontier := &fakeFrontier{admit: true}
	r := New(Config{}, frontier, newFakeDedup(), sink.NewMemory(), nil, nil, nil)

	task := pipeline.FetchTask{Site: "itviec", Depth: 1, Priority: 2}
	result := pipeline.ParseResult{DiscoveredLinks: []string{"https://itviec.com/it-jobs?page=2"}}

	require.NoError(t, r.Route(context.Background(), task, result))
	require.Len(t, frontier.enqueued, 1)

	child := frontier.enqueued[0]
	require.Equal(t, pipeline.SiteID("itviec"), child.Site)
	require.Equal(t, 2, child.Depth)
	require.Equal(t, 2, child.Priority)
	require.NotEmpty(t, child.ID)
}

func TestRouteRetriesSinkThenSucceeds(t *testing.T) {
	t.Parallel()

	flaky := &flakySink{failures: 2}
	counters := &pipeline.Counters{}
	cfg := Config{SinkMaxRetries: 3, SinkRetryBase: time.Millisecond}
	r := New(cfg, &fakeFrontier{admit: true}, newFakeDedup(), flaky, counters, nil, nil)

	result := pipeline.ParseResult{Listings: []pipeline.JobListing{listing("DevOps Engineer", "https://itviec.com/it-jobs/3")}}
	require.NoError(t, r.Route(context.Background(), pipeline.FetchTask{Site: "itviec"}, result))

	require.Equal(t, 3, flaky.calls)
	require.Len(t, flaky.written, 1)
	require.EqualValues(t, 0, counters.Snapshot().SinkLosses)
}

// A listing that exhausts its retry budget is recorded as a loss and does
// not fail the task; its dedup mark stays so a refetch will not resurrect
// it.
func TestRouteTerminalSinkFailureIsLossNotError(t *testing.T) {
	t.Parallel()

	flaky := &flakySink{failures: 99}
	dedup := newFakeDedup()
	counters := &pipeline.Counters{}
	cfg := Config{SinkMaxRetries: 2, SinkRetryBase: time.Millisecond}
	r := New(cfg, &fakeFrontier{admit: true}, dedup, flaky, counters, nil, nil)

	lost := listing("ML Engineer", "https://itviec.com/it-jobs/4")
	result := pipeline.ParseResult{Listings: []pipeline.JobListing{lost}}
	require.NoError(t, r.Route(context.Background(), pipeline.FetchTask{Site: "itviec"}, result))

	snap := counters.Snapshot()
	require.EqualValues(t, 1, snap.SinkLosses)
	require.EqualValues(t, 0, snap.ListingsWritten)

	// Refetch of the same listing is still a duplicate.
	require.NoError(t, r.Route(context.Background(), pipeline.FetchTask{Site: "itviec"}, result))
	require.EqualValues(t, 1, counters.Snapshot().SinkLosses)
	require.EqualValues(t, 1, counters.Snapshot().DuplicatesDropped)
}

// A malformed discovered link drops that link only; the remaining links
// and every listing on the page still flow.
func TestRouteBadLinkDoesNotDropListings(t *testing.T) {
	t.Parallel()

	mem := sink.NewMemory()
	counters := &pipeline.Counters{}
	frontier := &fakeFrontier{admit: true, failURL: "/relative/only"}
	r := New(Config{}, frontier, newFakeDedup(), mem, counters, nil, nil)

	result := pipeline.ParseResult{
		DiscoveredLinks: []string{"/relative/only", "https://itviec.com/it-jobs?page=2"},
		Listings: []pipeline.JobListing{
			listing("Senior Golang Engineer", "https://itviec.com/it-jobs/1"),
		},
	}
	require.NoError(t, r.Route(context.Background(), pipeline.FetchTask{Site: "itviec"}, result))

	require.Equal(t, 1, mem.Len())
	require.Len(t, frontier.enqueued, 1)
	require.Equal(t, "https://itviec.com/it-jobs?page=2", frontier.enqueued[0].URL)
	require.EqualValues(t, 1, counters.Snapshot().ListingsWritten)
}

// A dedup failure drops the affected listing, not the task: Route still
// succeeds and discovered links are unaffected.
func TestRouteDedupErrorDropsListingOnly(t *testing.T) {
	t.Parallel()

	dedup := newFakeDedup()
	dedup.err = errors.New("redis down")
	mem := sink.NewMemory()
	frontier := &fakeFrontier{admit: true}
	r := New(Config{}, frontier, dedup, mem, nil, nil, nil)

	result := pipeline.ParseResult{
		DiscoveredLinks: []string{"https://itviec.com/it-jobs?page=2"},
		Listings:        []pipeline.JobListing{listing("QA Engineer", "https://itviec.com/it-jobs/5")},
	}
	require.NoError(t, r.Route(context.Background(), pipeline.FetchTask{Site: "itviec"}, result))
	require.Equal(t, 0, mem.Len())
	require.Len(t, frontier.enqueued, 1)
}

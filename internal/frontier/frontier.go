// Package frontier holds pending fetch tasks partitioned per site so one
// overloaded site cannot starve the others.
package frontier

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spiderjobs/crawler/internal/metrics"
	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Frontier implements pipeline.Frontier. Each site owns a ready heap ordered
// by (priority, depth, arrival) and a delayed heap ordered by eligibility
// time; Dequeue promotes due delayed tasks before popping. Admission is
// gated by the dedup index, max depth, and max pages per run.
type Frontier struct {
	mu       sync.Mutex
	sites    map[pipeline.SiteID]*siteQueue
	configs  map[pipeline.SiteID]pipeline.SiteConfig
	dedup    pipeline.DedupIndex
	clock    pipeline.Clock
	inFlight int
	seq      uint64
}

type siteQueue struct {
	ready    readyHeap
	delayed  delayedHeap
	admitted int
}

// New builds a Frontier for the configured sites.
func New(sites []pipeline.SiteConfig, dedup pipeline.DedupIndex, clock pipeline.Clock) *Frontier {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	configs := make(map[pipeline.SiteID]pipeline.SiteConfig, len(sites))
	queues := make(map[pipeline.SiteID]*siteQueue, len(sites))
	for _, sc := range sites {
		configs[sc.Site] = sc
		queues[sc.Site] = &siteQueue{}
	}
	return &Frontier{
		sites:   queues,
		configs: configs,
		dedup:   dedup,
		clock:   clock,
	}
}

// Enqueue admits a task unless its URL fingerprint is already seen, its
// depth exceeds the site's max depth, or the site's page budget is spent.
// Returns true when the task was admitted.
func (f *Frontier) Enqueue(ctx context.Context, task pipeline.FetchTask) (bool, error) {
	cfg, ok := f.configs[task.Site]
	if !ok {
		return false, fmt.Errorf("enqueue for unknown site %q", task.Site)
	}
	if task.Depth > cfg.MaxDepth {
		return false, nil
	}

	// Budget is checked before the dedup mark: a task rejected for a spent
	// page budget must not consume its URL fingerprint, or the URL could
	// never be enqueued by a later run sharing the index. Concurrent
	// producers may overshoot the cap by the width of this race.
	f.mu.Lock()
	budgetSpent := cfg.MaxPages > 0 && f.sites[task.Site].admitted >= cfg.MaxPages
	f.mu.Unlock()
	if budgetSpent {
		return false, nil
	}

	fp, err := pipeline.FingerprintURL(task.URL)
	if err != nil {
		return false, fmt.Errorf("fingerprint %s: %w", task.URL, err)
	}
	fresh, err := f.dedup.MarkSeenURL(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("mark seen url: %w", err)
	}
	if !fresh {
		return false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.sites[task.Site]
	q.admitted++
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = f.clock.Now()
	}
	f.push(q, task)
	f.publishDepth(task.Site, q)
	return true, nil
}

// Dequeue returns the next eligible task for a site. It never blocks; an
// empty result is normal. A dequeued task is held in-flight until Complete
// or Requeue.
func (f *Frontier) Dequeue(site pipeline.SiteID) (pipeline.FetchTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.sites[site]
	if !ok {
		return pipeline.FetchTask{}, false
	}
	f.promoteDue(q)
	if q.ready.Len() == 0 {
		return pipeline.FetchTask{}, false
	}
	entry := heap.Pop(&q.ready).(*readyEntry)
	f.inFlight++
	f.publishDepth(site, q)
	return entry.task, true
}

// Requeue returns an in-flight task to its site queue, eligible again after
// delay. Retry waits live here so workers never sleep holding a task.
func (f *Frontier) Requeue(task pipeline.FetchTask, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	q, ok := f.sites[task.Site]
	if !ok {
		return
	}
	if delay <= 0 {
		f.push(q, task)
	} else {
		f.seq++
		heap.Push(&q.delayed, &delayedEntry{task: task, eligibleAt: f.clock.Now().Add(delay), seq: f.seq})
	}
	f.publishDepth(task.Site, q)
}

// Complete removes a task from the in-flight set.
func (f *Frontier) Complete(_ pipeline.FetchTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

// Len reports queued tasks (ready plus delayed) for a site.
func (f *Frontier) Len(site pipeline.SiteID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.sites[site]
	if !ok {
		return 0
	}
	return q.ready.Len() + q.delayed.Len()
}

// InFlight reports dispatched tasks not yet completed or requeued.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Sites lists site partitions currently holding tasks.
func (f *Frontier) Sites() []pipeline.SiteID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pipeline.SiteID, 0, len(f.sites))
	for site, q := range f.sites {
		if q.ready.Len()+q.delayed.Len() > 0 {
			out = append(out, site)
		}
	}
	return out
}

// Snapshot returns all queued (not in-flight) tasks so remaining work can be
// persisted across runs.
func (f *Frontier) Snapshot() []pipeline.FetchTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pipeline.FetchTask
	for _, q := range f.sites {
		for _, e := range q.ready {
			out = append(out, e.task)
		}
		for _, e := range q.delayed {
			out = append(out, e.task)
		}
	}
	return out
}

// Restore pushes previously snapshotted tasks back without the dedup gate;
// they were admitted (and marked seen) in an earlier run.
func (f *Frontier) Restore(tasks []pipeline.FetchTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range tasks {
		q, ok := f.sites[task.Site]
		if !ok {
			continue
		}
		f.push(q, task)
		f.publishDepth(task.Site, q)
	}
}

func (f *Frontier) push(q *siteQueue, task pipeline.FetchTask) {
	f.seq++
	heap.Push(&q.ready, &readyEntry{task: task, seq: f.seq})
}

func (f *Frontier) promoteDue(q *siteQueue) {
	now := f.clock.Now()
	for q.delayed.Len() > 0 && !q.delayed[0].eligibleAt.After(now) {
		entry := heap.Pop(&q.delayed).(*delayedEntry)
		f.push(q, entry.task)
	}
}

func (f *Frontier) publishDepth(site pipeline.SiteID, q *siteQueue) {
	metrics.SetFrontierDepth(string(site), q.ready.Len()+q.delayed.Len())
}

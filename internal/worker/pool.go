package worker

import (
	"context"
	"sync"
	"time"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Pool fans crawl work out to a fixed set of workers.
type Pool struct {
	workers  []*Worker
	frontier pipeline.Frontier
	drainInt time.Duration
}

// NewPool builds count workers sharing one dependency set.
func NewPool(count int, cfg Config, sites []pipeline.SiteConfig, deps Deps, drainInterval time.Duration) *Pool {
	if count <= 0 {
		count = 4
	}
	if drainInterval <= 0 {
		drainInterval = 500 * time.Millisecond
	}
	workers := make([]*Worker, count)
	for i := range workers {
		workers[i] = New(cfg, sites, deps)
	}
	return &Pool{workers: workers, frontier: deps.Frontier, drainInt: drainInterval}
}

// Run starts all workers and blocks until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// RunUntilDrained runs the workers until every site queue is empty and no
// task is in flight, or the context finishes. Used by one-shot crawls.
func (p *Pool) RunUntilDrained(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(runCtx)
	}()

	ticker := time.NewTicker(p.drainInt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case <-ticker.C:
			if p.drained() {
				cancel()
				<-done
				return
			}
		}
	}
}

func (p *Pool) drained() bool {
	if p.frontier.InFlight() > 0 {
		return false
	}
	for _, site := range p.frontier.Sites() {
		if p.frontier.Len(site) > 0 {
			return false
		}
	}
	return true
}

package pipeline

import "sync/atomic"

// Counters aggregates run totals across workers and the router.
type Counters struct {
	pagesFetched      atomic.Int64
	pagesFailed       atomic.Int64
	listingsWritten   atomic.Int64
	duplicatesDropped atomic.Int64
	tasksDropped      atomic.Int64
	sinkLosses        atomic.Int64
}

func (c *Counters) AddPageFetched()      { c.pagesFetched.Add(1) }
func (c *Counters) AddPageFailed()       { c.pagesFailed.Add(1) }
func (c *Counters) AddListingWritten()   { c.listingsWritten.Add(1) }
func (c *Counters) AddDuplicateDropped() { c.duplicatesDropped.Add(1) }
func (c *Counters) AddTaskDropped()      { c.tasksDropped.Add(1) }
func (c *Counters) AddSinkLoss()         { c.sinkLosses.Add(1) }

// Snapshot returns the current totals.
func (c *Counters) Snapshot() RunCounters {
	return RunCounters{
		PagesFetched:      c.pagesFetched.Load(),
		PagesFailed:       c.pagesFailed.Load(),
		ListingsWritten:   c.listingsWritten.Load(),
		DuplicatesDropped: c.duplicatesDropped.Load(),
		TasksDropped:      c.tasksDropped.Load(),
		SinkLosses:        c.sinkLosses.Load(),
	}
}

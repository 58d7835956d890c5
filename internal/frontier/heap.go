package frontier

import (
	"time"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// readyEntry orders dispatchable tasks: explicit priority first, then lower
// depth, then arrival order.
type readyEntry struct {
	task pipeline.FetchTask
	seq  uint64
}

type readyHeap []*readyEntry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority < b.task.Priority
	}
	if a.task.Depth != b.task.Depth {
		return a.task.Depth < b.task.Depth
	}
	return a.seq < b.seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*readyEntry)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// delayedEntry orders retry-delayed tasks by eligibility time.
type delayedEntry struct {
	task       pipeline.FetchTask
	eligibleAt time.Time
	seq        uint64
}

type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	if !h[i].eligibleAt.Equal(h[j].eligibleAt) {
		return h[i].eligibleAt.Before(h[j].eligibleAt)
	}
	return h[i].seq < h[j].seq
}

func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayedHeap) Push(x any) { *h = append(*h, x.(*delayedEntry)) }

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// Package dedup implements the two-tier fingerprint index gating frontier
// admission and sink writes.
package dedup

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Index is an in-memory DedupIndex. A bloom filter screens lookups so the
// common definitely-new case never touches the exact set's read path; the
// exact set stays authoritative, so marks are never falsely rejected.
type Index struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[pipeline.Fingerprint]struct{}
}

// Config sizes the bloom prefilter.
type Config struct {
	Capacity      uint
	FalsePositive float64
}

// New builds an Index sized for the expected fingerprint volume.
func New(cfg Config) *Index {
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = 1_000_000
	}
	fp := cfg.FalsePositive
	if fp <= 0 || fp >= 1 {
		fp = 0.001
	}
	return &Index{
		filter: bloom.NewWithEstimates(capacity, fp),
		exact:  make(map[pipeline.Fingerprint]struct{}),
	}
}

// MarkSeenURL atomically marks a URL fingerprint, returning true when it was
// newly marked.
func (i *Index) MarkSeenURL(_ context.Context, fp pipeline.Fingerprint) (bool, error) {
	return i.mark(fp), nil
}

// MarkSeenContent atomically marks a content fingerprint, returning true when
// it was newly marked. Membership is exact: a duplicate verdict here is final
// before a sink write.
func (i *Index) MarkSeenContent(_ context.Context, fp pipeline.Fingerprint) (bool, error) {
	return i.mark(fp), nil
}

func (i *Index) mark(fp pipeline.Fingerprint) bool {
	key := []byte(fp)
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.filter.Test(key) {
		// Possible bloom hit; the exact set decides.
		if _, seen := i.exact[fp]; seen {
			return false
		}
	}
	i.filter.Add(key)
	i.exact[fp] = struct{}{}
	return true
}

// Len reports the number of exactly tracked fingerprints.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.exact)
}

// Reset clears all seen state. Exposed for an external re-crawl policy;
// never called by the pipeline itself.
func (i *Index) Reset(capacity uint, falsePositive float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if capacity == 0 {
		capacity = 1_000_000
	}
	if falsePositive <= 0 || falsePositive >= 1 {
		falsePositive = 0.001
	}
	i.filter = bloom.NewWithEstimates(capacity, falsePositive)
	i.exact = make(map[pipeline.Fingerprint]struct{})
}

// Package sink provides listing destinations behind the pipeline.Sink
// contract.
package sink

import (
	"context"
	"sync"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Memory buffers listings in memory. Used for dry runs and as the default
// when no external sink is configured.
type Memory struct {
	mu       sync.Mutex
	listings []pipeline.JobListing
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Write appends the listing. It never fails.
func (m *Memory) Write(_ context.Context, listing pipeline.JobListing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings = append(m.listings, listing)
	return nil
}

// Listings returns a copy of everything written so far.
func (m *Memory) Listings() []pipeline.JobListing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.JobListing, len(m.listings))
	copy(out, m.listings)
	return out
}

// Len reports the number of listings written.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listings)
}

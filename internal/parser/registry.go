// Package parser maps parser IDs to site-specific extraction adapters.
package parser

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Registry resolves parser adapters by ID. Registration happens at wire
// time; Resolve is safe for concurrent workers.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]pipeline.Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]pipeline.Parser)}
}

// Register binds an adapter to a parser ID, replacing any previous binding.
func (r *Registry) Register(parserID string, p pipeline.Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[parserID] = p
}

// Resolve returns the adapter for parserID or ErrNoParser.
func (r *Registry) Resolve(parserID string) (pipeline.Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.adapters[parserID]
	if !ok {
		return nil, fmt.Errorf("parser %q: %w", parserID, pipeline.ErrNoParser)
	}
	return p, nil
}

// IDs lists registered parser IDs, sorted, for the control surface.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

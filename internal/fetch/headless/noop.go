package headless

import (
	"context"
	"errors"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Noop stands in when headless rendering is disabled. Promotion attempts
// fail with a plain error and the worker keeps the static response.
type Noop struct{}

// NewNoop creates a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails; the caller falls back to the static page.
func (Noop) Fetch(_ context.Context, _ pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	return pipeline.FetchResponse{}, errors.New("headless fetcher not configured")
}

// Package detector decides when a static fetch needs a headless refetch.
package detector

import (
	"bytes"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Heuristic promotes pages that look like JavaScript shells: empty bodies,
// SPA mount points, or documents that are mostly script.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. threshold 0 uses a 2 KiB default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether the response warrants a headless refetch.
// Only 200 responses qualify; errors and blocks are handled upstream.
func (h *Heuristic) ShouldPromote(resp pipeline.FetchResponse) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script tags cover at least a quarter of the
// document.
func scriptHeavy(body []byte) bool {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
	)
	covered := 0
	pos := 0
	for {
		rel := bytes.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		end := bytes.Index(lower[start:], closeTag)
		if end == -1 {
			// Unterminated script; count the remainder.
			covered += total - start
			break
		}
		next := start + end + len(closeTag)
		covered += next - start
		pos = next
	}

	return covered*100/total >= 25
}

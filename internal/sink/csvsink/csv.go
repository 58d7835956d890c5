// Package csvsink writes job listings to a local CSV file.
package csvsink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

var header = []string{"title", "link", "company", "location", "posted_date", "logo_url", "skills"}

// Sink appends listings to a CSV file as they arrive. Rows are flushed per
// write so a crash loses at most the in-flight listing.
type Sink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// New creates the file (and parent directories) and writes the header row.
func New(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("csv sink: create output dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv sink: create %s: %w", path, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("csv sink: write header: %w", err)
	}
	writer.Flush()
	return &Sink{file: file, writer: writer}, nil
}

// Write appends one listing row.
func (s *Sink) Write(_ context.Context, listing pipeline.JobListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		listing.Title,
		listing.CanonicalLink,
		listing.Company,
		listing.Location,
		listing.PostedDate,
		listing.LogoURL,
		strings.Join(listing.Skills, ";"),
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("csv sink: write row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("csv sink: flush: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("csv sink: flush on close: %w", err)
	}
	return s.file.Close()
}

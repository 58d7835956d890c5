// Package kafkasink publishes job listings to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink publishes each deduplicated listing as one JSON message keyed by its
// content fingerprint, so downstream compacted topics keep one record per
// posting.
type Sink struct {
	writer messageWriter
}

// New creates a Kafka sink for the given broker and topic.
func New(broker, topic string) *Sink {
	return &Sink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewWithWriter builds a sink using a custom writer (tests).
func NewWithWriter(writer messageWriter) *Sink {
	return &Sink{writer: writer}
}

// Close shuts down the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}

// Write publishes one listing.
func (s *Sink) Write(ctx context.Context, listing pipeline.JobListing) error {
	payload, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("kafka sink: marshal listing: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(pipeline.FingerprintListing(listing)),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka sink: write %s: %w", listing.CanonicalLink, err)
	}
	return nil
}

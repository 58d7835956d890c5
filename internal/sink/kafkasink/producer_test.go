package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestWritePublishesListing(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	s := NewWithWriter(writer)

	listing := pipeline.JobListing{
		Title:         "Senior Golang Engineer",
		CanonicalLink: "https://itviec.com/it-jobs/senior-golang-engineer-1234",
		Company:       "Acme Corp",
		SourceSite:    "itviec",
		Skills:        []string{"Go"},
	}
	require.NoError(t, s.Write(context.Background(), listing))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	require.Equal(t, string(pipeline.FingerprintListing(listing)), string(msg.Key))

	var got pipeline.JobListing
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, listing.Title, got.Title)
	require.Equal(t, listing.CanonicalLink, got.CanonicalLink)
}

func TestWritePropagatesError(t *testing.T) {
	t.Parallel()

	want := errors.New("broker unavailable")
	s := NewWithWriter(&fakeWriter{err: want})

	err := s.Write(context.Background(), pipeline.JobListing{CanonicalLink: "https://itviec.com/it-jobs/x"})
	require.ErrorIs(t, err, want)
}

func TestClose(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	s := NewWithWriter(writer)
	require.NoError(t, s.Close())
	require.True(t, writer.closed)
}

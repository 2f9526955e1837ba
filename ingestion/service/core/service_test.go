package service

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logstream/internal/batcher"
	"logstream/internal/broadcast"
	"logstream/internal/models"
)

type captureWriter struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (c *captureWriter) AddBatch(_ context.Context, entries []models.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
	return nil
}

func (c *captureWriter) snapshot() []models.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func newTestService(sink *captureWriter) *Service {
	logger := log.New(io.Discard, "", 0)
	hub := broadcast.NewHub(0, logger)
	w := batcher.NewWriter(sink, 200, time.Hour, 0, logger)
	go w.Run()
	return NewService(hub, w, logger)
}

func TestIngestNormalizesBeforeFanOut(t *testing.T) {
	sink := &captureWriter{}
	svc := newTestService(sink)

	_, events, _ := svc.Hub().Subscribe(broadcast.Filter{})

	accepted := svc.Ingest("http", []models.LogEntry{{Message: "hello"}})
	assert.Equal(t, 1, accepted)

	var event broadcast.Event
	require.NoError(t, json.Unmarshal(<-events, &event))
	assert.Equal(t, "log", event.Type)
	assert.NotEmpty(t, event.Data.ID, "broadcast entry carries the assigned id")
	assert.Equal(t, "unknown", event.Data.Project)
	assert.Equal(t, models.LevelInfo, event.Data.Level)

	svc.Close()
	stored := sink.snapshot()
	require.Len(t, stored, 1)
	assert.Equal(t, event.Data.ID, stored[0].ID, "both sinks see the same normalized entry")
}

func TestIngestFiltersPerSubscriber(t *testing.T) {
	sink := &captureWriter{}
	svc := newTestService(sink)
	defer svc.Close()

	_, apiEvents, _ := svc.Hub().Subscribe(broadcast.Filter{Projects: []string{"api"}})
	_, errEvents, _ := svc.Hub().Subscribe(broadcast.Filter{Levels: []string{"error"}})

	svc.Ingest("http", []models.LogEntry{
		{Project: "api", Level: models.LevelInfo, Message: "a"},
		{Project: "web", Level: models.LevelError, Message: "b"},
	})

	assert.Len(t, apiEvents, 1)
	assert.Len(t, errEvents, 1)
}

func TestIngestBatchReachesIndexInOrder(t *testing.T) {
	sink := &captureWriter{}
	svc := newTestService(sink)

	batch := []models.LogEntry{
		{Project: "api", Message: "first"},
		{Project: "api", Message: "second"},
		{Project: "api", Message: "third"},
	}
	accepted := svc.Ingest("kafka", batch)
	assert.Equal(t, 3, accepted)

	svc.Close()
	stored := sink.snapshot()
	require.Len(t, stored, 3)
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, want, stored[i].Message)
	}
}

func TestSubscriberCount(t *testing.T) {
	sink := &captureWriter{}
	svc := newTestService(sink)
	defer svc.Close()

	assert.Equal(t, 0, svc.SubscriberCount())
	id, _, _ := svc.Hub().Subscribe(broadcast.Filter{})
	assert.Equal(t, 1, svc.SubscriberCount())
	svc.Hub().Unsubscribe(id)
	assert.Equal(t, 0, svc.SubscriberCount())
}

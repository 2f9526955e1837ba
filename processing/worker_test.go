package worker

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

	"logstream/config"
	core "logstream/ingestion/service/core"
	"logstream/internal/batcher"
	"logstream/internal/broadcast"
	"logstream/internal/messaging/consumer"
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

func (c *captureWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func newTestService(sink *captureWriter) *core.Service {
	logger := log.New(io.Discard, "", 0)
	hub := broadcast.NewHub(0, logger)
	w := batcher.NewWriter(sink, 200, 10*time.Millisecond, 0, logger)
	go w.Run()
	return core.NewService(hub, w, logger)
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{Concurrency: 2, ConsumerRetryDelay: "10ms"}
}

func TestWorkerIngestsAndAcks(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	entries := []models.LogEntry{
		models.LogEntry{ID: "e-1", Project: "api", Message: "one"}.Normalize(),
		models.LogEntry{ID: "e-2", Project: "api", Message: "two"}.Normalize(),
		models.LogEntry{ID: "e-3", Project: "api", Message: "three"}.Normalize(),
	}
	mock := consumer.NewMockConsumer(logger, entries...)

	sink := &captureWriter{}
	svc := newTestService(sink)
	w := New(testConfig(), logger, svc, mock)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		w.Run(ctx)
	}()

	acked := make(map[string]bool)
	for i := 0; i < len(entries); i++ {
		select {
		case id := <-mock.Acked():
			acked[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for acks")
		}
	}
	assert.Equal(t, map[string]bool{"e-1": true, "e-2": true, "e-3": true}, acked)

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}

	svc.Close()
	assert.Equal(t, 3, sink.count())
}

func TestWorkerEntriesReachSubscribers(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	mock := consumer.NewMockConsumer(logger)

	sink := &captureWriter{}
	svc := newTestService(sink)
	defer svc.Close()

	_, events, _ := svc.Hub().Subscribe(broadcast.Filter{Projects: []string{"api"}})

	w := New(testConfig(), logger, svc, mock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	mock.Push(models.LogEntry{Project: "api", Level: models.LevelError, Message: "broker entry"})

	select {
	case payload := <-events:
		var event broadcast.Event
		require.NoError(t, json.Unmarshal(payload, &event))
		assert.Equal(t, "broker entry", event.Data.Message)
		assert.Equal(t, "api", event.Data.Project)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	mock := consumer.NewMockConsumer(logger)
	svc := newTestService(&captureWriter{})
	defer svc.Close()

	w := New(testConfig(), logger, svc, mock)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		w.Run(ctx)
	}()

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestNewDefaultsInvalidConfig(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	svc := newTestService(&captureWriter{})
	defer svc.Close()

	w := New(config.WorkerConfig{Concurrency: 0, ConsumerRetryDelay: "not-a-duration"}, logger, svc, consumer.NewMockConsumer(logger))

	assert.Equal(t, 1, w.cfg.Concurrency)
	assert.Equal(t, 5*time.Second, w.consumerRetryDelay)
}

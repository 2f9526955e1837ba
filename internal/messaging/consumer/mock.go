package consumer

import (
	"context"
	"errors"
	"log"

	"logstream/internal/models"
)

// MockConsumer serves entries from an in-memory channel, for testing the
// worker loop without a broker.
type MockConsumer struct {
	logger  *log.Logger
	entries chan *models.LogEntry
	acked   chan string
}

// NewMockConsumer creates a MockConsumer preloaded with the given entries.
func NewMockConsumer(logger *log.Logger, preload ...models.LogEntry) *MockConsumer {
	mc := &MockConsumer{
		logger:  logger,
		entries: make(chan *models.LogEntry, len(preload)+16),
		acked:   make(chan string, len(preload)+16),
	}
	for i := range preload {
		entry := preload[i]
		mc.entries <- &entry
	}
	return mc
}

// Push queues one more entry for consumption.
func (m *MockConsumer) Push(entry models.LogEntry) {
	m.entries <- &entry
}

// Acked exposes the ids of successfully acknowledged entries in order.
func (m *MockConsumer) Acked() <-chan string {
	return m.acked
}

// Consume reads entries from the in-memory channel.
func (m *MockConsumer) Consume(ctx context.Context) (entry *models.LogEntry, ack func(success bool), err error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case e := <-m.entries:
		if e == nil {
			return nil, nil, errors.New("entry channel closed")
		}
		ackCallback := func(success bool) {
			if success {
				m.acked <- e.ID
				return
			}
			// Redeliver on NACK like a real broker would
			select {
			case m.entries <- e:
			default:
				m.logger.Printf("[MockConsumer] Warning: failed to re-queue entry %s", e.ID)
			}
		}
		return e, ackCallback, nil
	}
}

// Close closes the entry channel.
func (m *MockConsumer) Close() error {
	close(m.entries)
	return nil
}

var _ Consumer = (*MockConsumer)(nil)

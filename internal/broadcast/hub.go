// Package broadcast implements the live subscriber registry: filtered
// fan-out of normalized log entries to WebSocket subscribers.
package broadcast

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"logstream/internal/metrics"
	"logstream/internal/models"
)

// DefaultChannelBuffer is the per-subscriber delivery channel capacity.
// A subscriber that falls this far behind is treated as dead and reaped.
const DefaultChannelBuffer = 64

// Filter selects which entries a subscriber receives. An empty dimension
// matches everything; the three dimensions are combined with AND.
type Filter struct {
	Projects []string `json:"projects"`
	Levels   []string `json:"levels"`
	TraceID  string   `json:"traceId,omitempty"`
}

// Matches reports whether entry passes all three filter dimensions.
func (f Filter) Matches(entry *models.LogEntry) bool {
	if len(f.Projects) > 0 && !contains(f.Projects, entry.Project) {
		return false
	}
	if len(f.Levels) > 0 && !contains(f.Levels, string(entry.Level)) {
		return false
	}
	if f.TraceID != "" && f.TraceID != entry.TraceID {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Event is the envelope pushed to subscriber channels.
type Event struct {
	Type string          `json:"type"`
	Data models.LogEntry `json:"data"`
}

// subscriber is one live session. The delivery channel is never closed;
// done signals teardown so a pending reader can exit.
type subscriber struct {
	id       uint64
	filter   Filter
	ch       chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

// trySend delivers payload without ever blocking. It fails if the
// subscriber is torn down or its buffer is full.
func (s *subscriber) trySend(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- payload:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Hub is the concurrent registry of live subscribers. Subscribe,
// Unsubscribe, and Broadcast are safe to call from any goroutine; no
// single lock serializes unrelated subscribers.
type Hub struct {
	subs    sync.Map // uint64 -> *subscriber
	nextID  atomic.Uint64
	count   atomic.Int64
	chanBuf int
	logger  *log.Logger
}

// NewHub creates a Hub. channelBuffer <= 0 selects DefaultChannelBuffer.
func NewHub(channelBuffer int, logger *log.Logger) *Hub {
	if channelBuffer <= 0 {
		channelBuffer = DefaultChannelBuffer
	}
	return &Hub{chanBuf: channelBuffer, logger: logger}
}

// Subscribe registers filter under a fresh, never-reused id and returns
// the id, the delivery channel, and a done channel closed on unsubscribe.
func (h *Hub) Subscribe(filter Filter) (uint64, <-chan []byte, <-chan struct{}) {
	id := h.nextID.Add(1)
	sub := &subscriber{
		id:     id,
		filter: filter,
		ch:     make(chan []byte, h.chanBuf),
		done:   make(chan struct{}),
	}
	h.subs.Store(id, sub)
	h.count.Add(1)
	metrics.SubscribersActive.Inc()
	return id, sub.ch, sub.done
}

// Unsubscribe removes a subscriber. Removing an absent id is a no-op.
func (h *Hub) Unsubscribe(id uint64) {
	if v, ok := h.subs.LoadAndDelete(id); ok {
		v.(*subscriber).close()
		h.count.Add(-1)
		metrics.SubscribersActive.Dec()
	}
}

// Broadcast fans entry out to every subscriber whose filter matches.
// Delivery is best-effort: a dead or stuck subscriber is removed and the
// failure is never surfaced to the caller.
func (h *Hub) Broadcast(entry *models.LogEntry) {
	payload, err := json.Marshal(Event{Type: "log", Data: *entry})
	if err != nil {
		// LogEntry always marshals; guard against future field changes
		h.logger.Printf("Broadcast: failed to serialize entry %s: %v", entry.ID, err)
		return
	}

	var dead []uint64
	h.subs.Range(func(key, value any) bool {
		sub := value.(*subscriber)
		if !sub.filter.Matches(entry) {
			return true
		}
		if sub.trySend(payload) {
			metrics.EventsDelivered.Inc()
		} else {
			dead = append(dead, sub.id)
		}
		return true
	})

	for _, id := range dead {
		h.Unsubscribe(id)
		metrics.SubscribersReaped.Inc()
		h.logger.Printf("Broadcast: reaped unresponsive subscriber %d", id)
	}
}

// Count returns the number of currently registered subscribers.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

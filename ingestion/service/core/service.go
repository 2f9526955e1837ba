// Package service implements the ingestion gateway: every accepted entry
// is normalized, fanned out to live subscribers, and handed to the write
// batcher. All transports (HTTP, WebSocket, Kafka) call into this package.
package service

import (
	"log"

	"logstream/internal/batcher"
	"logstream/internal/broadcast"
	"logstream/internal/metrics"
	"logstream/internal/models"
)

// Service is the ingestion gateway.
type Service struct {
	hub     *broadcast.Hub
	batcher *batcher.Writer
	logger  *log.Logger
}

// NewService creates a gateway over the given hub and batcher.
func NewService(hub *broadcast.Hub, b *batcher.Writer, logger *log.Logger) *Service {
	return &Service{
		hub:     hub,
		batcher: b,
		logger:  logger,
	}
}

// Ingest processes entries in arrival order: normalize, broadcast to live
// subscribers, enqueue for indexing. Neither sink ever blocks the caller;
// the write path completes asynchronously. Returns the count accepted.
// transport labels the originating surface for metrics.
func (s *Service) Ingest(transport string, entries []models.LogEntry) int {
	for i := range entries {
		entry := entries[i].Normalize()
		s.hub.Broadcast(&entry)
		s.batcher.Enqueue(entry)
	}
	metrics.EntriesIngested.WithLabelValues(transport).Add(float64(len(entries)))
	return len(entries)
}

// SubscriberCount reports the number of live subscribers, for health.
func (s *Service) SubscriberCount() int {
	return s.hub.Count()
}

// Hub exposes the subscriber registry to the WebSocket transport.
func (s *Service) Hub() *broadcast.Hub {
	return s.hub
}

// Close drains the write path: the batcher performs one final flush of
// whatever it holds before the gateway is considered stopped.
func (s *Service) Close() {
	s.batcher.Close()
}

// Package batcher bridges bursty ingestion to the index with micro-batched
// writes: entries are buffered and flushed on a size-or-time trigger.
package batcher

import (
	"context"
	"log"
	"sync"
	"time"

	"logstream/internal/metrics"
	"logstream/internal/models"
)

// Defaults for the flush triggers and the intake queue.
const (
	DefaultBatchSize     = 200
	DefaultFlushInterval = 250 * time.Millisecond
	DefaultIntakeBuffer  = 8192
)

// BulkWriter is the downstream index boundary: one ordered batch per call.
type BulkWriter interface {
	AddBatch(ctx context.Context, entries []models.LogEntry) error
}

// Writer accumulates entries from a bounded intake queue and flushes them
// to a BulkWriter whenever the buffer reaches the size threshold or the
// flush interval elapses with a non-empty buffer, whichever comes first.
//
// A single goroutine owns the buffer, so flushes preserve intake order and
// two flushes never race. A flush failure is logged and the batch is
// discarded; there is no retry or dead-letter path.
type Writer struct {
	writer        BulkWriter
	batchSize     int
	flushInterval time.Duration
	logger        *log.Logger

	intake chan models.LogEntry
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}
}

// NewWriter creates a Writer. Zero or negative options select the defaults.
// Call Run in a goroutine to start the flush loop.
func NewWriter(w BulkWriter, batchSize int, flushInterval time.Duration, intakeBuffer int, logger *log.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if intakeBuffer <= 0 {
		intakeBuffer = DefaultIntakeBuffer
	}
	return &Writer{
		writer:        w,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		intake:        make(chan models.LogEntry, intakeBuffer),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Enqueue hands an entry to the flush loop without blocking. When the
// intake queue is full, or the writer is shutting down, the entry is
// dropped and false is returned; callers treat enqueue as best-effort and
// never wait on a slow index. The intake channel itself is never closed,
// so an Enqueue racing Close cannot panic.
func (w *Writer) Enqueue(entry models.LogEntry) bool {
	select {
	case <-w.stop:
		metrics.EntriesDropped.Inc()
		w.logger.Printf("Batcher: shutting down, dropping entry %s", entry.ID)
		return false
	default:
	}
	select {
	case w.intake <- entry:
		return true
	default:
		metrics.EntriesDropped.Inc()
		w.logger.Printf("Batcher: intake queue full, dropping entry %s", entry.ID)
		return false
	}
}

// Run consumes the intake queue until Close is called, then performs one
// final flush of whatever remains and returns. Exactly one flush is ever
// in flight; entries arriving during a flush wait in the intake queue.
func (w *Writer) Run() {
	defer close(w.done)

	buffer := make([]models.LogEntry, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-w.intake:
			buffer = append(buffer, entry)
			if len(buffer) >= w.batchSize {
				w.flush(&buffer)
			}
		case <-ticker.C:
			// An elapsed interval with an empty buffer is a no-op
			if len(buffer) > 0 {
				w.flush(&buffer)
			}
		case <-w.stop:
			// Graceful drain: everything queued before shutdown is flushed
			for {
				select {
				case entry := <-w.intake:
					buffer = append(buffer, entry)
					if len(buffer) >= w.batchSize {
						w.flush(&buffer)
					}
				default:
					w.flush(&buffer)
					w.logger.Println("Batcher: shut down after final flush")
					return
				}
			}
		}
	}
}

// Close stops intake and waits for the final flush to complete.
func (w *Writer) Close() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

// flush submits the buffered entries as one ordered write and exchanges
// the buffer for a fresh empty one. Writes use a background context so a
// shutdown in progress cannot cancel the final drain.
func (w *Writer) flush(buffer *[]models.LogEntry) {
	if len(*buffer) == 0 {
		return
	}
	batch := *buffer
	*buffer = make([]models.LogEntry, 0, w.batchSize)

	start := time.Now()
	if err := w.writer.AddBatch(context.Background(), batch); err != nil {
		metrics.BatchFlushErrors.Inc()
		w.logger.Printf("Batcher: flush of %d entries failed, batch discarded: %v", len(batch), err)
		return
	}
	metrics.BatchFlushes.Inc()
	metrics.IndexingDuration.Observe(time.Since(start).Seconds())
}

// Package worker runs the Kafka ingestion loop: entries consumed from the
// topic are fed to the gateway exactly as HTTP and WebSocket entries are.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"logstream/config"
	core "logstream/ingestion/service/core"
	"logstream/internal/messaging/consumer"
	"logstream/internal/models"
)

// Worker drains a message-queue consumer into the ingestion gateway.
type Worker struct {
	cfg                config.WorkerConfig
	consumerRetryDelay time.Duration

	logger   *log.Logger
	svc      *core.Service
	consumer consumer.Consumer
}

// New creates a new Worker instance.
func New(cfg config.WorkerConfig, logger *log.Logger, svc *core.Service, c consumer.Consumer) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	consumerRetryDelay, err := time.ParseDuration(cfg.ConsumerRetryDelay)
	if err != nil {
		logger.Printf("Warning: Invalid consumer_retry_delay '%s', using default 5s", cfg.ConsumerRetryDelay)
		consumerRetryDelay = 5 * time.Second
	}

	return &Worker{
		cfg:                cfg,
		consumerRetryDelay: consumerRetryDelay,
		logger:             logger,
		svc:                svc,
		consumer:           c,
	}
}

// Run starts the consume loops and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Printf("Starting Kafka ingestion worker, concurrency: %d", w.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.consumeLoop(ctx, workerID)
		}(i)
	}
	wg.Wait()
	w.logger.Println("Kafka ingestion worker stopped")
}

func (w *Worker) consumeLoop(ctx context.Context, workerID int) {
	for {
		entry, ack, err := w.consumer.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			// Undecodable messages are already committed by the consumer;
			// transient fetch errors back off before retrying.
			w.logger.Printf("Worker %d: consume error: %v", workerID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.consumerRetryDelay):
			}
			continue
		}

		w.svc.Ingest("kafka", []models.LogEntry{*entry})
		ack(true)
	}
}

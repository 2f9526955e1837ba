// Package consumer provides the message-queue ingestion source: log
// entries published to a Kafka topic are consumed and fed to the gateway.
package consumer

import (
	"context"

	"logstream/internal/models"
)

// Consumer defines the interface for message queue consumers.
type Consumer interface {
	// Consume blocks until an entry is received or the context is cancelled.
	// It returns the entry, an acknowledgement callback, and any error that
	// occurred. The ack callback: ack(true) commits the message;
	// ack(false) leaves it for redelivery.
	Consume(ctx context.Context) (entry *models.LogEntry, ack func(success bool), err error)

	// Close gracefully shuts down the consumer connection.
	Close() error
}

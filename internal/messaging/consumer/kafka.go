package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"logstream/config"
	"logstream/internal/models"
)

// KafkaConsumer implements the Consumer interface over a Kafka topic
// carrying JSON-encoded log entries.
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *log.Logger
}

// NewKafkaConsumer creates a new KafkaConsumer instance.
func NewKafkaConsumer(cfg config.KafkaSourceConfig, logger *log.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}

	sessionTimeout, err := time.ParseDuration(cfg.SessionTimeout)
	if err != nil {
		logger.Printf("Warning: Invalid session_timeout '%s', using default 30s", cfg.SessionTimeout)
		sessionTimeout = 30 * time.Second
	}

	heartbeatInterval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		logger.Printf("Warning: Invalid heartbeat_interval '%s', using default 3s", cfg.HeartbeatInterval)
		heartbeatInterval = 3 * time.Second
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          10e3, // 10KB
		MaxBytes:          10e6, // 10MB
		MaxWait:           1 * time.Second,
		CommitInterval:    time.Second,
		SessionTimeout:    sessionTimeout,
		HeartbeatInterval: heartbeatInterval,
		StartOffset:       kafka.FirstOffset,
	}

	switch cfg.AutoOffsetReset {
	case "latest":
		readerConfig.StartOffset = kafka.LastOffset
	case "earliest", "":
		readerConfig.StartOffset = kafka.FirstOffset
	default:
		logger.Printf("Warning: Unknown auto_offset_reset '%s', using earliest", cfg.AutoOffsetReset)
	}

	r := kafka.NewReader(readerConfig)

	logger.Printf("Kafka consumer created, connected to Brokers: %v, Topic: %s, GroupID: %s",
		cfg.Brokers, cfg.Topic, cfg.GroupID)

	return &KafkaConsumer{reader: r, logger: logger}, nil
}

// Consume implements the Consumer interface by reading one entry from
// Kafka. A message that fails to decode is committed and skipped so it
// cannot wedge the partition.
func (k *KafkaConsumer) Consume(ctx context.Context) (entry *models.LogEntry, ack func(success bool), err error) {
	kafkaMsg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			k.logger.Println("Kafka consumer: Context cancelled, stopping consumption.")
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}

	var decoded models.LogEntry
	if err := json.Unmarshal(kafkaMsg.Value, &decoded); err != nil {
		k.logger.Printf("Kafka consumer: Discarding undecodable message (Offset: %d): %v", kafkaMsg.Offset, err)
		_ = k.reader.CommitMessages(ctx, kafkaMsg)
		return nil, nil, fmt.Errorf("message deserialization failed: %w", err)
	}

	ackCallback := func(success bool) {
		if !success {
			k.logger.Printf("Kafka consumer: NACK for offset %d, offset not committed", kafkaMsg.Offset)
			return
		}
		if err := k.reader.CommitMessages(context.Background(), kafkaMsg); err != nil {
			k.logger.Printf("Kafka consumer: Failed to commit offset %d: %v", kafkaMsg.Offset, err)
		}
	}

	return &decoded, ackCallback, nil
}

// Close implements the Consumer interface by closing the Kafka reader.
func (k *KafkaConsumer) Close() error {
	k.logger.Println("Closing Kafka consumer...")
	return k.reader.Close()
}

// Ensure KafkaConsumer implements the Consumer interface
var _ Consumer = (*KafkaConsumer)(nil)

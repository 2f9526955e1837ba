// Package config loads and validates the collector's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// HttpServerConfig defines HTTP server configuration
type HttpServerConfig struct {
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// MonitoringConfig defines the Prometheus metrics endpoint configuration
type MonitoringConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics"`
	MetricsPath   string `yaml:"metrics_path"`
}

// IndexConfig defines the OpenSearch index backend configuration
type IndexConfig struct {
	Addresses             []string `yaml:"addresses"`
	InsecureSkipTLSVerify bool     `yaml:"insecure_skip_tls_verify"`
}

// BatcherConfig defines the write batcher's flush triggers and intake queue
type BatcherConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	IntakeBuffer  int           `yaml:"intake_buffer"`
}

// SetDefaults sets reasonable default values for the batcher configuration
func (c *BatcherConfig) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 200
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.IntakeBuffer == 0 {
		c.IntakeBuffer = 8192
	}
}

// HubConfig defines broadcast hub tuning
type HubConfig struct {
	// ChannelBuffer is the per-subscriber delivery channel capacity
	ChannelBuffer int `yaml:"channel_buffer"`
}

// KafkaSourceConfig defines the optional Kafka ingestion source
type KafkaSourceConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	GroupID           string   `yaml:"group_id"`
	SessionTimeout    string   `yaml:"session_timeout"`
	HeartbeatInterval string   `yaml:"heartbeat_interval"`
	AutoOffsetReset   string   `yaml:"auto_offset_reset"`
}

// WorkerConfig defines the Kafka worker loop configuration
type WorkerConfig struct {
	Concurrency        int    `yaml:"concurrency"`
	ConsumerRetryDelay string `yaml:"consumer_retry_delay"`
}

// McpConfig defines the JSON-RPC stdio adapter toggle
type McpConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CollectorConfig defines all configuration required by the collector
type CollectorConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`

	HttpServer  HttpServerConfig  `yaml:"http_server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Index       IndexConfig       `yaml:"index"`
	Batcher     BatcherConfig     `yaml:"batcher"`
	Hub         HubConfig         `yaml:"hub"`
	KafkaSource KafkaSourceConfig `yaml:"kafka_source"`
	Worker      WorkerConfig      `yaml:"worker"`
	Mcp         McpConfig         `yaml:"mcp"`
}

// SetDefaults fills zero values across the whole configuration.
func (c *CollectorConfig) SetDefaults() {
	if c.HttpListenAddr == "" {
		c.HttpListenAddr = ":4800"
	}
	if c.Monitoring.MetricsPath == "" {
		c.Monitoring.MetricsPath = "/metrics"
	}
	if len(c.Index.Addresses) == 0 {
		c.Index.Addresses = []string{"http://localhost:9200"}
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.ConsumerRetryDelay == "" {
		c.Worker.ConsumerRetryDelay = "5s"
	}
	c.Batcher.SetDefaults()
}

// Validate checks the configuration for inconsistencies.
func (c *CollectorConfig) Validate() error {
	if c.HttpListenAddr == "" {
		return fmt.Errorf("configuration error: http_listen_addr must be configured")
	}
	if len(c.Index.Addresses) == 0 {
		return fmt.Errorf("configuration error: index.addresses must be configured")
	}
	if c.KafkaSource.Enabled {
		if len(c.KafkaSource.Brokers) == 0 || c.KafkaSource.Topic == "" || c.KafkaSource.GroupID == "" {
			return fmt.Errorf("configuration error: kafka_source requires brokers, topic, and group_id")
		}
	}
	return nil
}

// LoadCollectorConfig loads the collector configuration from the specified
// YAML file path. An empty path yields the built-in defaults.
func LoadCollectorConfig(path string) (*CollectorConfig, error) {
	var cfg CollectorConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read collector config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse collector YAML config file: %w", err)
		}
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Package metrics exposes Prometheus collectors for the collector pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesIngested counts normalized entries accepted by the gateway,
	// labeled by the transport they arrived on.
	EntriesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logstream_entries_ingested_total",
		Help: "The total number of log entries accepted for processing",
	}, []string{"transport"})

	// PayloadsRejected counts malformed ingestion payloads, by transport.
	PayloadsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logstream_payloads_rejected_total",
		Help: "The total number of malformed ingestion payloads rejected",
	}, []string{"transport"})

	// SubscribersActive tracks currently registered live subscribers.
	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logstream_subscribers_active",
		Help: "The number of currently registered live subscribers",
	})

	// EventsDelivered counts entries delivered to subscriber channels.
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_events_delivered_total",
		Help: "The total number of entries delivered to live subscribers",
	})

	// SubscribersReaped counts subscribers removed after a failed delivery.
	SubscribersReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_subscribers_reaped_total",
		Help: "The total number of subscribers removed after delivery failure",
	})

	// EntriesDropped counts entries rejected by a full batcher intake queue.
	EntriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_batcher_entries_dropped_total",
		Help: "The total number of entries dropped by a full intake queue",
	})

	// BatchFlushes counts successful index flushes.
	BatchFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_batch_flushes_total",
		Help: "The total number of successful batch flushes to the index",
	})

	// BatchFlushErrors counts failed index flushes (batch discarded).
	BatchFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_batch_flush_errors_total",
		Help: "The total number of failed batch flushes to the index",
	})

	// IndexingDuration observes the latency of index write calls.
	IndexingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logstream_indexing_duration_seconds",
		Help:    "The duration of bulk write requests to the index",
		Buckets: prometheus.DefBuckets,
	})
)

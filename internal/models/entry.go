// Package models defines the canonical log entry model shared by the
// ingestion, broadcast, batching, and indexing layers.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Default values applied during normalization.
const (
	DefaultProject     = "unknown"
	DefaultEnvironment = "dev"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Valid reports whether l is one of the known severity levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// LogEntry is a single structured log record. JSON field names are
// camelCase to match the wire format shared with clients and the index.
type LogEntry struct {
	// ID is a unique, time-sortable identifier (UUIDv7, generated if absent)
	ID string `json:"id"`

	// Timestamp is the RFC3339 instant the entry was emitted
	Timestamp string `json:"timestamp"`

	// TimestampMs is Timestamp as Unix milliseconds, for numeric range filters
	TimestampMs int64 `json:"timestampMs"`

	// Project identifies the emitting service ("frontend", "api-server", ...)
	Project string `json:"project"`

	Level   Level  `json:"level"`
	Message string `json:"message"`

	// Correlation identifiers
	TraceID      string `json:"traceId,omitempty"`
	SpanID       string `json:"spanId,omitempty"`
	ParentSpanID string `json:"parentSpanId,omitempty"`

	// Meta is an arbitrary structured attachment
	Meta json.RawMessage `json:"meta,omitempty"`

	// Provenance
	Source      string `json:"source,omitempty"`
	Environment string `json:"environment"`
}

// NewEntryID returns a fresh UUIDv7 identifier. UUIDv7 encodes a millisecond
// timestamp in its most significant bits, so string forms generated by this
// process sort lexicographically in generation order.
func NewEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Only reachable if the system entropy source fails
		return uuid.NewString()
	}
	return id.String()
}

// Normalize fills missing identity and time fields and derives TimestampMs.
//
// For entries that already carry a non-empty ID, Timestamp, and TimestampMs
// the call is idempotent. For entries missing those fields each call
// produces fresh values, so callers must not double-normalize partial
// entries. Normalization never fails: an unparsable Timestamp silently
// falls back to the current instant for TimestampMs.
func (e LogEntry) Normalize() LogEntry {
	if e.ID == "" {
		e.ID = NewEntryID()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.TimestampMs == 0 {
		if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			e.TimestampMs = ts.UnixMilli()
		} else {
			e.TimestampMs = time.Now().UnixMilli()
		}
	}
	if e.Project == "" {
		e.Project = DefaultProject
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if e.Environment == "" {
		e.Environment = DefaultEnvironment
	}
	return e
}

// DecodePayload parses an ingestion payload that is either a single entry
// object or an array of entry objects. Entries carrying an unknown level
// make the whole payload malformed.
func DecodePayload(data []byte) ([]LogEntry, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var entries []LogEntry
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse entry batch: %w", err)
		}
	} else {
		var entry LogEntry
		if err := json.Unmarshal(trimmed, &entry); err != nil {
			return nil, fmt.Errorf("failed to parse entry: %w", err)
		}
		entries = []LogEntry{entry}
	}

	for i := range entries {
		if entries[i].Level != "" && !entries[i].Level.Valid() {
			return nil, fmt.Errorf("unknown log level %q", entries[i].Level)
		}
	}
	return entries, nil
}

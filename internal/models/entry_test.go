package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsMissingFields(t *testing.T) {
	entry := LogEntry{Message: "boot"}.Normalize()

	assert.NotEmpty(t, entry.ID)
	assert.NotEmpty(t, entry.Timestamp)
	assert.NotZero(t, entry.TimestampMs)
	assert.Equal(t, DefaultProject, entry.Project)
	assert.Equal(t, LevelInfo, entry.Level)
	assert.Equal(t, DefaultEnvironment, entry.Environment)
}

func TestNormalizeIdempotentForPopulatedEntries(t *testing.T) {
	entry := LogEntry{
		ID:          "01J0000000000000000000TEST",
		Timestamp:   "2026-08-30T10:00:00Z",
		Project:     "api-server",
		Level:       LevelError,
		Message:     "connection refused",
		Environment: "prod",
	}.Normalize()

	again := entry.Normalize()
	assert.Equal(t, entry, again)
}

func TestNormalizeDerivesTimestampMs(t *testing.T) {
	entry := LogEntry{Timestamp: "2026-08-30T10:00:00Z"}.Normalize()

	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, want, entry.TimestampMs)
}

func TestNormalizeUnparsableTimestampFallsBack(t *testing.T) {
	before := time.Now().UnixMilli()
	entry := LogEntry{Timestamp: "not-a-timestamp"}.Normalize()
	after := time.Now().UnixMilli()

	// Silent fallback to the normalization instant, never an error
	assert.Equal(t, "not-a-timestamp", entry.Timestamp)
	assert.GreaterOrEqual(t, entry.TimestampMs, before)
	assert.LessOrEqual(t, entry.TimestampMs, after)
}

func TestNewEntryIDsAreSortable(t *testing.T) {
	prev := NewEntryID()
	for i := 0; i < 1000; i++ {
		next := NewEntryID()
		require.Greater(t, next, prev, "ids must increase lexicographically")
		prev = next
	}
}

func TestDecodePayloadSingleEntry(t *testing.T) {
	entries, err := DecodePayload([]byte(`{"project":"web","level":"warn","message":"slow request"}`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "web", entries[0].Project)
	assert.Equal(t, LevelWarn, entries[0].Level)
}

func TestDecodePayloadBatch(t *testing.T) {
	entries, err := DecodePayload([]byte(`[{"message":"a"},{"message":"b"},{"message":"c"}]`))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[1].Message)
}

func TestDecodePayloadRejectsUnknownLevel(t *testing.T) {
	_, err := DecodePayload([]byte(`[{"message":"ok"},{"level":"verbose","message":"bad"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	for _, payload := range []string{"", "   ", "not json", `{"message":`} {
		_, err := DecodePayload([]byte(payload))
		assert.Error(t, err, "payload %q should be rejected", payload)
	}
}

func TestDecodePayloadKeepsMetaRaw(t *testing.T) {
	entries, err := DecodePayload([]byte(`{"message":"m","meta":{"userId":42,"path":"/login"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":42,"path":"/login"}`, string(entries[0].Meta))
}

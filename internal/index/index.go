// Package index is the adapter to the durable search backend. The rest of
// the system only ever submits ordered batches for indexing and executes
// structured queries through the interfaces defined here.
package index

import (
	"context"
	"encoding/json"
	"time"

	"logstream/internal/models"
)

// IndexName is the single index holding all log entries.
const IndexName = "logs"

// Query is a canonical, engine-agnostic search request. Filter fields hold
// normalized values, never engine-specific filter syntax.
type Query struct {
	// Text is the free-text query over message and source; empty matches all
	Text string

	// Exact-match filters; empty means unconstrained
	Project     string
	Level       string
	TraceID     string
	Environment string

	// Levels constrains to any of the given levels (used by error summaries);
	// ignored when Level is set
	Levels []string

	// Since is a relative time window ("30s", "5m", "1h", "2d"); the adapter
	// translates it into an absolute cutoff against the current instant
	Since string

	// Limit caps the number of hits returned
	Limit int

	// Ascending orders hits oldest-first (trace timelines); default newest-first
	Ascending bool

	// Facets names the fields to compute facet counts for
	Facets []string
}

// Result is a ranked query response plus facet counts.
type Result struct {
	// TotalHits is the engine's estimated total match count
	TotalHits int64

	// Hits are the matching documents in rank order
	Hits []json.RawMessage

	// Facets maps field name to value counts
	Facets map[string]map[string]int64
}

// Searcher executes structured queries against the index.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Result, error)
}

// BulkWriter submits one ordered batch of entries for indexing.
type BulkWriter interface {
	AddBatch(ctx context.Context, entries []models.LogEntry) error
}

// ParseSince parses a relative time window like "30s", "5m", "1h", or "2d"
// into a duration. It reports false for anything it cannot parse.
func ParseSince(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}
	unit := s[len(s)-1]
	num := s[:len(s)-1]

	var n int64
	for _, c := range num {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}

package index

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"logstream/internal/models"
)

// indexMapping declares explicit field types so filters and range queries
// work from the first document: keyword for facet/filter fields, long for
// the millisecond time key, text for full-text fields. Meta is stored but
// not indexed.
const indexMapping = `{
  "mappings": {
    "properties": {
      "id":           { "type": "keyword" },
      "timestamp":    { "type": "date" },
      "timestampMs":  { "type": "long" },
      "project":      { "type": "keyword" },
      "level":        { "type": "keyword" },
      "message":      { "type": "text" },
      "traceId":      { "type": "keyword" },
      "spanId":       { "type": "keyword" },
      "parentSpanId": { "type": "keyword" },
      "meta":         { "type": "object", "enabled": false },
      "source":       { "type": "text" },
      "environment":  { "type": "keyword" }
    }
  }
}`

// Client is the OpenSearch-backed index adapter.
type Client struct {
	client *opensearch.Client
}

var (
	_ Searcher   = (*Client)(nil)
	_ BulkWriter = (*Client)(nil)
)

// NewClient creates an adapter for the given OpenSearch addresses.
func NewClient(addresses []string, insecureSkipVerify bool) (*Client, error) {
	cfg := opensearch.Config{
		Addresses: addresses,
	}
	if insecureSkipVerify {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := opensearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return &Client{client: client}, nil
}

// EnsureIndex creates the logs index with its mapping if it does not exist.
func (c *Client) EnsureIndex(ctx context.Context) error {
	exists := opensearchapi.IndicesExistsRequest{Index: []string{IndexName}}
	res, err := exists.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	create := opensearchapi.IndicesCreateRequest{
		Index: IndexName,
		Body:  strings.NewReader(indexMapping),
	}
	createRes, err := create.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() && createRes.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("opensearch index creation error: %s", createRes.String())
	}
	return nil
}

// AddBatch indexes one ordered batch of entries in a single bulk request.
// Each document is addressed by the entry id, so re-submitting an entry
// overwrites rather than duplicates it.
func (c *Client) AddBatch(ctx context.Context, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, entry := range entries {
		meta := fmt.Sprintf(`{ "index": { "_index": %q, "_id": %q } }`, IndexName, entry.ID)
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry %s: %w", entry.ID, err)
		}
		buf.WriteString(meta)
		buf.WriteByte('\n')
		buf.Write(data)
		buf.WriteByte('\n')
	}

	req := opensearchapi.BulkRequest{Body: bytes.NewReader(buf.Bytes())}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to execute bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch bulk error: %s", res.String())
	}
	return nil
}

// Search executes a structured query and returns ranked hits plus facets.
func (c *Client) Search(ctx context.Context, q Query) (*Result, error) {
	body, err := json.Marshal(buildSearchBody(q, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to build search body: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{IndexName},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	result := &Result{
		TotalHits: parsed.Hits.Total.Value,
		Hits:      make([]json.RawMessage, 0, len(parsed.Hits.Hits)),
	}
	for _, hit := range parsed.Hits.Hits {
		result.Hits = append(result.Hits, hit.Source)
	}
	if len(parsed.Aggregations) > 0 {
		result.Facets = make(map[string]map[string]int64, len(parsed.Aggregations))
		for field, agg := range parsed.Aggregations {
			counts := make(map[string]int64, len(agg.Buckets))
			for _, bucket := range agg.Buckets {
				counts[fmt.Sprintf("%v", bucket.Key)] = bucket.DocCount
			}
			result.Facets[field] = counts
		}
	}
	return result, nil
}

// buildSearchBody translates a canonical Query into an OpenSearch request
// body. Kept separate from transport concerns so it can be tested without
// a live cluster.
func buildSearchBody(q Query, now time.Time) map[string]any {
	var filters []map[string]any

	addTerm := func(field, value string) {
		if value != "" {
			filters = append(filters, map[string]any{
				"term": map[string]any{field: value},
			})
		}
	}
	addTerm("project", q.Project)
	addTerm("level", q.Level)
	addTerm("traceId", q.TraceID)
	addTerm("environment", q.Environment)

	if q.Level == "" && len(q.Levels) > 0 {
		filters = append(filters, map[string]any{
			"terms": map[string]any{"level": q.Levels},
		})
	}

	if q.Since != "" {
		if d, ok := ParseSince(q.Since); ok {
			cutoff := now.Add(-d).UnixMilli()
			filters = append(filters, map[string]any{
				"range": map[string]any{
					"timestampMs": map[string]any{"gt": cutoff},
				},
			})
		}
	}

	boolQuery := map[string]any{}
	if q.Text != "" {
		boolQuery["must"] = []map[string]any{{
			"multi_match": map[string]any{
				"query":  q.Text,
				"fields": []string{"message", "source"},
			},
		}}
	} else {
		boolQuery["must"] = []map[string]any{{"match_all": map[string]any{}}}
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	order := "desc"
	if q.Ascending {
		order = "asc"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	body := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"sort": []map[string]any{
			{"timestampMs": map[string]any{"order": order}},
		},
		"size": limit,
	}

	if len(q.Facets) > 0 {
		aggs := make(map[string]any, len(q.Facets))
		for _, field := range q.Facets {
			aggs[field] = map[string]any{
				"terms": map[string]any{"field": field, "size": 50},
			}
		}
		body["aggs"] = aggs
	}
	return body
}

// searchResponse is the subset of the OpenSearch response we consume.
type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []struct {
			Key      any   `json:"key"`
			DocCount int64 `json:"doc_count"`
		} `json:"buckets"`
	} `json:"aggregations"`
}

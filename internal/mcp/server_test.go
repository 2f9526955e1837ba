package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logstream/internal/index"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []index.Query
	result  *index.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, q index.Query) (*index.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &index.Result{}, nil
}

func (f *fakeSearcher) last() index.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

// run feeds newline-delimited requests through a server and returns the
// decoded responses, one per input line.
func run(t *testing.T, searcher index.Searcher, lines ...string) []Response {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	srv := NewServer(searcher, log.New(io.Discard, "", 0), in, &out)
	require.NoError(t, srv.Run(context.Background()))

	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		responses = append(responses, resp)
	}
	return responses
}

// resultMap re-decodes a Response.Result into a map for assertions.
func resultMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// toolText extracts the text payload of a tool call result.
func toolText(t *testing.T, resp Response) (string, bool) {
	t.Helper()
	m := resultMap(t, resp)
	content := m["content"].([]any)
	require.NotEmpty(t, content)
	text := content[0].(map[string]any)["text"].(string)
	_, isError := m["isError"]
	return text, isError
}

func TestInitialize(t *testing.T) {
	responses := run(t, &fakeSearcher{}, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Len(t, responses, 1)

	resp := responses[0]
	assert.Equal(t, "2.0", resp.Jsonrpc)
	assert.Equal(t, json.RawMessage("1"), resp.ID)
	require.Nil(t, resp.Error)

	m := resultMap(t, resp)
	assert.Equal(t, "2024-11-05", m["protocolVersion"])
	info := m["serverInfo"].(map[string]any)
	assert.Equal(t, "logstream", info["name"])
}

func TestToolsList(t *testing.T) {
	responses := run(t, &fakeSearcher{}, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Len(t, responses, 1)

	tools := resultMap(t, responses[0])["tools"].([]any)
	require.Len(t, tools, 6)

	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{
		"search_logs", "get_trace", "tail_logs",
		"list_projects", "error_summary", "find_similar",
	}, names)
}

func TestUnknownMethod(t *testing.T) {
	responses := run(t, &fakeSearcher{}, `{"jsonrpc":"2.0","id":3,"method":"resources/list"}`)
	require.Len(t, responses, 1)

	require.NotNil(t, responses[0].Error)
	assert.Equal(t, -32601, responses[0].Error.Code)
	assert.Equal(t, "Method not found", responses[0].Error.Message)
}

func TestSearchLogsTool(t *testing.T) {
	searcher := &fakeSearcher{result: &index.Result{
		TotalHits: 1,
		Hits:      []json.RawMessage{json.RawMessage(`{"message":"boom"}`)},
	}}
	responses := run(t, searcher,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"search_logs","arguments":{"query":"boom","project":"api","since":"2h","limit":5}}}`)
	require.Len(t, responses, 1)

	text, isError := toolText(t, responses[0])
	assert.False(t, isError)
	assert.Contains(t, text, `"totalHits": 1`)
	assert.Contains(t, text, "boom")

	q := searcher.last()
	assert.Equal(t, "boom", q.Text)
	assert.Equal(t, "api", q.Project)
	assert.Equal(t, "2h", q.Since)
	assert.Equal(t, 5, q.Limit)
}

func TestGetTraceRequiresTraceID(t *testing.T) {
	responses := run(t, &fakeSearcher{},
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"get_trace","arguments":{}}}`)
	require.Len(t, responses, 1)

	text, isError := toolText(t, responses[0])
	assert.True(t, isError)
	assert.Contains(t, text, "traceId is required")
}

func TestGetTraceQueriesAscending(t *testing.T) {
	searcher := &fakeSearcher{}
	run(t, searcher,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"get_trace","arguments":{"traceId":"t-1"}}}`)

	q := searcher.last()
	assert.Equal(t, "t-1", q.TraceID)
	assert.True(t, q.Ascending)
	assert.Equal(t, 500, q.Limit)
}

func TestErrorSummaryDefaultsWindow(t *testing.T) {
	searcher := &fakeSearcher{}
	run(t, searcher,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"error_summary","arguments":{}}}`)

	q := searcher.last()
	assert.Equal(t, "1h", q.Since)
	assert.Equal(t, []string{"error", "fatal"}, q.Levels)
}

func TestFindSimilarRequiresMessage(t *testing.T) {
	responses := run(t, &fakeSearcher{},
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"find_similar","arguments":{}}}`)

	text, isError := toolText(t, responses[0])
	assert.True(t, isError)
	assert.Contains(t, text, "message is required")
}

func TestUnknownTool(t *testing.T) {
	responses := run(t, &fakeSearcher{},
		`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"drop_index","arguments":{}}}`)

	m := resultMap(t, responses[0])
	assert.Equal(t, "Unknown tool", m["error"])
}

func TestSearchFailureIsToolError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("index offline")}
	responses := run(t, searcher,
		`{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"tail_logs","arguments":{}}}`)

	text, isError := toolText(t, responses[0])
	assert.True(t, isError)
	assert.Contains(t, text, "index offline")
}

func TestMalformedLineIsSkipped(t *testing.T) {
	responses := run(t, &fakeSearcher{},
		`this is not json`,
		`{"jsonrpc":"2.0","id":11,"method":"initialize"}`)

	require.Len(t, responses, 1, "the bad line produces no response")
	assert.Equal(t, json.RawMessage("11"), responses[0].ID)
}

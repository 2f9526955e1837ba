// Package mcp exposes the query surface to an external AI agent through a
// JSON-RPC 2.0 tool-call protocol over stdio. It only translates tool
// calls onto the index adapter's query interface.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"logstream/internal/index"
	"logstream/internal/models"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "logstream"
	serverVersion   = "0.1.0"

	codeMethodNotFound = -32601
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams is the params shape of a tools/call request.
type toolCallParams struct {
	Name      string        `json:"name"`
	Arguments toolArguments `json:"arguments"`
}

// toolArguments is the union of all tool argument fields.
type toolArguments struct {
	Query   string `json:"query"`
	Message string `json:"message"`
	Project string `json:"project"`
	Level   string `json:"level"`
	TraceID string `json:"traceId"`
	Since   string `json:"since"`
	Limit   int    `json:"limit"`
}

// Server reads JSON-RPC requests line by line and answers each one.
type Server struct {
	searcher index.Searcher
	logger   *log.Logger
	in       io.Reader
	out      io.Writer
}

// NewServer creates an MCP server over the given query interface.
func NewServer(searcher index.Searcher, logger *log.Logger, in io.Reader, out io.Writer) *Server {
	return &Server{searcher: searcher, logger: logger, in: in, out: out}
}

// Run processes requests until the input stream ends or ctx is cancelled.
// A line that fails to parse is logged and skipped.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Printf("MCP: failed to parse request: %v", err)
			continue
		}

		resp := s.handle(ctx, req)
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Printf("MCP: failed to serialize response: %v", err)
			continue
		}
		if _, err := fmt.Fprintln(s.out, string(data)); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case "initialize":
		return Response{
			Jsonrpc: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo": map[string]any{
					"name":    serverName,
					"version": serverVersion,
				},
			},
		}

	case "tools/list":
		return Response{
			Jsonrpc: "2.0",
			ID:      req.ID,
			Result:  map[string]any{"tools": toolDescriptors},
		}

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return Response{
				Jsonrpc: "2.0",
				ID:      req.ID,
				Result:  map[string]any{"error": "invalid tool call parameters"},
			}
		}
		return Response{
			Jsonrpc: "2.0",
			ID:      req.ID,
			Result:  s.callTool(ctx, params.Name, params.Arguments),
		}

	default:
		return Response{
			Jsonrpc: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: codeMethodNotFound, Message: "Method not found"},
		}
	}
}

// callTool dispatches one tool invocation onto the query interface.
func (s *Server) callTool(ctx context.Context, name string, args toolArguments) map[string]any {
	var (
		result *index.Result
		err    error
	)

	switch name {
	case "search_logs":
		result, err = s.searcher.Search(ctx, index.Query{
			Text:    args.Query,
			Project: args.Project,
			Level:   args.Level,
			TraceID: args.TraceID,
			Since:   args.Since,
			Limit:   defaultLimit(args.Limit, 20),
			Facets:  []string{"project", "level"},
		})

	case "get_trace":
		if args.TraceID == "" {
			return toolError("traceId is required")
		}
		result, err = s.searcher.Search(ctx, index.Query{
			TraceID:   args.TraceID,
			Limit:     500,
			Ascending: true,
		})

	case "tail_logs":
		result, err = s.searcher.Search(ctx, index.Query{
			Project: args.Project,
			Level:   args.Level,
			Limit:   defaultLimit(args.Limit, 30),
		})

	case "list_projects":
		result, err = s.searcher.Search(ctx, index.Query{
			Limit:  1,
			Facets: []string{"project", "level", "environment"},
		})

	case "error_summary":
		since := args.Since
		if since == "" {
			since = "1h"
		}
		result, err = s.searcher.Search(ctx, index.Query{
			Project: args.Project,
			Levels:  []string{string(models.LevelError), string(models.LevelFatal)},
			Since:   since,
			Limit:   30,
			Facets:  []string{"project"},
		})

	case "find_similar":
		if args.Message == "" {
			return toolError("message is required")
		}
		result, err = s.searcher.Search(ctx, index.Query{
			Text:    args.Message,
			Project: args.Project,
			Limit:   defaultLimit(args.Limit, 10),
		})

	default:
		return map[string]any{"error": "Unknown tool"}
	}

	if err != nil {
		return toolError(fmt.Sprintf("query failed: %v", err))
	}
	return toolResult(result)
}

// toolResult renders a query result as MCP text content.
func toolResult(result *index.Result) map[string]any {
	body := map[string]any{
		"totalHits": result.TotalHits,
		"hits":      result.Hits,
	}
	if len(result.Facets) > 0 {
		body["facets"] = result.Facets
	}
	text, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("failed to render result: %v", err))
	}
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(text)}},
	}
}

func toolError(message string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": message}},
		"isError": true,
	}
}

func defaultLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

// toolDescriptors advertises the query operations as agent-callable tools.
var toolDescriptors = []map[string]any{
	{
		"name":        "search_logs",
		"description": "Search logs with full-text search across all projects. Supports filtering by project/level/trace/time.",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":   map[string]any{"type": "string", "description": "Full-text search query"},
				"project": map[string]any{"type": "string", "description": "Filter by project"},
				"level":   map[string]any{"type": "string", "enum": []string{"debug", "info", "warn", "error", "fatal"}},
				"traceId": map[string]any{"type": "string", "description": "Filter by trace ID"},
				"since":   map[string]any{"type": "string", "description": "Time range: 5m, 1h, 2d"},
				"limit":   map[string]any{"type": "number", "description": "Max results (default 20)"},
			},
		},
	},
	{
		"name":        "get_trace",
		"description": "Get all log entries for a trace ID, ordered chronologically.",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"traceId": map[string]any{"type": "string"},
			},
			"required": []string{"traceId"},
		},
	},
	{
		"name":        "tail_logs",
		"description": "Get the most recent N logs, optionally filtered.",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project": map[string]any{"type": "string"},
				"level":   map[string]any{"type": "string"},
				"limit":   map[string]any{"type": "number", "description": "Number of recent logs (default 30)"},
			},
		},
	},
	{
		"name":        "list_projects",
		"description": "List all projects with log counts broken down by level.",
		"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		"name":        "error_summary",
		"description": "Get recent errors with full context.",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since":   map[string]any{"type": "string", "description": "Time range (default 1h)"},
				"project": map[string]any{"type": "string"},
			},
		},
	},
	{
		"name":        "find_similar",
		"description": "Find logs similar to a given message.",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
				"project": map[string]any{"type": "string"},
				"limit":   map[string]any{"type": "number"},
			},
			"required": []string{"message"},
		},
	},
}

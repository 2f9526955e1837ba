// Package http exposes the stateless ingestion endpoint, the query
// surface, and the health endpoint.
package http

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	core "logstream/ingestion/service/core"
	"logstream/internal/index"
	"logstream/internal/metrics"
	"logstream/internal/models"
)

// maxBodyBytes caps ingestion request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10MB

// LogHandler encapsulates the HTTP request handling for the collector.
type LogHandler struct {
	svc      *core.Service
	searcher index.Searcher
	logger   *log.Logger
}

// NewLogHandler creates a new LogHandler.
func NewLogHandler(svc *core.Service, searcher index.Searcher, logger *log.Logger) *LogHandler {
	return &LogHandler{svc: svc, searcher: searcher, logger: logger}
}

// Register installs all routes on mux.
func (h *LogHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /ingest", h.Ingest)
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /projects", h.Projects)
	mux.HandleFunc("GET /trace/{traceId}", h.Trace)
	mux.HandleFunc("GET /errors", h.Errors)
	mux.HandleFunc("GET /health", h.Health)
}

// Ingest handles POST /ingest requests. The body is a single entry object
// or an array of entry objects; the response reports the count accepted.
// The write path is eventually consistent with respect to this response.
func (h *LogHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		h.respondError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body) > maxBodyBytes {
		h.respondError(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	entries, err := models.DecodePayload(body)
	if err != nil {
		metrics.PayloadsRejected.WithLabelValues("http").Inc()
		h.logger.Printf("HTTP Handler: rejected ingest payload: %v", err)
		h.respondError(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	accepted := h.svc.Ingest("http", entries)
	h.respondJSON(w, map[string]any{"accepted": accepted}, http.StatusAccepted)
}

// Search handles GET /search requests: free-text query plus structured
// filters, delegated to the index adapter.
func (h *LogHandler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	q := index.Query{
		Text:        params.Get("q"),
		Project:     params.Get("project"),
		Level:       params.Get("level"),
		TraceID:     params.Get("traceId"),
		Environment: params.Get("environment"),
		Since:       params.Get("since"),
		Limit:       clampLimit(params.Get("limit"), 20, 200),
		Facets:      []string{"project", "level"},
	}

	result, err := h.searcher.Search(r.Context(), q)
	if err != nil {
		h.logger.Printf("HTTP Handler: search failed: %v", err)
		h.respondError(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, map[string]any{
		"totalHits": result.TotalHits,
		"facets":    result.Facets,
		"hits":      result.Hits,
	}, http.StatusOK)
}

// Projects handles GET /projects: a faceted breakdown of the whole index.
func (h *LogHandler) Projects(w http.ResponseWriter, r *http.Request) {
	result, err := h.searcher.Search(r.Context(), index.Query{
		Limit:  1,
		Facets: []string{"project", "level", "environment"},
	})
	if err != nil {
		h.logger.Printf("HTTP Handler: project breakdown failed: %v", err)
		h.respondError(w, "project breakdown failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, map[string]any{
		"totalLogs": result.TotalHits,
		"facets":    result.Facets,
	}, http.StatusOK)
}

// Trace handles GET /trace/{traceId}: the chronological timeline of all
// entries sharing one trace id, plus the set of projects involved.
func (h *LogHandler) Trace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("traceId")

	result, err := h.searcher.Search(r.Context(), index.Query{
		TraceID:   traceID,
		Limit:     500,
		Ascending: true,
	})
	if err != nil {
		h.logger.Printf("HTTP Handler: trace lookup failed: %v", err)
		h.respondError(w, "trace lookup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, map[string]any{
		"traceId":    traceID,
		"eventCount": len(result.Hits),
		"projects":   hitProjects(result.Hits),
		"timeline":   result.Hits,
	}, http.StatusOK)
}

// Errors handles GET /errors: recent error and fatal entries with a
// per-project facet breakdown.
func (h *LogHandler) Errors(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	result, err := h.searcher.Search(r.Context(), index.Query{
		Text:    params.Get("q"),
		Project: params.Get("project"),
		Levels:  []string{string(models.LevelError), string(models.LevelFatal)},
		Since:   params.Get("since"),
		Limit:   clampLimit(params.Get("limit"), 30, 100),
		Facets:  []string{"project"},
	})
	if err != nil {
		h.logger.Printf("HTTP Handler: error summary failed: %v", err)
		h.respondError(w, "error summary failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, map[string]any{
		"totalErrors": result.TotalHits,
		"byProject":   result.Facets,
		"errors":      result.Hits,
	}, http.StatusOK)
}

// Health handles GET /health requests.
func (h *LogHandler) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, map[string]any{
		"status":      "ok",
		"subscribers": h.svc.SubscriberCount(),
	}, http.StatusOK)
}

// hitProjects collects the distinct project names appearing in hits.
func hitProjects(hits []json.RawMessage) []string {
	seen := make(map[string]struct{})
	var projects []string
	for _, hit := range hits {
		var doc struct {
			Project string `json:"project"`
		}
		if err := json.Unmarshal(hit, &doc); err != nil || doc.Project == "" {
			continue
		}
		if _, ok := seen[doc.Project]; !ok {
			seen[doc.Project] = struct{}{}
			projects = append(projects, doc.Project)
		}
	}
	return projects
}

// clampLimit parses a limit query parameter with a default and a ceiling.
func clampLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// respondJSON sends a JSON response.
func (h *LogHandler) respondJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("HTTP Handler: failed to encode JSON response: %v", err)
	}
}

// respondError sends an error response.
func (h *LogHandler) respondError(w http.ResponseWriter, message string, statusCode int) {
	h.respondJSON(w, map[string]any{
		"error":  message,
		"status": statusCode,
	}, statusCode)
}

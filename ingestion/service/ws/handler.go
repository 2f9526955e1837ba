// Package ws exposes the duplex streaming endpoint. A connection selects
// ingest mode (default) or subscribe mode once, via a query parameter at
// connection start; the two modes never share state afterwards.
package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	core "logstream/ingestion/service/core"
	"logstream/internal/broadcast"
	"logstream/internal/metrics"
	"logstream/internal/models"
)

// connectedAck is the acknowledgment frame sent to a new subscriber.
type connectedAck struct {
	Type         string           `json:"type"`
	SubscriberID uint64           `json:"subscriberId"`
	Filters      broadcast.Filter `json:"filters"`
}

// Handler serves the /ws endpoint.
type Handler struct {
	svc      *core.Service
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewHandler creates a WebSocket handler over the gateway service.
func NewHandler(svc *core.Service, logger *log.Logger) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Serve handles GET /ws. The mode is resolved exactly once from the query
// string, never inferred from payload shape.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("WS Handler: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if params.Get("mode") == "subscribe" {
		h.handleSubscribe(conn, params.Get("projects"), params.Get("levels"), params.Get("traceId"))
	} else {
		h.handleIngest(conn)
	}
}

// handleIngest reads text frames and feeds them to the gateway. A frame
// that fails to parse is logged and skipped; the connection stays open.
func (h *Handler) handleIngest(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		entries, err := models.DecodePayload(data)
		if err != nil {
			metrics.PayloadsRejected.WithLabelValues("websocket").Inc()
			h.logger.Printf("WS Handler: skipping invalid frame: %v", err)
			continue
		}
		h.svc.Ingest("websocket", entries)
	}
}

// handleSubscribe registers the connection as a live subscriber and streams
// matching entries until the transport closes. Unsubscribe happens
// synchronously on disconnect so the registry never retains stale entries.
func (h *Handler) handleSubscribe(conn *websocket.Conn, projects, levels, traceID string) {
	filter := broadcast.Filter{
		Projects: splitList(projects),
		Levels:   splitList(levels),
		TraceID:  traceID,
	}

	hub := h.svc.Hub()
	id, events, done := hub.Subscribe(filter)
	defer hub.Unsubscribe(id)

	h.logger.Printf("WS Handler: subscriber %d connected (projects=%v levels=%v traceId=%q)",
		id, filter.Projects, filter.Levels, filter.TraceID)

	if err := conn.WriteJSON(connectedAck{Type: "connected", SubscriberID: id, Filters: filter}); err != nil {
		return
	}

	// Forward matched entries to the socket until teardown. Only this
	// goroutine writes to the connection after the ack.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case payload := <-events:
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					hub.Unsubscribe(id)
					return
				}
			case <-done:
				// Torn down by the hub (reaped or unsubscribed). Close the
				// transport so the read loop unblocks and the client sees
				// the session end instead of a silent zombie socket.
				conn.Close()
				return
			}
		}
	}()

	// Drain incoming frames to detect transport closure.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	hub.Unsubscribe(id)
	<-writeDone
	h.logger.Printf("WS Handler: subscriber %d disconnected", id)
}

// splitList parses a comma-separated parameter, dropping empty segments.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

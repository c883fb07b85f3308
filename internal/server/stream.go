package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/repository/redis"
)

const writeTimeout = 5 * time.Second

// StreamMessage is a frame pushed to stream subscribers.
type StreamMessage struct {
	Type    string                    `json:"type"`
	Records []*domain.MigrationRecord `json:"records"`
}

// StreamHandler pushes migration decisions to WebSocket clients.
type StreamHandler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// WebSocket clients for streaming
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
}

// NewStreamHandler creates a new stream hub.
func NewStreamHandler(logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		logger: logger.Named("stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Origins are enforced by the CORS layer
			},
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.clientsMu.Lock()
	h.clients[conn] = true
	h.clientsMu.Unlock()
	h.logger.Info("Stream client connected", zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, conn)
		h.clientsMu.Unlock()
		h.logger.Info("Stream client disconnected")
	}()

	// Drain reads so control frames are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends records to every connected client. Empty batches are
// not sent.
func (h *StreamHandler) Broadcast(recs []*domain.MigrationRecord) {
	if len(recs) == 0 {
		return
	}
	data, err := json.Marshal(StreamMessage{Type: redis.EventMigrationsDecided, Records: recs})
	if err != nil {
		return
	}

	// Writes are serialised: a websocket.Conn supports one writer at a time.
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("Failed to send to stream client", zap.Error(err))
		}
	}
}

// Relay forwards events received from Redis until ctx is done or the
// channel closes.
func (h *StreamHandler) Relay(ctx context.Context, events <-chan redis.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == redis.EventMigrationsDecided {
				h.Broadcast(ev.Records)
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *StreamHandler) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *StreamHandler) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		client.Close()
	}
}

// Package httpapi provides the local health/status/metrics endpoints and
// the push-progress WebSocket stream (SPEC_FULL.md §3's gorilla/mux +
// gorilla/websocket components), grounded on the teacher's
// cmd/server/handlers.WebSocketHub broadcast-hub pattern and
// internal/api.NewRouter's mux wiring, repurposed from silence-change
// events to push-progress events.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wallcrawler78/arena-sheets-sync/internal/plm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProgressHub fans out Pipeline push-progress events to every connected
// WebSocket client, the same register/unregister/broadcast-channel shape
// as the teacher's WebSocketHub.
type ProgressHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan plm.PushProgress
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewProgressHub builds a hub. Run must be started in its own goroutine
// before any client connects.
func NewProgressHub(logger *slog.Logger) *ProgressHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan plm.PushProgress, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *ProgressHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				go h.send(client, event)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *ProgressHub) send(client *websocket.Conn, event plm.PushProgress) {
	client.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := client.WriteJSON(event); err != nil {
		h.logger.Warn("progress websocket write failed", "error", err)
		h.unregister <- client
	}
}

// Publish forwards one progress event to every connected client without
// blocking the pipeline that produced it.
func (h *ProgressHub) Publish(p plm.PushProgress) {
	select {
	case h.broadcast <- p:
	default:
		h.logger.Warn("progress broadcast channel full, dropping event", "phase", p.Phase, "number", p.Number)
	}
}

// Pump reads Pipeline progress events off src and republishes them until
// src is closed, bridging Pipeline's plain channel to the hub.
func (h *ProgressHub) Pump(src <-chan plm.PushProgress) {
	for p := range src {
		h.Publish(p)
	}
}

// ServeWS upgrades the request and registers the connection until it
// closes, the hub's counterpart to the teacher's HandleWebSocket.
func (h *ProgressHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("progress websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister <- conn
			return
		}
	}
}

package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const broadcastWriteTimeout = 5 * time.Second

// Hub tracks open chat sockets and fans frames out to all of them.
type Hub struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{active: make(map[string]*websocket.Conn), logger: logger}
}

// Register adds conn and returns its socket id.
func (h *Hub) Register(conn *websocket.Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.active[id] = conn
	n := len(h.active)
	h.mu.Unlock()
	h.logger.Info("Chat socket registered", "socket_id", id, "active", n)
	return id
}

// Unregister removes a socket. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, ok := h.active[id]
	delete(h.active, id)
	n := len(h.active)
	h.mu.Unlock()
	if ok {
		h.logger.Info("Chat socket unregistered", "socket_id", id, "active", n)
	}
}

// Count returns the number of open sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}

// Broadcast writes data to every socket and returns how many writes
// succeeded. Sockets that fail are dropped.
func (h *Hub) Broadcast(ctx context.Context, data []byte) int {
	h.mu.RLock()
	targets := make(map[string]*websocket.Conn, len(h.active))
	for id, conn := range h.active {
		targets[id] = conn
	}
	h.mu.RUnlock()

	sent := 0
	for id, conn := range targets {
		writeCtx, cancel := context.WithTimeout(ctx, broadcastWriteTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("Broadcast write failed, dropping socket", "socket_id", id, "error", err)
			h.Unregister(id)
			_ = conn.Close(websocket.StatusGoingAway, "write failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes every socket, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.active, id)
	}
}

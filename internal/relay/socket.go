package relay

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/identity"
	"github.com/coder/websocket"
)

const maxFrameSize = 1 << 20

// SocketHandler accepts chat sockets. Every valid inbound frame is stored
// and broadcast to all sockets unfiltered; clients filter by department.
type SocketHandler struct {
	srv           *Server
	allowedOrigin string
	isDev         bool
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.srv.logger
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err, "ip", identity.IPFromRequest(r))
		return
	}
	ws.SetReadLimit(maxFrameSize)

	id := h.srv.hub.Register(ws)
	defer func() {
		h.srv.hub.Unregister(id)
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr, "socket_id", id)
		}
	}()

	ctx := r.Context()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client", "socket_id", id)
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err, "socket_id", id)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		h.handleFrame(ctx, id, data)
	}
}

func (h *SocketHandler) handleFrame(ctx context.Context, socketID string, data []byte) {
	logger := h.srv.logger.With("socket_id", socketID)

	var m domain.Message
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Debug("Discarding undecodable frame", "error", err)
		return
	}
	if err := h.srv.accept(ctx, &m); err != nil {
		logger.Warn("Rejected chat frame", "error", err)
		return
	}

	out, err := json.Marshal(&m)
	if err != nil {
		logger.Error("Failed to encode chat message", "error", err)
		return
	}
	sent := h.srv.hub.Broadcast(ctx, out)
	logger.Debug("Chat message relayed",
		"message_id", m.ID.String(),
		"department_id", m.ReceiverDepartmentID.String(),
		"recipients", sent,
	)
}

func (h *SocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || h.allowedOrigin == "" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.srv.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ride-dispatch/internal/general/jwt"
)

// writeClose sends a close control frame with the given code and reason.
func (h *Hub) writeClose(conn *websocket.Conn, code int, reason string) {
	mu := h.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
	h.writeLocks.Delete(conn)
}

// writeMessage sets a short write deadline and writes a message.
func (h *Hub) writeMessage(conn *websocket.Conn, mt int, payload []byte) error {
	mu := h.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(mt, payload)
}

// writeJSON marshals v and writes a single TextMessage to the connection.
func (h *Hub) writeJSON(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.writeMessage(conn, websocket.TextMessage, payload)
}

// lockOf returns the write mutex for a specific connection.
func (h *Hub) lockOf(conn *websocket.Conn) *sync.Mutex {
	if v, ok := h.writeLocks.Load(conn); ok {
		if mu, ok := v.(*sync.Mutex); ok && mu != nil {
			return mu
		}
	}
	mu := &sync.Mutex{}
	actual, _ := h.writeLocks.LoadOrStore(conn, mu)
	return actual.(*sync.Mutex)
}

// sendAuthError sends an authentication error message to the client.
func (h *Hub) sendAuthError(conn *websocket.Conn, message string) error {
	return h.writeJSON(conn, map[string]any{
		"type":    "auth_error",
		"error":   message,
		"success": false,
	})
}

// sendAuthSuccess sends an authentication success message to the client.
func (h *Hub) sendAuthSuccess(conn *websocket.Conn, idField, id string) error {
	return h.writeJSON(conn, map[string]any{
		"type":      "auth_success",
		"message":   "Authentication successful",
		"success":   true,
		idField:     id,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// authenticate upgrades the request, enforces the first-frame auth protocol,
// and returns the authenticated connection and subject. The connection is
// already closed on error.
func (h *Hub) authenticate(w http.ResponseWriter, r *http.Request, authWindow time.Duration, role jwt.Role) (*websocket.Conn, string, bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return nil, "", false
	}

	conn.SetReadLimit(1 << 20) // 1 MiB
	if err := conn.SetReadDeadline(time.Now().Add(authWindow)); err != nil {
		h.logger.Error(r.Context(), "ws_set_deadline_failed", "Failed to set initial read deadline", err, nil)
		_ = h.sendAuthError(conn, "internal server error")
		conn.Close()
		return nil, "", false
	}

	msgType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.logger.Error(r.Context(), "ws_auth_read_failed", "Failed to read auth message", err, nil)
		_ = h.sendAuthError(conn, "authentication timeout: send auth message first")
		conn.Close()
		return nil, "", false
	}
	if msgType != websocket.TextMessage {
		h.logger.Error(r.Context(), "ws_auth_invalid_format", "Auth message must be text format", nil, nil)
		_ = h.sendAuthError(conn, "auth message must be in text format")
		conn.Close()
		return nil, "", false
	}

	res, err := jwt.ValidateWSAuth(firstFrame, h.jwtMgr, role)
	if err != nil {
		h.logger.Error(r.Context(), "ws_auth_failed", "Invalid auth message or token", err, nil)
		_ = h.sendAuthError(conn, "authentication failed: invalid token")
		conn.Close()
		return nil, "", false
	}

	// path param, when present, must match the token subject
	pathID := r.PathValue("driver_id")
	if pathID == "" {
		pathID = r.PathValue("passenger_id")
	}
	if pathID != "" && pathID != res.Claims.Subject {
		h.logger.Error(r.Context(), "ws_auth_failed", "Path ID does not match token subject", nil,
			map[string]any{"path_id": pathID, "token_subject": res.Claims.Subject})
		_ = h.sendAuthError(conn, "ID mismatch")
		conn.Close()
		return nil, "", false
	}

	return conn, res.Claims.Subject, true
}

// keepAlive resets the read deadline on pongs and pings the peer on an
// interval. Closes the socket when a ping cannot be delivered, which unblocks
// the read loop.
func (h *Hub) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mu := h.lockOf(conn)
				mu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(ctrlTimeout))
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
				mu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
}

package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/general/jwt"
)

// ConnectPassenger handles passenger WebSocket connections. Passengers mostly
// receive pushes (assignment, tracking, alerts); inbound frames are limited
// to cancelling dispatch and the panic button.
func (h *Hub) ConnectPassenger(w http.ResponseWriter, r *http.Request) {
	conn, passengerID, ok := h.authenticate(w, r, 10*time.Second, jwt.RolePassenger)
	if !ok {
		return
	}
	defer conn.Close()
	defer h.writeLocks.Delete(conn)

	ctx := r.Context()

	if err := h.sendAuthSuccess(conn, "passenger_id", passengerID); err != nil {
		h.logger.Error(ctx, "ws_auth_success_failed", "Failed to send auth success message", err, nil)
		return
	}
	h.logger.Info(ctx, "ws_connected", "Passenger WebSocket connected",
		map[string]any{"passenger_id": passengerID})

	done := make(chan struct{})
	defer close(done)
	h.keepAlive(conn, done)

	h.passengers.Store(passengerID, conn)
	defer h.passengers.Delete(passengerID)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error(ctx, "ws_unexpected_close", "Passenger connection closed unexpectedly", err,
					map[string]any{"passenger_id": passengerID})
				h.writeClose(conn, websocket.CloseInternalServerErr, "internal error")
			} else {
				h.writeClose(conn, websocket.CloseNormalClosure, "bye")
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "bad json"})
			continue
		}

		switch msg.Type {
		case "ride_cancel":
			var p cancelPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RideID == "" {
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "bad ride_cancel payload"})
				continue
			}
			if err := h.dispatch.CancelDispatch(ctx, p.RideID); err != nil {
				h.logger.Error(ctx, "ride_cancel_failed", "Failed to cancel dispatch", err,
					map[string]any{"ride_id": p.RideID})
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "failed to cancel ride"})
				continue
			}
			_ = h.writeJSON(conn, map[string]any{"type": "cancel_ack", "ride_id": p.RideID})

		case "emergency":
			var p emergencyPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RideID == "" {
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "bad emergency payload"})
				continue
			}
			h.emergency.TriggerEmergency(ctx, p.RideID, passengerID, geo.LatLng{Lat: p.Lat, Lng: p.Lng})
			_ = h.writeJSON(conn, map[string]any{"type": "emergency_ack", "ride_id": p.RideID})

		default:
			_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "unknown message type"})
		}
	}
}

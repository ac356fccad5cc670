package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
)

// ConnectDriver handles driver WebSocket connections. After first-frame auth
// the driver can go online/offline, answer ride offers, stream locations and
// trigger the panic button; the same socket receives ride offers.
func (h *Hub) ConnectDriver(w http.ResponseWriter, r *http.Request) {
	conn, driverID, ok := h.authenticate(w, r, 5*time.Second, jwt.RoleDriver)
	if !ok {
		return
	}
	defer conn.Close()
	defer h.writeLocks.Delete(conn)

	ctx := logger.WithDriverID(r.Context(), driverID)

	if err := h.sendAuthSuccess(conn, "driver_id", driverID); err != nil {
		h.logger.Error(ctx, "ws_auth_success_failed", "Failed to send auth success message", err, nil)
		return
	}
	h.logger.Info(ctx, "ws_connected", "Driver WebSocket connected", nil)

	done := make(chan struct{})
	defer close(done)
	h.keepAlive(conn, done)

	h.drivers.Store(driverID, conn)
	defer func() {
		h.drivers.Delete(driverID)
		// the request context is gone by now; use a detached one
		offCtx := logger.WithDriverID(context.Background(), driverID)
		// a vanished socket means no more heartbeats; stop offering rides
		if err := h.registry.SetOffline(offCtx, driverID); err != nil {
			h.logger.Debug(ctx, "ws_offline_on_disconnect_failed", "Could not mark driver offline on disconnect",
				map[string]any{"error": err.Error()})
		}
		h.logger.Info(ctx, "ws_disconnected", "Driver WebSocket disconnected", nil)
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error(ctx, "ws_unexpected_close", "Driver connection closed unexpectedly", err, nil)
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
		case "go_online":
			var p onlinePayload
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "bad go_online payload"})
				continue
			}
			vt, err := p.vehicleType()
			if err != nil {
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "invalid vehicle type"})
				continue
			}
			if err := h.registry.SetOnline(ctx, driverID, vt); err != nil {
				h.logger.Error(ctx, "driver_online_failed", "Failed to mark driver online", err, nil)
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "failed to go online"})
				continue
			}
			_ = h.writeJSON(conn, map[string]any{"type": "online_ack", "vehicle_type": vt.String()})

		case "go_offline":
			if err := h.registry.SetOffline(ctx, driverID); err != nil {
				h.logger.Error(ctx, "driver_offline_failed", "Failed to mark driver offline", err, nil)
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "failed to go offline"})
				continue
			}
			_ = h.writeJSON(conn, map[string]any{"type": "offline_ack"})

		case "ride_response":
			var p responsePayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RideID == "" {
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "bad ride_response payload"})
				continue
			}
			if err := h.dispatch.HandleResponse(ctx, p.RideID, driverID, p.Accepted); err != nil {
				// stale responses are expected after timeouts; ack anyway
				h.logger.Debug(ctx, "ride_response_ignored", "Offer response not applied",
					map[string]any{"ride_id": p.RideID, "error": err.Error()})
			}
			_ = h.writeJSON(conn, map[string]any{"type": "response_ack", "ride_id": p.RideID})

		case "location_update":
			var p locationPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "bad location payload"})
				continue
			}
			fix, err := p.toFix()
			if err != nil {
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "invalid location"})
				continue
			}
			if err := h.tracking.IngestLocation(ctx, driverID, fix); err != nil {
				h.logger.Warn(ctx, "location_ingest_failed", "Failed to ingest location fix",
					map[string]any{"error": err.Error()})
			}

		case "emergency":
			var p emergencyPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RideID == "" {
				_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "bad emergency payload"})
				continue
			}
			h.emergency.TriggerEmergency(ctx, p.RideID, driverID, geo.LatLng{Lat: p.Lat, Lng: p.Lng})
			_ = h.writeJSON(conn, map[string]any{"type": "emergency_ack", "ride_id": p.RideID})

		default:
			_ = h.writeJSON(conn, map[string]any{"type": "error", "error": "unknown message type"})
		}
	}
}

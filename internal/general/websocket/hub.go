// Package websocket is the realtime delivery layer: drivers hold a socket to
// receive ride offers and stream locations; passengers hold one to receive
// tracking updates. Auth is a first-frame JWT message on every connection.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/registry"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
	readIdleTimeout  = 60 * time.Second
	pingInterval     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// OfferResponder receives driver accept/decline answers read off the socket.
type OfferResponder interface {
	HandleResponse(ctx context.Context, rideID, driverID string, accepted bool) error
	CancelDispatch(ctx context.Context, rideID string) error
}

// LocationSink receives driver location fixes read off the socket.
type LocationSink interface {
	IngestLocation(ctx context.Context, driverID string, fix geo.Fix) error
}

// EmergencyRaiser broadcasts panic-button presses.
type EmergencyRaiser interface {
	TriggerEmergency(ctx context.Context, rideID, triggeredBy string, location geo.LatLng)
}

// Hub owns all live socket connections and routes inbound frames to the core
// services. Writes to any connection go through a per-connection mutex.
type Hub struct {
	logger *logger.Logger
	jwtMgr *jwt.Manager

	registry  registry.Registry
	dispatch  OfferResponder
	tracking  LocationSink
	emergency EmergencyRaiser

	writeLocks sync.Map // *websocket.Conn -> *sync.Mutex
	drivers    sync.Map // driverID -> *websocket.Conn
	passengers sync.Map // passengerID -> *websocket.Conn
}

// NewHub creates a websocket hub.
func NewHub(log *logger.Logger, jwtMgr *jwt.Manager, reg registry.Registry, dispatch OfferResponder, tracking LocationSink, emergency EmergencyRaiser) *Hub {
	return &Hub{
		logger:    log,
		jwtMgr:    jwtMgr,
		registry:  reg,
		dispatch:  dispatch,
		tracking:  tracking,
		emergency: emergency,
	}
}

// Push delivers a payload to a connected recipient (driver or passenger).
// Returns false when the recipient holds no live connection.
func (h *Hub) Push(recipientID string, payload []byte) bool {
	conn, ok := h.conn(recipientID)
	if !ok {
		return false
	}
	if err := h.writeMessage(conn, websocket.TextMessage, payload); err != nil {
		h.logger.Warn(context.Background(), "ws_push_failed", "Failed to push to live connection",
			map[string]any{"recipient": recipientID, "error": err.Error()})
		return false
	}
	return true
}

// IsConnected reports whether the recipient holds a live socket.
func (h *Hub) IsConnected(recipientID string) bool {
	_, ok := h.conn(recipientID)
	return ok
}

func (h *Hub) conn(recipientID string) (*websocket.Conn, bool) {
	if v, ok := h.drivers.Load(recipientID); ok {
		return v.(*websocket.Conn), true
	}
	if v, ok := h.passengers.Load(recipientID); ok {
		return v.(*websocket.Conn), true
	}
	return nil, false
}

// --- frame envelope ---

// envelope is the minimal inbound frame shape.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// locationPayload is the inbound location_update frame body.
type locationPayload struct {
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
	SpeedKMH       *float64 `json:"speed_kmh,omitempty"`
	HeadingDegrees *float64 `json:"heading_degrees,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"` // RFC3339; defaults to now
}

func (p locationPayload) toFix() (geo.Fix, error) {
	recordedAt := time.Time{}
	if p.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			return geo.Fix{}, fmt.Errorf("bad timestamp: %w", err)
		}
		recordedAt = t.UTC()
	}
	return geo.NewFix(geo.LatLng{Lat: p.Lat, Lng: p.Lng}, p.AccuracyMeters, p.SpeedKMH, p.HeadingDegrees, recordedAt)
}

// onlinePayload is the inbound go_online frame body.
type onlinePayload struct {
	VehicleType string `json:"vehicle_type"`
}

func (p onlinePayload) vehicleType() (ride.VehicleType, error) {
	return ride.ParseVehicleType(p.VehicleType)
}

// responsePayload is the inbound ride_response frame body.
type responsePayload struct {
	RideID   string `json:"ride_id"`
	Accepted bool   `json:"accepted"`
}

// emergencyPayload is the inbound emergency frame body.
type emergencyPayload struct {
	RideID string  `json:"ride_id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// cancelPayload is the inbound ride_cancel frame body.
type cancelPayload struct {
	RideID string `json:"ride_id"`
}

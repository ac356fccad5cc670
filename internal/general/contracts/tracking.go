package contracts

import "time"

// LocationUpdateMessage is broadcast for every accepted driver location fix.
// Exchange: ExchangeLocationFanout (fanout, no routing key).
type LocationUpdateMessage struct {
	DriverID       string    `json:"driver_id"`
	RideID         string    `json:"ride_id,omitempty"`
	Location       GeoPoint  `json:"location"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
	ETAMinutes     *int      `json:"eta_minutes,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Envelope
}

// GeofenceEvent is raised once per session per landmark when the driver
// enters the arrival radius.
type GeofenceEvent struct {
	Type     string   `json:"type"` // "arrived_pickup" | "arrived_destination"
	RideID   string   `json:"ride_id"`
	DriverID string   `json:"driver_id"`
	Landmark GeoPoint `json:"landmark"`
	Envelope
}

// EmergencyAlert is broadcast to rider, driver and the operations channel.
type EmergencyAlert struct {
	Type        string   `json:"type"` // "emergency_alert"
	RideID      string   `json:"ride_id"`
	TriggeredBy string   `json:"triggered_by"`
	Location    GeoPoint `json:"location"`
	Envelope
}

// TrackingLifecycle announces tracking start/stop to both parties.
type TrackingLifecycle struct {
	Type            string `json:"type"` // "tracking_started" | "tracking_stopped"
	RideID          string `json:"ride_id"`
	DriverID        string `json:"driver_id"`
	CustomerID      string `json:"customer_id"`
	Reason          string `json:"reason,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	Envelope
}

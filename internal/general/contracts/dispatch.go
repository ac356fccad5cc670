package contracts

// RideDispatchRequest is published to kick off matching + dispatch for a ride.
// Routing key: "ride.request.{vehicle_type}" on ExchangeRideTopic.
type RideDispatchRequest struct {
	RideID         string   `json:"ride_id"`
	RideNumber     string   `json:"ride_number,omitempty"`
	PassengerID    string   `json:"passenger_id"`
	PickupLocation GeoPoint `json:"pickup_location"`
	Destination    GeoPoint `json:"destination_location"`
	VehicleType    string   `json:"vehicle_type"` // BIKE|AUTO|CAR
	Envelope
}

// DriverOfferResponse is a driver's answer to a ride offer.
// Routing key: "driver.response.{ride_id}" on ExchangeDriverTopic.
type DriverOfferResponse struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
	Accepted bool   `json:"accepted"`
	Envelope
}

// RideOffer is the time-bounded proposal delivered to one driver.
type RideOffer struct {
	Type               string   `json:"type"` // "ride_offer"
	OfferID            string   `json:"offer_id"`
	RideID             string   `json:"ride_id"`
	Pickup             GeoPoint `json:"pickup_location"`
	Destination        GeoPoint `json:"destination_location"`
	EstimatedFare      float64  `json:"estimated_fare,omitempty"`
	DriverEarnings     float64  `json:"driver_earnings,omitempty"`
	DistanceToPickupKM float64  `json:"distance_to_pickup_km,omitempty"`
	ExpiresAt          string   `json:"expires_at,omitempty"` // ISO-8601
	Envelope
}

// RideStatusMessage is published on every ride status transition.
// Routing key: "ride.status.{status}" on ExchangeRideTopic.
type RideStatusMessage struct {
	RideID   string `json:"ride_id"`
	Status   string `json:"status"`
	DriverID string `json:"driver_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Envelope
}

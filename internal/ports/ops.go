package ports

import (
	"context"
	"time"
)

// OpsService exposes read-only aggregates of the live dispatch state for the
// operations dashboard.
type OpsService interface {
	GetSystemOverview(ctx context.Context) (SystemOverviewResult, error)
	GetActiveTrips(ctx context.Context, page, pageSize string) (ActiveTripsResult, error)
}

// SystemOverviewResult aggregates live counters across the dispatch core.
type SystemOverviewResult struct {
	Timestamp time.Time `json:"timestamp"`

	Dispatch struct {
		ActiveSessions int `json:"active_sessions"`
		OffersPending  int `json:"offers_pending"`
	} `json:"dispatch"`

	Tracking struct {
		ActiveTrips int `json:"active_trips"`
	} `json:"tracking"`

	AvailableDrivers struct {
		Bike  int `json:"bike"`
		Auto  int `json:"auto"`
		Car   int `json:"car"`
		Total int `json:"total"`
	} `json:"available_drivers"`
}

// ActiveTripRow is one live trip in the paginated ops listing.
type ActiveTripRow struct {
	RideID         string    `json:"ride_id"`
	DriverID       string    `json:"driver_id"`
	CustomerID     string    `json:"customer_id"`
	StartedAt      time.Time `json:"started_at"`
	ETAMinutes     *int      `json:"eta_minutes,omitempty"`
	LastLocation   *GeoPoint `json:"last_location,omitempty"`
	PointsRecorded int       `json:"points_recorded"`
}

// GeoPoint is a latitude/longitude pair in ops DTOs.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ActiveTripsResult is a page of live trips.
type ActiveTripsResult struct {
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalCount int             `json:"total_count"`
	Trips      []ActiveTripRow `json:"trips"`
}

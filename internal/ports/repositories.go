package ports

import (
	"context"
	"time"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
)

// UnitOfWork executes a function within a database transaction. Nested calls
// reuse the outer transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RideStore is the opaque persistence interface for ride records. The core
// reads trip details and writes status transitions; everything else about the
// ride record belongs to the surrounding platform.
type RideStore interface {
	GetRide(ctx context.Context, rideID string) (*ride.Ride, error)
	// UpdateRideStatus transitions the ride and patches the given columns
	// (e.g. "driver_id", "estimated_fare", "cancellation_reason").
	UpdateRideStatus(ctx context.Context, rideID string, status ride.Status, fields map[string]any) error
}

// RideIntake persists rides arriving on the request stream. Creation must be
// idempotent so replayed deliveries do not duplicate rows.
type RideIntake interface {
	CreateRide(ctx context.Context, rd *ride.Ride) error
}

// LocationArchiver persists accepted driver fixes for later replay/audit.
// Archival is best-effort; tracking never fails on archive errors.
type LocationArchiver interface {
	Archive(ctx context.Context, driverID string, rideID *string, fix geo.Fix) error
}

// LastLocationSource serves the most recent persisted fix for a driver.
// Matching consults it when the registry's TTL-bound fix has lapsed, so a
// driver with a stale heartbeat but a known position stays reachable.
// Returns (nil, nil) when the driver has no recorded fix at all.
type LastLocationSource interface {
	LatestFix(ctx context.Context, driverID string) (*geo.Fix, error)
}

// DemandCounter reports how many rides were in an active state for a region
// within the trailing window ending now.
type DemandCounter interface {
	CountActiveRides(ctx context.Context, region string, window time.Duration) (int, error)
}

// Package registry owns the live state of every driver: availability, the
// ride currently bound to them, and their freshest location. All other
// components treat this state as remotely-owned and mutate it only through
// the Registry API, so there is a single writer per driver.
package registry

import (
	"context"
	"errors"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
)

// Availability is the registry's view of one driver.
type Availability struct {
	DriverID      string
	VehicleType   ride.VehicleType
	Available     bool
	CurrentRideID string   // empty unless claimed
	LastFix       *geo.Fix // nil when no fresh location is known
}

var (
	ErrDriverNotFound    = errors.New("driver not registered")
	ErrDriverUnavailable = errors.New("driver is not available")
	ErrNotClaimedByRide  = errors.New("driver is not claimed by this ride")
)

// Registry tracks driver availability and location.
//
// Claim is the only way a ride gets bound to a driver and is atomic: it
// succeeds only if the driver is currently available, so two concurrent
// dispatch sessions can never double-book the same driver.
type Registry interface {
	// SetOnline registers the driver as available for the given vehicle type.
	SetOnline(ctx context.Context, driverID string, vt ride.VehicleType) error

	// SetOffline removes the driver from the available pool. A driver bound
	// to a ride stays bound; only the availability flag is cleared.
	SetOffline(ctx context.Context, driverID string) error

	// UpdateLocation records a heartbeat fix. Fixes older than the driver's
	// last recorded fix are dropped silently to keep timestamps monotonic.
	UpdateLocation(ctx context.Context, driverID string, fix geo.Fix) error

	// Get returns the current availability record.
	Get(ctx context.Context, driverID string) (Availability, error)

	// ListAvailable returns all available drivers of the vehicle type.
	ListAvailable(ctx context.Context, vt ride.VehicleType) ([]Availability, error)

	// Claim marks the driver busy and binds the ride, only if the driver is
	// currently available. Returns ErrDriverUnavailable if another session
	// won the race.
	Claim(ctx context.Context, driverID, rideID string) error

	// Release clears the binding set by Claim and makes the driver available
	// again. Returns ErrNotClaimedByRide if the driver is bound to a
	// different ride (or none).
	Release(ctx context.Context, driverID, rideID string) error
}

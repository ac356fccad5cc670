package tracking

import (
	"sync"
	"time"

	"ride-dispatch/internal/domain/geo"
)

// session is the live-trip bookkeeping for one ride. All fields are guarded
// by mu; location ingestion, geofence checks and teardown for a given ride
// serialize through it.
type session struct {
	mu sync.Mutex

	rideID     string
	driverID   string
	customerID string

	pickup      geo.LatLng
	destination geo.LatLng

	active    bool
	startedAt time.Time

	// history keeps the most recent fixes up to the configured cap; oldest
	// entries are evicted.
	history    []geo.Fix
	lastFix    *geo.Fix
	etaMinutes *int

	arrivedPickup      bool
	arrivedDestination bool
}

// appendFixLocked records a fix in the bounded history. Callers hold s.mu.
func (s *session) appendFixLocked(fix geo.Fix, cap int) {
	s.history = append(s.history, fix)
	if cap > 0 && len(s.history) > cap {
		s.history = s.history[len(s.history)-cap:]
	}
	f := fix
	s.lastFix = &f
}

// Snapshot is a read-only view of a tracking session.
type Snapshot struct {
	RideID       string
	DriverID     string
	CustomerID   string
	Active       bool
	StartedAt    time.Time
	LastFix      *geo.Fix
	ETAMinutes   *int
	HistoryCount int
}

func (s *session) snapshotLocked() Snapshot {
	snap := Snapshot{
		RideID:       s.rideID,
		DriverID:     s.driverID,
		CustomerID:   s.customerID,
		Active:       s.active,
		StartedAt:    s.startedAt,
		HistoryCount: len(s.history),
	}
	if s.lastFix != nil {
		f := *s.lastFix
		snap.LastFix = &f
	}
	if s.etaMinutes != nil {
		e := *s.etaMinutes
		snap.ETAMinutes = &e
	}
	return snap
}

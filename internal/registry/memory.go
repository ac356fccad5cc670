package registry

import (
	"context"
	"sync"
	"time"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
)

// driverState is the in-memory record for one driver.
type driverState struct {
	vehicleType   ride.VehicleType
	available     bool
	currentRideID string
	lastFix       *geo.Fix
	fixStoredAt   time.Time
}

// MemoryRegistry is a process-local Registry used by tests and single-node
// deployments. Semantics match RedisRegistry, including location freshness.
type MemoryRegistry struct {
	mu      sync.Mutex
	drivers map[string]*driverState
	locTTL  time.Duration
	now     func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry. locTTL bounds how
// long a heartbeat fix is considered fresh; zero means fixes never expire.
func NewMemoryRegistry(locTTL time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		drivers: make(map[string]*driverState),
		locTTL:  locTTL,
		now:     time.Now,
	}
}

func (r *MemoryRegistry) SetOnline(_ context.Context, driverID string, vt ride.VehicleType) error {
	if !vt.Valid() {
		return ride.ErrInvalidVehicleType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.drivers[driverID]
	if !ok {
		st = &driverState{}
		r.drivers[driverID] = st
	}
	st.vehicleType = vt
	// a driver mid-ride cannot flip back to available by reconnecting
	if st.currentRideID == "" {
		st.available = true
	}
	return nil
}

func (r *MemoryRegistry) SetOffline(_ context.Context, driverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}
	st.available = false
	return nil
}

func (r *MemoryRegistry) UpdateLocation(_ context.Context, driverID string, fix geo.Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}
	// keep lastFix.RecordedAt monotonically non-decreasing
	if st.lastFix != nil && fix.RecordedAt.Before(st.lastFix.RecordedAt) {
		return nil
	}
	f := fix
	st.lastFix = &f
	st.fixStoredAt = r.now()
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, driverID string) (Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.drivers[driverID]
	if !ok {
		return Availability{}, ErrDriverNotFound
	}
	return r.snapshot(driverID, st), nil
}

func (r *MemoryRegistry) ListAvailable(_ context.Context, vt ride.VehicleType) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Availability
	for id, st := range r.drivers {
		if st.available && st.vehicleType == vt {
			out = append(out, r.snapshot(id, st))
		}
	}
	return out, nil
}

func (r *MemoryRegistry) Claim(_ context.Context, driverID, rideID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}
	if !st.available || st.currentRideID != "" {
		return ErrDriverUnavailable
	}
	st.available = false
	st.currentRideID = rideID
	return nil
}

func (r *MemoryRegistry) Release(_ context.Context, driverID, rideID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}
	if st.currentRideID != rideID {
		return ErrNotClaimedByRide
	}
	st.currentRideID = ""
	st.available = true
	return nil
}

// snapshot copies the state, hiding fixes past their freshness TTL.
func (r *MemoryRegistry) snapshot(driverID string, st *driverState) Availability {
	av := Availability{
		DriverID:      driverID,
		VehicleType:   st.vehicleType,
		Available:     st.available,
		CurrentRideID: st.currentRideID,
	}
	if st.lastFix != nil {
		if r.locTTL <= 0 || r.now().Sub(st.fixStoredAt) <= r.locTTL {
			f := *st.lastFix
			av.LastFix = &f
		}
	}
	return av
}

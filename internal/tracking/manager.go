// Package tracking maintains live trip state for assigned rides: location
// ingestion, ETA, geofence arrival events, and emergency alerting.
package tracking

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"
	"ride-dispatch/internal/registry"
)

var (
	// ErrNotTracked reports a stop/lookup for a ride with no active session.
	ErrNotTracked = errors.New("ride is not being tracked")

	// ErrDriverAlreadyTracking rejects a second concurrent session for the
	// same driver; a driver carries at most one active ride.
	ErrDriverAlreadyTracking = errors.New("driver already has an active tracking session")
)

// Manager owns all active tracking sessions, indexed by ride and by driver.
type Manager struct {
	mu       sync.RWMutex
	byRide   map[string]*session
	byDriver map[string]*session

	registry registry.Registry
	rides    ports.RideStore
	notifier ports.Notifier
	archiver ports.LocationArchiver
	logger   *logger.Logger
	cfg      config.TrackingConfig
}

// NewManager creates a tracking manager. archiver may be nil to disable
// location archival.
func NewManager(reg registry.Registry, rides ports.RideStore, notifier ports.Notifier, archiver ports.LocationArchiver, log *logger.Logger, cfg config.TrackingConfig) *Manager {
	return &Manager{
		byRide:   make(map[string]*session),
		byDriver: make(map[string]*session),
		registry: reg,
		rides:    rides,
		notifier: notifier,
		archiver: archiver,
		logger:   log,
		cfg:      cfg,
	}
}

// StartTracking opens a session bound to the ride's pickup and destination
// and notifies both parties. Starting an already-tracked ride is a no-op.
func (m *Manager) StartTracking(ctx context.Context, rideID, driverID, customerID string) error {
	ctx = logger.WithRideID(logger.WithDriverID(ctx, driverID), rideID)

	rd, err := m.rides.GetRide(ctx, rideID)
	if err != nil {
		m.logger.Error(ctx, "tracking_ride_lookup_failed", "Failed to load ride for tracking", err, nil)
		return err
	}

	sess := &session{
		rideID:      rideID,
		driverID:    driverID,
		customerID:  customerID,
		pickup:      rd.Pickup,
		destination: rd.Destination,
		active:      true,
		startedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	if _, exists := m.byRide[rideID]; exists {
		m.mu.Unlock()
		return nil
	}
	if other, exists := m.byDriver[driverID]; exists && other.rideID != rideID {
		m.mu.Unlock()
		return ErrDriverAlreadyTracking
	}
	m.byRide[rideID] = sess
	m.byDriver[driverID] = sess
	m.mu.Unlock()

	lifecycle := contracts.TrackingLifecycle{
		Type:       contracts.EventTrackingStarted,
		RideID:     rideID,
		DriverID:   driverID,
		CustomerID: customerID,
	}
	m.notify(ctx, customerID, contracts.EventTrackingStarted, lifecycle)
	m.notify(ctx, driverID, contracts.EventTrackingStarted, lifecycle)

	m.logger.Info(ctx, "tracking_started", "Tracking session opened", nil)
	return nil
}

// IngestLocation applies one driver fix. The registry is always updated
// (subject to its own validation); if the driver owns an active session the
// fix is recorded there, ETA and geofences are recomputed, and the update is
// fanned out to the rider and ride-scoped observers. Out-of-order fixes are
// dropped to keep the session timeline monotonic. Malformed coordinates skip
// the computations that need them but the reading is still recorded.
func (m *Manager) IngestLocation(ctx context.Context, driverID string, fix geo.Fix) error {
	ctx = logger.WithDriverID(ctx, driverID)

	coordsOK := fix.Validate() == nil

	if coordsOK {
		if err := m.registry.UpdateLocation(ctx, driverID, fix); err != nil && !errors.Is(err, registry.ErrDriverNotFound) {
			m.logger.Warn(ctx, "registry_location_update_failed", "Failed to update live location",
				map[string]any{"error": err.Error()})
		}
	}

	m.mu.RLock()
	sess := m.byDriver[driverID]
	m.mu.RUnlock()
	if sess == nil {
		// registry-only update; the driver is between rides
		return nil
	}

	sess.mu.Lock()
	if !sess.active {
		sess.mu.Unlock()
		return nil
	}
	if sess.lastFix != nil && fix.RecordedAt.Before(sess.lastFix.RecordedAt) {
		sess.mu.Unlock()
		m.logger.Debug(ctx, "stale_fix_dropped", "Out-of-order location fix ignored",
			map[string]any{"recorded_at": fix.RecordedAt})
		return nil
	}

	ctx = logger.WithRideID(ctx, sess.rideID)
	sess.appendFixLocked(fix, m.cfg.HistoryCap)

	var eta *int
	if coordsOK {
		eta = etaMinutes(fix.Position, sess.destination, m.cfg.AvgSpeedKMH)
	}
	sess.etaMinutes = eta

	var events []contracts.GeofenceEvent
	if coordsOK {
		events = m.geofenceEventsLocked(sess, fix.Position)
	}

	rideID := sess.rideID
	customerID := sess.customerID
	sess.mu.Unlock()

	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, driverID, &rideID, fix); err != nil {
			m.logger.Warn(ctx, "location_archive_failed", "Failed to archive location fix",
				map[string]any{"error": err.Error()})
		}
	}

	update := contracts.LocationUpdateMessage{
		DriverID:   driverID,
		RideID:     rideID,
		Location:   contracts.GeoPoint{Lat: fix.Position.Lat, Lng: fix.Position.Lng},
		ETAMinutes: eta,
		Timestamp:  fix.RecordedAt,
	}
	if fix.SpeedKMH != nil {
		update.SpeedKMH = *fix.SpeedKMH
	}
	if fix.HeadingDegrees != nil {
		update.HeadingDegrees = *fix.HeadingDegrees
	}
	m.notify(ctx, customerID, contracts.EventDriverLocation, update)

	for _, ev := range events {
		m.notify(ctx, customerID, ev.Type, ev)
		m.logger.Info(ctx, "geofence_entered", "Driver entered arrival radius",
			map[string]any{"event": ev.Type})
	}
	return nil
}

// StopTracking ends the session, records its duration and notifies both
// parties. A second stop reports ErrNotTracked.
func (m *Manager) StopTracking(ctx context.Context, rideID, reason string) error {
	ctx = logger.WithRideID(ctx, rideID)

	m.mu.Lock()
	sess := m.byRide[rideID]
	if sess != nil {
		delete(m.byRide, rideID)
		delete(m.byDriver, sess.driverID)
	}
	m.mu.Unlock()

	if sess == nil {
		return ErrNotTracked
	}

	sess.mu.Lock()
	sess.active = false
	driverID := sess.driverID
	customerID := sess.customerID
	duration := time.Since(sess.startedAt)
	points := len(sess.history)
	sess.mu.Unlock()

	lifecycle := contracts.TrackingLifecycle{
		Type:            contracts.EventTrackingStopped,
		RideID:          rideID,
		DriverID:        driverID,
		CustomerID:      customerID,
		Reason:          reason,
		DurationSeconds: int64(duration.Seconds()),
	}
	m.notify(ctx, customerID, contracts.EventTrackingStopped, lifecycle)
	m.notify(ctx, driverID, contracts.EventTrackingStopped, lifecycle)

	m.logger.Info(ctx, "tracking_stopped", "Tracking session ended",
		map[string]any{"reason": reason, "duration_s": int64(duration.Seconds()), "points": points})
	return nil
}

// TriggerEmergency broadcasts an alert to rider, driver and the operations
// channel. It never waits on session locks or notifier latency; delivery
// runs on its own goroutines so a wedged tracking flow cannot delay it.
func (m *Manager) TriggerEmergency(ctx context.Context, rideID, triggeredBy string, location geo.LatLng) {
	ctx = logger.WithRideID(ctx, rideID)

	alert := contracts.EmergencyAlert{
		Type:        contracts.EventEmergencyAlert,
		RideID:      rideID,
		TriggeredBy: triggeredBy,
		Location:    contracts.GeoPoint{Lat: location.Lat, Lng: location.Lng},
	}

	recipients := []string{contracts.OpsChannelID}
	m.mu.RLock()
	if sess := m.byRide[rideID]; sess != nil {
		recipients = append(recipients, sess.customerID, sess.driverID)
	}
	m.mu.RUnlock()

	m.logger.Error(ctx, "emergency_triggered", "Emergency alert raised", nil,
		map[string]any{"triggered_by": triggeredBy, "recipients": len(recipients)})

	for _, recipient := range recipients {
		go func(recipient string) {
			if err := m.notifier.Notify(ctx, recipient, contracts.EventEmergencyAlert, alert); err != nil {
				m.logger.Error(ctx, "emergency_notify_failed", "Failed to deliver emergency alert", err,
					map[string]any{"recipient": recipient})
			}
		}(recipient)
	}
}

// ActiveTrips returns snapshots of every live session, oldest trip first.
func (m *Manager) ActiveTrips() []Snapshot {
	m.mu.RLock()
	live := make([]*session, 0, len(m.byRide))
	for _, sess := range m.byRide {
		live = append(live, sess)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(live))
	for _, sess := range live {
		sess.mu.Lock()
		out = append(out, sess.snapshotLocked())
		sess.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RideID < out[j].RideID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Session returns a snapshot of the active session for a ride.
func (m *Manager) Session(rideID string) (Snapshot, error) {
	m.mu.RLock()
	sess := m.byRide[rideID]
	m.mu.RUnlock()

	if sess == nil {
		return Snapshot{}, ErrNotTracked
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), nil
}

// geofenceEventsLocked raises each landmark's arrival event at most once per
// session. Callers hold sess.mu.
func (m *Manager) geofenceEventsLocked(sess *session, pos geo.LatLng) []contracts.GeofenceEvent {
	var events []contracts.GeofenceEvent

	radiusKM := m.cfg.GeofenceRadiusMeters / 1000.0
	if !sess.arrivedPickup && sess.pickup.Valid() && geo.HaversineKM(pos, sess.pickup) <= radiusKM {
		sess.arrivedPickup = true
		events = append(events, contracts.GeofenceEvent{
			Type:     contracts.EventArrivedPickup,
			RideID:   sess.rideID,
			DriverID: sess.driverID,
			Landmark: contracts.GeoPoint{Lat: sess.pickup.Lat, Lng: sess.pickup.Lng},
		})
	}
	if !sess.arrivedDestination && sess.destination.Valid() && geo.HaversineKM(pos, sess.destination) <= radiusKM {
		sess.arrivedDestination = true
		events = append(events, contracts.GeofenceEvent{
			Type:     contracts.EventArrivedDestination,
			RideID:   sess.rideID,
			DriverID: sess.driverID,
			Landmark: contracts.GeoPoint{Lat: sess.destination.Lat, Lng: sess.destination.Lng},
		})
	}
	return events
}

// etaMinutes estimates remaining travel time at the assumed average speed.
// Returns nil when the destination is unset or malformed.
func etaMinutes(pos, destination geo.LatLng, avgSpeedKMH float64) *int {
	if !destination.Valid() || destination.Validate() != nil || avgSpeedKMH <= 0 {
		return nil
	}
	dist := geo.HaversineKM(pos, destination)
	eta := int(math.Ceil(dist / avgSpeedKMH * 60.0))
	if eta < 1 {
		eta = 1
	}
	return &eta
}

func (m *Manager) notify(ctx context.Context, recipientID, eventType string, payload any) {
	if err := m.notifier.Notify(ctx, recipientID, eventType, payload); err != nil {
		m.logger.Warn(ctx, "notify_failed", "Failed to deliver notification",
			map[string]any{"recipient": recipientID, "event": eventType, "error": err.Error()})
	}
}

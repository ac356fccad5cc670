// Package dispatch owns the sequential driver-offer protocol: one offer at a
// time per ride, a response deadline per offer, and exactly one assignment
// per ride no matter how responses, timeouts and cancellations interleave.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/matching"
	"ride-dispatch/internal/ports"
	"ride-dispatch/internal/registry"
)

var (
	// ErrNoDriversAvailable is the only dispatch failure surfaced to the
	// rider: the candidate list was empty or every candidate declined,
	// timed out or went unavailable.
	ErrNoDriversAvailable = errors.New("no drivers available")

	// ErrStaleResponse marks a driver response for an offer that already
	// timed out or was superseded. Logged and ignored, never rider-facing.
	ErrStaleResponse = errors.New("stale offer response")

	// ErrAlreadyDispatching rejects a second StartDispatch for the same ride.
	ErrAlreadyDispatching = errors.New("dispatch already in progress for ride")
)

// Service runs dispatch sessions for many rides concurrently. Sessions are
// looked up by ride ID on every operation rather than captured by callbacks,
// so teardown is clean and late timers act on nothing.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*session

	registry registry.Registry
	rides    ports.RideStore
	notifier ports.Notifier
	logger   *logger.Logger
	cfg      config.DispatchConfig

	onAssigned AssignmentHook
}

// AssignmentHook is invoked once per successful assignment, off the dispatch
// lock. Used to hand the ride over to trip tracking.
type AssignmentHook func(ctx context.Context, rideID, driverID, passengerID string)

// NewService creates a dispatch service.
func NewService(reg registry.Registry, rides ports.RideStore, notifier ports.Notifier, log *logger.Logger, cfg config.DispatchConfig) *Service {
	return &Service{
		sessions: make(map[string]*session),
		registry: reg,
		rides:    rides,
		notifier: notifier,
		logger:   log,
		cfg:      cfg,
	}
}

// StartDispatch begins the offer protocol for a ride with a pre-ranked
// candidate queue (nearest first). An empty queue is terminal: the ride is
// marked NO_DRIVERS_AVAILABLE, the rider is told, and no session or timer is
// created.
func (s *Service) StartDispatch(ctx context.Context, rideID string, pickup geo.LatLng, candidates []matching.Candidate) error {
	ctx = logger.WithRideID(ctx, rideID)

	rd, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		s.logger.Error(ctx, "dispatch_ride_lookup_failed", "Failed to load ride for dispatch", err, nil)
		return err
	}

	if len(candidates) == 0 {
		s.logger.Info(ctx, "dispatch_no_candidates", "No candidate drivers for ride", nil)
		s.finishNoDrivers(ctx, rideID, rd.PassengerID)
		return ErrNoDriversAvailable
	}

	var fare float64
	if rd.EstimatedFare != nil {
		fare = *rd.EstimatedFare
	}

	sess := &session{
		rideID:      rideID,
		passengerID: rd.PassengerID,
		pickup:      pickup,
		pickupAddr:  rd.PickupAddress,
		destination: rd.Destination,
		destAddr:    rd.DestinationAddress,
		fare:        fare,
		state:       StateDispatching,
		queue:       append([]matching.Candidate(nil), candidates...),
	}

	s.mu.Lock()
	if _, exists := s.sessions[rideID]; exists {
		s.mu.Unlock()
		return ErrAlreadyDispatching
	}
	s.sessions[rideID] = sess
	s.mu.Unlock()

	s.logger.Info(ctx, "dispatch_started", "Dispatch session created",
		map[string]any{"candidates": len(candidates)})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.offerToNextLocked(ctx, sess)
	return nil
}

// HandleResponse processes a driver's accept/decline for the current offer.
// Responses that do not match the pending offer (timeout races, duplicates,
// unknown rides) are ignored and reported as ErrStaleResponse.
func (s *Service) HandleResponse(ctx context.Context, rideID, driverID string, accepted bool) error {
	ctx = logger.WithRideID(logger.WithDriverID(ctx, driverID), rideID)

	sess := s.lookup(rideID)
	if sess == nil {
		s.logger.Debug(ctx, "stale_offer_response", "Response for ride with no dispatch session",
			map[string]any{"accepted": accepted})
		return ErrStaleResponse
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// only one of {response, timeout} may act on a pending offer
	if !sess.clearPendingLocked(driverID) {
		s.logger.Debug(ctx, "stale_offer_response", "Response does not match pending offer",
			map[string]any{"accepted": accepted, "pending_driver": sess.pendingDriverID})
		return ErrStaleResponse
	}

	if !accepted {
		s.logger.Info(ctx, "offer_declined", "Driver declined the offer", nil)
		s.offerToNextLocked(ctx, sess)
		return nil
	}

	// claim the driver atomically; losing the race is handled like a decline
	if err := s.registry.Claim(ctx, driverID, rideID); err != nil {
		s.logger.Warn(ctx, "assignment_race_lost", "Driver was claimed by another ride first",
			map[string]any{"claim_error": err.Error()})
		s.offerToNextLocked(ctx, sess)
		return nil
	}

	s.assignLocked(ctx, sess, driverID)
	return nil
}

// CancelDispatch tears down the session from any state. A pending driver is
// told the ride is no longer available. After assignment the session is
// already gone and cancellation is a no-op (cancelling an assigned ride is a
// different workflow).
func (s *Service) CancelDispatch(ctx context.Context, rideID string) error {
	ctx = logger.WithRideID(ctx, rideID)

	sess := s.lookup(rideID)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == StateClosed || sess.state == StateAssigned {
		return nil
	}

	if sess.state == StateOfferPending && sess.pendingDriverID != "" {
		s.notify(ctx, sess.pendingDriverID, contracts.EventOfferWithdrawn, contracts.RideStatusMessage{
			RideID: rideID,
			Status: ride.StatusCancelled.String(),
			Reason: "ride_cancelled",
		})
		sess.clearPendingLocked(sess.pendingDriverID)
	}

	sess.epoch++
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	sess.queue = nil
	sess.state = StateClosed
	s.remove(rideID)

	s.logger.Info(ctx, "dispatch_cancelled", "Dispatch session cancelled",
		map[string]any{"offers_attempted": sess.offersAttempted})
	return nil
}

// SessionStates returns the protocol state of every live session keyed by
// ride ID. Sessions torn down by assignment or exhaustion are absent.
func (s *Service) SessionStates() map[string]State {
	s.mu.Lock()
	live := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(live))
	for _, sess := range live {
		sess.mu.Lock()
		out[sess.rideID] = sess.state
		sess.mu.Unlock()
	}
	return out
}

// SessionState reports the protocol state for a ride, for observability.
func (s *Service) SessionState(rideID string) State {
	sess := s.lookup(rideID)
	if sess == nil {
		return StateIdle
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// ----- internals -----

// offerToNextLocked advances the candidate queue until an offer is delivered
// or the queue is exhausted. Availability is re-validated against the
// registry on every pop: candidate lists are computed eagerly but offers
// happen sequentially, and availability can change in between.
func (s *Service) offerToNextLocked(ctx context.Context, sess *session) {
	// a cancellation may have won the session lock between the sessions-map
	// insert and the first offer; a closed session gets nothing
	if sess.state == StateClosed {
		return
	}
	for {
		if len(sess.queue) == 0 {
			sess.state = StateExhausted
			s.logger.Info(ctx, "dispatch_exhausted", "Candidate queue exhausted without assignment",
				map[string]any{"offers_attempted": sess.offersAttempted})
			s.closeLocked(sess)
			s.finishNoDrivers(ctx, sess.rideID, sess.passengerID)
			return
		}

		next := sess.queue[0]
		sess.queue = sess.queue[1:]

		av, err := s.registry.Get(ctx, next.DriverID)
		if err != nil || !av.Available || av.CurrentRideID != "" {
			s.logger.Debug(ctx, "candidate_skipped", "Candidate no longer available at offer time",
				map[string]any{"driver_id": next.DriverID})
			continue
		}

		sess.state = StateOfferPending
		sess.pendingDriverID = next.DriverID
		sess.pendingOffer = next
		sess.offerExpiresAt = time.Now().UTC().Add(s.cfg.OfferTimeout())
		sess.offersAttempted++
		sess.epoch++
		epoch := sess.epoch
		sess.timer = time.AfterFunc(s.cfg.OfferTimeout(), func() {
			s.onOfferTimeout(sess.rideID, next.DriverID, epoch)
		})

		offer := contracts.RideOffer{
			Type:               contracts.EventRideOffer,
			OfferID:            uuid.NewString(),
			RideID:             sess.rideID,
			Pickup:             contracts.GeoPoint{Lat: sess.pickup.Lat, Lng: sess.pickup.Lng, Address: sess.pickupAddr},
			Destination:        contracts.GeoPoint{Lat: sess.destination.Lat, Lng: sess.destination.Lng, Address: sess.destAddr},
			EstimatedFare:      sess.fare,
			DriverEarnings:     sess.fare * s.cfg.DriverShare,
			DistanceToPickupKM: next.DistanceKM,
			ExpiresAt:          sess.offerExpiresAt.Format(time.RFC3339),
		}
		s.notify(ctx, next.DriverID, contracts.EventRideOffer, offer)

		s.logger.Info(ctx, "offer_sent", "Ride offer delivered to driver",
			map[string]any{
				"driver_id":   next.DriverID,
				"distance_km": next.DistanceKM,
				"expires_at":  sess.offerExpiresAt,
				"attempt":     sess.offersAttempted,
			})
		return
	}
}

// onOfferTimeout fires when a driver neither accepted nor declined in time.
// It is equivalent to an explicit decline, and a late callback for a
// superseded offer (epoch mismatch) is a safe no-op.
func (s *Service) onOfferTimeout(rideID, driverID string, epoch uint64) {
	ctx := logger.WithRideID(logger.WithDriverID(context.Background(), driverID), rideID)

	sess := s.lookup(rideID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.epoch != epoch {
		return
	}
	if !sess.clearPendingLocked(driverID) {
		return
	}

	s.logger.Info(ctx, "offer_timed_out", "No driver response before deadline; advancing queue", nil)
	s.notify(ctx, driverID, contracts.EventOfferWithdrawn, contracts.RideStatusMessage{
		RideID: rideID,
		Status: ride.StatusRequested.String(),
		Reason: "offer_expired",
	})
	s.offerToNextLocked(ctx, sess)
}

// assignLocked finalizes a successful claim: the ride is bound to the driver,
// the session is torn down so no further offer can race in, and the rider is
// notified.
func (s *Service) assignLocked(ctx context.Context, sess *session, driverID string) {
	sess.state = StateAssigned
	sess.queue = nil
	s.remove(sess.rideID)

	if err := s.rides.UpdateRideStatus(ctx, sess.rideID, ride.StatusDriverAssigned, map[string]any{
		"driver_id": driverID,
	}); err != nil {
		// registry already holds the binding; the status write is retried by
		// the reconciliation sweep, not by re-running dispatch
		s.logger.Error(ctx, "ride_status_write_failed", "Assigned ride but failed to persist status", err, nil)
	}

	s.notify(ctx, sess.passengerID, contracts.EventDriverAssigned, contracts.RideStatusMessage{
		RideID:   sess.rideID,
		Status:   ride.StatusDriverAssigned.String(),
		DriverID: driverID,
	})

	s.logger.Info(ctx, "driver_assigned", "Ride assigned to driver",
		map[string]any{"driver_id": driverID, "offers_attempted": sess.offersAttempted})

	if s.onAssigned != nil {
		hookCtx := context.WithoutCancel(ctx)
		go s.onAssigned(hookCtx, sess.rideID, driverID, sess.passengerID)
	}
}

// SetAssignmentHook registers the post-assignment callback. Call before any
// dispatch starts.
func (s *Service) SetAssignmentHook(fn AssignmentHook) {
	s.onAssigned = fn
}

// finishNoDrivers marks the terminal no-drivers outcome and informs the rider.
func (s *Service) finishNoDrivers(ctx context.Context, rideID, passengerID string) {
	if err := s.rides.UpdateRideStatus(ctx, rideID, ride.StatusNoDriversAvailable, nil); err != nil {
		s.logger.Error(ctx, "ride_status_write_failed", "Failed to mark ride as no-drivers-available", err, nil)
	}
	s.notify(ctx, passengerID, contracts.EventNoDriversAvailable, contracts.RideStatusMessage{
		RideID: rideID,
		Status: ride.StatusNoDriversAvailable.String(),
	})
}

// closeLocked transitions the session to CLOSED and forgets it.
func (s *Service) closeLocked(sess *session) {
	sess.state = StateClosed
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	s.remove(sess.rideID)
}

func (s *Service) lookup(rideID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[rideID]
}

func (s *Service) remove(rideID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, rideID)
}

// notify delivers a notification and logs failures; delivery is
// fire-and-forget and never influences protocol decisions.
func (s *Service) notify(ctx context.Context, recipientID, eventType string, payload any) {
	if err := s.notifier.Notify(ctx, recipientID, eventType, payload); err != nil {
		s.logger.Warn(ctx, "notify_failed", "Failed to deliver notification",
			map[string]any{"recipient": recipientID, "event": eventType, "error": err.Error()})
	}
}

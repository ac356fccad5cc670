package dispatch

import (
	"sync"
	"time"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/matching"
)

// State is the dispatch protocol state for one ride.
type State string

const (
	StateIdle         State = "IDLE"
	StateDispatching  State = "DISPATCHING"
	StateOfferPending State = "OFFER_PENDING"
	StateAssigned     State = "ASSIGNED"
	StateExhausted    State = "EXHAUSTED"
	StateClosed       State = "CLOSED"
)

// session is the per-ride dispatch bookkeeping. All fields are guarded by mu;
// every mutation for a given ride goes through it, which is what serializes
// offers, responses, timeouts and cancellation against each other.
type session struct {
	mu sync.Mutex

	rideID      string
	passengerID string
	pickup      geo.LatLng
	pickupAddr  string
	destination geo.LatLng
	destAddr    string
	fare        float64

	state           State
	queue           []matching.Candidate
	pendingDriverID string
	pendingOffer    matching.Candidate
	offerExpiresAt  time.Time
	offersAttempted int

	// epoch invalidates in-flight timers: a timeout callback only acts if the
	// epoch it was issued for is still current. Bumped on every response,
	// timeout and cancellation.
	epoch uint64
	timer *time.Timer
}

// clearPendingLocked clears the pending offer and disarms its timer.
// Callers must hold s.mu. Returns false if driverID does not match the
// current pending offer (the compare-and-clear failed).
func (s *session) clearPendingLocked(driverID string) bool {
	if s.state != StateOfferPending || s.pendingDriverID != driverID {
		return false
	}
	s.pendingDriverID = ""
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateDispatching
	return true
}

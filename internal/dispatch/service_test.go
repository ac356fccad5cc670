package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/matching"
	"ride-dispatch/internal/registry"
)

// ----- test doubles -----

type capturedEvent struct {
	Recipient string
	EventType string
	Payload   any
}

type captureNotifier struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (n *captureNotifier) Notify(_ context.Context, recipientID, eventType string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, capturedEvent{Recipient: recipientID, EventType: eventType, Payload: payload})
	return nil
}

func (n *captureNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.EventType == eventType {
			c++
		}
	}
	return c
}

func (n *captureNotifier) lastFor(recipient string) (capturedEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].Recipient == recipient {
			return n.events[i], true
		}
	}
	return capturedEvent{}, false
}

type statusCall struct {
	RideID string
	Status ride.Status
	Fields map[string]any
}

type fakeRideStore struct {
	mu    sync.Mutex
	rides map[string]*ride.Ride
	calls []statusCall
}

func newFakeRideStore() *fakeRideStore {
	return &fakeRideStore{rides: make(map[string]*ride.Ride)}
}

func (f *fakeRideStore) put(r *ride.Ride) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rides[r.ID] = r
}

func (f *fakeRideStore) GetRide(_ context.Context, rideID string) (*ride.Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rides[rideID]
	if !ok {
		return nil, errors.New("ride not found")
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRideStore) UpdateRideStatus(_ context.Context, rideID string, status ride.Status, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, statusCall{RideID: rideID, Status: status, Fields: fields})
	if r, ok := f.rides[rideID]; ok {
		r.Status = status
	}
	return nil
}

func (f *fakeRideStore) statusOf(rideID string) ride.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rides[rideID]; ok {
		return r.Status
	}
	return ""
}

// ----- fixtures -----

func testRide(id, passengerID string) *ride.Ride {
	fare := 250.0
	return &ride.Ride{
		ID:            id,
		RideNumber:    "RD-" + id,
		PassengerID:   passengerID,
		VehicleType:   ride.VehicleCar,
		Status:        ride.StatusRequested,
		Pickup:        geo.LatLng{Lat: 12.9700, Lng: 77.5900},
		Destination:   geo.LatLng{Lat: 12.9300, Lng: 77.6200},
		EstimatedFare: &fare,
		RequestedAt:   time.Now().UTC(),
	}
}

func testEnv(t *testing.T, offerTimeoutSec int) (*Service, *registry.MemoryRegistry, *fakeRideStore, *captureNotifier) {
	t.Helper()
	reg := registry.NewMemoryRegistry(0)
	rides := newFakeRideStore()
	notifier := &captureNotifier{}
	cfg := config.DispatchConfig{
		OfferTimeoutSeconds: offerTimeoutSec,
		SearchRadiusKM:      5,
		MaxCandidates:       10,
		DriverShare:         0.8,
	}
	svc := NewService(reg, rides, notifier, logger.New("dispatch-test"), cfg)
	return svc, reg, rides, notifier
}

func onlineDriver(t *testing.T, reg *registry.MemoryRegistry, id string) {
	t.Helper()
	if err := reg.SetOnline(context.Background(), id, ride.VehicleCar); err != nil {
		t.Fatalf("SetOnline(%s): %v", id, err)
	}
}

func candidates(ids ...string) []matching.Candidate {
	out := make([]matching.Candidate, 0, len(ids))
	for i, id := range ids {
		out = append(out, matching.Candidate{DriverID: id, DistanceKM: float64(i) + 0.5, EstimatedArrivalMin: 2 + i})
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// ----- tests -----

func TestStartDispatchNoCandidates(t *testing.T) {
	svc, _, rides, notifier := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))

	err := svc.StartDispatch(context.Background(), "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, nil)
	if !errors.Is(err, ErrNoDriversAvailable) {
		t.Fatalf("err = %v, want ErrNoDriversAvailable", err)
	}

	if got := rides.statusOf("r1"); got != ride.StatusNoDriversAvailable {
		t.Errorf("ride status = %s, want NO_DRIVERS_AVAILABLE", got)
	}
	if notifier.count(contracts.EventNoDriversAvailable) != 1 {
		t.Errorf("no_drivers_available notifications = %d, want 1", notifier.count(contracts.EventNoDriversAvailable))
	}
	if svc.SessionState("r1") != StateIdle {
		t.Errorf("no session should exist for an empty candidate queue")
	}
}

func TestDeclineAdvancesToNextDriver(t *testing.T) {
	svc, reg, rides, notifier := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")
	onlineDriver(t, reg, "d2")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1", "d2")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}

	// first offer goes to d1
	if ev, ok := notifier.lastFor("d1"); !ok || ev.EventType != contracts.EventRideOffer {
		t.Fatalf("expected a ride_offer for d1, got %+v", ev)
	}

	if err := svc.HandleResponse(ctx, "r1", "d1", false); err != nil {
		t.Fatalf("HandleResponse(decline): %v", err)
	}

	// next offer goes to d2; accepting it assigns the ride
	if ev, ok := notifier.lastFor("d2"); !ok || ev.EventType != contracts.EventRideOffer {
		t.Fatalf("expected a ride_offer for d2, got %+v", ev)
	}
	if err := svc.HandleResponse(ctx, "r1", "d2", true); err != nil {
		t.Fatalf("HandleResponse(accept): %v", err)
	}

	if got := rides.statusOf("r1"); got != ride.StatusDriverAssigned {
		t.Errorf("ride status = %s, want DRIVER_ASSIGNED", got)
	}
	av, err := reg.Get(ctx, "d2")
	if err != nil {
		t.Fatalf("Get(d2): %v", err)
	}
	if av.CurrentRideID != "r1" {
		t.Errorf("d2 claim = %q, want r1", av.CurrentRideID)
	}
	if notifier.count(contracts.EventRideOffer) != 2 {
		t.Errorf("ride offers sent = %d, want 2", notifier.count(contracts.EventRideOffer))
	}
	if ev, ok := notifier.lastFor("p1"); !ok || ev.EventType != contracts.EventDriverAssigned {
		t.Errorf("passenger should be told about the assignment, got %+v", ev)
	}
}

func TestOfferTimeoutBehavesLikeDecline(t *testing.T) {
	svc, reg, rides, notifier := testEnv(t, 1)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")
	onlineDriver(t, reg, "d2")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1", "d2")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}

	// d1 never answers; the offer must move to d2
	waitFor(t, 3*time.Second, func() bool {
		ev, ok := notifier.lastFor("d2")
		return ok && ev.EventType == contracts.EventRideOffer
	})

	// d1 was told the offer expired
	if ev, ok := notifier.lastFor("d1"); !ok || ev.EventType != contracts.EventOfferWithdrawn {
		t.Errorf("d1 should see offer_withdrawn after timeout, got %+v", ev)
	}

	// a very late response from d1 is stale
	if err := svc.HandleResponse(ctx, "r1", "d1", true); !errors.Is(err, ErrStaleResponse) {
		t.Errorf("late accept err = %v, want ErrStaleResponse", err)
	}

	if err := svc.HandleResponse(ctx, "r1", "d2", true); err != nil {
		t.Fatalf("HandleResponse(d2 accept): %v", err)
	}
	if got := rides.statusOf("r1"); got != ride.StatusDriverAssigned {
		t.Errorf("ride status = %s, want DRIVER_ASSIGNED", got)
	}
}

func TestDuplicateStartRejected(t *testing.T) {
	svc, reg, rides, _ := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}
	err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1"))
	if !errors.Is(err, ErrAlreadyDispatching) {
		t.Fatalf("err = %v, want ErrAlreadyDispatching", err)
	}
}

func TestResponseFromWrongDriverIsStale(t *testing.T) {
	svc, reg, rides, _ := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")
	onlineDriver(t, reg, "intruder")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}

	if err := svc.HandleResponse(ctx, "r1", "intruder", true); !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("err = %v, want ErrStaleResponse", err)
	}
	// the real offer is still live
	if svc.SessionState("r1") != StateOfferPending {
		t.Errorf("session state = %s, want OFFER_PENDING", svc.SessionState("r1"))
	}
}

func TestResponseForUnknownRideIsStale(t *testing.T) {
	svc, _, _, _ := testEnv(t, 30)
	err := svc.HandleResponse(context.Background(), "ghost", "d1", true)
	if !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("err = %v, want ErrStaleResponse", err)
	}
}

func TestDuplicateAcceptOnlyAssignsOnce(t *testing.T) {
	svc, reg, rides, notifier := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.HandleResponse(ctx, "r1", "d1", true); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted responses = %d, want exactly 1", accepted)
	}
	if notifier.count(contracts.EventDriverAssigned) != 1 {
		t.Errorf("driver_assigned notifications = %d, want 1", notifier.count(contracts.EventDriverAssigned))
	}
}

func TestTwoRidesOneDriverSingleAssignment(t *testing.T) {
	svc, reg, rides, notifier := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	rides.put(testRide("r2", "p2"))
	onlineDriver(t, reg, "d1")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1")); err != nil {
		t.Fatalf("StartDispatch(r1): %v", err)
	}
	if err := svc.StartDispatch(ctx, "r2", geo.LatLng{Lat: 12.98, Lng: 77.60}, candidates("d1")); err != nil {
		t.Fatalf("StartDispatch(r2): %v", err)
	}

	// the driver accepts both offers; only one claim can win
	var wg sync.WaitGroup
	for _, rideID := range []string{"r1", "r2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = svc.HandleResponse(ctx, id, "d1", true)
		}(rideID)
	}
	wg.Wait()

	if got := notifier.count(contracts.EventDriverAssigned); got != 1 {
		t.Fatalf("driver_assigned notifications = %d, want exactly 1", got)
	}

	assigned := 0
	for _, id := range []string{"r1", "r2"} {
		if rides.statusOf(id) == ride.StatusDriverAssigned {
			assigned++
		}
	}
	if assigned != 1 {
		t.Fatalf("rides assigned = %d, want exactly 1", assigned)
	}
	// the losing ride had no further candidates
	if got := notifier.count(contracts.EventNoDriversAvailable); got != 1 {
		t.Errorf("no_drivers_available notifications = %d, want 1", got)
	}
}

func TestCancelDispatchWithdrawsPendingOffer(t *testing.T) {
	svc, reg, rides, notifier := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}

	if err := svc.CancelDispatch(ctx, "r1"); err != nil {
		t.Fatalf("CancelDispatch: %v", err)
	}

	if ev, ok := notifier.lastFor("d1"); !ok || ev.EventType != contracts.EventOfferWithdrawn {
		t.Errorf("pending driver should see offer_withdrawn, got %+v", ev)
	}
	if svc.SessionState("r1") != StateIdle {
		t.Errorf("session should be gone after cancel")
	}

	// the driver's late response hits a dead session
	if err := svc.HandleResponse(ctx, "r1", "d1", true); !errors.Is(err, ErrStaleResponse) {
		t.Errorf("post-cancel accept err = %v, want ErrStaleResponse", err)
	}
	av, _ := reg.Get(ctx, "d1")
	if av.CurrentRideID != "" {
		t.Errorf("driver must not be claimed after cancel, got ride %q", av.CurrentRideID)
	}
}

func TestCancelRacingFirstOfferSendsNothing(t *testing.T) {
	svc, reg, rides, notifier := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")

	ctx := context.Background()

	// a cancellation can win the session lock between the sessions-map insert
	// and the first offer; replay that interleaving directly
	sess := &session{
		rideID:      "r1",
		passengerID: "p1",
		pickup:      geo.LatLng{Lat: 12.97, Lng: 77.59},
		state:       StateDispatching,
		queue:       candidates("d1"),
	}
	svc.mu.Lock()
	svc.sessions["r1"] = sess
	svc.mu.Unlock()

	if err := svc.CancelDispatch(ctx, "r1"); err != nil {
		t.Fatalf("CancelDispatch: %v", err)
	}

	sess.mu.Lock()
	svc.offerToNextLocked(ctx, sess)
	timer := sess.timer
	sess.mu.Unlock()

	if n := notifier.count(contracts.EventRideOffer); n != 0 {
		t.Errorf("ride_offer notifications = %d, want 0 for a cancelled ride", n)
	}
	if n := notifier.count(contracts.EventNoDriversAvailable); n != 0 {
		t.Errorf("no_drivers_available notifications = %d, want 0 for a cancelled ride", n)
	}
	if timer != nil {
		t.Error("no offer timer should be armed for a cancelled ride")
	}
	if got := rides.statusOf("r1"); got != ride.StatusRequested {
		t.Errorf("ride status = %s, want REQUESTED untouched", got)
	}
}

func TestCancelAfterAssignmentIsNoOp(t *testing.T) {
	svc, reg, rides, _ := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}
	if err := svc.HandleResponse(ctx, "r1", "d1", true); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}

	if err := svc.CancelDispatch(ctx, "r1"); err != nil {
		t.Fatalf("CancelDispatch: %v", err)
	}
	// the assignment stands
	if got := rides.statusOf("r1"); got != ride.StatusDriverAssigned {
		t.Errorf("ride status = %s, want DRIVER_ASSIGNED", got)
	}
	av, _ := reg.Get(ctx, "d1")
	if av.CurrentRideID != "r1" {
		t.Errorf("driver claim = %q, want r1", av.CurrentRideID)
	}
}

func TestUnavailableCandidateSkippedAtOfferTime(t *testing.T) {
	svc, reg, rides, notifier := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "gone")
	onlineDriver(t, reg, "here")
	if err := reg.SetOffline(context.Background(), "gone"); err != nil {
		t.Fatalf("SetOffline: %v", err)
	}

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("gone", "here")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}

	// the offline candidate gets no offer
	if _, ok := notifier.lastFor("gone"); ok {
		t.Error("offline driver must not receive an offer")
	}
	if ev, ok := notifier.lastFor("here"); !ok || ev.EventType != contracts.EventRideOffer {
		t.Fatalf("expected ride_offer for here, got %+v", ev)
	}
}

func TestAssignmentHookFires(t *testing.T) {
	svc, reg, rides, _ := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")

	type handoff struct{ rideID, driverID, passengerID string }
	got := make(chan handoff, 1)
	svc.SetAssignmentHook(func(_ context.Context, rideID, driverID, passengerID string) {
		got <- handoff{rideID, driverID, passengerID}
	})

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}
	if err := svc.HandleResponse(ctx, "r1", "d1", true); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}

	select {
	case h := <-got:
		if h.rideID != "r1" || h.driverID != "d1" || h.passengerID != "p1" {
			t.Errorf("hook args = %+v", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("assignment hook not called")
	}
}

func TestAllDeclinedExhaustsQueue(t *testing.T) {
	svc, reg, rides, notifier := testEnv(t, 30)
	rides.put(testRide("r1", "p1"))
	onlineDriver(t, reg, "d1")
	onlineDriver(t, reg, "d2")

	ctx := context.Background()
	if err := svc.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59}, candidates("d1", "d2")); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}
	if err := svc.HandleResponse(ctx, "r1", "d1", false); err != nil {
		t.Fatalf("HandleResponse(d1): %v", err)
	}
	if err := svc.HandleResponse(ctx, "r1", "d2", false); err != nil {
		t.Fatalf("HandleResponse(d2): %v", err)
	}

	if got := rides.statusOf("r1"); got != ride.StatusNoDriversAvailable {
		t.Errorf("ride status = %s, want NO_DRIVERS_AVAILABLE", got)
	}
	if notifier.count(contracts.EventNoDriversAvailable) != 1 {
		t.Errorf("no_drivers_available notifications = %d, want 1", notifier.count(contracts.EventNoDriversAvailable))
	}
	if svc.SessionState("r1") != StateIdle {
		t.Errorf("session should be torn down after exhaustion")
	}
}

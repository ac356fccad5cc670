package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ride-dispatch/internal/dispatch"
	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/matching"
	"ride-dispatch/internal/registry"
	"ride-dispatch/internal/tracking"
)

type nullNotifier struct{}

func (nullNotifier) Notify(context.Context, string, string, any) error { return nil }

type fakeRideStore struct {
	mu    sync.Mutex
	rides map[string]*ride.Ride
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

func (f *fakeRideStore) UpdateRideStatus(_ context.Context, _ string, _ ride.Status, _ map[string]any) error {
	return nil
}

func testRide(id string) *ride.Ride {
	return &ride.Ride{
		ID:          id,
		PassengerID: "p-" + id,
		VehicleType: ride.VehicleCar,
		Status:      ride.StatusRequested,
		Pickup:      geo.LatLng{Lat: 12.97, Lng: 77.59},
		Destination: geo.LatLng{Lat: 12.93, Lng: 77.62},
	}
}

func testEnv(t *testing.T) (*registry.MemoryRegistry, *dispatch.Service, *tracking.Manager) {
	t.Helper()
	log := logger.New("opsboard-test")
	reg := registry.NewMemoryRegistry(0)
	rides := &fakeRideStore{rides: map[string]*ride.Ride{
		"r1": testRide("r1"),
		"r2": testRide("r2"),
	}}
	disp := dispatch.NewService(reg, rides, nullNotifier{}, log, config.DispatchConfig{
		OfferTimeoutSeconds: 30, SearchRadiusKM: 5, MaxCandidates: 10, DriverShare: 0.8,
	})
	tracker := tracking.NewManager(reg, rides, nullNotifier{}, nil, log, config.TrackingConfig{
		GeofenceRadiusMeters: 100, HistoryCap: 100, AvgSpeedKMH: 30,
	})
	return reg, disp, tracker
}

func TestGetSystemOverview(t *testing.T) {
	reg, disp, tracker := testEnv(t)
	ctx := context.Background()

	_ = reg.SetOnline(ctx, "bike1", ride.VehicleBike)
	_ = reg.SetOnline(ctx, "car1", ride.VehicleCar)
	_ = reg.SetOnline(ctx, "car2", ride.VehicleCar)

	// one dispatch session with a pending offer
	if err := disp.StartDispatch(ctx, "r1", geo.LatLng{Lat: 12.97, Lng: 77.59},
		[]matching.Candidate{{DriverID: "car1", DistanceKM: 1}}); err != nil {
		t.Fatalf("StartDispatch: %v", err)
	}

	// one active trip
	if err := tracker.StartTracking(ctx, "r2", "car2", "p-r2"); err != nil {
		t.Fatalf("StartTracking: %v", err)
	}

	svc := NewOpsService(reg, disp, tracker)
	overview, err := svc.GetSystemOverview(ctx)
	if err != nil {
		t.Fatalf("GetSystemOverview: %v", err)
	}

	if overview.Dispatch.ActiveSessions != 1 || overview.Dispatch.OffersPending != 1 {
		t.Errorf("dispatch counters = %+v", overview.Dispatch)
	}
	if overview.Tracking.ActiveTrips != 1 {
		t.Errorf("active trips = %d, want 1", overview.Tracking.ActiveTrips)
	}
	if overview.AvailableDrivers.Bike != 1 || overview.AvailableDrivers.Car != 2 || overview.AvailableDrivers.Total != 3 {
		t.Errorf("driver pool = %+v", overview.AvailableDrivers)
	}
	if overview.Timestamp.IsZero() {
		t.Error("overview should be timestamped")
	}
}

func TestGetActiveTripsPagination(t *testing.T) {
	reg, disp, tracker := testEnv(t)
	ctx := context.Background()

	// five live trips with distinct drivers
	rides := map[string]*ride.Ride{}
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		rides[id] = testRide(id)
	}
	store := &fakeRideStore{rides: rides}
	tracker = tracking.NewManager(reg, store, nullNotifier{}, nil, logger.New("opsboard-test"), config.TrackingConfig{
		GeofenceRadiusMeters: 100, HistoryCap: 100, AvgSpeedKMH: 30,
	})
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		if err := tracker.StartTracking(ctx, id, "d"+id, "p-"+id); err != nil {
			t.Fatalf("StartTracking(%s): %v", id, err)
		}
	}

	svc := NewOpsService(reg, disp, tracker)

	page1, err := svc.GetActiveTrips(ctx, "1", "2")
	if err != nil {
		t.Fatalf("GetActiveTrips: %v", err)
	}
	if page1.TotalCount != 5 || len(page1.Trips) != 2 {
		t.Errorf("page1 = total %d, %d trips; want 5 total, 2 trips", page1.TotalCount, len(page1.Trips))
	}

	page3, err := svc.GetActiveTrips(ctx, "3", "2")
	if err != nil {
		t.Fatalf("GetActiveTrips: %v", err)
	}
	if len(page3.Trips) != 1 {
		t.Errorf("page3 trips = %d, want 1", len(page3.Trips))
	}

	// out-of-range page is empty, not an error
	page9, err := svc.GetActiveTrips(ctx, "9", "2")
	if err != nil {
		t.Fatalf("GetActiveTrips: %v", err)
	}
	if len(page9.Trips) != 0 {
		t.Errorf("page9 trips = %d, want 0", len(page9.Trips))
	}

	// junk paging inputs fall back to defaults
	fallback, err := svc.GetActiveTrips(ctx, "zero", "-3")
	if err != nil {
		t.Fatalf("GetActiveTrips: %v", err)
	}
	if fallback.Page != 1 || fallback.PageSize != 10 || len(fallback.Trips) != 5 {
		t.Errorf("fallback = %+v", fallback)
	}
}

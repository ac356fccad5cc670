package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/registry"
)

type fakeLocationSource struct {
	fixes map[string]*geo.Fix
	err   error
}

func (f *fakeLocationSource) LatestFix(_ context.Context, driverID string) (*geo.Fix, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fixes[driverID], nil
}

func newTestService(t *testing.T) (*Service, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry(0)
	return NewService(reg, nil, logger.New("matching-test")), reg
}

func putDriver(t *testing.T, reg *registry.MemoryRegistry, id string, vt ride.VehicleType, lat, lng float64) {
	t.Helper()
	ctx := context.Background()
	if err := reg.SetOnline(ctx, id, vt); err != nil {
		t.Fatalf("SetOnline(%s): %v", id, err)
	}
	fix := geo.Fix{Position: geo.LatLng{Lat: lat, Lng: lng}, RecordedAt: time.Now().UTC()}
	if err := reg.UpdateLocation(ctx, id, fix); err != nil {
		t.Fatalf("UpdateLocation(%s): %v", id, err)
	}
}

func TestFindCandidatesNearestFirst(t *testing.T) {
	svc, reg := newTestService(t)
	pickup := geo.LatLng{Lat: 12.9700, Lng: 77.5900}

	putDriver(t, reg, "far", ride.VehicleCar, 12.9900, 77.5900)  // ~2.2 km
	putDriver(t, reg, "near", ride.VehicleCar, 12.9710, 77.5900) // ~0.1 km
	putDriver(t, reg, "mid", ride.VehicleCar, 12.9800, 77.5900)  // ~1.1 km

	got, err := svc.FindCandidates(context.Background(), pickup, ride.VehicleCar, 5)
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("candidates = %d, want 3", len(got))
	}
	order := []string{got[0].DriverID, got[1].DriverID, got[2].DriverID}
	want := []string{"near", "mid", "far"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].DistanceKM < got[i-1].DistanceKM {
			t.Errorf("distances not ascending: %v then %v", got[i-1].DistanceKM, got[i].DistanceKM)
		}
	}
}

func TestFindCandidatesTieBreakOnDriverID(t *testing.T) {
	svc, reg := newTestService(t)
	pickup := geo.LatLng{Lat: 12.9700, Lng: 77.5900}

	// same position, same distance
	putDriver(t, reg, "zed", ride.VehicleBike, 12.9750, 77.5900)
	putDriver(t, reg, "abe", ride.VehicleBike, 12.9750, 77.5900)

	got, err := svc.FindCandidates(context.Background(), pickup, ride.VehicleBike, 5)
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(got) != 2 || got[0].DriverID != "abe" || got[1].DriverID != "zed" {
		t.Fatalf("tie-break order = %+v, want abe then zed", got)
	}
}

func TestFindCandidatesRadiusFilter(t *testing.T) {
	svc, reg := newTestService(t)
	pickup := geo.LatLng{Lat: 12.9700, Lng: 77.5900}

	putDriver(t, reg, "inside", ride.VehicleAuto, 12.9800, 77.5900)  // ~1.1 km
	putDriver(t, reg, "outside", ride.VehicleAuto, 13.0700, 77.5900) // ~11 km

	got, err := svc.FindCandidates(context.Background(), pickup, ride.VehicleAuto, 5)
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "inside" {
		t.Fatalf("candidates = %+v, want only inside", got)
	}
}

func TestFindCandidatesSkipsDriversWithoutFix(t *testing.T) {
	svc, reg := newTestService(t)
	ctx := context.Background()

	// online but never reported a location
	if err := reg.SetOnline(ctx, "silent", ride.VehicleCar); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	putDriver(t, reg, "talker", ride.VehicleCar, 12.9750, 77.5900)

	got, err := svc.FindCandidates(ctx, geo.LatLng{Lat: 12.9700, Lng: 77.5900}, ride.VehicleCar, 5)
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "talker" {
		t.Fatalf("candidates = %+v, want only talker", got)
	}
}

func TestFindCandidatesFallsBackToPersistedLocation(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry(0)
	pickup := geo.LatLng{Lat: 12.9700, Lng: 77.5900}

	// online, but the registry holds no live fix (heartbeat lapsed past the
	// TTL); the archive still knows where the driver last was
	if err := reg.SetOnline(ctx, "lapsed", ride.VehicleCar); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	locations := &fakeLocationSource{fixes: map[string]*geo.Fix{
		"lapsed": {Position: geo.LatLng{Lat: 12.9702, Lng: 77.5900}, RecordedAt: time.Now().UTC().Add(-3 * time.Minute)},
	}}
	svc := NewService(reg, locations, logger.New("matching-test"))

	got, err := svc.FindCandidates(ctx, pickup, ride.VehicleCar, 5)
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "lapsed" {
		t.Fatalf("candidates = %+v, want the lapsed-heartbeat driver via its persisted fix", got)
	}
	if got[0].DistanceKM > 0.1 {
		t.Errorf("distance = %v km, want the persisted position ~20m away", got[0].DistanceKM)
	}
}

func TestFindCandidatesSkipsDriverWhenBothTiersEmpty(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry(0)

	if err := reg.SetOnline(ctx, "ghost", ride.VehicleCar); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	svc := NewService(reg, &fakeLocationSource{fixes: map[string]*geo.Fix{}}, logger.New("matching-test"))

	got, err := svc.FindCandidates(ctx, geo.LatLng{Lat: 12.9700, Lng: 77.5900}, ride.VehicleCar, 5)
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("candidates = %+v, want none for a driver with no location anywhere", got)
	}
}

func TestFindCandidatesPersistedLookupFailureSkipsDriver(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry(0)

	if err := reg.SetOnline(ctx, "d1", ride.VehicleCar); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	svc := NewService(reg, &fakeLocationSource{err: errors.New("db down")}, logger.New("matching-test"))

	got, err := svc.FindCandidates(ctx, geo.LatLng{Lat: 12.9700, Lng: 77.5900}, ride.VehicleCar, 5)
	if err != nil {
		t.Fatalf("a per-driver lookup failure must not fail the call: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("candidates = %+v, want none", got)
	}
}

func TestFindCandidatesInvalidPickup(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.FindCandidates(context.Background(), geo.LatLng{Lat: 99, Lng: 0}, ride.VehicleCar, 5)
	if err == nil {
		t.Fatal("expected error for out-of-range pickup")
	}
}

func TestEstimatedArrivalClamped(t *testing.T) {
	tests := []struct {
		name string
		km   float64
		want int
	}{
		{"very close", 0.2, 2},
		{"mid range", 5, 10},
		{"beyond cap", 40, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := estimatedArrivalMinutes(tt.km); got != tt.want {
				t.Errorf("estimatedArrivalMinutes(%v) = %d, want %d", tt.km, got, tt.want)
			}
		})
	}
}

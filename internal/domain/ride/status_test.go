package ride

import "testing"

func TestParseStatusNormalizes(t *testing.T) {
	got, err := ParseStatus("  driver_assigned ")
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if got != StatusDriverAssigned {
		t.Errorf("status = %s, want DRIVER_ASSIGNED", got)
	}

	if _, err := ParseStatus("TELEPORTING"); err != ErrInvalidStatus {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusRequested, StatusDriverAssigned, true},
		{StatusRequested, StatusNoDriversAvailable, true},
		{StatusRequested, StatusCancelled, true},
		{StatusRequested, StatusCompleted, false},
		{StatusDriverAssigned, StatusEnRoute, true},
		{StatusDriverAssigned, StatusArrived, false},
		{StatusEnRoute, StatusArrived, true},
		{StatusArrived, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusRequested, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusRequested, false},
		{StatusNoDriversAvailable, StatusDriverAssigned, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoDriversAvailable} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusRequested, StatusDriverAssigned, StatusEnRoute, StatusArrived, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStatusActive(t *testing.T) {
	if StatusCompleted.Active() || StatusCancelled.Active() || StatusNoDriversAvailable.Active() {
		t.Error("terminal statuses must not count toward demand")
	}
	if !StatusRequested.Active() || !StatusInProgress.Active() {
		t.Error("in-flight statuses must count toward demand")
	}
}

func TestVehicleTypeParse(t *testing.T) {
	got, err := ParseVehicleType(" bike ")
	if err != nil {
		t.Fatalf("ParseVehicleType: %v", err)
	}
	if got != VehicleBike {
		t.Errorf("vehicle = %s, want BIKE", got)
	}
	if _, err := ParseVehicleType("submarine"); err == nil {
		t.Error("expected error for unknown vehicle type")
	}
}

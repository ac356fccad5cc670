package ride

import (
	"errors"
	"strings"
	"time"

	"ride-dispatch/internal/domain/geo"
)

// Ride is the domain entity corresponding to the `rides` table.
type Ride struct {
	// Identity & audit
	ID         string
	RideNumber string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Actors
	PassengerID string
	DriverID    *string // nil until assigned

	// Core state
	VehicleType VehicleType
	Status      Status

	// Trip endpoints
	Pickup             geo.LatLng
	PickupAddress      string
	Destination        geo.LatLng
	DestinationAddress string

	// Pricing snapshot taken at request time
	EstimatedFare *float64
	FinalFare     *float64
	Region        string

	// Lifecycle timestamps
	RequestedAt time.Time
	AssignedAt  *time.Time
	ArrivedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	CancellationReason *string
}

var (
	ErrPassengerRequired       = errors.New("passenger id is required")
	ErrRideNumberRequired      = errors.New("ride number is required")
	ErrInvalidStatusTransition = errors.New("invalid ride status transition")
	ErrAlreadyAssigned         = errors.New("driver already assigned")
	ErrNoDriverAssigned        = errors.New("no driver assigned")
	ErrDriverRequired          = errors.New("driver id is required")
)

// NewRide creates a new ride in REQUESTED state.
func NewRide(rideNumber, passengerID string, vt VehicleType, pickup, destination geo.LatLng) (*Ride, error) {
	if rideNumber = strings.TrimSpace(rideNumber); rideNumber == "" {
		return nil, ErrRideNumberRequired
	}
	if passengerID = strings.TrimSpace(passengerID); passengerID == "" {
		return nil, ErrPassengerRequired
	}
	if !vt.Valid() {
		return nil, ErrInvalidVehicleType
	}
	if err := pickup.Validate(); err != nil {
		return nil, err
	}
	if err := destination.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Ride{
		RideNumber:  rideNumber,
		CreatedAt:   now,
		UpdatedAt:   now,
		PassengerID: passengerID,
		VehicleType: vt,
		Status:      StatusRequested,
		Pickup:      pickup,
		Destination: destination,
		RequestedAt: now,
	}, nil
}

// AssignDriver sets the driver and moves REQUESTED -> DRIVER_ASSIGNED.
func (ride *Ride) AssignDriver(driverID string) error {
	if driverID == "" {
		return ErrDriverRequired
	}
	if ride.DriverID != nil && *ride.DriverID != "" {
		return ErrAlreadyAssigned
	}
	if ride.Status != StatusRequested {
		return ErrInvalidStatusTransition
	}

	ride.DriverID = &driverID
	now := time.Now().UTC()
	ride.AssignedAt = &now
	ride.setStatus(StatusDriverAssigned)
	return nil
}

// MarkNoDrivers transitions REQUESTED -> NO_DRIVERS_AVAILABLE.
func (ride *Ride) MarkNoDrivers() error {
	if ride.Status != StatusRequested {
		return ErrInvalidStatusTransition
	}
	ride.setStatus(StatusNoDriversAvailable)
	return nil
}

// MarkEnRoute transitions DRIVER_ASSIGNED -> EN_ROUTE.
func (ride *Ride) MarkEnRoute() error {
	if ride.DriverID == nil || *ride.DriverID == "" {
		return ErrNoDriverAssigned
	}
	if ride.Status != StatusDriverAssigned {
		return ErrInvalidStatusTransition
	}
	ride.setStatus(StatusEnRoute)
	return nil
}

// MarkArrived transitions EN_ROUTE -> ARRIVED.
func (ride *Ride) MarkArrived() error {
	if ride.DriverID == nil || *ride.DriverID == "" {
		return ErrNoDriverAssigned
	}
	if ride.Status != StatusEnRoute {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.ArrivedAt = &now
	ride.setStatus(StatusArrived)
	return nil
}

// Start transitions ARRIVED -> IN_PROGRESS.
func (ride *Ride) Start() error {
	if ride.DriverID == nil || *ride.DriverID == "" {
		return ErrNoDriverAssigned
	}
	if ride.Status != StatusArrived {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.StartedAt = &now
	ride.setStatus(StatusInProgress)
	return nil
}

// Complete transitions IN_PROGRESS -> COMPLETED.
func (ride *Ride) Complete(finalFare float64) error {
	if ride.Status != StatusInProgress {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.CompletedAt = &now
	ride.FinalFare = &finalFare
	ride.setStatus(StatusCompleted)
	return nil
}

// Cancel transitions to CANCELLED (if not terminal).
func (ride *Ride) Cancel(reason string) error {
	if ride.Status.Terminal() {
		return ErrInvalidStatusTransition
	}
	now := time.Now().UTC()
	ride.CancelledAt = &now
	if rs := strings.TrimSpace(reason); rs != "" {
		ride.CancellationReason = &rs
	}
	ride.setStatus(StatusCancelled)
	return nil
}

// ----- internal helpers -----

func (ride *Ride) setStatus(status Status) {
	ride.Status = status
	ride.UpdatedAt = time.Now().UTC()
}

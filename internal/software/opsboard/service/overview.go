package service

import (
	"context"
	"time"

	"ride-dispatch/internal/dispatch"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"
)

// GetSystemOverview collects a set of aggregate metrics about the current state of the system.
func (service *opsService) GetSystemOverview(ctx context.Context) (ports.SystemOverviewResult, error) {
	var res ports.SystemOverviewResult
	res.Timestamp = time.Now().UTC()

	// ----- Dispatch metrics -----

	states := service.dispatch.SessionStates()
	res.Dispatch.ActiveSessions = len(states)
	for _, state := range states {
		if state == dispatch.StateOfferPending {
			res.Dispatch.OffersPending++
		}
	}

	// ----- Tracking metrics -----

	res.Tracking.ActiveTrips = len(service.tracking.ActiveTrips())

	// ----- Driver pool metrics -----

	for _, vt := range []ride.VehicleType{ride.VehicleBike, ride.VehicleAuto, ride.VehicleCar} {
		available, err := service.registry.ListAvailable(ctx, vt)
		if err != nil {
			return ports.SystemOverviewResult{}, err
		}
		switch vt {
		case ride.VehicleBike:
			res.AvailableDrivers.Bike = len(available)
		case ride.VehicleAuto:
			res.AvailableDrivers.Auto = len(available)
		case ride.VehicleCar:
			res.AvailableDrivers.Car = len(available)
		}
		res.AvailableDrivers.Total += len(available)
	}

	return res, nil
}

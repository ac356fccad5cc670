// Package service orchestrates the dispatch core: it consumes ride requests
// and driver responses from RabbitMQ, runs pricing and matching, drives the
// offer protocol, and hands assigned rides to trip tracking.
package service

import (
	"context"

	"ride-dispatch/internal/dispatch"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/rabbitmq"
	"ride-dispatch/internal/matching"
	"ride-dispatch/internal/ports"
	"ride-dispatch/internal/pricing"
	"ride-dispatch/internal/registry"
	"ride-dispatch/internal/tracking"
)

// dispatcherService holds all dependencies of the dispatch orchestrator.
type dispatcherService struct {
	logger   *logger.Logger
	cfg      *config.Config
	uow      ports.UnitOfWork
	rides    ports.RideStore
	intake   ports.RideIntake
	registry registry.Registry
	matcher  *matching.Service
	dispatch *dispatch.Service
	pricing  *pricing.Service
	tracking *tracking.Manager
	rabbitmq *rabbitmq.Client
}

// Dispatcher is the orchestrator's surface used by cmd wiring.
type Dispatcher interface {
	Start(ctx context.Context)
}

// NewDispatcherService constructs the orchestrator and registers the
// assignment hook that hands assigned rides over to tracking.
func NewDispatcherService(
	log *logger.Logger,
	cfg *config.Config,
	uow ports.UnitOfWork,
	rides ports.RideStore,
	intake ports.RideIntake,
	reg registry.Registry,
	matcher *matching.Service,
	disp *dispatch.Service,
	pricer *pricing.Service,
	tracker *tracking.Manager,
	mq *rabbitmq.Client,
) Dispatcher {
	svc := &dispatcherService{
		logger:   log,
		cfg:      cfg,
		uow:      uow,
		rides:    rides,
		intake:   intake,
		registry: reg,
		matcher:  matcher,
		dispatch: disp,
		pricing:  pricer,
		tracking: tracker,
		rabbitmq: mq,
	}
	disp.SetAssignmentHook(svc.onAssigned)
	return svc
}

// Start launches the background consumers. They exit when ctx is cancelled.
func (svc *dispatcherService) Start(ctx context.Context) {
	svc.startRideRequestConsumer(ctx)
	svc.startDriverResponseConsumer(ctx)
	svc.startRideStatusConsumer(ctx)
}

// onAssigned opens trip tracking as soon as a driver is bound to the ride.
func (svc *dispatcherService) onAssigned(ctx context.Context, rideID, driverID, passengerID string) {
	if err := svc.tracking.StartTracking(ctx, rideID, driverID, passengerID); err != nil {
		svc.logger.Error(ctx, "tracking_start_failed", "Failed to start tracking for assigned ride", err,
			map[string]any{"ride_id": rideID, "driver_id": driverID})
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"ride-dispatch/internal/dispatch"
	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/pricing"
	"ride-dispatch/internal/tracking"
)

// startRideRequestConsumer consumes dispatch requests: price the trip, rank
// candidates, and kick off the offer protocol.
func (svc *dispatcherService) startRideRequestConsumer(ctx context.Context) {
	go svc.rabbitmq.Consume(ctx, contracts.QueueRideRequests, "dispatcher-ride-requests", 10,
		func(ctx context.Context, d amqp.Delivery) error {
			var request contracts.RideDispatchRequest
			if err := json.Unmarshal(d.Body, &request); err != nil {
				svc.logger.Error(ctx, "mq_message_parse_failed", "Failed to parse ride request", err,
					map[string]any{"routing_key": d.RoutingKey})
				return err
			}
			if request.CorrelationID != "" {
				ctx = logger.WithRequestID(ctx, request.CorrelationID)
			}
			return svc.handleRideRequest(ctx, request)
		})

	svc.logger.Info(ctx, "mq_consumer_started", "Ride request consumer started",
		map[string]any{"queue": contracts.QueueRideRequests})
}

func (svc *dispatcherService) handleRideRequest(ctx context.Context, request contracts.RideDispatchRequest) error {
	ctx = logger.WithRideID(ctx, request.RideID)

	vt, err := ride.ParseVehicleType(request.VehicleType)
	if err != nil {
		svc.logger.Error(ctx, "ride_request_invalid", "Ride request has invalid vehicle type", err,
			map[string]any{"vehicle_type": request.VehicleType})
		return err
	}
	pickup := geo.LatLng{Lat: request.PickupLocation.Lat, Lng: request.PickupLocation.Lng}
	destination := geo.LatLng{Lat: request.Destination.Lat, Lng: request.Destination.Lng}
	if err := pickup.Validate(); err != nil {
		svc.logger.Error(ctx, "ride_request_invalid", "Ride request has invalid pickup", err, nil)
		return err
	}

	// the request stream is the system of record intake; the insert is
	// idempotent so redeliveries are harmless
	err = svc.uow.WithinTx(ctx, func(ctx context.Context) error {
		return svc.intake.CreateRide(ctx, &ride.Ride{
			ID:                 request.RideID,
			RideNumber:         request.RideNumber,
			PassengerID:        request.PassengerID,
			VehicleType:        vt,
			Status:             ride.StatusRequested,
			Pickup:             pickup,
			PickupAddress:      request.PickupLocation.Address,
			Destination:        destination,
			DestinationAddress: request.Destination.Address,
		})
	})
	if err != nil {
		svc.logger.Error(ctx, "ride_intake_failed", "Failed to persist incoming ride", err, nil)
		return err
	}

	// pricing and matching are independent; run them side by side
	type quoteResult struct {
		quote pricing.Quote
		err   error
	}
	quoteCh := make(chan quoteResult, 1)
	go func() {
		q, err := svc.pricing.Estimate(ctx, pickup, destination, vt)
		quoteCh <- quoteResult{quote: q, err: err}
	}()

	candidates, err := svc.matcher.FindCandidates(ctx, pickup, vt, svc.cfg.Dispatch.SearchRadiusKM)
	if err != nil {
		svc.logger.Error(ctx, "matching_failed", "Candidate search failed", err, nil)
		return err
	}
	if max := svc.cfg.Dispatch.MaxCandidates; max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}

	qr := <-quoteCh
	if qr.err != nil {
		svc.logger.Error(ctx, "pricing_failed", "Fare estimation failed", qr.err, nil)
	} else {
		// persist the pricing snapshot on the ride before any offer goes out
		err := svc.uow.WithinTx(ctx, func(ctx context.Context) error {
			return svc.rides.UpdateRideStatus(ctx, request.RideID, ride.StatusRequested, map[string]any{
				"estimated_fare": qr.quote.EstimatedFare,
				"region":         qr.quote.Region.String(),
			})
		})
		if err != nil {
			svc.logger.Error(ctx, "fare_persist_failed", "Failed to store fare estimate on ride", err, nil)
		}
	}

	err = svc.dispatch.StartDispatch(ctx, request.RideID, pickup, candidates)
	switch {
	case errors.Is(err, dispatch.ErrNoDriversAvailable):
		// terminal outcome already recorded and notified
		return nil
	case errors.Is(err, dispatch.ErrAlreadyDispatching):
		svc.logger.Warn(ctx, "duplicate_ride_request", "Dispatch already running for ride", nil)
		return nil
	default:
		return err
	}
}

// startDriverResponseConsumer consumes offer responses arriving over MQ (the
// websocket path feeds the dispatch service directly).
func (svc *dispatcherService) startDriverResponseConsumer(ctx context.Context) {
	go svc.rabbitmq.Consume(ctx, contracts.QueueDriverResponses, "dispatcher-driver-responses", 10,
		func(ctx context.Context, d amqp.Delivery) error {
			var response contracts.DriverOfferResponse
			if err := json.Unmarshal(d.Body, &response); err != nil {
				svc.logger.Error(ctx, "mq_message_parse_failed", "Failed to parse driver response", err,
					map[string]any{"routing_key": d.RoutingKey})
				return err
			}
			if response.CorrelationID != "" {
				ctx = logger.WithRequestID(ctx, response.CorrelationID)
			}

			err := svc.dispatch.HandleResponse(ctx, response.RideID, response.DriverID, response.Accepted)
			if errors.Is(err, dispatch.ErrStaleResponse) {
				// timeout races and duplicates end up here; already logged
				return nil
			}
			return err
		})

	svc.logger.Info(ctx, "mq_consumer_started", "Driver response consumer started",
		map[string]any{"queue": contracts.QueueDriverResponses})
}

// startRideStatusConsumer watches ride lifecycle transitions published by the
// wider platform and closes out tracking and the driver claim on terminal
// statuses.
func (svc *dispatcherService) startRideStatusConsumer(ctx context.Context) {
	go svc.rabbitmq.Consume(ctx, contracts.QueueRideStatus, "dispatcher-ride-status", 10,
		func(ctx context.Context, d amqp.Delivery) error {
			var msg contracts.RideStatusMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				svc.logger.Error(ctx, "mq_message_parse_failed", "Failed to parse ride status", err,
					map[string]any{"routing_key": d.RoutingKey})
				return err
			}
			ctx = logger.WithRideID(ctx, msg.RideID)

			status, err := ride.ParseStatus(msg.Status)
			if err != nil {
				svc.logger.Warn(ctx, "ride_status_unknown", "Ignoring unknown ride status",
					map[string]any{"status": msg.Status})
				return nil
			}
			if !status.Terminal() {
				return nil
			}
			svc.finishRide(ctx, msg, status)
			return nil
		})

	svc.logger.Info(ctx, "mq_consumer_started", "Ride status consumer started",
		map[string]any{"queue": contracts.QueueRideStatus})
}

// finishRide tears down tracking and releases the driver once a ride reaches
// a terminal state. A cancellation during dispatch also closes the offer
// session.
func (svc *dispatcherService) finishRide(ctx context.Context, msg contracts.RideStatusMessage, status ride.Status) {
	if status == ride.StatusCancelled {
		if err := svc.dispatch.CancelDispatch(ctx, msg.RideID); err != nil {
			svc.logger.Error(ctx, "dispatch_cancel_failed", "Failed to cancel dispatch session", err, nil)
		}
	}

	reason := msg.Reason
	if reason == "" {
		reason = status.String()
	}
	if err := svc.tracking.StopTracking(ctx, msg.RideID, reason); err != nil && !errors.Is(err, tracking.ErrNotTracked) {
		svc.logger.Error(ctx, "tracking_stop_failed", "Failed to stop tracking", err, nil)
	}

	driverID := msg.DriverID
	if driverID == "" {
		rd, err := svc.rides.GetRide(ctx, msg.RideID)
		if err != nil {
			svc.logger.Error(ctx, "ride_lookup_failed", "Cannot resolve driver for terminal ride", err, nil)
			return
		}
		if rd.DriverID != nil {
			driverID = *rd.DriverID
		}
	}
	if driverID == "" {
		return
	}

	if err := svc.registry.Release(ctx, driverID, msg.RideID); err != nil {
		svc.logger.Warn(ctx, "driver_release_failed", "Could not release driver claim",
			map[string]any{"driver_id": driverID, "error": err.Error()})
		return
	}
	svc.logger.Info(ctx, "driver_released", "Driver released back to the available pool",
		map[string]any{"driver_id": driverID})
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRideNotFound = errors.New("ride not found")

// RideRepo persists rides using pgx and plain SQL. Methods join an ambient
// transaction when called inside UnitOfWork.WithinTx and otherwise run
// directly against the pool.
type RideRepo struct {
	pool *pgxpool.Pool
}

// NewRideRepo constructs a RideRepo bound to the given pool.
func NewRideRepo(pool *pgxpool.Pool) *RideRepo {
	return &RideRepo{pool: pool}
}

var (
	_ ports.RideStore  = (*RideRepo)(nil)
	_ ports.RideIntake = (*RideRepo)(nil)
)

// querier is the query surface shared by pgx.Tx and *pgxpool.Pool, so repo
// methods join an ambient transaction when one is in the context.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (repo *RideRepo) q(ctx context.Context) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return repo.pool
}

// CreateRide inserts a new ride row and writes the initial RIDE_REQUESTED
// event. Replayed deliveries carrying an existing ride ID leave the row
// untouched and write no event.
func (repo *RideRepo) CreateRide(ctx context.Context, rd *ride.Ride) error {
	if rd.ID == "" {
		rd.ID = uuid.NewString()
	}
	q := repo.q(ctx)

	tag, err := q.Exec(ctx, `
		INSERT INTO rides (
			id, ride_number, passenger_id, vehicle_type, status,
			pickup_lat, pickup_lng, pickup_address,
			destination_lat, destination_lng, destination_address,
			estimated_fare, region
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`,
		rd.ID,
		rd.RideNumber,
		rd.PassengerID,
		rd.VehicleType.String(),
		rd.Status.String(),
		rd.Pickup.Lat, rd.Pickup.Lng, rd.PickupAddress,
		rd.Destination.Lat, rd.Destination.Lng, rd.DestinationAddress,
		rd.EstimatedFare,
		rd.Region,
	)
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	return repo.insertEvent(ctx, rd.ID, "RIDE_REQUESTED", map[string]any{
		"new_status":   rd.Status.String(),
		"vehicle_type": rd.VehicleType.String(),
	})
}

// GetRide fetches a ride by primary key.
func (repo *RideRepo) GetRide(ctx context.Context, rideID string) (*ride.Ride, error) {
	q := repo.q(ctx)

	var out ride.Ride
	var vehicleType, status string

	err := q.QueryRow(ctx, `
		SELECT
			id, created_at, updated_at, ride_number, passenger_id, driver_id,
			vehicle_type, status,
			pickup_lat, pickup_lng, pickup_address,
			destination_lat, destination_lng, destination_address,
			estimated_fare, final_fare, region,
			requested_at, assigned_at, arrived_at, started_at, completed_at,
			cancelled_at, cancellation_reason
		FROM rides
		WHERE id = $1
	`, rideID).Scan(
		&out.ID, &out.CreatedAt, &out.UpdatedAt, &out.RideNumber, &out.PassengerID, &out.DriverID,
		&vehicleType, &status,
		&out.Pickup.Lat, &out.Pickup.Lng, &out.PickupAddress,
		&out.Destination.Lat, &out.Destination.Lng, &out.DestinationAddress,
		&out.EstimatedFare, &out.FinalFare, &out.Region,
		&out.RequestedAt, &out.AssignedAt, &out.ArrivedAt, &out.StartedAt, &out.CompletedAt,
		&out.CancelledAt, &out.CancellationReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRideNotFound
		}
		return nil, err
	}
	out.VehicleType = ride.VehicleType(vehicleType)
	out.Status = ride.Status(status)

	return &out, nil
}

// UpdateRideStatus transitions the ride, stamps the matching timeline column,
// patches any extra columns, and records a ride event. The current status is
// read under FOR UPDATE so concurrent transitions serialize on the row.
func (repo *RideRepo) UpdateRideStatus(ctx context.Context, rideID string, status ride.Status, fields map[string]any) error {
	if !status.Valid() {
		return ride.ErrInvalidStatus
	}
	q := repo.q(ctx)

	var current string
	err := q.QueryRow(ctx, `
		SELECT status
		FROM rides
		WHERE id = $1
		FOR UPDATE
	`, rideID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRideNotFound
		}
		return err
	}

	sameStatus := current == status.String()
	if sameStatus && len(fields) == 0 {
		// idempotent success
		return nil
	}
	if !sameStatus && !ride.Status(current).CanTransitionTo(status) {
		return ride.ErrInvalidStatusTransition
	}

	now := time.Now().UTC()
	set := "status = $1, updated_at = $2"
	args := []any{status.String(), now}

	if col := timelineColumnFor(status); !sameStatus && col != "" {
		set += fmt.Sprintf(", %s = $%d", col, len(args)+1)
		args = append(args, now)
	}
	for _, col := range patchableColumns {
		if v, ok := fields[col]; ok {
			set += fmt.Sprintf(", %s = $%d", col, len(args)+1)
			args = append(args, v)
		}
	}
	args = append(args, rideID)

	tag, err := q.Exec(ctx, fmt.Sprintf("UPDATE rides SET %s WHERE id = $%d", set, len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRideNotFound
	}

	eventData := map[string]any{
		"old_status": current,
		"new_status": status.String(),
		"timestamp":  now.Format(time.RFC3339),
	}
	for k, v := range fields {
		eventData[k] = v
	}
	evType := eventTypeFor(status)
	if sameStatus {
		// fields-only patch, no transition happened
		evType = "RIDE_UPDATED"
	}
	return repo.insertEvent(ctx, rideID, evType, eventData)
}

// --- helpers ---

// patchableColumns whitelists the extra columns UpdateRideStatus may set;
// fields is caller-supplied and never interpolated blindly.
var patchableColumns = []string{"driver_id", "estimated_fare", "final_fare", "cancellation_reason", "region"}

// insertEvent writes a row into ride_events with encoded event_data.
func (repo *RideRepo) insertEvent(ctx context.Context, rideID, eventType string, eventData any) error {
	body, err := json.Marshal(eventData)
	if err != nil {
		return err
	}
	_, err = repo.q(ctx).Exec(ctx, `
		INSERT INTO ride_events (ride_id, event_type, event_data)
		VALUES ($1, $2, $3::jsonb)
	`, rideID, eventType, string(body))
	return err
}

// timelineColumnFor maps a status to the timeline column that must be stamped.
func timelineColumnFor(status ride.Status) string {
	switch status {
	case ride.StatusDriverAssigned:
		return "assigned_at"
	case ride.StatusArrived:
		return "arrived_at"
	case ride.StatusInProgress:
		return "started_at"
	case ride.StatusCompleted:
		return "completed_at"
	case ride.StatusCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}

// eventTypeFor returns a more precise event name when appropriate.
func eventTypeFor(status ride.Status) string {
	switch status {
	case ride.StatusDriverAssigned:
		return "DRIVER_ASSIGNED"
	case ride.StatusNoDriversAvailable:
		return "NO_DRIVERS_AVAILABLE"
	case ride.StatusArrived:
		return "DRIVER_ARRIVED"
	case ride.StatusInProgress:
		return "RIDE_STARTED"
	case ride.StatusCompleted:
		return "RIDE_COMPLETED"
	case ride.StatusCancelled:
		return "RIDE_CANCELLED"
	default:
		return "STATUS_CHANGED"
	}
}

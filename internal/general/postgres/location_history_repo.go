package postgres

import (
	"context"
	"errors"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LocationHistoryRepo archives accepted driver fixes using pgx and plain SQL.
type LocationHistoryRepo struct {
	pool *pgxpool.Pool
}

// NewLocationHistoryRepo constructs a LocationHistoryRepo bound to the pool.
func NewLocationHistoryRepo(pool *pgxpool.Pool) *LocationHistoryRepo {
	return &LocationHistoryRepo{pool: pool}
}

var (
	_ ports.LocationArchiver   = (*LocationHistoryRepo)(nil)
	_ ports.LastLocationSource = (*LocationHistoryRepo)(nil)
)

func (repo *LocationHistoryRepo) q(ctx context.Context) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return repo.pool
}

// Archive inserts a single location_history record.
func (repo *LocationHistoryRepo) Archive(ctx context.Context, driverID string, rideID *string, fix geo.Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}

	_, err := repo.q(ctx).Exec(ctx, `
		INSERT INTO location_history (
			driver_id, ride_id, latitude, longitude,
			accuracy_meters, speed_kmh, heading_degrees, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		driverID,
		rideID,
		fix.Position.Lat,
		fix.Position.Lng,
		fix.AccuracyMeters,
		fix.SpeedKMH,
		fix.HeadingDegrees,
		fix.RecordedAt,
	)
	return err
}

// LatestFix returns the newest archived fix for a driver, or nil when the
// driver never reported a location.
func (repo *LocationHistoryRepo) LatestFix(ctx context.Context, driverID string) (*geo.Fix, error) {
	var fix geo.Fix
	err := repo.q(ctx).QueryRow(ctx, `
		SELECT latitude, longitude, accuracy_meters, speed_kmh, heading_degrees, recorded_at
		FROM location_history
		WHERE driver_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`, driverID).Scan(
		&fix.Position.Lat,
		&fix.Position.Lng,
		&fix.AccuracyMeters,
		&fix.SpeedKMH,
		&fix.HeadingDegrees,
		&fix.RecordedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fix, nil
}

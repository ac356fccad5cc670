package postgres

import (
	"context"
	"time"

	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DemandRepo counts regional ride activity for the demand index.
type DemandRepo struct {
	pool *pgxpool.Pool
}

// NewDemandRepo constructs a DemandRepo bound to the given pool.
func NewDemandRepo(pool *pgxpool.Pool) ports.DemandCounter {
	return &DemandRepo{pool: pool}
}

func (repo *DemandRepo) q(ctx context.Context) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return repo.pool
}

// CountActiveRides returns how many rides for the region were requested
// within the trailing window and are still in an active state.
func (repo *DemandRepo) CountActiveRides(ctx context.Context, region string, window time.Duration) (int, error) {
	since := time.Now().UTC().Add(-window)

	var count int
	err := repo.q(ctx).QueryRow(ctx, `
		SELECT count(*)
		FROM rides
		WHERE region = $1
		  AND requested_at >= $2
		  AND status IN ('REQUESTED', 'DRIVER_ASSIGNED', 'EN_ROUTE', 'ARRIVED', 'IN_PROGRESS')
	`, region, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

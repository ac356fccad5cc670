package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/pricing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ZoneRepo serves pricing reference data: zone polygons and tariffs.
// Implements pricing.ZoneSource and pricing.RateSource.
type ZoneRepo struct {
	pool *pgxpool.Pool
}

// NewZoneRepo constructs a ZoneRepo bound to the given pool.
func NewZoneRepo(pool *pgxpool.Pool) *ZoneRepo {
	return &ZoneRepo{pool: pool}
}

func (repo *ZoneRepo) q(ctx context.Context) querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return repo.pool
}

// ActiveZones returns every active pricing zone. The polygon column holds a
// JSON array of [lat, lng] pairs.
func (repo *ZoneRepo) ActiveZones(ctx context.Context) ([]pricing.Zone, error) {
	rows, err := repo.q(ctx).Query(ctx, `
		SELECT name, region, polygon
		FROM pricing_zones
		WHERE is_active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query pricing zones: %w", err)
	}
	defer rows.Close()

	var zones []pricing.Zone
	for rows.Next() {
		var (
			z   pricing.Zone
			reg string
			raw []byte
		)
		if err := rows.Scan(&z.Name, &reg, &raw); err != nil {
			return nil, fmt.Errorf("scan pricing zone: %w", err)
		}
		z.Region = pricing.Region(reg)

		poly, err := decodePolygon(raw)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", z.Name, err)
		}
		z.Polygon = poly
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// Rates returns the tariff for a region and vehicle type, or nil when none
// is configured.
func (repo *ZoneRepo) Rates(ctx context.Context, region pricing.Region, vt ride.VehicleType) (*pricing.RateConfig, error) {
	var rc pricing.RateConfig
	err := repo.q(ctx).QueryRow(ctx, `
		SELECT base_fare, per_km, per_minute, surge_multiplier
		FROM pricing_configs
		WHERE region = $1 AND vehicle_type = $2 AND is_active = true
	`, region.String(), vt.String()).Scan(&rc.BaseFare, &rc.PerKM, &rc.PerMinute, &rc.Surge)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rc, nil
}

// decodePolygon parses a JSON array of [lat, lng] pairs into a Polygon.
func decodePolygon(raw []byte) (geo.Polygon, error) {
	var pairs [][]float64
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("decode polygon: %w", err)
	}
	poly := make(geo.Polygon, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, errors.New("polygon vertex must be a [lat, lng] pair")
		}
		poly = append(poly, geo.LatLng{Lat: p[0], Lng: p[1]})
	}
	return poly, nil
}

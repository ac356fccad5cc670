package pricing

import (
	"context"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
)

// Region is a pricing region classification.
type Region string

const (
	RegionCity Region = "city"
	RegionHill Region = "hill"
)

// String returns the string representation of the Region.
func (r Region) String() string {
	return string(r)
}

// Zone is a named pricing zone with a polygon boundary.
type Zone struct {
	Name    string
	Region  Region
	Polygon geo.Polygon
}

// RateConfig is the per-(region, vehicle type) tariff.
type RateConfig struct {
	BaseFare  float64
	PerKM     float64
	PerMinute float64
	// Surge is the operator-configured multiplier for this tariff, applied
	// on top of the computed demand surge. 1.0 when unset.
	Surge float64
}

// ZoneSource returns the active pricing zones. Slow-changing reference data;
// callers cache results aggressively.
type ZoneSource interface {
	ActiveZones(ctx context.Context) ([]Zone, error)
}

// RateSource returns the tariff for a region and vehicle type. A nil result
// with nil error means no tariff is configured and defaults apply.
type RateSource interface {
	Rates(ctx context.Context, region Region, vt ride.VehicleType) (*RateConfig, error)
}

// hillFallbackBox is the bounding-box heuristic used when no configured zone
// contains either trip endpoint. It covers the Nilgiris hill belt; anything
// outside prices as city.
var hillFallbackBox = geo.BoundingBox{
	MinLat: 11.20,
	MaxLat: 11.60,
	MinLng: 76.40,
	MaxLng: 77.00,
}

// detectRegion classifies a trip into a region. A trip is in a zone's region
// if either endpoint falls inside its polygon; with no polygon match the hill
// bounding box decides, and everything else is city.
func detectRegion(zones []Zone, pickup, destination geo.LatLng) Region {
	for _, z := range zones {
		if z.Polygon.Contains(pickup) || z.Polygon.Contains(destination) {
			return z.Region
		}
	}
	if hillFallbackBox.Contains(pickup) || hillFallbackBox.Contains(destination) {
		return RegionHill
	}
	return RegionCity
}

// defaultRates returns the hardcoded tariff fallback.
func defaultRates(region Region, vt ride.VehicleType) RateConfig {
	hill := region == RegionHill

	switch vt {
	case ride.VehicleBike:
		rc := RateConfig{BaseFare: 30, PerKM: 10, PerMinute: 1, Surge: 1.0}
		if hill {
			rc.PerKM = 18
		}
		return rc
	default:
		// car and auto share the car tariff
		rc := RateConfig{BaseFare: 50, PerKM: 14, PerMinute: 2, Surge: 1.0}
		if hill {
			rc.PerKM = 25
		}
		return rc
	}
}

// Package pricing produces fare quotes: region detection, demand-indexed
// surge, and a fare formula with short-TTL caching. A quote is always
// producible; dependency failures degrade precision, never availability.
package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mmcloughlin/geohash"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"
)

const (
	// quoteKeyPrecision buckets coordinates to ~±0.6 km so nearby requests
	// share a cache entry.
	quoteKeyPrecision = 6

	// zonesTTL bounds how long the zone list is served from cache. Zones are
	// slow-changing reference data.
	zonesTTL = 10 * time.Minute

	// haversineDurationFactor synthesizes a duration when routing is down.
	haversineDurationFactor = 3.0

	surgeHillBump     = 0.10
	surgeLongTripBump = 0.05
	surgeDemandCap    = 0.70
	surgeDemandSlope  = 0.5
	longTripMinutes   = 60.0
)

// Quote is a fare estimate with the inputs that produced it, for
// transparency and auditing.
type Quote struct {
	Pickup          geo.LatLng       `json:"pickup"`
	Destination     geo.LatLng       `json:"destination"`
	VehicleType     ride.VehicleType `json:"vehicle_type"`
	Region          Region           `json:"region"`
	DistanceKM      float64          `json:"distance_km"`
	DurationMin     float64          `json:"duration_min"`
	SurgeMultiplier float64          `json:"surge_multiplier"`
	DemandIndex     float64          `json:"demand_index"`
	EstimatedFare   float64          `json:"estimated_fare"`
	Currency        string           `json:"currency"`
	// Degraded marks a quote computed through one or more fallbacks.
	Degraded bool `json:"degraded,omitempty"`
}

// Service is the pricing engine.
type Service struct {
	zones  ZoneSource
	rates  RateSource
	demand ports.DemandCounter
	router ports.Router
	logger *logger.Logger
	cfg    config.PricingConfig

	quoteCache  *ttlCache[Quote]
	demandCache *ttlCache[float64]
	routeCache  *ttlCache[ports.RouteEstimate]
	zoneCache   *ttlCache[[]Zone]
}

// NewService creates a pricing service with caches sized from cfg.
func NewService(zones ZoneSource, rates RateSource, demand ports.DemandCounter, router ports.Router, log *logger.Logger, cfg config.PricingConfig) *Service {
	return &Service{
		zones:       zones,
		rates:       rates,
		demand:      demand,
		router:      router,
		logger:      log,
		cfg:         cfg,
		quoteCache:  newTTLCache[Quote](cfg.QuoteTTL()),
		demandCache: newTTLCache[float64](cfg.DemandTTL()),
		routeCache:  newTTLCache[ports.RouteEstimate](cfg.RouteTTL()),
		zoneCache:   newTTLCache[[]Zone](zonesTTL),
	}
}

// Estimate returns a fare quote for a trip. Only invalid inputs produce an
// error; every downstream failure is absorbed by a fallback and flagged on
// the quote instead.
func (s *Service) Estimate(ctx context.Context, pickup, destination geo.LatLng, vt ride.VehicleType) (Quote, error) {
	if err := pickup.Validate(); err != nil {
		return Quote{}, err
	}
	if err := destination.Validate(); err != nil {
		return Quote{}, err
	}
	if !vt.Valid() {
		return Quote{}, ride.ErrInvalidVehicleType
	}

	key := quoteKey(pickup, destination, vt)
	if q, ok := s.quoteCache.get(key); ok {
		s.logger.Debug(ctx, "quote_cache_hit", "Served fare quote from cache",
			map[string]any{"key": key})
		return q, nil
	}

	degraded := false

	region := s.detectRegion(ctx, pickup, destination, &degraded)
	route := s.routeFor(ctx, pickup, destination, &degraded)
	demandIndex := s.demandIndexFor(ctx, region, &degraded)
	rc := s.ratesFor(ctx, region, vt, &degraded)

	surge := computeSurge(region, route.DurationMin, demandIndex)
	fare := math.Round((rc.BaseFare + route.DistanceKM*rc.PerKM + route.DurationMin*rc.PerMinute) * rc.Surge * surge)

	q := Quote{
		Pickup:          pickup,
		Destination:     destination,
		VehicleType:     vt,
		Region:          region,
		DistanceKM:      route.DistanceKM,
		DurationMin:     route.DurationMin,
		SurgeMultiplier: surge,
		DemandIndex:     demandIndex,
		EstimatedFare:   fare,
		Currency:        s.cfg.Currency,
		Degraded:        degraded,
	}
	s.quoteCache.set(key, q)

	s.logger.Info(ctx, "fare_estimated", "Computed fare quote",
		map[string]any{
			"region":       region.String(),
			"vehicle_type": vt.String(),
			"distance_km":  q.DistanceKM,
			"duration_min": q.DurationMin,
			"surge":        q.SurgeMultiplier,
			"demand_index": q.DemandIndex,
			"fare":         q.EstimatedFare,
			"degraded":     q.Degraded,
		})

	return q, nil
}

// computeSurge composes the surge multiplier additively: base 1.0, a bump
// for hill terrain, a bump for long trips, and a capped demand component.
func computeSurge(region Region, durationMin, demandIndex float64) float64 {
	surge := 1.0
	if region == RegionHill {
		surge += surgeHillBump
	}
	if durationMin > longTripMinutes {
		surge += surgeLongTripBump
	}
	if demandIndex > 1.0 {
		surge += math.Min(surgeDemandCap, (demandIndex-1.0)*surgeDemandSlope)
	}
	return math.Round(surge*100) / 100
}

// detectRegion classifies the trip, serving the zone list from cache. A zone
// lookup failure degrades to the bounding-box heuristic over no zones.
func (s *Service) detectRegion(ctx context.Context, pickup, destination geo.LatLng, degraded *bool) Region {
	zones, ok := s.zoneCache.get("zones")
	if !ok {
		loaded, err := s.zones.ActiveZones(ctx)
		if err != nil {
			s.logger.Warn(ctx, "zone_lookup_failed", "Falling back to bounding-box region detection",
				map[string]any{"error": err.Error()})
			*degraded = true
			return detectRegion(nil, pickup, destination)
		}
		zones = loaded
		s.zoneCache.set("zones", zones)
	}
	return detectRegion(zones, pickup, destination)
}

// routeFor resolves road distance/duration, cached. A routing failure falls
// back to haversine distance with a synthesized duration.
func (s *Service) routeFor(ctx context.Context, pickup, destination geo.LatLng, degraded *bool) ports.RouteEstimate {
	key := routeKey(pickup, destination)
	if est, ok := s.routeCache.get(key); ok {
		return est
	}

	est, err := s.router.RouteDistanceDuration(ctx, pickup, destination)
	if err != nil || est.DistanceKM <= 0 {
		dist := geo.HaversineKM(pickup, destination)
		est = ports.RouteEstimate{
			DistanceKM:  dist,
			DurationMin: dist * haversineDurationFactor,
		}
		*degraded = true
		s.logger.Warn(ctx, "routing_fallback", "Routing lookup failed; using haversine estimate",
			map[string]any{"distance_km": est.DistanceKM})
	}
	s.routeCache.set(key, est)
	return est
}

// demandIndexFor computes the regional demand index, cached per region.
// Index = active rides in the trailing window / baseline, floored at 1.0 so
// low demand never suppresses price below base.
func (s *Service) demandIndexFor(ctx context.Context, region Region, degraded *bool) float64 {
	if idx, ok := s.demandCache.get(region.String()); ok {
		return idx
	}

	count, err := s.demand.CountActiveRides(ctx, region.String(), s.cfg.DemandWindow())
	if err != nil {
		s.logger.Warn(ctx, "demand_lookup_failed", "Falling back to baseline demand index",
			map[string]any{"region": region.String(), "error": err.Error()})
		*degraded = true
		return 1.0
	}

	idx := float64(count) / float64(s.cfg.DemandBaseline)
	if idx < 1.0 {
		idx = 1.0
	}
	s.demandCache.set(region.String(), idx)
	return idx
}

// ratesFor loads the configured tariff, falling back to hardcoded defaults.
func (s *Service) ratesFor(ctx context.Context, region Region, vt ride.VehicleType, degraded *bool) RateConfig {
	rc, err := s.rates.Rates(ctx, region, vt)
	if err != nil {
		s.logger.Warn(ctx, "rate_lookup_failed", "Falling back to default tariff",
			map[string]any{"region": region.String(), "vehicle_type": vt.String(), "error": err.Error()})
		*degraded = true
		return defaultRates(region, vt)
	}
	if rc == nil {
		return defaultRates(region, vt)
	}
	out := *rc
	if out.Surge <= 0 {
		out.Surge = 1.0
	}
	return out
}

func quoteKey(pickup, destination geo.LatLng, vt ride.VehicleType) string {
	return fmt.Sprintf("%s:%s:%s",
		geohash.EncodeWithPrecision(pickup.Lat, pickup.Lng, quoteKeyPrecision),
		geohash.EncodeWithPrecision(destination.Lat, destination.Lng, quoteKeyPrecision),
		vt.String(),
	)
}

func routeKey(pickup, destination geo.LatLng) string {
	return geohash.EncodeWithPrecision(pickup.Lat, pickup.Lng, quoteKeyPrecision) + ":" +
		geohash.EncodeWithPrecision(destination.Lat, destination.Lng, quoteKeyPrecision)
}

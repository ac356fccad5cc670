// Package matching finds the ranked list of drivers eligible for a ride.
package matching

import (
	"context"
	"math"
	"sort"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"
	"ride-dispatch/internal/registry"
)

const (
	// pickupSpeedKMH is the assumed approach speed for the arrival estimate.
	pickupSpeedKMH = 30.0
	minArrivalMin  = 2
	maxArrivalMin  = 30
)

// Candidate is one ranked entry of the candidate queue.
type Candidate struct {
	DriverID            string
	DistanceKM          float64
	EstimatedArrivalMin int
}

// Service performs read-only candidate searches against the driver registry.
type Service struct {
	registry  registry.Registry
	locations ports.LastLocationSource
	logger    *logger.Logger
}

// NewService creates a matching service. locations serves persisted fixes for
// drivers whose registry heartbeat has lapsed; it may be nil, in which case
// such drivers are simply excluded.
func NewService(reg registry.Registry, locations ports.LastLocationSource, log *logger.Logger) *Service {
	return &Service{registry: reg, locations: locations, logger: log}
}

// FindCandidates returns available drivers of the vehicle type within
// radiusKM of pickup, nearest first. Per-driver lookup failures skip that
// driver rather than failing the call; an empty result is a valid outcome.
func (s *Service) FindCandidates(ctx context.Context, pickup geo.LatLng, vt ride.VehicleType, radiusKM float64) ([]Candidate, error) {
	if err := pickup.Validate(); err != nil {
		return nil, err
	}

	pool, err := s.registry.ListAvailable(ctx, vt)
	if err != nil {
		s.logger.Error(ctx, "candidate_pool_lookup_failed", "Failed to list available drivers", err,
			map[string]any{"vehicle_type": vt.String()})
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(pool))
	for _, av := range pool {
		fix := av.LastFix
		if fix == nil {
			// heartbeat lapsed past the registry TTL; fall back to the last
			// persisted fix so a claimable driver stays visible
			fix = s.lastPersistedFix(ctx, av.DriverID)
		}
		if fix == nil {
			continue
		}
		dist := geo.HaversineKM(pickup, fix.Position)
		if dist > radiusKM {
			continue
		}
		candidates = append(candidates, Candidate{
			DriverID:            av.DriverID,
			DistanceKM:          dist,
			EstimatedArrivalMin: estimatedArrivalMinutes(dist),
		})
	}

	// nearest first; tie-break on driver ID for deterministic ordering
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKM != candidates[j].DistanceKM {
			return candidates[i].DistanceKM < candidates[j].DistanceKM
		}
		return candidates[i].DriverID < candidates[j].DriverID
	})

	s.logger.Debug(ctx, "candidates_ranked", "Ranked candidate drivers for pickup",
		map[string]any{
			"vehicle_type": vt.String(),
			"radius_km":    radiusKM,
			"pool_size":    len(pool),
			"candidates":   len(candidates),
		})

	return candidates, nil
}

// lastPersistedFix is the second-tier location lookup. Lookup failures skip
// the driver like any other per-driver error.
func (s *Service) lastPersistedFix(ctx context.Context, driverID string) *geo.Fix {
	if s.locations == nil {
		return nil
	}
	fix, err := s.locations.LatestFix(ctx, driverID)
	if err != nil {
		s.logger.Debug(ctx, "persisted_location_lookup_failed", "Could not load last persisted fix",
			map[string]any{"driver_id": driverID, "error": err.Error()})
		return nil
	}
	return fix
}

// estimatedArrivalMinutes converts distance to a clamped arrival estimate.
func estimatedArrivalMinutes(distanceKM float64) int {
	min := int(math.Round(distanceKM / pickupSpeedKMH * 60.0))
	if min < minArrivalMin {
		return minArrivalMin
	}
	if min > maxArrivalMin {
		return maxArrivalMin
	}
	return min
}

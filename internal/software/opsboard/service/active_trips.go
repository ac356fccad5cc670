package service

import (
	"context"
	"strconv"

	"ride-dispatch/internal/ports"
)

// GetActiveTrips returns a paginated list of live trips.
func (service *opsService) GetActiveTrips(ctx context.Context, page, pageSize string) (ports.ActiveTripsResult, error) {
	// convert page and pageSize to integers with fallback defaults
	pageInt, err := strconv.Atoi(page)
	if err != nil || pageInt < 1 {
		pageInt = 1
	}
	sizeInt, err := strconv.Atoi(pageSize)
	if err != nil || sizeInt < 1 {
		sizeInt = 10
	}

	var res ports.ActiveTripsResult
	res.Page = pageInt
	res.PageSize = sizeInt

	trips := service.tracking.ActiveTrips()
	res.TotalCount = len(trips)

	// page slice
	offset := (pageInt - 1) * sizeInt
	if offset > len(trips) {
		offset = len(trips)
	}
	end := offset + sizeInt
	if end > len(trips) {
		end = len(trips)
	}

	// map to API DTO
	res.Trips = make([]ports.ActiveTripRow, 0, end-offset)
	for _, snap := range trips[offset:end] {
		row := ports.ActiveTripRow{
			RideID:         snap.RideID,
			DriverID:       snap.DriverID,
			CustomerID:     snap.CustomerID,
			StartedAt:      snap.StartedAt.UTC(),
			ETAMinutes:     snap.ETAMinutes,
			PointsRecorded: snap.HistoryCount,
		}
		if snap.LastFix != nil {
			row.LastLocation = &ports.GeoPoint{
				Latitude:  snap.LastFix.Position.Lat,
				Longitude: snap.LastFix.Position.Lng,
			}
		}
		res.Trips = append(res.Trips, row)
	}
	return res, nil
}

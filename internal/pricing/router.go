package pricing

import (
	"context"
	"errors"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/ports"
)

// errNoRouter marks the absence of a routing backend; estimates then come
// from the haversine fallback.
var errNoRouter = errors.New("pricing: no routing backend configured")

// NoRouter is a ports.Router for deployments without a routing backend.
// Every call fails, which steers Estimate onto the haversine fallback.
type NoRouter struct{}

var _ ports.Router = NoRouter{}

func (NoRouter) RouteDistanceDuration(context.Context, geo.LatLng, geo.LatLng) (ports.RouteEstimate, error) {
	return ports.RouteEstimate{}, errNoRouter
}

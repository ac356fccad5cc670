package ports

import (
	"context"

	"ride-dispatch/internal/domain/geo"
)

// Notifier delivers an event to one recipient (driver, passenger, or the ops
// channel). The core calls it synchronously but treats delivery as
// fire-and-forget: a failed notification is logged by the implementation and
// never propagated into dispatch/tracking decisions.
type Notifier interface {
	Notify(ctx context.Context, recipientID, eventType string, payload any) error
}

// RouteEstimate is a routing lookup result.
type RouteEstimate struct {
	DistanceKM  float64
	DurationMin float64
}

// Router resolves road distance/duration between two points. Implementations
// may fail or time out; callers must always have a fallback.
type Router interface {
	RouteDistanceDuration(ctx context.Context, from, to geo.LatLng) (RouteEstimate, error)
}

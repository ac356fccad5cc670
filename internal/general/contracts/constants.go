package contracts

// Exchanges
const (
	ExchangeRideTopic      = "ride_topic"
	ExchangeDriverTopic    = "driver_topic"
	ExchangeNotifyTopic    = "notify_topic"
	ExchangeLocationFanout = "location_fanout"
)

// Queues
const (
	QueueRideRequests    = "ride_requests"
	QueueRideStatus      = "ride_status"
	QueueDriverResponses = "driver_responses"
	QueueNotifications   = "notifications"
	QueueLocationUpdates = "location_updates_ride"
)

// Routing patterns
const (
	RouteRideRequestPrefix = "ride.request."    // {vehicle_type}
	RouteRideStatusPrefix  = "ride.status."     // {status}
	RouteDriverRespPrefix  = "driver.response." // {ride_id}
	RouteNotifyPrefix      = "notify."          // {recipient_id}
)

// Event types carried by Notification.EventType. One notification is sent per
// meaningful transition; delivery is best-effort.
const (
	EventRideOffer          = "ride_offer"
	EventOfferWithdrawn     = "offer_withdrawn"
	EventDriverAssigned     = "driver_assigned"
	EventNoDriversAvailable = "no_drivers_available"
	EventTrackingStarted    = "tracking_started"
	EventTrackingStopped    = "tracking_stopped"
	EventDriverLocation     = "driver_location"
	EventArrivedPickup      = "arrived_pickup"
	EventArrivedDestination = "arrived_destination"
	EventEmergencyAlert     = "emergency_alert"
)

// OpsChannelID is the synthetic recipient for operations-room broadcasts.
const OpsChannelID = "ops"

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/ride"
)

const (
	driverKeyPrefix   = "registry:driver:"    // hash: vehicle_type, available, ride_id, loc_ts
	locationKeySuffix = ":loc"                // string: JSON fix, TTL-bound
	availableSetKey   = "registry:available:" // set per vehicle type
)

// Scripts keep each state change atomic on the Redis side; the registry is
// mutated from many dispatch sessions at once and the claim/release pair is
// the double-booking guard.
var (
	onlineScript = redis.NewScript(`
redis.call("HSET", KEYS[1], "vehicle_type", ARGV[1])
local rideID = redis.call("HGET", KEYS[1], "ride_id")
if not rideID or rideID == "" then
	redis.call("HSET", KEYS[1], "available", "1")
	redis.call("SADD", KEYS[2], ARGV[2])
end
return 1
`)

	offlineScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "available", "0")
local vt = redis.call("HGET", KEYS[1], "vehicle_type")
if vt then
	redis.call("SREM", ARGV[1] .. vt, ARGV[2])
end
return 1
`)

	claimScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local avail = redis.call("HGET", KEYS[1], "available")
local rideID = redis.call("HGET", KEYS[1], "ride_id")
if avail ~= "1" or (rideID and rideID ~= "") then
	return 0
end
redis.call("HSET", KEYS[1], "available", "0", "ride_id", ARGV[1])
local vt = redis.call("HGET", KEYS[1], "vehicle_type")
if vt then
	redis.call("SREM", ARGV[2] .. vt, ARGV[3])
end
return 1
`)

	releaseScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local rideID = redis.call("HGET", KEYS[1], "ride_id")
if rideID ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "available", "1")
redis.call("HDEL", KEYS[1], "ride_id")
local vt = redis.call("HGET", KEYS[1], "vehicle_type")
if vt then
	redis.call("SADD", ARGV[2] .. vt, ARGV[3])
end
return 1
`)

	locationScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local ts = tonumber(redis.call("HGET", KEYS[1], "loc_ts") or "0")
if tonumber(ARGV[1]) < ts then
	return 0
end
redis.call("HSET", KEYS[1], "loc_ts", ARGV[1])
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)
)

// RedisRegistry is the production Registry backed by Redis.
type RedisRegistry struct {
	rdb    *redis.Client
	locTTL time.Duration
}

// NewRedisRegistry wraps an existing Redis client. locTTL bounds location
// freshness; heartbeats arriving slower than this make the driver invisible
// to matching until the next fix.
func NewRedisRegistry(rdb *redis.Client, locTTL time.Duration) *RedisRegistry {
	if locTTL <= 0 {
		locTTL = 90 * time.Second
	}
	return &RedisRegistry{rdb: rdb, locTTL: locTTL}
}

// storedFix is the JSON document kept under the location key.
type storedFix struct {
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
	SpeedKMH       *float64 `json:"speed_kmh,omitempty"`
	HeadingDegrees *float64 `json:"heading_degrees,omitempty"`
	RecordedAtMS   int64    `json:"recorded_at_ms"`
}

func (r *RedisRegistry) SetOnline(ctx context.Context, driverID string, vt ride.VehicleType) error {
	if !vt.Valid() {
		return ride.ErrInvalidVehicleType
	}
	return onlineScript.Run(ctx, r.rdb,
		[]string{driverKey(driverID), availableSetKey + vt.String()},
		vt.String(), driverID,
	).Err()
}

func (r *RedisRegistry) SetOffline(ctx context.Context, driverID string) error {
	n, err := offlineScript.Run(ctx, r.rdb,
		[]string{driverKey(driverID)},
		availableSetKey, driverID,
	).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDriverNotFound
	}
	return nil
}

func (r *RedisRegistry) UpdateLocation(ctx context.Context, driverID string, fix geo.Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}

	doc := storedFix{
		Lat:            fix.Position.Lat,
		Lng:            fix.Position.Lng,
		AccuracyMeters: fix.AccuracyMeters,
		SpeedKMH:       fix.SpeedKMH,
		HeadingDegrees: fix.HeadingDegrees,
		RecordedAtMS:   fix.RecordedAt.UnixMilli(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	n, err := locationScript.Run(ctx, r.rdb,
		[]string{driverKey(driverID), locationKey(driverID)},
		doc.RecordedAtMS, body, r.locTTL.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if n == -1 {
		return ErrDriverNotFound
	}
	// n == 0 means an out-of-order fix; dropped to keep timestamps monotonic
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, driverID string) (Availability, error) {
	pipe := r.rdb.Pipeline()
	hashCmd := pipe.HGetAll(ctx, driverKey(driverID))
	locCmd := pipe.Get(ctx, locationKey(driverID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Availability{}, err
	}

	fields, err := hashCmd.Result()
	if err != nil {
		return Availability{}, err
	}
	if len(fields) == 0 {
		return Availability{}, ErrDriverNotFound
	}

	av := Availability{
		DriverID:      driverID,
		VehicleType:   ride.VehicleType(fields["vehicle_type"]),
		Available:     fields["available"] == "1",
		CurrentRideID: fields["ride_id"],
	}
	if raw, err := locCmd.Result(); err == nil {
		av.LastFix = decodeFix(raw)
	}
	return av, nil
}

func (r *RedisRegistry) ListAvailable(ctx context.Context, vt ride.VehicleType) ([]Availability, error) {
	ids, err := r.rdb.SMembers(ctx, availableSetKey+vt.String()).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Availability, 0, len(ids))
	for _, id := range ids {
		av, err := r.Get(ctx, id)
		if err != nil {
			// a member may have gone offline between SMEMBERS and HGETALL
			continue
		}
		if av.Available {
			out = append(out, av)
		}
	}
	return out, nil
}

func (r *RedisRegistry) Claim(ctx context.Context, driverID, rideID string) error {
	n, err := claimScript.Run(ctx, r.rdb,
		[]string{driverKey(driverID)},
		rideID, availableSetKey, driverID,
	).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return ErrDriverNotFound
	case 0:
		return ErrDriverUnavailable
	}
	return nil
}

func (r *RedisRegistry) Release(ctx context.Context, driverID, rideID string) error {
	n, err := releaseScript.Run(ctx, r.rdb,
		[]string{driverKey(driverID)},
		rideID, availableSetKey, driverID,
	).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return ErrDriverNotFound
	case 0:
		return ErrNotClaimedByRide
	}
	return nil
}

func driverKey(driverID string) string {
	return driverKeyPrefix + driverID
}

func locationKey(driverID string) string {
	return driverKeyPrefix + driverID + locationKeySuffix
}

func decodeFix(raw string) *geo.Fix {
	var doc storedFix
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil
	}
	fix := geo.Fix{
		Position:       geo.LatLng{Lat: doc.Lat, Lng: doc.Lng},
		AccuracyMeters: doc.AccuracyMeters,
		SpeedKMH:       doc.SpeedKMH,
		HeadingDegrees: doc.HeadingDegrees,
		RecordedAt:     time.UnixMilli(doc.RecordedAtMS).UTC(),
	}
	return &fix
}

// Ping verifies the Redis connection, for startup checks.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

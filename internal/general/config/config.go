package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string // YAML key: "database"
	}
	Redis struct {
		Host string
		Port int
		DB   int
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	WebSocket struct {
		Port int
	}
	Services struct {
		DispatchServicePort int
	}
	JWT struct {
		SecretKey string
	}
	Dispatch DispatchConfig
	Pricing  PricingConfig
	Tracking TrackingConfig
}

// DispatchConfig tunes the offer protocol and candidate search.
type DispatchConfig struct {
	OfferTimeoutSeconds int     // response deadline per offer
	SearchRadiusKM      float64 // candidate search radius
	MaxCandidates       int     // cap on candidate queue length
	DriverShare         float64 // driver's fraction of the estimated fare
}

// PricingConfig tunes caches and the demand index.
type PricingConfig struct {
	QuoteTTLSeconds     int
	DemandTTLSeconds    int
	RouteTTLSeconds     int
	DemandWindowMinutes int
	DemandBaseline      int
	Currency            string
}

// TrackingConfig tunes live-trip bookkeeping.
type TrackingConfig struct {
	GeofenceRadiusMeters float64
	HistoryCap           int
	AvgSpeedKMH          float64
}

// OfferTimeout returns the offer deadline as a duration.
func (d DispatchConfig) OfferTimeout() time.Duration {
	return time.Duration(d.OfferTimeoutSeconds) * time.Second
}

// QuoteTTL returns the fare-quote cache TTL as a duration.
func (p PricingConfig) QuoteTTL() time.Duration {
	return time.Duration(p.QuoteTTLSeconds) * time.Second
}

// DemandTTL returns the demand-index cache TTL as a duration.
func (p PricingConfig) DemandTTL() time.Duration {
	return time.Duration(p.DemandTTLSeconds) * time.Second
}

// RouteTTL returns the routing-lookup cache TTL as a duration.
func (p PricingConfig) RouteTTL() time.Duration {
	return time.Duration(p.RouteTTLSeconds) * time.Second
}

// DemandWindow returns the trailing window used to count active rides.
func (p PricingConfig) DemandWindow() time.Duration {
	return time.Duration(p.DemandWindowMinutes) * time.Minute
}

// LoadFromFile loads config from a YAML file, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := parseYAML(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns a config with every tunable at its default, suitable for tests.
func Defaults() *Config {
	var cfg Config
	applyDefaults(&cfg)
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Name = "ride_dispatch"
	cfg.RabbitMQ.User = "guest"
	cfg.RabbitMQ.Password = "guest"
	return &cfg
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// Redis
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// WebSocket
	if cfg.WebSocket.Port == 0 {
		cfg.WebSocket.Port = 8080
	}

	// Services
	if cfg.Services.DispatchServicePort == 0 {
		cfg.Services.DispatchServicePort = 3000
	}

	// Dispatch protocol
	if cfg.Dispatch.OfferTimeoutSeconds == 0 {
		cfg.Dispatch.OfferTimeoutSeconds = 30
	}
	if cfg.Dispatch.SearchRadiusKM == 0 {
		cfg.Dispatch.SearchRadiusKM = 5.0
	}
	if cfg.Dispatch.MaxCandidates == 0 {
		cfg.Dispatch.MaxCandidates = 10
	}
	if cfg.Dispatch.DriverShare == 0 {
		cfg.Dispatch.DriverShare = 0.8
	}

	// Pricing
	if cfg.Pricing.QuoteTTLSeconds == 0 {
		cfg.Pricing.QuoteTTLSeconds = 120
	}
	if cfg.Pricing.DemandTTLSeconds == 0 {
		cfg.Pricing.DemandTTLSeconds = 60
	}
	if cfg.Pricing.RouteTTLSeconds == 0 {
		cfg.Pricing.RouteTTLSeconds = 300
	}
	if cfg.Pricing.DemandWindowMinutes == 0 {
		cfg.Pricing.DemandWindowMinutes = 15
	}
	if cfg.Pricing.DemandBaseline == 0 {
		cfg.Pricing.DemandBaseline = 20
	}
	if cfg.Pricing.Currency == "" {
		cfg.Pricing.Currency = "INR"
	}

	// Tracking
	if cfg.Tracking.GeofenceRadiusMeters == 0 {
		cfg.Tracking.GeofenceRadiusMeters = 100
	}
	if cfg.Tracking.HistoryCap == 0 {
		cfg.Tracking.HistoryCap = 1000
	}
	if cfg.Tracking.AvgSpeedKMH == 0 {
		cfg.Tracking.AvgSpeedKMH = 30
	}

	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// fallback: time-based bytes
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	// DB
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Password == "" {
		problems = append(problems, "database.password is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.name is required")
	}

	// Redis
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		problems = append(problems, "redis.port must be in 1..65535")
	}

	// RabbitMQ
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}
	if c.RabbitMQ.User == "" {
		problems = append(problems, "rabbitmq.user is required")
	}
	if c.RabbitMQ.Password == "" {
		problems = append(problems, "rabbitmq.password is required")
	}

	// WebSocket
	if c.WebSocket.Port <= 0 || c.WebSocket.Port > 65535 {
		problems = append(problems, "websocket.port must be in 1..65535")
	}

	// Services
	if c.Services.DispatchServicePort <= 0 || c.Services.DispatchServicePort > 65535 {
		problems = append(problems, "services.dispatch_service must be in 1..65535")
	}

	// Dispatch
	if c.Dispatch.OfferTimeoutSeconds < 1 {
		problems = append(problems, "dispatch.offer_timeout_seconds must be >= 1")
	}
	if c.Dispatch.SearchRadiusKM <= 0 {
		problems = append(problems, "dispatch.search_radius_km must be positive")
	}
	if c.Dispatch.DriverShare <= 0 || c.Dispatch.DriverShare > 1 {
		problems = append(problems, "dispatch.driver_share must be in (0,1]")
	}

	// Pricing
	if c.Pricing.DemandBaseline < 1 {
		problems = append(problems, "pricing.demand_baseline must be >= 1")
	}

	// Tracking
	if c.Tracking.GeofenceRadiusMeters <= 0 {
		problems = append(problems, "tracking.geofence_radius_m must be positive")
	}
	if c.Tracking.HistoryCap < 1 {
		problems = append(problems, "tracking.history_cap must be >= 1")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// parseYAML parses the specific two-level mapping used by config.yaml.
// Full YAML is deliberately not supported; the config file is a flat set of
// sections with scalar values and this keeps the dependency surface small.
func parseYAML(r io.Reader, cfg *Config) error {
	setters := map[string]func(string) error{
		"database.host":     setString(&cfg.Database.Host),
		"database.port":     setInt(&cfg.Database.Port),
		"database.user":     setString(&cfg.Database.User),
		"database.password": setString(&cfg.Database.Password),
		"database.database": setString(&cfg.Database.Name),

		"redis.host": setString(&cfg.Redis.Host),
		"redis.port": setInt(&cfg.Redis.Port),
		"redis.db":   setInt(&cfg.Redis.DB),

		"rabbitmq.host":     setString(&cfg.RabbitMQ.Host),
		"rabbitmq.port":     setInt(&cfg.RabbitMQ.Port),
		"rabbitmq.user":     setString(&cfg.RabbitMQ.User),
		"rabbitmq.password": setString(&cfg.RabbitMQ.Password),

		"websocket.port": setInt(&cfg.WebSocket.Port),

		"services.dispatch_service": setInt(&cfg.Services.DispatchServicePort),

		"jwt.secret_key": setString(&cfg.JWT.SecretKey),

		"dispatch.offer_timeout_seconds": setInt(&cfg.Dispatch.OfferTimeoutSeconds),
		"dispatch.search_radius_km":      setFloat(&cfg.Dispatch.SearchRadiusKM),
		"dispatch.max_candidates":        setInt(&cfg.Dispatch.MaxCandidates),
		"dispatch.driver_share":          setFloat(&cfg.Dispatch.DriverShare),

		"pricing.quote_ttl_seconds":     setInt(&cfg.Pricing.QuoteTTLSeconds),
		"pricing.demand_ttl_seconds":    setInt(&cfg.Pricing.DemandTTLSeconds),
		"pricing.route_ttl_seconds":     setInt(&cfg.Pricing.RouteTTLSeconds),
		"pricing.demand_window_minutes": setInt(&cfg.Pricing.DemandWindowMinutes),
		"pricing.demand_baseline":       setInt(&cfg.Pricing.DemandBaseline),
		"pricing.currency":              setString(&cfg.Pricing.Currency),

		"tracking.geofence_radius_m": setFloat(&cfg.Tracking.GeofenceRadiusMeters),
		"tracking.history_cap":       setInt(&cfg.Tracking.HistoryCap),
		"tracking.avg_speed_kmh":     setFloat(&cfg.Tracking.AvgSpeedKMH),
	}

	sections := map[string]bool{
		"database": true, "redis": true, "rabbitmq": true, "websocket": true,
		"services": true, "jwt": true, "dispatch": true, "pricing": true, "tracking": true,
	}

	scanner := bufio.NewScanner(r)
	var cur string
	seen := map[string]bool{}
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		// strip comments
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}

		line := strings.TrimRight(raw, " \t\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		// top-level section? (no leading spaces)
		if line[0] != ' ' && line[0] != '\t' {
			name := strings.TrimSuffix(strings.TrimSpace(line), ":")
			if !sections[name] {
				return fmt.Errorf("line %d: unknown top-level key %q", lineNo, name)
			}
			if seen[name] {
				return fmt.Errorf("line %d: duplicate %q section", lineNo, name)
			}
			seen[name] = true
			cur = name
			continue
		}

		// expect indented "key: value"
		if cur == "" {
			return fmt.Errorf("line %d: key without a section", lineNo)
		}
		trim := strings.TrimSpace(line)
		colon := strings.IndexByte(trim, ':')
		if colon <= 0 {
			return fmt.Errorf("line %d: expected 'key: value'", lineNo)
		}
		key := strings.TrimSpace(trim[:colon])
		val := resolveScalar(trim[colon+1:])

		set, ok := setters[cur+"."+key]
		if !ok {
			return fmt.Errorf("line %d: unknown key in %s: %q", lineNo, cur, key)
		}
		if err := set(val); err != nil {
			return fmt.Errorf("line %d: %s.%s: %v", lineNo, cur, key, err)
		}
	}

	return scanner.Err()
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("must be an integer: %v", err)
		}
		*dst = n
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("must be a number: %v", err)
		}
		*dst = f
		return nil
	}
}

// resolveScalar trims whitespace and removes surrounding quotes from YAML-like
// scalars so values like jwt.secret_key are not stored with extra quotes.
func resolveScalar(s string) string {
	s = strings.TrimSpace(s)

	n := len(s)
	if n >= 2 {
		if (s[0] == '"' && s[n-1] == '"') || (s[0] == '\'' && s[n-1] == '\'') {
			if unq, err := strconv.Unquote(s); err == nil {
				return unq
			}
			// fallback if strconv.Unquote fails (e.g., mismatched quotes)
			return s[1 : n-1]
		}
	}

	return s
}

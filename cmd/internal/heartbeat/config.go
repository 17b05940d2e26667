package heartbeat

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrConfig is returned for invalid heartbeat configuration.
var ErrConfig = errors.New("invalid heartbeat config")

// Config defines runtime configuration for the heartbeat monitor.
type Config struct {
	// Interval is the probe cadence.
	Interval time.Duration

	// ProbeTimeout bounds a single probe; exceeding it counts as degraded.
	ProbeTimeout time.Duration

	// DeadThreshold is the number of consecutive degraded results after
	// which a session is declared dead.
	DeadThreshold int
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Interval:      15 * time.Second,
		ProbeTimeout:  3 * time.Second,
		DeadThreshold: 3,
	}
}

// LoadConfigFromEnv loads heartbeat configuration from environment variables.
//
// Optional:
//   - AEGIS_HEARTBEAT_INTERVAL (Go duration)
//   - AEGIS_HEARTBEAT_PROBE_TIMEOUT (Go duration)
//   - AEGIS_HEARTBEAT_DEAD_THRESHOLD (integer >= 1)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("AEGIS_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.Interval = d
	}

	if v := os.Getenv("AEGIS_HEARTBEAT_PROBE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ProbeTimeout = d
	}

	if v := os.Getenv("AEGIS_HEARTBEAT_DEAD_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, ErrConfig
		}
		cfg.DeadThreshold = n
	}

	// A probe must fit inside the cadence, or cycles pile up.
	if cfg.ProbeTimeout >= cfg.Interval {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

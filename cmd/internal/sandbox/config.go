package sandbox

import (
	"os"
	"time"
)

// Config defines runtime configuration for the sandbox controller.
type Config struct {
	// ReadyWindow is how long a readiness report stays valid. Zero means
	// readiness never ages out and only DropReady closes the barrier.
	ReadyWindow time.Duration

	// LockTimeout bounds AcquireLock when the caller's context carries no
	// deadline of its own.
	LockTimeout time.Duration

	// Policy selects the limits preset carried in the state snapshot.
	Policy Policy
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		ReadyWindow: time.Minute,
		LockTimeout: 2 * time.Second,
		Policy:      PolicyModerate,
	}
}

// LoadConfigFromEnv loads sandbox configuration from environment variables.
//
// Optional:
//   - AEGIS_SANDBOX_READY_WINDOW (Go duration; "0" disables aging)
//   - AEGIS_SANDBOX_LOCK_TIMEOUT (Go duration)
//   - AEGIS_SANDBOX_POLICY ("restricted" or "moderate")
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("AEGIS_SANDBOX_READY_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ReadyWindow = d
	}

	if v := os.Getenv("AEGIS_SANDBOX_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LockTimeout = d
	}

	if v := os.Getenv("AEGIS_SANDBOX_POLICY"); v != "" {
		switch Policy(v) {
		case PolicyRestricted, PolicyModerate:
			cfg.Policy = Policy(v)
		default:
			return Config{}, ErrConfig
		}
	}

	return cfg, nil
}

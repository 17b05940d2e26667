package session

import (
	"os"
	"time"
)

// Config defines runtime configuration for the session subsystem.
//
// It controls the idle TTL window, the hard lifetime cap that bounds
// admission-driven renewal, and the token-rotation threshold.
type Config struct {
	// TTL is the idle window: a session expires TTL after its last renewal
	// or admitted message.
	TTL time.Duration

	// MaxLifetime caps the absolute session lifetime. Renewals extend the
	// expiry but never past created_at + MaxLifetime.
	MaxLifetime time.Duration

	// RotateBelow triggers token rotation during renewal when the bound
	// token's remaining validity drops under this duration.
	RotateBelow time.Duration
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		TTL:         5 * time.Minute,
		MaxLifetime: 12 * time.Hour,
		RotateBelow: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - AEGIS_SESSION_TTL
//   - AEGIS_SESSION_MAX_LIFETIME
//   - AEGIS_SESSION_ROTATE_BELOW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("AEGIS_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("AEGIS_SESSION_MAX_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxLifetime = d
	}

	if v := os.Getenv("AEGIS_SESSION_ROTATE_BELOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.RotateBelow = d
	}

	// Invariant: a session must be able to outlive a single idle window.
	if cfg.MaxLifetime < cfg.TTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

package transport

import (
	"os"
	"time"
)

// Config defines runtime configuration for the transport server.
type Config struct {
	// Addr is the listen address.
	Addr string

	// CertFile and KeyFile locate the initial credential bundle. Empty
	// values start the server without TLS (development only); the bundle
	// can still be loaded later through /v1/credentials.
	CertFile string
	KeyFile  string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// MaxBodyBytes bounds request bodies on the admission surface.
	MaxBodyBytes int64
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8443",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxBodyBytes:      1 << 20,
	}
}

// LoadConfigFromEnv loads transport configuration from environment variables.
//
// Optional:
//   - AEGIS_ADDR
//   - AEGIS_TLS_CERT_FILE, AEGIS_TLS_KEY_FILE (both or neither)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("AEGIS_ADDR"); v != "" {
		cfg.Addr = v
	}

	cert := os.Getenv("AEGIS_TLS_CERT_FILE")
	key := os.Getenv("AEGIS_TLS_KEY_FILE")
	if (cert == "") != (key == "") {
		return Config{}, ErrConfig
	}
	cfg.CertFile = cert
	cfg.KeyFile = key

	return cfg, nil
}

package app

import "time"

// Config contains the app-level runtime configuration loaded from
// environment variables. Subsystem packages load their own Config the same
// way; this one covers wiring concerns only.
type Config struct {
	LogLevel  string
	LogPretty bool

	// DatabaseURL selects the Postgres session store when set; empty runs
	// the in-memory store.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// BootToken is the one-time startup credential. When set it must
	// validate before the process reaches ready.
	BootToken string

	// RootSecretFile is read when AEGIS_ROOT_SECRET is not set.
	RootSecretFile string

	// HoneypotSeeds is the initial decoy count for the anomaly detector.
	HoneypotSeeds int

	// QueueDepth is the per-loop inbound queue capacity.
	QueueDepth int

	// SweepInterval drives the background session sweep.
	SweepInterval time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		LogLevel:  envString("AEGIS_LOG_LEVEL", "info"),
		LogPretty: envBool("AEGIS_LOG_PRETTY", false),

		DatabaseURL: envString("AEGIS_DATABASE_URL", ""),
		DBMaxConns:  int32(envInt("AEGIS_DB_MAX_CONNS", 10)),
		DBMinConns:  int32(envInt("AEGIS_DB_MIN_CONNS", 0)),

		BootToken:      envString("AEGIS_BOOT_TOKEN", ""),
		RootSecretFile: envString("AEGIS_ROOT_SECRET_FILE", ""),

		HoneypotSeeds: envInt("AEGIS_HONEYPOT_SEEDS", 8),
		QueueDepth:    envInt("AEGIS_LOOP_QUEUE_DEPTH", 256),
		SweepInterval: envDuration("AEGIS_SWEEP_INTERVAL", time.Minute),
	}
}

package session

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("empty environment should yield defaults, got %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("AEGIS_SESSION_TTL", "90s")
	t.Setenv("AEGIS_SESSION_MAX_LIFETIME", "1h")
	t.Setenv("AEGIS_SESSION_ROTATE_BELOW", "10s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.TTL != 90*time.Second {
		t.Errorf("TTL = %v, want 90s", cfg.TTL)
	}
	if cfg.MaxLifetime != time.Hour {
		t.Errorf("MaxLifetime = %v, want 1h", cfg.MaxLifetime)
	}
	if cfg.RotateBelow != 10*time.Second {
		t.Errorf("RotateBelow = %v, want 10s", cfg.RotateBelow)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad ttl", "AEGIS_SESSION_TTL", "not-a-duration"},
		{"zero ttl", "AEGIS_SESSION_TTL", "0s"},
		{"negative max lifetime", "AEGIS_SESSION_MAX_LIFETIME", "-1h"},
		{"bad rotate below", "AEGIS_SESSION_ROTATE_BELOW", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfigFromEnv(); err != ErrConfig {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromEnv_MaxLifetimeBelowTTL(t *testing.T) {
	t.Setenv("AEGIS_SESSION_TTL", "1h")
	t.Setenv("AEGIS_SESSION_MAX_LIFETIME", "30m")

	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig when max lifetime < ttl, got %v", err)
	}
}

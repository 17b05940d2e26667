package heartbeat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"aegis/cmd/internal/session"
	"aegis/cmd/security/keys"
	"aegis/cmd/security/token"
)

func testSetup(t *testing.T) (*session.Manager, *token.Authority) {
	t.Helper()

	root := make([]byte, keys.MinRootSecretBytes)
	for i := range root {
		root[i] = byte(i + 7)
	}
	ks, err := keys.NewStore(root)
	if err != nil {
		t.Fatalf("keys.NewStore: %v", err)
	}
	authority, err := token.NewAuthority(ks, 30*time.Second)
	if err != nil {
		t.Fatalf("token.NewAuthority: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := session.NewManager(session.DefaultConfig(), authority, session.NewMemoryStore(), log)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}
	return m, authority
}

func openSession(t *testing.T, m *session.Manager, a *token.Authority, identity string, now time.Time) session.View {
	t.Helper()

	raw, err := a.Issue(identity, time.Hour, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	v, err := m.Create(context.Background(), raw, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return v
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewMonitor_Validation(t *testing.T) {
	m, _ := testSetup(t)
	probe := func(context.Context, string) (session.Health, error) {
		return session.HealthHealthy, nil
	}

	if _, err := NewMonitor(DefaultConfig(), nil, probe, discard()); err != ErrConfig {
		t.Fatalf("nil manager: expected ErrConfig, got %v", err)
	}
	if _, err := NewMonitor(DefaultConfig(), m, nil, discard()); err != ErrConfig {
		t.Fatalf("nil probe: expected ErrConfig, got %v", err)
	}
	bad := DefaultConfig()
	bad.DeadThreshold = 0
	if _, err := NewMonitor(bad, m, probe, discard()); err != ErrConfig {
		t.Fatalf("zero threshold: expected ErrConfig, got %v", err)
	}
}

func TestTick_HealthyCycle(t *testing.T) {
	mgr, auth := testSetup(t)
	now := time.Unix(1_700_000_000, 0)
	v := openSession(t, mgr, auth, "svc-A", now)

	probe := func(context.Context, string) (session.Health, error) {
		return session.HealthHealthy, nil
	}
	mon, err := NewMonitor(DefaultConfig(), mgr, probe, discard())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	rep := mon.Tick(context.Background(), now)
	if rep.Probed != 1 || rep.Healthy != 1 {
		t.Fatalf("report = %+v, want 1 probed 1 healthy", rep)
	}
	if _, ok := mgr.Lookup(context.Background(), v.ID, now); !ok {
		t.Fatal("healthy session should stay active")
	}
}

func TestTick_ProbeErrorIsDegraded(t *testing.T) {
	mgr, auth := testSetup(t)
	now := time.Unix(1_700_000_000, 0)
	v := openSession(t, mgr, auth, "svc-A", now)

	probe := func(context.Context, string) (session.Health, error) {
		return session.HealthHealthy, errors.New("peer unreachable")
	}
	mon, err := NewMonitor(DefaultConfig(), mgr, probe, discard())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	rep := mon.Tick(context.Background(), now)
	if rep.Degraded != 1 {
		t.Fatalf("report = %+v, want 1 degraded", rep)
	}

	got, ok := mgr.Lookup(context.Background(), v.ID, now)
	if !ok {
		t.Fatal("degraded session must stay usable")
	}
	if got.Health != session.HealthDegraded {
		t.Fatalf("health = %q, want degraded", got.Health)
	}
}

func TestTick_ProbeTimeoutIsDegraded(t *testing.T) {
	mgr, auth := testSetup(t)
	now := time.Unix(1_700_000_000, 0)
	openSession(t, mgr, auth, "svc-A", now)

	cfg := DefaultConfig()
	cfg.ProbeTimeout = 10 * time.Millisecond
	probe := func(ctx context.Context, _ string) (session.Health, error) {
		<-ctx.Done()
		return session.HealthHealthy, ctx.Err()
	}
	mon, err := NewMonitor(cfg, mgr, probe, discard())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	rep := mon.Tick(context.Background(), now)
	if rep.Degraded != 1 {
		t.Fatalf("report = %+v, want 1 degraded", rep)
	}
}

func TestTick_ConsecutiveDegradedEscalatesToDead(t *testing.T) {
	mgr, auth := testSetup(t)
	now := time.Unix(1_700_000_000, 0)
	v := openSession(t, mgr, auth, "svc-A", now)

	cfg := DefaultConfig()
	cfg.DeadThreshold = 3
	probe := func(context.Context, string) (session.Health, error) {
		return session.HealthDegraded, nil
	}
	mon, err := NewMonitor(cfg, mgr, probe, discard())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		mon.Tick(ctx, at)
		if _, ok := mgr.Lookup(ctx, v.ID, at); !ok {
			t.Fatalf("session terminated after %d degraded cycles, threshold is 3", i)
		}
	}

	at := now.Add(3 * time.Second)
	rep := mon.Tick(ctx, at)
	if rep.Dead != 1 {
		t.Fatalf("report = %+v, want 1 dead", rep)
	}
	if _, ok := mgr.Lookup(ctx, v.ID, at); ok {
		t.Fatal("session must be terminated at the dead threshold")
	}
}

func TestTick_RecoveryResetsStreak(t *testing.T) {
	mgr, auth := testSetup(t)
	now := time.Unix(1_700_000_000, 0)
	v := openSession(t, mgr, auth, "svc-A", now)

	cfg := DefaultConfig()
	cfg.DeadThreshold = 2

	degraded := true
	probe := func(context.Context, string) (session.Health, error) {
		if degraded {
			return session.HealthDegraded, nil
		}
		return session.HealthHealthy, nil
	}
	mon, err := NewMonitor(cfg, mgr, probe, discard())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	ctx := context.Background()
	mon.Tick(ctx, now.Add(time.Second))

	// One healthy cycle clears the streak.
	degraded = false
	mon.Tick(ctx, now.Add(2*time.Second))

	degraded = true
	at := now.Add(3 * time.Second)
	mon.Tick(ctx, at)
	if _, ok := mgr.Lookup(ctx, v.ID, at); !ok {
		t.Fatal("streak should have been reset by the healthy cycle")
	}
}

func TestTick_ProbeReturnsDeadDirectly(t *testing.T) {
	mgr, auth := testSetup(t)
	now := time.Unix(1_700_000_000, 0)
	v := openSession(t, mgr, auth, "svc-A", now)

	probe := func(context.Context, string) (session.Health, error) {
		return session.HealthDead, nil
	}
	mon, err := NewMonitor(DefaultConfig(), mgr, probe, discard())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	rep := mon.Tick(context.Background(), now)
	if rep.Dead != 1 {
		t.Fatalf("report = %+v, want 1 dead", rep)
	}
	if _, ok := mgr.Lookup(context.Background(), v.ID, now); ok {
		t.Fatal("dead session must be terminated immediately")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AEGIS_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("AEGIS_HEARTBEAT_PROBE_TIMEOUT", "5s")
	t.Setenv("AEGIS_HEARTBEAT_DEAD_THRESHOLD", "5")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Interval != 30*time.Second || cfg.ProbeTimeout != 5*time.Second || cfg.DeadThreshold != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("AEGIS_HEARTBEAT_PROBE_TIMEOUT", "45s")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("timeout >= interval: expected ErrConfig, got %v", err)
	}
}

package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"aegis/cmd/internal/session"
)

// Probe checks the liveness of one session's peer. Implementations must
// respect ctx; the monitor cancels it at the probe timeout.
type Probe func(ctx context.Context, identity string) (session.Health, error)

// Report is an aggregate snapshot of the last completed probe cycle.
type Report struct {
	Probed    int
	Healthy   int
	Degraded  int
	Dead      int
	LastCycle time.Time
}

// Monitor drives the probe cycle over the active session set.
type Monitor struct {
	cfg     Config
	manager *session.Manager
	probe   Probe
	log     *slog.Logger

	mu       sync.Mutex
	degraded map[string]int
	last     Report
}

// NewMonitor constructs a Monitor. probe may not be nil.
func NewMonitor(cfg Config, manager *session.Manager, probe Probe, log *slog.Logger) (*Monitor, error) {
	if manager == nil || probe == nil || log == nil {
		return nil, ErrConfig
	}
	if cfg.Interval <= 0 || cfg.ProbeTimeout <= 0 || cfg.DeadThreshold < 1 {
		return nil, ErrConfig
	}
	return &Monitor{
		cfg:      cfg,
		manager:  manager,
		probe:    probe,
		log:      log,
		degraded: make(map[string]int),
	}, nil
}

// Run probes on the configured cadence until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick runs one probe cycle over all active sessions at the given instant.
func (m *Monitor) Tick(ctx context.Context, now time.Time) Report {
	views := m.manager.ListActive(ctx, now)

	rep := Report{Probed: len(views), LastCycle: now}
	seen := make(map[string]struct{}, len(views))

	for _, v := range views {
		seen[v.ID] = struct{}{}

		h := m.probeOne(ctx, v.Identity)
		switch h {
		case session.HealthHealthy:
			rep.Healthy++
			m.resetStreak(v.ID)
		case session.HealthDegraded:
			if m.bumpStreak(v.ID) >= m.cfg.DeadThreshold {
				h = session.HealthDead
				rep.Dead++
				m.log.Warn("heartbeat.escalated", "session_id", v.ID, "identity", v.Identity)
			} else {
				rep.Degraded++
			}
		case session.HealthDead:
			rep.Dead++
		}

		if err := m.manager.ReportHealth(ctx, v.ID, h, now); err != nil {
			m.log.Error("heartbeat.report", "session_id", v.ID, "err", err)
		}
		if h == session.HealthDead {
			m.resetStreak(v.ID)
		}
	}

	m.mu.Lock()
	for id := range m.degraded {
		if _, ok := seen[id]; !ok {
			delete(m.degraded, id)
		}
	}
	m.last = rep
	m.mu.Unlock()

	return rep
}

// LastReport returns the snapshot of the most recent completed cycle.
func (m *Monitor) LastReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// probeOne invokes the probe under the per-probe timeout. Errors and
// timeouts classify as degraded; a probe can return dead directly for
// unambiguous signals (connection refused on a known-gone peer).
func (m *Monitor) probeOne(ctx context.Context, identity string) session.Health {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	h, err := m.probe(pctx, identity)
	if err != nil {
		return session.HealthDegraded
	}
	switch h {
	case session.HealthHealthy, session.HealthDegraded, session.HealthDead:
		return h
	default:
		return session.HealthDegraded
	}
}

func (m *Monitor) bumpStreak(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded[id]++
	return m.degraded[id]
}

func (m *Monitor) resetStreak(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.degraded, id)
}

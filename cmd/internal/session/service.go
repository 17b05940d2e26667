package session

import (
	"context"
	"log/slog"
	"time"

	"aegis/cmd/identity/ids"
	"aegis/cmd/security/token"
)

// Manager implements the high-level session operations for Aegis.
//
// It owns the session table: creation against a validated token, renewal,
// revocation, heartbeat-driven health transitions, and lazy expiration at
// lookup time. All shared trust state goes through here; callers never hold
// raw mutable access to the table.
type Manager struct {
	cfg       Config
	authority *token.Authority
	store     Store
	log       *slog.Logger
}

// View is the read-only snapshot handed to the admission pipeline.
type View struct {
	ID        string
	Identity  string
	Token     string
	Health    Health
	ExpiresAt time.Time
}

// Stats is an aggregate over the active session table, used by the
// heartbeat health report.
type Stats struct {
	ActiveSessions int
	ValidRequests  uint64
	FailedRequests uint64
}

// NewManager constructs a Manager over the given store and token authority.
func NewManager(cfg Config, authority *token.Authority, store Store, log *slog.Logger) (*Manager, error) {
	if authority == nil || store == nil || log == nil {
		return nil, ErrConfig
	}
	if cfg.TTL <= 0 || cfg.MaxLifetime < cfg.TTL {
		return nil, ErrConfig
	}
	return &Manager{cfg: cfg, authority: authority, store: store, log: log}, nil
}

// Create validates rawToken and, on success, opens an Active session bound
// to it. On token failure no session is created and the token error is
// returned as-is.
func (m *Manager) Create(ctx context.Context, rawToken string, now time.Time) (View, error) {
	claims, err := m.authority.Validate(rawToken, now)
	if err != nil {
		return View{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return View{}, err
	}

	row := Row{
		ID:            id,
		Identity:      claims.Identity,
		Token:         rawToken,
		State:         StateActive,
		Health:        HealthHealthy,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.cfg.TTL),
		MaxLifetimeAt: now.Add(m.cfg.MaxLifetime),
	}
	if err := m.store.Create(ctx, row); err != nil {
		return View{}, err
	}

	m.log.Info("session.created", "session_id", id, "identity", claims.Identity)
	return viewOf(row), nil
}

// Renew extends an Active session's expiry. The new deadline is bounded by
// the session's max lifetime and never moves backward. When the bound token
// nears its own expiry, it is rotated in place.
func (m *Manager) Renew(ctx context.Context, id string, now time.Time) (View, error) {
	row, err := m.activeRow(ctx, id, now)
	if err != nil {
		return View{}, err
	}

	next := boundedExpiry(now.Add(m.cfg.TTL), row.ExpiresAt, row.MaxLifetimeAt)
	if err := m.store.SetExpiry(ctx, id, next); err != nil {
		return View{}, err
	}
	row.ExpiresAt = next

	if m.cfg.RotateBelow > 0 {
		if claims, cerr := m.authority.Validate(row.Token, now); cerr == nil {
			remaining := time.Unix(claims.ExpiresAt, 0).Sub(now)
			if remaining < m.cfg.RotateBelow {
				rotated, rerr := m.authority.Rotate(claims, m.cfg.TTL, now)
				if rerr == nil && m.store.SetToken(ctx, id, rotated) == nil {
					row.Token = rotated
					m.log.Info("session.token_rotated", "session_id", id)
				}
			}
		}
	}

	return viewOf(row), nil
}

// Revoke transitions a session to Revoked. Idempotent: revoking a terminal
// or unknown session is a no-op. Visibility is immediate: any lookup that
// happens-after Revoke returns observes the session as gone.
func (m *Manager) Revoke(ctx context.Context, id string, now time.Time) error {
	if err := m.store.MarkTerminal(ctx, id, StateRevoked, now); err != nil {
		return err
	}
	m.log.Info("session.revoked", "session_id", id)
	return nil
}

// ReportHealth records a heartbeat classification. Degraded is advisory and
// leaves the session usable; Dead is terminal and removes it from the active
// lookup immediately. Called by the heartbeat monitor, never by loops.
func (m *Manager) ReportHealth(ctx context.Context, id string, h Health, now time.Time) error {
	if h == HealthDead {
		if err := m.store.MarkTerminal(ctx, id, StateDead, now); err != nil {
			return err
		}
		m.log.Warn("session.dead", "session_id", id)
		return nil
	}
	err := m.store.SetHealth(ctx, id, h)
	if err == ErrUnknownSession || err == ErrNotActive {
		// Session ended between probe and report; nothing to record.
		return nil
	}
	return err
}

// Lookup returns the session view for the admission pipeline. It returns
// ok=false for unknown, terminal, and just-now-expired sessions alike, and
// performs the lazy expiration transition before answering.
func (m *Manager) Lookup(ctx context.Context, id string, now time.Time) (View, bool) {
	row, err := m.activeRow(ctx, id, now)
	if err != nil {
		return View{}, false
	}
	return viewOf(row), true
}

// Touch counts a successful admission as activity, extending the idle
// window bounded by the max lifetime.
func (m *Manager) Touch(ctx context.Context, id string, now time.Time) error {
	row, err := m.activeRow(ctx, id, now)
	if err != nil {
		return err
	}
	next := boundedExpiry(now.Add(m.cfg.TTL), row.ExpiresAt, row.MaxLifetimeAt)
	return m.store.SetExpiry(ctx, id, next)
}

// RecordResult bumps per-session request counters (best-effort audit data).
func (m *Manager) RecordResult(ctx context.Context, id string, valid bool) {
	if err := m.store.RecordResult(ctx, id, valid); err != nil && err != ErrUnknownSession {
		m.log.Debug("session.record_result", "session_id", id, "err", err)
	}
}

// ListActive returns views of all currently-active sessions, applying lazy
// expiration along the way. Used by the heartbeat monitor's probe cycle.
func (m *Manager) ListActive(ctx context.Context, now time.Time) []View {
	rows, err := m.store.ListActive(ctx)
	if err != nil {
		m.log.Error("session.list_active", "err", err)
		return nil
	}

	out := make([]View, 0, len(rows))
	for _, row := range rows {
		if !now.Before(row.ExpiresAt) || !now.Before(row.MaxLifetimeAt) {
			_ = m.store.MarkTerminal(ctx, row.ID, StateExpired, now)
			continue
		}
		out = append(out, viewOf(row))
	}
	return out
}

// Sweep expires overdue sessions eagerly. Pure hygiene: lookups enforce
// expiration on their own, so nothing depends on this running.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	rows, err := m.store.ListActive(ctx)
	if err != nil {
		m.log.Error("session.sweep", "err", err)
		return 0
	}

	n := 0
	for _, row := range rows {
		if !now.Before(row.ExpiresAt) || !now.Before(row.MaxLifetimeAt) {
			if m.store.MarkTerminal(ctx, row.ID, StateExpired, now) == nil {
				n++
			}
		}
	}
	if n > 0 {
		m.log.Info("session.sweep", "expired", n)
	}
	return n
}

// Stats aggregates counters over the active table.
func (m *Manager) Stats(ctx context.Context) Stats {
	rows, err := m.store.ListActive(ctx)
	if err != nil {
		m.log.Error("session.stats", "err", err)
		return Stats{}
	}

	st := Stats{ActiveSessions: len(rows)}
	for _, row := range rows {
		st.ValidRequests += row.ValidCount
		st.FailedRequests += row.FailedCount
	}
	return st
}

// activeRow loads a row and applies lazy expiration: an Active row past its
// deadline is transitioned to Expired here, then reported as unknown.
func (m *Manager) activeRow(ctx context.Context, id string, now time.Time) (Row, error) {
	row, ok, err := m.store.Get(ctx, id)
	if err != nil || !ok {
		return Row{}, ErrUnknownSession
	}
	if row.State.Terminal() {
		return Row{}, ErrUnknownSession
	}
	if row.State != StateActive {
		return Row{}, ErrNotActive
	}
	if !now.Before(row.ExpiresAt) || !now.Before(row.MaxLifetimeAt) {
		_ = m.store.MarkTerminal(ctx, id, StateExpired, now)
		return Row{}, ErrUnknownSession
	}
	return row, nil
}

func boundedExpiry(want, current, max time.Time) time.Time {
	if want.After(max) {
		want = max
	}
	if want.Before(current) {
		// Renewal never shortens a lifetime.
		return current
	}
	return want
}

func viewOf(row Row) View {
	return View{
		ID:        row.ID,
		Identity:  row.Identity,
		Token:     row.Token,
		Health:    row.Health,
		ExpiresAt: row.ExpiresAt,
	}
}

package session

import (
	"context"
	"time"
)

// State is a session lifecycle state. Expired, Revoked, and Dead are terminal.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
	StateDead    State = "dead"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateExpired, StateRevoked, StateDead:
		return true
	}
	return false
}

// Health is the liveness classification reported by the heartbeat monitor.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthDead     Health = "dead"
)

// Row mirrors the stored session record.
type Row struct {
	ID            string
	Identity      string
	Token         string
	State         State
	Health        Health
	CreatedAt     time.Time
	ExpiresAt     time.Time
	MaxLifetimeAt time.Time
	TerminatedAt  *time.Time
	ValidCount    uint64
	FailedCount   uint64
}

// Store abstracts persistence for session state.
//
// Implementations must serialize concurrent mutation so callers never see a
// torn row, and must keep terminal transitions monotonic: once a row is
// terminal, MarkTerminal is a no-op and SetExpiry/SetHealth fail closed.
type Store interface {
	// Create inserts a new session row. The ID must be unique.
	Create(ctx context.Context, row Row) error

	// Get loads a row by ID, terminal or not. ok is false when no row exists.
	Get(ctx context.Context, id string) (row Row, ok bool, err error)

	// SetExpiry moves the expiry forward for an active session. Implementations
	// must never shorten it (monotonic non-decreasing across renewals).
	SetExpiry(ctx context.Context, id string, expiresAt time.Time) error

	// SetToken replaces the bound token after rotation (active sessions only).
	SetToken(ctx context.Context, id string, tok string) error

	// SetHealth records the heartbeat classification for an active session.
	SetHealth(ctx context.Context, id string, h Health) error

	// MarkTerminal transitions a non-terminal session into state. Idempotent:
	// marking an already-terminal session is a no-op, never an error, and
	// never changes the first terminal state.
	MarkTerminal(ctx context.Context, id string, state State, now time.Time) error

	// RecordResult bumps the per-session valid/failed request counters.
	RecordResult(ctx context.Context, id string, valid bool) error

	// ListActive returns all non-terminal rows (the heartbeat probe set).
	ListActive(ctx context.Context) ([]Row, error)

	// Close releases store resources.
	Close(ctx context.Context) error
}

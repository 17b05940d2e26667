package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-process session table.
//
// Critical sections are short (map access only) so heartbeat writes never
// block admission reads for long. Terminal rows are kept with their state so
// MarkTerminal stays monotonic under concurrent revokes.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Row
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Row)}
}

// Close is a noop for the in-memory store.
func (s *MemoryStore) Close(_ context.Context) error { return nil }

// Create inserts a new session row.
func (s *MemoryStore) Create(ctx context.Context, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[row.ID]; exists {
		return ErrConfig
	}
	r := row
	s.rows[row.ID] = &r
	return nil
}

// Get loads a row copy by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rows[id]
	if !ok {
		return Row{}, false, nil
	}
	return *r, true, nil
}

// SetExpiry moves the expiry forward; it never shortens a lifetime.
func (s *MemoryStore) SetExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return ErrUnknownSession
	}
	if r.State != StateActive {
		return ErrNotActive
	}
	if expiresAt.After(r.ExpiresAt) {
		r.ExpiresAt = expiresAt
	}
	return nil
}

// SetToken replaces the bound token after rotation.
func (s *MemoryStore) SetToken(ctx context.Context, id string, tok string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return ErrUnknownSession
	}
	if r.State != StateActive {
		return ErrNotActive
	}
	r.Token = tok
	return nil
}

// SetHealth records the heartbeat classification.
func (s *MemoryStore) SetHealth(ctx context.Context, id string, h Health) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return ErrUnknownSession
	}
	if r.State != StateActive {
		return ErrNotActive
	}
	r.Health = h
	return nil
}

// MarkTerminal transitions into a terminal state; idempotent and monotonic.
func (s *MemoryStore) MarkTerminal(ctx context.Context, id string, state State, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !state.Terminal() {
		return ErrConfig
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return nil
	}
	if r.State.Terminal() {
		return nil
	}
	t := now
	r.State = state
	r.TerminatedAt = &t
	if state == StateDead {
		r.Health = HealthDead
	}
	return nil
}

// RecordResult bumps request counters; terminal sessions still count for audit.
func (s *MemoryStore) RecordResult(ctx context.Context, id string, valid bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return ErrUnknownSession
	}
	if valid {
		r.ValidCount++
	} else {
		r.FailedCount++
	}
	return nil
}

// ListActive returns copies of all non-terminal rows.
func (s *MemoryStore) ListActive(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		if !r.State.Terminal() {
			out = append(out, *r)
		}
	}
	return out, nil
}


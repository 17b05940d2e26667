package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (aegis.sessions).
//
// Terminal rows are kept in place: admission-facing reads filter on state,
// audit queries see the full history. State guards in the WHERE clauses keep
// terminal transitions monotonic without explicit row locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool.
func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aegis.sessions (
			id, identity, token, state, health,
			created_at, expires_at, max_lifetime_at,
			terminated_at, valid_count, failed_count
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			NULL, 0, 0
		)
	`, row.ID, row.Identity, row.Token, string(row.State), string(row.Health),
		row.CreatedAt, row.ExpiresAt, row.MaxLifetimeAt)
	return err
}

// Get loads a session row by ID, terminal or not.
func (s *PostgresStore) Get(ctx context.Context, id string) (Row, bool, error) {
	var row Row
	var state, health string

	err := s.pool.QueryRow(ctx, `
		SELECT
			id, identity, token, state, health,
			created_at, expires_at, max_lifetime_at,
			terminated_at, valid_count, failed_count
		FROM aegis.sessions
		WHERE id = $1
	`, id).Scan(
		&row.ID,
		&row.Identity,
		&row.Token,
		&state,
		&health,
		&row.CreatedAt,
		&row.ExpiresAt,
		&row.MaxLifetimeAt,
		&row.TerminatedAt,
		&row.ValidCount,
		&row.FailedCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}

	row.State = State(state)
	row.Health = Health(health)
	return row, true, nil
}

// SetExpiry moves the expiry forward for an active session; GREATEST keeps
// it monotonic under concurrent renewals.
func (s *PostgresStore) SetExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE aegis.sessions
		SET expires_at = GREATEST(expires_at, $2)
		WHERE id = $1 AND state = 'active'
	`, id, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missOrNotActive(ctx, id)
	}
	return nil
}

// SetToken replaces the bound token after rotation.
func (s *PostgresStore) SetToken(ctx context.Context, id string, tok string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE aegis.sessions
		SET token = $2
		WHERE id = $1 AND state = 'active'
	`, id, tok)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missOrNotActive(ctx, id)
	}
	return nil
}

// SetHealth records the heartbeat classification for an active session.
func (s *PostgresStore) SetHealth(ctx context.Context, id string, h Health) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE aegis.sessions
		SET health = $2
		WHERE id = $1 AND state = 'active'
	`, id, string(h))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missOrNotActive(ctx, id)
	}
	return nil
}

// MarkTerminal transitions into a terminal state; the state guard makes it
// idempotent (a second mark matches zero rows and is a no-op).
func (s *PostgresStore) MarkTerminal(ctx context.Context, id string, state State, now time.Time) error {
	if !state.Terminal() {
		return ErrConfig
	}

	var err error
	if state == StateDead {
		_, err = s.pool.Exec(ctx, `
			UPDATE aegis.sessions
			SET state = $2, health = 'dead', terminated_at = $3
			WHERE id = $1 AND state IN ('pending', 'active')
		`, id, string(state), now)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE aegis.sessions
			SET state = $2, terminated_at = $3
			WHERE id = $1 AND state IN ('pending', 'active')
		`, id, string(state), now)
	}
	return err
}

// RecordResult bumps the per-session request counters.
func (s *PostgresStore) RecordResult(ctx context.Context, id string, valid bool) error {
	col := "failed_count"
	if valid {
		col = "valid_count"
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE aegis.sessions
		SET `+col+` = `+col+` + 1
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownSession
	}
	return nil
}

// ListActive returns all non-terminal rows.
func (s *PostgresStore) ListActive(ctx context.Context) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, identity, token, state, health,
			created_at, expires_at, max_lifetime_at,
			terminated_at, valid_count, failed_count
		FROM aegis.sessions
		WHERE state IN ('pending', 'active')
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		var state, health string
		if err := rows.Scan(
			&row.ID,
			&row.Identity,
			&row.Token,
			&state,
			&health,
			&row.CreatedAt,
			&row.ExpiresAt,
			&row.MaxLifetimeAt,
			&row.TerminatedAt,
			&row.ValidCount,
			&row.FailedCount,
		); err != nil {
			return nil, err
		}
		row.State = State(state)
		row.Health = Health(health)
		out = append(out, row)
	}
	return out, rows.Err()
}


func (s *PostgresStore) missOrNotActive(ctx context.Context, id string) error {
	_, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownSession
	}
	return ErrNotActive
}

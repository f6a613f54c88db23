package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"button-hunt-bot/internal/model"
)

const sessionColumns = `id, phase, code_pool, started_at, ended_at, updated_at`

// SessionRepository handles the singleton game session row. Phase
// transitions are conditioned on the current phase so that two admins
// racing on the same transition yield exactly one winner.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.Phase,
		&s.CodePool,
		&s.StartedAt,
		&s.EndedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Ensure lazily creates the singleton session row and returns it.
func (r *SessionRepository) Ensure(ctx context.Context) (*model.Session, error) {
	const insert = `
		INSERT INTO game_session (id, phase, code_pool, updated_at)
		VALUES (1, 'waiting', '{}', NOW())
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, insert); err != nil {
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}
	return r.Get(ctx)
}

// Get returns the session singleton.
func (r *SessionRepository) Get(ctx context.Context) (*model.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM game_session WHERE id = 1`

	s, err := scanSession(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New("game session not initialized")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// AddCodes appends codes to the pool as an atomic set-union.
func (r *SessionRepository) AddCodes(ctx context.Context, codes []string) (*model.Session, error) {
	const query = `
		UPDATE game_session
		SET code_pool = (
			SELECT coalesce(array_agg(DISTINCT c), '{}')
			FROM unnest(code_pool || $1::text[]) AS c
		), updated_at = NOW()
		WHERE id = 1
		RETURNING ` + sessionColumns

	s, err := scanSession(r.pool.QueryRow(ctx, query, codes))
	if err != nil {
		return nil, fmt.Errorf("failed to add codes: %w", err)
	}
	return s, nil
}

// PoolContains reports whether a code sits in the unassigned pool.
func (r *SessionRepository) PoolContains(ctx context.Context, code string) (bool, error) {
	const query = `SELECT $1 = ANY(code_pool) FROM game_session WHERE id = 1`

	var found bool
	if err := r.pool.QueryRow(ctx, query, code).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check pool: %w", err)
	}
	return found, nil
}

// Start moves waiting→running, stamping started_at and atomically taking
// the code pool. The transition requires at least minCodes pooled codes;
// nil pool with ok=false means the precondition failed and the phase is
// unchanged.
func (r *SessionRepository) Start(ctx context.Context, minCodes int) ([]string, bool, error) {
	const query = `
		WITH taken AS (
			SELECT code_pool FROM game_session
			WHERE id = 1 AND phase = 'waiting' AND cardinality(code_pool) >= $1
		)
		UPDATE game_session
		SET phase = 'running', started_at = NOW(), ended_at = NULL, code_pool = '{}', updated_at = NOW()
		FROM taken
		WHERE id = 1
		RETURNING taken.code_pool
	`

	var pool []string
	err := r.pool.QueryRow(ctx, query, minCodes).Scan(&pool)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to start session: %w", err)
	}
	return pool, true, nil
}

// SetPool persists the remainder of the pool after round-start assignment.
func (r *SessionRepository) SetPool(ctx context.Context, codes []string) error {
	const query = `UPDATE game_session SET code_pool = $1, updated_at = NOW() WHERE id = 1`

	if _, err := r.pool.Exec(ctx, query, codes); err != nil {
		return fmt.Errorf("failed to set pool: %w", err)
	}
	return nil
}

// End moves running→ended, stamping ended_at. False means the session was
// not running.
func (r *SessionRepository) End(ctx context.Context) (bool, error) {
	const query = `
		UPDATE game_session
		SET phase = 'ended', ended_at = NOW(), updated_at = NOW()
		WHERE id = 1 AND phase = 'running'
	`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Reset moves any phase back to waiting and clears the pool and stamps.
func (r *SessionRepository) Reset(ctx context.Context) error {
	const query = `
		UPDATE game_session
		SET phase = 'waiting', started_at = NULL, ended_at = NULL, code_pool = '{}', updated_at = NOW()
		WHERE id = 1
	`

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	return nil
}

// Package repository provides data access layer implementations.
// Every state-changing operation is a single conditional statement; a
// zero-row result is the race-loser signal surfaced to the caller.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"button-hunt-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrButtonNotFound = errors.New("button not found")
)

const playerColumns = `telegram_id, username, first_name, is_admin, alive, eliminated_by, button_number, created_at, updated_at`

// PlayerRepository handles player record persistence.
type PlayerRepository struct {
	pool *pgxpool.Pool
}

// NewPlayerRepository creates a new PlayerRepository instance.
func NewPlayerRepository(pool *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	err := row.Scan(
		&p.TelegramID,
		&p.Username,
		&p.FirstName,
		&p.IsAdmin,
		&p.Alive,
		&p.EliminatedBy,
		&p.ButtonNumber,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new player record. If a record for the Telegram ID
// already exists (a concurrent join won), ErrPlayerExists is returned.
func (r *PlayerRepository) Create(ctx context.Context, telegramID int64, username, firstName string, isAdmin bool, buttonNumber *int) (*model.Player, error) {
	const query = `
		INSERT INTO players (telegram_id, username, first_name, is_admin, alive, button_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, NOW(), NOW())
		ON CONFLICT (telegram_id) DO NOTHING
		RETURNING ` + playerColumns

	p, err := scanPlayer(r.pool.QueryRow(ctx, query, telegramID, username, firstName, isAdmin, buttonNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerExists
		}
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return p, nil
}

// ErrPlayerExists is returned by Create when the record already exists.
var ErrPlayerExists = errors.New("player already exists")

// GetByID retrieves a player by Telegram ID.
// Returns ErrPlayerNotFound if the player does not exist.
func (r *PlayerRepository) GetByID(ctx context.Context, telegramID int64) (*model.Player, error) {
	const query = `SELECT ` + playerColumns + ` FROM players WHERE telegram_id = $1`

	p, err := scanPlayer(r.pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

func (r *PlayerRepository) queryPlayers(ctx context.Context, query string, args ...any) ([]*model.Player, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	var players []*model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating players: %w", err)
	}
	return players, nil
}

// ListNonAdmins returns all non-admin players ordered by button number.
func (r *PlayerRepository) ListNonAdmins(ctx context.Context) ([]*model.Player, error) {
	const query = `SELECT ` + playerColumns + ` FROM players WHERE NOT is_admin ORDER BY button_number NULLS LAST, telegram_id`
	return r.queryPlayers(ctx, query)
}

// ListAlive returns all live players (admins included).
func (r *PlayerRepository) ListAlive(ctx context.Context) ([]*model.Player, error) {
	const query = `SELECT ` + playerColumns + ` FROM players WHERE alive ORDER BY button_number NULLS LAST, telegram_id`
	return r.queryPlayers(ctx, query)
}

// ListAliveNonAdmins returns live non-admin players ordered by button number.
func (r *PlayerRepository) ListAliveNonAdmins(ctx context.Context) ([]*model.Player, error) {
	const query = `SELECT ` + playerColumns + ` FROM players WHERE alive AND NOT is_admin ORDER BY button_number NULLS LAST, telegram_id`
	return r.queryPlayers(ctx, query)
}

// Eliminate marks the target dead exactly once. The update is conditioned
// on the target still being alive; false means another caller won the race.
func (r *PlayerRepository) Eliminate(ctx context.Context, targetID, byID int64) (bool, error) {
	const query = `
		UPDATE players
		SET alive = FALSE, eliminated_by = $2, updated_at = NOW()
		WHERE telegram_id = $1 AND alive
	`

	tag, err := r.pool.Exec(ctx, query, targetID, byID)
	if err != nil {
		return false, fmt.Errorf("failed to eliminate player: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Discover records a lead of player on target. Returns false when the lead
// was already present (set semantics).
func (r *PlayerRepository) Discover(ctx context.Context, playerID, targetID int64) (bool, error) {
	const query = `
		INSERT INTO discoveries (player_id, target_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (player_id, target_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, playerID, targetID)
	if err != nil {
		return false, fmt.Errorf("failed to record discovery: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// HasDiscovered reports whether player already holds a lead on target.
func (r *PlayerRepository) HasDiscovered(ctx context.Context, playerID, targetID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM discoveries WHERE player_id = $1 AND target_id = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, playerID, targetID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check discovery: %w", err)
	}
	return exists, nil
}

// ListDiscovered returns the live players the given player holds leads on,
// ordered by button number.
func (r *PlayerRepository) ListDiscovered(ctx context.Context, playerID int64) ([]*model.Player, error) {
	const query = `
		SELECT ` + playerColumns + `
		FROM players
		WHERE alive AND telegram_id IN (SELECT target_id FROM discoveries WHERE player_id = $1)
		ORDER BY button_number NULLS LAST, telegram_id
	`
	return r.queryPlayers(ctx, query, playerID)
}

// Leads returns the raw target ids the given player has discovered.
func (r *PlayerRepository) Leads(ctx context.Context, playerID int64) ([]int64, error) {
	const query = `SELECT target_id FROM discoveries WHERE player_id = $1 ORDER BY target_id`

	rows, err := r.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leads: %w", err)
	}
	return leads, nil
}

// RemoveLeadsOf drops every lead held by the given player.
func (r *PlayerRepository) RemoveLeadsOf(ctx context.Context, playerID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM discoveries WHERE player_id = $1`, playerID); err != nil {
		return fmt.Errorf("failed to remove leads of player: %w", err)
	}
	return nil
}

// RemoveLeadsTo drops the given player from every discovered set.
func (r *PlayerRepository) RemoveLeadsTo(ctx context.Context, targetID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM discoveries WHERE target_id = $1`, targetID); err != nil {
		return fmt.Errorf("failed to remove leads to player: %w", err)
	}
	return nil
}

// ClearDiscoveries truncates all per-round leads.
func (r *PlayerRepository) ClearDiscoveries(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM discoveries`); err != nil {
		return fmt.Errorf("failed to clear discoveries: %w", err)
	}
	return nil
}

// ClearButtonNumbers releases every player's slot assignment.
func (r *PlayerRepository) ClearButtonNumbers(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `UPDATE players SET button_number = NULL, updated_at = NOW()`); err != nil {
		return fmt.Errorf("failed to clear button numbers: %w", err)
	}
	return nil
}

// SetButtonNumbers rebinds players to slot numbers in one statement.
// Used by the owner reshuffle so the player record follows its button.
func (r *PlayerRepository) SetButtonNumbers(ctx context.Context, playerIDs []int64, numbers []int) error {
	const query = `
		UPDATE players p
		SET button_number = a.number, updated_at = NOW()
		FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::int[]) AS number) a
		WHERE p.telegram_id = a.id
	`

	if _, err := r.pool.Exec(ctx, query, playerIDs, numbers); err != nil {
		return fmt.Errorf("failed to set button numbers: %w", err)
	}
	return nil
}

// DeleteNonAdmins removes every non-admin player record.
func (r *PlayerRepository) DeleteNonAdmins(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM players WHERE NOT is_admin`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete players: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertAdmin reconciles an admin player record from the allow-list,
// restoring it to a clean default.
func (r *PlayerRepository) UpsertAdmin(ctx context.Context, telegramID int64) error {
	const query = `
		INSERT INTO players (telegram_id, username, first_name, is_admin, alive, created_at, updated_at)
		VALUES ($1, '', '', TRUE, TRUE, NOW(), NOW())
		ON CONFLICT (telegram_id) DO UPDATE
		SET is_admin = TRUE, alive = TRUE, eliminated_by = NULL, button_number = NULL, updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, telegramID); err != nil {
		return fmt.Errorf("failed to upsert admin: %w", err)
	}
	return nil
}

// UpdateName refreshes a player's display fields when they change on
// the Telegram side.
func (r *PlayerRepository) UpdateName(ctx context.Context, telegramID int64, username, firstName string) error {
	const query = `
		UPDATE players
		SET username = $2, first_name = $3, updated_at = NOW()
		WHERE telegram_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, telegramID, username, firstName)
	if err != nil {
		return fmt.Errorf("failed to update player name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

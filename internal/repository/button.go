package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"button-hunt-bot/internal/model"
)

// ErrCodeTaken is returned when an insert or assignment would put the
// same code on two non-blocked buttons.
var ErrCodeTaken = errors.New("code already carried by a live button")

const buttonColumns = `id, number, circle, code, owner_id, taken, blocked, code_used, special, created_at, updated_at`

// ButtonRepository handles button slot persistence. Uniqueness of a live
// code and the one-time code_used transition are enforced here via
// conditional updates, never via read-then-write.
type ButtonRepository struct {
	pool *pgxpool.Pool
}

// NewButtonRepository creates a new ButtonRepository instance.
func NewButtonRepository(pool *pgxpool.Pool) *ButtonRepository {
	return &ButtonRepository{pool: pool}
}

func scanButton(row pgx.Row) (*model.Button, error) {
	var b model.Button
	err := row.Scan(
		&b.ID,
		&b.Number,
		&b.Circle,
		&b.Code,
		&b.OwnerID,
		&b.Taken,
		&b.Blocked,
		&b.CodeUsed,
		&b.Special,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Seed inserts the numbered slots 1..len(circles) if they do not exist yet.
func (r *ButtonRepository) Seed(ctx context.Context, circles []string) error {
	const query = `
		INSERT INTO buttons (number, circle, created_at, updated_at)
		SELECT n, c, NOW(), NOW()
		FROM unnest($1::int[], $2::varchar[]) AS t(n, c)
		ON CONFLICT (number) DO NOTHING
	`

	numbers := make([]int, len(circles))
	for i := range circles {
		numbers[i] = i + 1
	}
	if _, err := r.pool.Exec(ctx, query, numbers, circles); err != nil {
		return fmt.Errorf("failed to seed buttons: %w", err)
	}
	return nil
}

// ClaimFree binds the lowest free numbered slot to the owner. The claim is
// a single conditional update; SKIP LOCKED makes concurrent joiners pick
// distinct slots. Returns ErrButtonNotFound when every slot is taken.
func (r *ButtonRepository) ClaimFree(ctx context.Context, ownerID int64) (*model.Button, error) {
	const query = `
		UPDATE buttons
		SET taken = TRUE, owner_id = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM buttons
			WHERE NOT taken AND NOT blocked AND NOT special AND number IS NOT NULL
			ORDER BY number
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + buttonColumns

	b, err := scanButton(r.pool.QueryRow(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrButtonNotFound
		}
		return nil, fmt.Errorf("failed to claim button: %w", err)
	}
	return b, nil
}

// ReleaseClaim undoes a slot claim (used when the joiner lost the player
// record race and must give the slot back).
func (r *ButtonRepository) ReleaseClaim(ctx context.Context, buttonID int64) error {
	const query = `
		UPDATE buttons
		SET taken = FALSE, owner_id = NULL, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, buttonID); err != nil {
		return fmt.Errorf("failed to release button claim: %w", err)
	}
	return nil
}

// GetByID retrieves a button by id.
func (r *ButtonRepository) GetByID(ctx context.Context, id int64) (*model.Button, error) {
	const query = `SELECT ` + buttonColumns + ` FROM buttons WHERE id = $1`

	b, err := scanButton(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrButtonNotFound
		}
		return nil, fmt.Errorf("failed to get button: %w", err)
	}
	return b, nil
}

// GetByOwner retrieves the button bound to the given player.
func (r *ButtonRepository) GetByOwner(ctx context.Context, ownerID int64) (*model.Button, error) {
	const query = `SELECT ` + buttonColumns + ` FROM buttons WHERE owner_id = $1 AND NOT special`

	b, err := scanButton(r.pool.QueryRow(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrButtonNotFound
		}
		return nil, fmt.Errorf("failed to get button by owner: %w", err)
	}
	return b, nil
}

// FindActiveByCode looks up the button a code can still discover: carrying
// the code, not blocked, not yet consumed.
func (r *ButtonRepository) FindActiveByCode(ctx context.Context, code string) (*model.Button, error) {
	const query = `SELECT ` + buttonColumns + ` FROM buttons WHERE code = $1 AND NOT blocked AND NOT code_used LIMIT 1`

	b, err := scanButton(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrButtonNotFound
		}
		return nil, fmt.Errorf("failed to find button by code: %w", err)
	}
	return b, nil
}

// CodeBlocked reports whether the code belongs to a blocked button. Used
// to tell "кнопка заблокирована" apart from "код не найден".
func (r *ButtonRepository) CodeBlocked(ctx context.Context, code string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM buttons WHERE code = $1 AND blocked)`

	var blocked bool
	if err := r.pool.QueryRow(ctx, query, code).Scan(&blocked); err != nil {
		return false, fmt.Errorf("failed to check blocked code: %w", err)
	}
	return blocked, nil
}

// CodeInUse reports whether the code is already carried by any non-blocked
// button. Guards the uniqueness invariant for admin-added codes.
func (r *ButtonRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM buttons WHERE code = $1 AND NOT blocked)`

	var inUse bool
	if err := r.pool.QueryRow(ctx, query, code).Scan(&inUse); err != nil {
		return false, fmt.Errorf("failed to check code in use: %w", err)
	}
	return inUse, nil
}

// CodesInUse returns which of the given codes are already carried by a
// non-blocked button.
func (r *ButtonRepository) CodesInUse(ctx context.Context, codes []string) ([]string, error) {
	const query = `SELECT DISTINCT code FROM buttons WHERE code = ANY($1) AND NOT blocked`

	rows, err := r.pool.Query(ctx, query, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to check codes in use: %w", err)
	}
	defer rows.Close()

	var inUse []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		inUse = append(inUse, code)
	}
	return inUse, rows.Err()
}

// MarkCodeUsed consumes a button's code exactly once. False means another
// submitter won the race or the button got blocked meanwhile.
func (r *ButtonRepository) MarkCodeUsed(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE buttons
		SET code_used = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT code_used AND NOT blocked
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark code used: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSpecialTaken claims a special button for holding, exactly once.
func (r *ButtonRepository) MarkSpecialTaken(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE buttons
		SET taken = TRUE, updated_at = NOW()
		WHERE id = $1 AND special AND NOT taken AND NOT blocked
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark special taken: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ConsumeSpecial self-blocks a special button on activation, exactly once.
func (r *ButtonRepository) ConsumeSpecial(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE buttons
		SET blocked = TRUE, code_used = TRUE, updated_at = NOW()
		WHERE id = $1 AND special AND NOT blocked
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to consume special: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// BlockByOwner permanently blocks the eliminated player's button.
func (r *ButtonRepository) BlockByOwner(ctx context.Context, ownerID int64) error {
	const query = `
		UPDATE buttons
		SET blocked = TRUE, updated_at = NOW()
		WHERE owner_id = $1 AND NOT special
	`

	if _, err := r.pool.Exec(ctx, query, ownerID); err != nil {
		return fmt.Errorf("failed to block button: %w", err)
	}
	return nil
}

// AssignCode binds a code to a button at round start.
func (r *ButtonRepository) AssignCode(ctx context.Context, id int64, code string) error {
	const query = `
		UPDATE buttons
		SET code = $2, code_used = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, code)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to assign code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrButtonNotFound
	}
	return nil
}

// AddSpecial inserts an admin-created bonus button carrying a code.
func (r *ButtonRepository) AddSpecial(ctx context.Context, code, circle string) (*model.Button, error) {
	const query = `
		INSERT INTO buttons (circle, code, special, created_at, updated_at)
		VALUES ($1, $2, TRUE, NOW(), NOW())
		RETURNING ` + buttonColumns

	b, err := scanButton(r.pool.QueryRow(ctx, query, circle, code))
	if err != nil {
		// The partial unique index on live codes decides concurrent
		// same-code inserts.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrCodeTaken
		}
		return nil, fmt.Errorf("failed to add special button: %w", err)
	}
	return b, nil
}

func (r *ButtonRepository) queryButtons(ctx context.Context, query string, args ...any) ([]*model.Button, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query buttons: %w", err)
	}
	defer rows.Close()

	var buttons []*model.Button
	for rows.Next() {
		b, err := scanButton(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan button: %w", err)
		}
		buttons = append(buttons, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating buttons: %w", err)
	}
	return buttons, nil
}

// ListRegular returns every numbered slot in number order.
func (r *ButtonRepository) ListRegular(ctx context.Context) ([]*model.Button, error) {
	const query = `SELECT ` + buttonColumns + ` FROM buttons WHERE NOT special ORDER BY number`
	return r.queryButtons(ctx, query)
}

// ListTakenRegular returns taken, unblocked numbered slots in number order.
// These are the slots that participate in code assignment and reshuffles.
func (r *ButtonRepository) ListTakenRegular(ctx context.Context) ([]*model.Button, error) {
	const query = `SELECT ` + buttonColumns + ` FROM buttons WHERE taken AND NOT blocked AND NOT special ORDER BY number`
	return r.queryButtons(ctx, query)
}

// ListSpecials returns all special buttons.
func (r *ButtonRepository) ListSpecials(ctx context.Context) ([]*model.Button, error) {
	const query = `SELECT ` + buttonColumns + ` FROM buttons WHERE special ORDER BY id`
	return r.queryButtons(ctx, query)
}

// SetCircles rewrites the circle marker of each listed slot in one
// statement (the cosmetic shuffle).
func (r *ButtonRepository) SetCircles(ctx context.Context, ids []int64, circles []string) error {
	const query = `
		UPDATE buttons b
		SET circle = a.circle, updated_at = NOW()
		FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::varchar[]) AS circle) a
		WHERE b.id = a.id
	`

	if _, err := r.pool.Exec(ctx, query, ids, circles); err != nil {
		return fmt.Errorf("failed to set circles: %w", err)
	}
	return nil
}

// SetOwners rewrites the owner of each listed slot in one statement
// (the owner reshuffle triggered by a special button).
func (r *ButtonRepository) SetOwners(ctx context.Context, ids []int64, owners []int64) error {
	const query = `
		UPDATE buttons b
		SET owner_id = a.owner_id, updated_at = NOW()
		FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::bigint[]) AS owner_id) a
		WHERE b.id = a.id
	`

	if _, err := r.pool.Exec(ctx, query, ids, owners); err != nil {
		return fmt.Errorf("failed to set owners: %w", err)
	}
	return nil
}

// ResetRound clears per-round discovery consumption on unblocked slots.
func (r *ButtonRepository) ResetRound(ctx context.Context) error {
	const query = `UPDATE buttons SET code_used = FALSE, updated_at = NOW() WHERE NOT blocked AND NOT special`

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to reset round state: %w", err)
	}
	return nil
}

// ReleaseAll releases every slot binding: owners, codes, blocks. Special
// buttons are per-round admin creations and are removed outright.
func (r *ButtonRepository) ReleaseAll(ctx context.Context) error {
	const release = `
		UPDATE buttons
		SET taken = FALSE, blocked = FALSE, code_used = FALSE, code = NULL, owner_id = NULL, updated_at = NOW()
		WHERE NOT special
	`

	if _, err := r.pool.Exec(ctx, release); err != nil {
		return fmt.Errorf("failed to release buttons: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM buttons WHERE special`); err != nil {
		return fmt.Errorf("failed to delete special buttons: %w", err)
	}
	return nil
}

// HoldSpecial adds a special button to a player's held set.
func (r *ButtonRepository) HoldSpecial(ctx context.Context, playerID, buttonID int64) error {
	const query = `
		INSERT INTO held_specials (player_id, button_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (player_id, button_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, playerID, buttonID); err != nil {
		return fmt.Errorf("failed to hold special: %w", err)
	}
	return nil
}

// ReleaseSpecial consumes a held special exactly once. False means the
// button was not in the player's held set (or was consumed concurrently).
func (r *ButtonRepository) ReleaseSpecial(ctx context.Context, playerID, buttonID int64) (bool, error) {
	const query = `DELETE FROM held_specials WHERE player_id = $1 AND button_id = $2`

	tag, err := r.pool.Exec(ctx, query, playerID, buttonID)
	if err != nil {
		return false, fmt.Errorf("failed to release special: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListHeldSpecials returns the special buttons currently held by a player.
func (r *ButtonRepository) ListHeldSpecials(ctx context.Context, playerID int64) ([]*model.Button, error) {
	const query = `
		SELECT ` + buttonColumns + `
		FROM buttons
		WHERE id IN (SELECT button_id FROM held_specials WHERE player_id = $1) AND NOT blocked
		ORDER BY id
	`
	return r.queryButtons(ctx, query, playerID)
}

// ClearHeldSpecials truncates all held specials.
func (r *ButtonRepository) ClearHeldSpecials(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM held_specials`); err != nil {
		return fmt.Errorf("failed to clear held specials: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"button-hunt-bot/internal/model"
	"button-hunt-bot/internal/repository"
)

const specialCircle = "⭐"

// Admin implements the organizer operations: phase control, code pool
// management, special buttons, and roster views. Every entry point gates
// on the configured admin list; callers that fail the gate get
// ErrNotAuthorized and nothing else.
type Admin struct {
	players  *repository.PlayerRepository
	buttons  *repository.ButtonRepository
	sessions *repository.SessionRepository
	adminIDs []int64
}

// NewAdmin creates a new Admin service instance.
func NewAdmin(
	players *repository.PlayerRepository,
	buttons *repository.ButtonRepository,
	sessions *repository.SessionRepository,
	adminIDs []int64,
) *Admin {
	return &Admin{
		players:  players,
		buttons:  buttons,
		sessions: sessions,
		adminIDs: adminIDs,
	}
}

func (a *Admin) isAdmin(userID int64) bool {
	for _, id := range a.adminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// StartResult describes a started round.
type StartResult struct {
	// Assigned lists the buttons that received a code, owners bound.
	Assigned []*model.Button
	// Players are everyone registered, for the round-start broadcast.
	Players []*model.Player
}

// Start flips the session to running and deals one code from the pool to
// every claimed regular button that lacks one. The phase transition and
// the pool precondition are checked in a single statement, so among
// concurrent admins at most one round starts.
func (a *Admin) Start(ctx context.Context, callerID int64) (*StartResult, error) {
	if !a.isAdmin(callerID) {
		return nil, ErrNotAuthorized
	}

	taken, err := a.buttons.ListTakenRegular(ctx)
	if err != nil {
		return nil, err
	}
	var eligible []*model.Button
	for _, b := range taken {
		if b.Code == nil {
			eligible = append(eligible, b)
		}
	}

	// Fresh round: clear leftover knowledge and held bonuses while the
	// phase is still waiting, so a submission racing the flip cannot be
	// wiped by a late sweep.
	if err := a.players.ClearDiscoveries(ctx); err != nil {
		return nil, err
	}
	if err := a.buttons.ResetRound(ctx); err != nil {
		return nil, err
	}
	if err := a.buttons.ClearHeldSpecials(ctx); err != nil {
		return nil, err
	}

	pool, ok, err := a.sessions.Start(ctx, len(eligible))
	if err != nil {
		return nil, err
	}
	if !ok {
		session, gerr := a.sessions.Get(ctx)
		if gerr != nil {
			return nil, gerr
		}
		if session.Phase != model.PhaseWaiting {
			return nil, ErrGameInProgress
		}
		return nil, ErrInsufficientCodes
	}

	pool = shuffled(pool)
	next := 0
	for _, b := range eligible {
		for {
			if next >= len(pool) {
				// Pool entries collided with codes that landed on live
				// buttons since the precondition check.
				return nil, ErrInsufficientCodes
			}
			code := pool[next]
			next++
			err := a.buttons.AssignCode(ctx, b.ID, code)
			if errors.Is(err, repository.ErrCodeTaken) {
				continue
			}
			if err != nil {
				return nil, err
			}
			b.Code = &code
			break
		}
	}
	if err := a.sessions.SetPool(ctx, pool[next:]); err != nil {
		return nil, err
	}

	players, err := a.players.ListAlive(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("admin_id", callerID).
		Int("codes_dealt", len(eligible)).
		Msg("Game started")

	return &StartResult{Assigned: taken, Players: players}, nil
}

// End stops a running round: codes and held specials are released,
// discoveries wiped, slot bindings dropped. Players stay registered.
// Returns the non-admin players to notify.
func (a *Admin) End(ctx context.Context, callerID int64) ([]*model.Player, error) {
	if !a.isAdmin(callerID) {
		return nil, ErrNotAuthorized
	}

	ended, err := a.sessions.End(ctx)
	if err != nil {
		return nil, err
	}
	if !ended {
		return nil, ErrGameNotRunning
	}

	players, err := a.players.ListNonAdmins(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.buttons.ReleaseAll(ctx); err != nil {
		return nil, err
	}
	if err := a.players.ClearDiscoveries(ctx); err != nil {
		return nil, err
	}
	if err := a.buttons.ClearHeldSpecials(ctx); err != nil {
		return nil, err
	}
	if err := a.players.ClearButtonNumbers(ctx); err != nil {
		return nil, err
	}

	log.Info().Int64("admin_id", callerID).Msg("Game ended")
	return players, nil
}

// Reset wipes the lobby back to a clean waiting state: non-admin players
// purged, admins re-registered, all buttons released, pool emptied.
// Returns the purged players for the notification sweep.
func (a *Admin) Reset(ctx context.Context, callerID int64) ([]*model.Player, error) {
	if !a.isAdmin(callerID) {
		return nil, ErrNotAuthorized
	}

	purged, err := a.players.ListNonAdmins(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.sessions.Reset(ctx); err != nil {
		return nil, err
	}
	if _, err := a.players.DeleteNonAdmins(ctx); err != nil {
		return nil, err
	}
	for _, id := range a.adminIDs {
		if err := a.players.UpsertAdmin(ctx, id); err != nil {
			return nil, err
		}
	}
	if err := a.buttons.ReleaseAll(ctx); err != nil {
		return nil, err
	}
	if err := a.players.ClearDiscoveries(ctx); err != nil {
		return nil, err
	}
	if err := a.buttons.ClearHeldSpecials(ctx); err != nil {
		return nil, err
	}

	log.Info().Int64("admin_id", callerID).Int("purged", len(purged)).Msg("Game reset")
	return purged, nil
}

// AddCodes normalizes and merges the given codes into the session pool.
// Codes already carried by a live button (a dealt code or a special) are
// dropped, so the pool never deals a duplicate of an active code.
// Returns the number of codes actually new to the pool.
func (a *Admin) AddCodes(ctx context.Context, callerID int64, codes []string) (int, error) {
	if !a.isAdmin(callerID) {
		return 0, ErrNotAuthorized
	}

	normalized := normalizeCodes(codes)
	if len(normalized) == 0 {
		return 0, nil
	}

	inUse, err := a.buttons.CodesInUse(ctx, normalized)
	if err != nil {
		return 0, err
	}
	if len(inUse) > 0 {
		taken := make(map[string]struct{}, len(inUse))
		for _, c := range inUse {
			taken[c] = struct{}{}
		}
		kept := normalized[:0]
		for _, c := range normalized {
			if _, ok := taken[c]; !ok {
				kept = append(kept, c)
			}
		}
		normalized = kept
		log.Warn().Int64("admin_id", callerID).Int("dropped", len(inUse)).Msg("Codes already on live buttons dropped")
	}
	if len(normalized) == 0 {
		return 0, nil
	}

	before, err := a.sessions.Get(ctx)
	if err != nil {
		return 0, err
	}
	pool, err := a.sessions.AddCodes(ctx, normalized)
	if err != nil {
		return 0, err
	}

	added := len(pool.CodePool) - len(before.CodePool)
	log.Info().Int64("admin_id", callerID).Int("added", added).Msg("Codes added to pool")
	return added, nil
}

// AddSpecialButton registers a bonus button under the given code. The
// code must collide with nothing: not an active button code, not a pool
// entry.
func (a *Admin) AddSpecialButton(ctx context.Context, callerID int64, code string) (*model.Button, error) {
	if !a.isAdmin(callerID) {
		return nil, ErrNotAuthorized
	}

	code = normalizeCode(code)
	if code == "" {
		return nil, ErrCodeNotFound
	}

	inUse, err := a.buttons.CodeInUse(ctx, code)
	if err != nil {
		return nil, err
	}
	if !inUse {
		inUse, err = a.sessions.PoolContains(ctx, code)
		if err != nil {
			return nil, err
		}
	}
	if inUse {
		return nil, ErrDuplicateCode
	}

	button, err := a.buttons.AddSpecial(ctx, code, specialCircle)
	if err != nil {
		if errors.Is(err, repository.ErrCodeTaken) {
			return nil, ErrDuplicateCode
		}
		return nil, err
	}

	log.Info().Int64("admin_id", callerID).Int64("button_id", button.ID).Msg("Special button added")
	return button, nil
}

// ShufflePairs permutes the circle emojis across the regular slots.
func (a *Admin) ShufflePairs(ctx context.Context, callerID int64) ([]*model.Button, error) {
	if !a.isAdmin(callerID) {
		return nil, ErrNotAuthorized
	}

	buttons, err := a.buttons.ListRegular(ctx)
	if err != nil {
		return nil, err
	}
	if len(buttons) < 2 {
		return buttons, nil
	}

	ids := make([]int64, len(buttons))
	circles := make([]string, len(buttons))
	for i, b := range buttons {
		ids[i] = b.ID
		circles[i] = b.Circle
	}
	circles = shuffled(circles)
	if err := a.buttons.SetCircles(ctx, ids, circles); err != nil {
		return nil, err
	}
	for i, b := range buttons {
		b.Circle = circles[i]
	}

	log.Info().Int64("admin_id", callerID).Msg("Pairs shuffled")
	return buttons, nil
}

// ListPlayers returns the full roster for the admin views.
func (a *Admin) ListPlayers(ctx context.Context, callerID int64) ([]*model.Player, error) {
	if !a.isAdmin(callerID) {
		return nil, ErrNotAuthorized
	}
	return a.players.ListNonAdmins(ctx)
}

// ListButtons returns every regular slot for the status and pairs views.
func (a *Admin) ListButtons(ctx context.Context, callerID int64) ([]*model.Button, error) {
	if !a.isAdmin(callerID) {
		return nil, ErrNotAuthorized
	}
	return a.buttons.ListRegular(ctx)
}

// Session exposes the current session to the admin views.
func (a *Admin) Session(ctx context.Context) (*model.Session, error) {
	return a.sessions.Get(ctx)
}

// SyncAdmins registers the configured admins at startup so they exist in
// the roster before their first interaction.
func (a *Admin) SyncAdmins(ctx context.Context) error {
	for _, id := range a.adminIDs {
		if err := a.players.UpsertAdmin(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

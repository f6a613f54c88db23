package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"button-hunt-bot/internal/model"
	"button-hunt-bot/internal/repository"
)

// Registry handles player enrollment and roster views.
type Registry struct {
	players  *repository.PlayerRepository
	buttons  *repository.ButtonRepository
	sessions *repository.SessionRepository
	adminIDs []int64
}

// NewRegistry creates a new Registry instance.
func NewRegistry(
	players *repository.PlayerRepository,
	buttons *repository.ButtonRepository,
	sessions *repository.SessionRepository,
	adminIDs []int64,
) *Registry {
	return &Registry{
		players:  players,
		buttons:  buttons,
		sessions: sessions,
		adminIDs: adminIDs,
	}
}

func (r *Registry) isAdmin(telegramID int64) bool {
	for _, id := range r.adminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// AdminIDs returns the static admin allow-list.
func (r *Registry) AdminIDs() []int64 {
	return r.adminIDs
}

// JoinResult describes the outcome of a join attempt.
type JoinResult struct {
	Player  *model.Player
	Button  *model.Button // nil for admins
	Created bool
}

// Join enrolls a participant. Existing players are returned as-is with
// refreshed display fields. Non-admins may only join while the session is
// waiting and only while a numbered slot is free; the slot claim doubles
// as the capacity check.
func (r *Registry) Join(ctx context.Context, telegramID int64, username, firstName string) (*JoinResult, error) {
	player, err := r.players.GetByID(ctx, telegramID)
	if err == nil {
		if player.Username != username || player.FirstName != firstName {
			if err := r.players.UpdateName(ctx, telegramID, username, firstName); err == nil {
				player.Username = username
				player.FirstName = firstName
			}
		}
		return &JoinResult{Player: player}, nil
	}
	if !errors.Is(err, repository.ErrPlayerNotFound) {
		return nil, fmt.Errorf("failed to look up joining player: %w", err)
	}

	if r.isAdmin(telegramID) {
		player, err = r.players.Create(ctx, telegramID, username, firstName, true, nil)
		if err != nil {
			if errors.Is(err, repository.ErrPlayerExists) {
				player, err = r.players.GetByID(ctx, telegramID)
				if err != nil {
					return nil, err
				}
				return &JoinResult{Player: player}, nil
			}
			return nil, err
		}
		return &JoinResult{Player: player, Created: true}, nil
	}

	session, err := r.sessions.Get(ctx)
	if err != nil {
		return nil, err
	}
	if session.Phase != model.PhaseWaiting {
		return nil, ErrGameInProgress
	}

	button, err := r.buttons.ClaimFree(ctx, telegramID)
	if err != nil {
		if errors.Is(err, repository.ErrButtonNotFound) {
			return nil, ErrCapacityExceeded
		}
		return nil, err
	}

	player, err = r.players.Create(ctx, telegramID, username, firstName, false, button.Number)
	if err != nil {
		// A concurrent join for the same participant won; give the slot back.
		if relErr := r.buttons.ReleaseClaim(ctx, button.ID); relErr != nil {
			log.Error().Err(relErr).Int64("button_id", button.ID).Msg("Failed to release claimed button")
		}
		if errors.Is(err, repository.ErrPlayerExists) {
			player, err = r.players.GetByID(ctx, telegramID)
			if err != nil {
				return nil, err
			}
			return &JoinResult{Player: player}, nil
		}
		return nil, err
	}

	log.Info().
		Int64("user_id", telegramID).
		Int("number", *button.Number).
		Msg("Player joined and claimed a slot")

	return &JoinResult{Player: player, Button: button, Created: true}, nil
}

// DiscoveredOpponents returns the live players the given player holds
// leads on.
func (r *Registry) DiscoveredOpponents(ctx context.Context, playerID int64) ([]*model.Player, error) {
	return r.players.ListDiscovered(ctx, playerID)
}

// HeldSpecials returns the unconsumed special buttons held by the player.
func (r *Registry) HeldSpecials(ctx context.Context, playerID int64) ([]*model.Button, error) {
	return r.buttons.ListHeldSpecials(ctx, playerID)
}

// Player fetches a single player record.
func (r *Registry) Player(ctx context.Context, telegramID int64) (*model.Player, error) {
	return r.players.GetByID(ctx, telegramID)
}

// Session returns the current session snapshot.
func (r *Registry) Session(ctx context.Context) (*model.Session, error) {
	return r.sessions.Get(ctx)
}

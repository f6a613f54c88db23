package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"button-hunt-bot/internal/model"
	"button-hunt-bot/internal/repository"
)

// Engine implements code discovery, special button activation, and
// elimination with lead redistribution. It never talks to the transport:
// each operation returns a result value listing what happened and who
// should hear about it, and the handlers do the sending.
type Engine struct {
	players  *repository.PlayerRepository
	buttons  *repository.ButtonRepository
	sessions *repository.SessionRepository
}

// NewEngine creates a new Engine instance.
func NewEngine(
	players *repository.PlayerRepository,
	buttons *repository.ButtonRepository,
	sessions *repository.SessionRepository,
) *Engine {
	return &Engine{
		players:  players,
		buttons:  buttons,
		sessions: sessions,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscoveryResult describes a successful code submission.
type DiscoveryResult struct {
	// Target is the owner of the discovered button; nil when a special
	// button was found instead.
	Target *model.Player
	// TargetButton is the consumed button of Target.
	TargetButton *model.Button
	// Special is the bonus button now held by the submitter, if any.
	Special *model.Button
}

// requireRunning loads the session and rejects when the round is not live.
func (e *Engine) requireRunning(ctx context.Context) error {
	session, err := e.sessions.Get(ctx)
	if err != nil {
		return err
	}
	if session.Phase != model.PhaseRunning {
		return ErrGameNotRunning
	}
	return nil
}

// requireAlive loads the submitter and rejects eliminated players.
func (e *Engine) requireAlive(ctx context.Context, playerID int64) (*model.Player, error) {
	player, err := e.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if !player.Alive {
		return nil, ErrPlayerEliminated
	}
	return player, nil
}

// TryDiscover validates a submitted code and grants the discovery. The
// code consumption is a compare-and-set on the button; among concurrent
// submitters of the same code at most one succeeds, the rest observe
// ErrCodeNotFound.
func (e *Engine) TryDiscover(ctx context.Context, submitterID int64, rawCode string) (*DiscoveryResult, error) {
	if err := e.requireRunning(ctx); err != nil {
		return nil, err
	}
	if _, err := e.requireAlive(ctx, submitterID); err != nil {
		return nil, err
	}

	code := normalizeCode(rawCode)
	button, err := e.buttons.FindActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrButtonNotFound) {
			blocked, berr := e.buttons.CodeBlocked(ctx, code)
			if berr != nil {
				return nil, berr
			}
			if blocked {
				return nil, ErrButtonBlocked
			}
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	if button.Special {
		return e.holdSpecial(ctx, submitterID, button)
	}

	if button.OwnerID == nil {
		// Codeless limbo: the slot carries a code but no player claimed it.
		return nil, ErrCodeNotFound
	}
	targetID := *button.OwnerID
	if targetID == submitterID {
		return nil, ErrSelfCodeRejected
	}

	found, err := e.players.HasDiscovered(ctx, submitterID, targetID)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, ErrAlreadyDiscovered
	}

	won, err := e.buttons.MarkCodeUsed(ctx, button.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Another submitter consumed the code first.
		log.Debug().Int64("user_id", submitterID).Str("code", code).Msg("Lost code race")
		return nil, ErrCodeNotFound
	}

	if _, err := e.players.Discover(ctx, submitterID, targetID); err != nil {
		return nil, err
	}

	target, err := e.players.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", submitterID).
		Int64("target_id", targetID).
		Msg("Code discovered")

	return &DiscoveryResult{Target: target, TargetButton: button}, nil
}

// holdSpecial claims a bonus button for the submitter instead of marking
// a discovery.
func (e *Engine) holdSpecial(ctx context.Context, submitterID int64, button *model.Button) (*DiscoveryResult, error) {
	won, err := e.buttons.MarkSpecialTaken(ctx, button.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrCodeNotFound
	}
	if err := e.buttons.HoldSpecial(ctx, submitterID, button.ID); err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", submitterID).
		Int64("button_id", button.ID).
		Msg("Special button found")

	return &DiscoveryResult{Special: button}, nil
}

// OwnerAssignment is one player's new slot after an owner reshuffle.
type OwnerAssignment struct {
	PlayerID int64
	Number   int
	Circle   string
}

// SpecialUseResult describes an activated special button.
type SpecialUseResult struct {
	Button      *model.Button
	Assignments []OwnerAssignment
}

// UseSpecial activates a held bonus button: it reshuffles the
// owner-to-slot bindings among all taken, unblocked regular buttons,
// self-blocks, and leaves the caller's held set. One-shot; no undo.
func (e *Engine) UseSpecial(ctx context.Context, playerID, buttonID int64) (*SpecialUseResult, error) {
	if err := e.requireRunning(ctx); err != nil {
		return nil, err
	}
	if _, err := e.requireAlive(ctx, playerID); err != nil {
		return nil, err
	}

	held, err := e.buttons.ReleaseSpecial(ctx, playerID, buttonID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, ErrSpecialNotHeld
	}

	consumed, err := e.buttons.ConsumeSpecial(ctx, buttonID)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrSpecialNotHeld
	}
	button, err := e.buttons.GetByID(ctx, buttonID)
	if err != nil {
		return nil, err
	}

	assignments, err := e.reshuffleOwners(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", playerID).
		Int64("button_id", buttonID).
		Int("rebound", len(assignments)).
		Msg("Special button used, owners reshuffled")

	return &SpecialUseResult{Button: button, Assignments: assignments}, nil
}

// reshuffleOwners permutes the owners of all taken, unblocked regular
// slots. Numbers and circles stay put; each player keeps exactly one slot.
func (e *Engine) reshuffleOwners(ctx context.Context) ([]OwnerAssignment, error) {
	buttons, err := e.buttons.ListTakenRegular(ctx)
	if err != nil {
		return nil, err
	}
	var ids []int64
	var owners []int64
	var slots []*model.Button
	for _, b := range buttons {
		if b.OwnerID == nil || b.Number == nil {
			continue
		}
		ids = append(ids, b.ID)
		owners = append(owners, *b.OwnerID)
		slots = append(slots, b)
	}
	if len(slots) < 2 {
		return nil, nil
	}

	newOwners := derangedOwners(owners)
	if err := e.buttons.SetOwners(ctx, ids, newOwners); err != nil {
		return nil, err
	}

	numbers := make([]int, len(slots))
	assignments := make([]OwnerAssignment, len(slots))
	for i, b := range slots {
		numbers[i] = *b.Number
		assignments[i] = OwnerAssignment{
			PlayerID: newOwners[i],
			Number:   *b.Number,
			Circle:   b.Circle,
		}
	}
	if err := e.players.SetButtonNumbers(ctx, newOwners, numbers); err != nil {
		return nil, err
	}
	return assignments, nil
}

// EliminationResult describes a committed elimination.
type EliminationResult struct {
	Target *model.Player
	// Redistributed maps each recipient to the leads handed over from
	// the target's discovered set.
	Redistributed map[int64][]*model.Player
	// Survivors are the live players (target excluded) for the broadcast.
	Survivors []*model.Player
}

// Eliminate commits the kick of target by caller. The alive transition is
// a compare-and-set; among concurrent callers exactly one wins, the rest
// observe ErrAlreadyEliminated. The target's undiscovered leads flow to
// the caller, or round-robin across live non-admin players when the
// caller eliminated themselves.
func (e *Engine) Eliminate(ctx context.Context, callerID, targetID int64) (*EliminationResult, error) {
	if err := e.requireRunning(ctx); err != nil {
		return nil, err
	}

	target, err := e.players.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	won, err := e.players.Eliminate(ctx, targetID, callerID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyEliminated
	}
	target.Alive = false
	target.EliminatedBy = &callerID

	if err := e.buttons.BlockByOwner(ctx, targetID); err != nil {
		return nil, err
	}

	redistributed, err := e.redistributeLeads(ctx, callerID, targetID)
	if err != nil {
		return nil, err
	}

	// The dead target is no longer an actionable lead for anyone.
	if err := e.players.RemoveLeadsTo(ctx, targetID); err != nil {
		return nil, err
	}

	survivors, err := e.players.ListAlive(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", callerID).
		Int64("target_id", targetID).
		Msg("Player eliminated")

	return &EliminationResult{
		Target:        target,
		Redistributed: redistributed,
		Survivors:     survivors,
	}, nil
}

// redistributeLeads hands the target's unacted leads forward so knowledge
// does not vanish with the eliminated player.
func (e *Engine) redistributeLeads(ctx context.Context, callerID, targetID int64) (map[int64][]*model.Player, error) {
	rawLeads, err := e.players.Leads(ctx, targetID)
	if err != nil {
		return nil, err
	}
	var leads []int64
	for _, lead := range rawLeads {
		if lead == targetID || lead == callerID {
			continue
		}
		leads = append(leads, lead)
	}
	if err := e.players.RemoveLeadsOf(ctx, targetID); err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, nil
	}

	var shares map[int64][]int64
	if callerID == targetID {
		// Self-elimination: no single most-entitled recipient; deal the
		// leads round-robin across the remaining live non-admin players.
		live, err := e.players.ListAliveNonAdmins(ctx)
		if err != nil {
			return nil, err
		}
		var recipients []int64
		for _, p := range live {
			if p.TelegramID != targetID {
				recipients = append(recipients, p.TelegramID)
			}
		}
		shares = roundRobin(leads, recipients)
	} else {
		shares = map[int64][]int64{callerID: leads}
	}

	out := make(map[int64][]*model.Player)
	for recipient, grant := range shares {
		for _, lead := range grant {
			granted, err := e.players.Discover(ctx, recipient, lead)
			if err != nil {
				return nil, err
			}
			if !granted {
				// Recipient already held this lead; nothing to hand over.
				continue
			}
			leadPlayer, err := e.players.GetByID(ctx, lead)
			if err != nil {
				if errors.Is(err, repository.ErrPlayerNotFound) {
					continue
				}
				return nil, fmt.Errorf("failed to load redistributed lead: %w", err)
			}
			out[recipient] = append(out[recipient], leadPlayer)
		}
	}
	return out, nil
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"button-hunt-bot/internal/menu"
	"button-hunt-bot/internal/model"
	"button-hunt-bot/internal/pkg/lock"
	"button-hunt-bot/internal/pkg/pending"
	"button-hunt-bot/internal/repository"
	"button-hunt-bot/internal/service"
)

// PlayerHandler handles joining, the player menu, code submission and
// kicks.
type PlayerHandler struct {
	registry   *service.Registry
	engine     *service.Engine
	admin      *service.Admin
	pending    *pending.Registry
	playerLock *lock.PlayerLock
}

// NewPlayerHandler creates a new PlayerHandler.
func NewPlayerHandler(
	registry *service.Registry,
	engine *service.Engine,
	admin *service.Admin,
	pendingReg *pending.Registry,
	playerLock *lock.PlayerLock,
) *PlayerHandler {
	return &PlayerHandler{
		registry:   registry,
		engine:     engine,
		admin:      admin,
		pending:    pendingReg,
		playerLock: playerLock,
	}
}

// HandleStart handles /start and the "Начать" reply button: enroll the
// player if new, then show the menu for the current phase.
func (h *PlayerHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	res, err := h.registry.Join(ctx, sender.ID, sender.Username, sender.FirstName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGameInProgress):
			return c.Send(msgGameInProgress, menu.StartKeyboard())
		case errors.Is(err, service.ErrCapacityExceeded):
			return c.Send(msgLobbyFull, menu.StartKeyboard())
		}
		return fmt.Errorf("join failed: %w", err)
	}

	if res.Created && res.Button != nil {
		square := menu.NumberToSquare(res.Button.Number)
		for _, adminID := range h.registry.AdminIDs() {
			notify(c, adminID, fmt.Sprintf(
				"Подключился игрок %s %s%s",
				res.Player.Name(), square, res.Button.Circle,
			))
		}
	}

	if !res.Player.Alive {
		return c.Send(msgYouBlocked, menu.StartKeyboard())
	}

	session, err := h.registry.Session(ctx)
	if err != nil {
		return err
	}
	if session.Phase != model.PhaseRunning && !res.Player.IsAdmin {
		return c.Send(msgNotStarted, menu.StartKeyboard())
	}
	return sendMenu(ctx, c, h.registry, sender.ID)
}

// guardLivePlayer re-reads the sender and rejects the interaction when
// the round is not live or the player is out. A nil player with nil
// error means the guard already replied.
func (h *PlayerHandler) guardLivePlayer(ctx context.Context, c tele.Context, senderID int64) (*model.Player, error) {
	session, err := h.registry.Session(ctx)
	if err != nil {
		return nil, err
	}

	player, err := h.registry.Player(ctx, senderID)
	if err != nil {
		if errors.Is(err, repository.ErrPlayerNotFound) {
			return nil, c.Send(msgNotStarted, menu.StartKeyboard())
		}
		return nil, err
	}

	if session.Phase != model.PhaseRunning {
		if err := c.Send(msgNotStarted, menu.StartKeyboard()); err != nil {
			return nil, err
		}
		if player.IsAdmin {
			return nil, sendMenu(ctx, c, h.registry, senderID)
		}
		return nil, nil
	}
	if !player.Alive {
		return nil, c.Send(msgYouBlocked, menu.StartKeyboard())
	}
	return player, nil
}

// HandleMenuCode arms the awaiting-code state and prompts for input.
func (h *PlayerHandler) HandleMenuCode(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	player, err := h.guardLivePlayer(ctx, c, sender.ID)
	if err != nil || player == nil {
		return err
	}

	h.pending.Set(sender.ID, pending.KindCode)
	return c.Send("Отправьте код.")
}

// HandleMenuList shows the discovered opponents as kick targets.
func (h *PlayerHandler) HandleMenuList(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	player, err := h.guardLivePlayer(ctx, c, sender.ID)
	if err != nil || player == nil {
		return err
	}

	opponents, err := h.registry.DiscoveredOpponents(ctx, sender.ID)
	if err != nil {
		return err
	}
	if len(opponents) == 0 {
		if err := c.Send("Нет доступных кнопок."); err != nil {
			return err
		}
		return sendMenu(ctx, c, h.registry, sender.ID)
	}
	return c.Send("Доступные кнопки:", menu.BuildOpponentList(opponents))
}

// HandleMenuSpecials shows the player's held bonus buttons.
func (h *PlayerHandler) HandleMenuSpecials(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	player, err := h.guardLivePlayer(ctx, c, sender.ID)
	if err != nil || player == nil {
		return err
	}

	held, err := h.registry.HeldSpecials(ctx, sender.ID)
	if err != nil {
		return err
	}
	if len(held) == 0 {
		if err := c.Send("Нет бонусных кнопок."); err != nil {
			return err
		}
		return sendMenu(ctx, c, h.registry, sender.ID)
	}
	return c.Send("Ваши бонусы:", menu.BuildSpecialsList(held))
}

// HandleConfirmKick asks for confirmation before a kick commits.
func (h *PlayerHandler) HandleConfirmKick(c tele.Context, targetArg string) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	targetID, err := strconv.ParseInt(targetArg, 10, 64)
	if err != nil {
		return nil
	}
	target, err := h.registry.Player(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrPlayerNotFound) {
			return nil
		}
		return err
	}

	square := menu.NumberToSquare(target.ButtonNumber)
	return c.Send(
		fmt.Sprintf("Заблокировать игрока %s?", square),
		menu.BuildConfirmKick(targetID),
	)
}

// HandleCancelKick drops the confirmation and returns to the menu.
func (h *PlayerHandler) HandleCancelKick(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	return sendMenu(ctx, c, h.registry, sender.ID)
}

// HandleBackToMenu re-renders the menu.
func (h *PlayerHandler) HandleBackToMenu(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	return sendMenu(ctx, c, h.registry, sender.ID)
}

// HandleKick commits an elimination and fans out the notifications.
func (h *PlayerHandler) HandleKick(c tele.Context, targetArg string) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	targetID, err := strconv.ParseInt(targetArg, 10, 64)
	if err != nil {
		return nil
	}

	res, err := h.engine.Eliminate(ctx, sender.ID, targetID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGameNotRunning):
			return c.Send(msgNotStarted, menu.StartKeyboard())
		case errors.Is(err, service.ErrAlreadyEliminated):
			// Someone beat us to it; just fall back to the menu.
			if targetID != sender.ID {
				return sendMenu(ctx, c, h.registry, sender.ID)
			}
			return nil
		case errors.Is(err, repository.ErrPlayerNotFound):
			return nil
		}
		return fmt.Errorf("kick failed: %w", err)
	}

	notify(c, res.Target.TelegramID, msgYouBlocked)

	departure := fmt.Sprintf("Игрок %s покидает игру.", menu.NumberToSquare(res.Target.ButtonNumber))
	for _, p := range res.Survivors {
		if p.TelegramID == res.Target.TelegramID {
			continue
		}
		notify(c, p.TelegramID, departure)
	}

	for recipient, leads := range res.Redistributed {
		for _, lead := range leads {
			notify(c, recipient, fmt.Sprintf(
				"Вам передана кнопка %s.", menu.NumberToSquare(lead.ButtonNumber),
			))
		}
	}

	log.Info().
		Int64("user_id", sender.ID).
		Int64("target_id", targetID).
		Msg("Kick committed")

	if res.Target.TelegramID != sender.ID {
		return sendMenu(ctx, c, h.registry, sender.ID)
	}
	return nil
}

// HandleUseSpecial activates a held bonus button.
func (h *PlayerHandler) HandleUseSpecial(c tele.Context, buttonArg string) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	buttonID, err := strconv.ParseInt(buttonArg, 10, 64)
	if err != nil {
		return nil
	}

	res, err := h.engine.UseSpecial(ctx, sender.ID, buttonID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGameNotRunning):
			return c.Send(msgNotStarted, menu.StartKeyboard())
		case errors.Is(err, service.ErrPlayerEliminated):
			return c.Send(msgYouBlocked, menu.StartKeyboard())
		case errors.Is(err, service.ErrSpecialNotHeld):
			if sendErr := c.Send("Бонус уже использован."); sendErr != nil {
				return sendErr
			}
			return sendMenu(ctx, c, h.registry, sender.ID)
		}
		return fmt.Errorf("special activation failed: %w", err)
	}

	if err := c.Send("Бонус активирован ⭐. Кнопки перемешаны!"); err != nil {
		return err
	}
	for _, a := range res.Assignments {
		number := a.Number
		notify(c, a.PlayerID, fmt.Sprintf(
			"Кнопки перемешаны! Ваша новая кнопка: %s%s",
			menu.NumberToSquare(&number), a.Circle,
		))
	}
	return sendMenu(ctx, c, h.registry, sender.ID)
}

// HandleText consumes awaiting input: the "Начать" reply button, pending
// admin codes, or a pending discovery code. Everything else is ignored.
func (h *PlayerHandler) HandleText(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	text := strings.TrimSpace(c.Text())
	if strings.EqualFold(text, menu.StartText) {
		return h.HandleStart(c)
	}

	// Serialize per player so a double-send consumes the pending state
	// exactly once.
	h.playerLock.Lock(sender.ID)
	defer h.playerLock.Unlock(sender.ID)

	kind, ok := h.pending.Take(sender.ID)
	if !ok {
		return nil
	}

	switch kind {
	case pending.KindAdminCodes:
		return h.handleAdminCodes(c, sender.ID, text)
	case pending.KindCode:
		return h.handleCodeSubmission(c, sender.ID, text)
	}
	return nil
}

func (h *PlayerHandler) handleAdminCodes(c tele.Context, senderID int64, text string) error {
	ctx := context.Background()

	codes := strings.Fields(text)
	added, err := h.admin.AddCodes(ctx, senderID, codes)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			return nil
		}
		return fmt.Errorf("adding codes failed: %w", err)
	}
	if len(codes) == 0 {
		if err := c.Send("Нет кодов."); err != nil {
			return err
		}
	} else if err := c.Send("Коды добавлены."); err != nil {
		return err
	}

	log.Info().Int64("user_id", senderID).Int("added", added).Msg("Admin codes consumed")
	return sendMenu(ctx, c, h.registry, senderID)
}

func (h *PlayerHandler) handleCodeSubmission(c tele.Context, senderID int64, text string) error {
	ctx := context.Background()

	res, err := h.engine.TryDiscover(ctx, senderID, text)
	if err != nil {
		var reply string
		switch {
		case errors.Is(err, service.ErrGameNotRunning):
			return c.Send(msgNotStarted, menu.StartKeyboard())
		case errors.Is(err, service.ErrPlayerEliminated):
			return c.Send(msgYouBlocked, menu.StartKeyboard())
		case errors.Is(err, service.ErrButtonBlocked):
			reply = "Кнопка заблокирована."
		case errors.Is(err, service.ErrAlreadyDiscovered):
			reply = "Уже найден."
		case errors.Is(err, service.ErrSelfCodeRejected):
			reply = "Это ваш собственный код."
		case errors.Is(err, service.ErrCodeNotFound):
			reply = "Код не найден или уже использован."
		default:
			return fmt.Errorf("code submission failed: %w", err)
		}
		if err := c.Send(reply); err != nil {
			return err
		}
		return sendMenu(ctx, c, h.registry, senderID)
	}

	if res.Special != nil {
		if err := c.Send("Вы нашли бонусную кнопку ⭐!"); err != nil {
			return err
		}
		return sendMenu(ctx, c, h.registry, senderID)
	}

	if err := c.Send(fmt.Sprintf("Вы обнаружили %s кнопку.", res.TargetButton.Circle)); err != nil {
		return err
	}
	return sendMenu(ctx, c, h.registry, senderID)
}

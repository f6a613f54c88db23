package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"button-hunt-bot/internal/menu"
	"button-hunt-bot/internal/model"
	"button-hunt-bot/internal/pkg/pending"
	"button-hunt-bot/internal/service"
)

// AdminHandler handles the organizer callbacks: phase control, the code
// pool, special buttons, and the roster views. Unauthorized callers are
// ignored silently.
type AdminHandler struct {
	admin    *service.Admin
	registry *service.Registry
	pending  *pending.Registry
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(admin *service.Admin, registry *service.Registry, pendingReg *pending.Registry) *AdminHandler {
	return &AdminHandler{
		admin:    admin,
		registry: registry,
		pending:  pendingReg,
	}
}

// HandleStartGame deals the codes and opens the round.
func (h *AdminHandler) HandleStartGame(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	res, err := h.admin.Start(ctx, sender.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotAuthorized):
			return nil
		case errors.Is(err, service.ErrGameInProgress):
			if sendErr := c.Send("Игра уже началась."); sendErr != nil {
				return sendErr
			}
			return sendMenu(ctx, c, h.registry, sender.ID)
		case errors.Is(err, service.ErrInsufficientCodes):
			if sendErr := c.Send("Недостаточно кодов для всех игроков."); sendErr != nil {
				return sendErr
			}
			return sendMenu(ctx, c, h.registry, sender.ID)
		}
		return fmt.Errorf("game start failed: %w", err)
	}

	for _, p := range res.Players {
		notify(c, p.TelegramID,
			"Игра началась! Нажмите \"Начать\", чтобы открыть меню.",
			menu.StartKeyboard(),
		)
	}

	log.Info().Int64("admin_id", sender.ID).Msg("Round opened")
	return sendMenu(ctx, c, h.registry, sender.ID)
}

// HandleEndGame closes the round and tells the players.
func (h *AdminHandler) HandleEndGame(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	players, err := h.admin.End(ctx, sender.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotAuthorized):
			return nil
		case errors.Is(err, service.ErrGameNotRunning):
			if sendErr := c.Send("Игра не запущена."); sendErr != nil {
				return sendErr
			}
			return sendMenu(ctx, c, h.registry, sender.ID)
		}
		return fmt.Errorf("game end failed: %w", err)
	}

	for _, p := range players {
		notify(c, p.TelegramID, "Игра завершена.")
	}
	if err := c.Send("Игра завершена."); err != nil {
		return err
	}
	return sendMenu(ctx, c, h.registry, sender.ID)
}

// HandleResetGame wipes the lobby back to a clean waiting state.
func (h *AdminHandler) HandleResetGame(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	purged, err := h.admin.Reset(ctx, sender.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			return nil
		}
		return fmt.Errorf("game reset failed: %w", err)
	}

	for _, p := range purged {
		notify(c, p.TelegramID, "Игра сброшена.")
	}
	if err := c.Send("Игра сброшена."); err != nil {
		return err
	}
	return sendMenu(ctx, c, h.registry, sender.ID)
}

// HandleAddCodes arms the awaiting-codes state for the admin.
func (h *AdminHandler) HandleAddCodes(c tele.Context) error {
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	if !isAdminID(h.registry.AdminIDs(), sender.ID) {
		return nil
	}

	h.pending.Set(sender.ID, pending.KindAdminCodes)
	return c.Send("Отправьте коды через пробел.")
}

// HandlePlayerList shows the roster with slots, codes, and liveness.
func (h *AdminHandler) HandlePlayerList(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	players, err := h.admin.ListPlayers(ctx, sender.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			return nil
		}
		return err
	}
	buttons, err := h.admin.ListButtons(ctx, sender.ID)
	if err != nil {
		return err
	}

	codes := make(map[int64]string)
	for _, b := range buttons {
		if b.OwnerID != nil && b.Code != nil {
			codes[*b.OwnerID] = *b.Code
		}
	}

	if err := c.Send(menu.FormatPlayerList(players, codes)); err != nil {
		return err
	}
	return sendMenu(ctx, c, h.registry, sender.ID)
}

// HandleShowPairs shows the number-to-circle table.
func (h *AdminHandler) HandleShowPairs(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	buttons, err := h.admin.ListButtons(ctx, sender.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			return nil
		}
		return err
	}
	return c.Send(menu.FormatPairs(buttons, false), menu.BuildPairsPanel())
}

// HandleShufflePairs permutes the circles and shows the new table.
func (h *AdminHandler) HandleShufflePairs(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	buttons, err := h.admin.ShufflePairs(ctx, sender.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			return nil
		}
		return fmt.Errorf("pair shuffle failed: %w", err)
	}
	return c.Send(menu.FormatPairs(buttons, true), menu.BuildPairsPanel())
}

// HandleButtonStatus shows the per-slot round status.
func (h *AdminHandler) HandleButtonStatus(c tele.Context) error {
	ctx := context.Background()
	_ = c.Respond()
	_ = c.Delete()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	buttons, err := h.admin.ListButtons(ctx, sender.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			return nil
		}
		return err
	}
	players, err := h.admin.ListPlayers(ctx, sender.ID)
	if err != nil {
		return err
	}

	byID := make(map[int64]*model.Player, len(players))
	for _, p := range players {
		byID[p.TelegramID] = p
	}
	return c.Send(menu.FormatButtonStatus(buttons, byID), menu.BuildBackPanel())
}

// HandleAddSpecial handles the /add_special <code> command.
func (h *AdminHandler) HandleAddSpecial(c tele.Context) error {
	ctx := context.Background()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := strings.Fields(c.Message().Payload)
	if len(args) != 1 {
		return c.Send("Использование: /add_special <код>")
	}

	button, err := h.admin.AddSpecialButton(ctx, sender.ID, args[0])
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotAuthorized):
			return nil
		case errors.Is(err, service.ErrDuplicateCode):
			return c.Send("Код уже используется.")
		case errors.Is(err, service.ErrCodeNotFound):
			return c.Send("Использование: /add_special <код>")
		}
		return fmt.Errorf("special creation failed: %w", err)
	}

	log.Info().Int64("admin_id", sender.ID).Int64("button_id", button.ID).Msg("Special button created")
	return c.Send(fmt.Sprintf("Бонусная кнопка %s добавлена.", button.Circle))
}

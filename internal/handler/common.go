// Package handler provides Telegram bot command and callback handlers.
package handler

import (
	"context"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"button-hunt-bot/internal/menu"
	"button-hunt-bot/internal/model"
	"button-hunt-bot/internal/service"
)

// User-facing texts shared across handlers.
const (
	msgStartHint      = "Для возвращения в меню используйте кнопку \"Начать\""
	msgChooseAction   = "Выберите действие:"
	msgNotStarted     = "Игра еще не началась."
	msgYouBlocked     = "Вас заблокировали 🚫. Игра окончена."
	msgGameInProgress = "Игра уже идет, присоединиться нельзя."
	msgLobbyFull      = "Нужное количество игроков уже в игре."
)

// notify sends a direct message to a user, swallowing delivery failures
// (blocked bot, deleted account) so a broadcast never aborts halfway.
func notify(c tele.Context, userID int64, text string, opts ...interface{}) {
	if _, err := c.Bot().Send(&tele.User{ID: userID}, text, opts...); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to deliver message")
	}
}

// isAdminID reports whether the id sits in the configured admin list.
func isAdminID(adminIDs []int64, id int64) bool {
	for _, a := range adminIDs {
		if a == id {
			return true
		}
	}
	return false
}

// sendMenu renders the caller's menu the way the lobby presents it: the
// persistent start hint first, then the phase-appropriate actions.
func sendMenu(ctx context.Context, c tele.Context, registry *service.Registry, userID int64) error {
	if err := c.Send(msgStartHint, menu.StartKeyboard()); err != nil {
		return err
	}

	admin := isAdminID(registry.AdminIDs(), userID)
	session, err := registry.Session(ctx)
	if err != nil {
		return err
	}

	if session.Phase != model.PhaseRunning && !admin {
		return c.Send(msgNotStarted)
	}

	if admin {
		return c.Send(msgChooseAction, menu.BuildAdminMenu(session.Phase))
	}

	held, err := registry.HeldSpecials(ctx, userID)
	if err != nil {
		return err
	}
	return c.Send(msgChooseAction, menu.BuildPlayerMenu(len(held)))
}

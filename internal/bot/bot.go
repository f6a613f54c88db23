// Package bot provides the Telegram bot initialization and handler
// registration.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"button-hunt-bot/internal/config"
	"button-hunt-bot/internal/handler"
	"button-hunt-bot/internal/menu"
	"button-hunt-bot/internal/pkg/lock"
	"button-hunt-bot/internal/pkg/pending"
	"button-hunt-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot     *tele.Bot
	cfg     *config.Config
	cleaner *MenuCleaner

	playerHandler *handler.PlayerHandler
	adminHandler  *handler.AdminHandler
}

// Dependencies holds everything the bot handlers need.
type Dependencies struct {
	Config     *config.Config
	Registry   *service.Registry
	Engine     *service.Engine
	Admin      *service.Admin
	Pending    *pending.Registry
	PlayerLock *lock.PlayerLock
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:     teleBot,
		cfg:     deps.Config,
		cleaner: NewMenuCleaner(),
	}

	b.playerHandler = handler.NewPlayerHandler(
		deps.Registry, deps.Engine, deps.Admin, deps.Pending, deps.PlayerLock,
	)
	b.adminHandler = handler.NewAdminHandler(deps.Admin, deps.Registry, deps.Pending)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command, text, and callback handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.playerHandler.HandleStart)
	b.bot.Handle(tele.OnText, b.playerHandler.HandleText)

	// Admin commands behind the silent gate
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/add_special", b.adminHandler.HandleAddSpecial)

	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleCallback routes inline button presses by their data payload.
// Admin-only callbacks are authorized inside the services; unauthorized
// presses die silently.
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	// Telebot v3 may add a \f prefix to callback data
	data := strings.TrimPrefix(callback.Data, "\f")
	log.Debug().Str("data", data).Msg("Callback received")

	// The pressed keyboard sits on a bot-sent menu message; queue it
	// for the stale-panel sweep.
	if msg := c.Message(); msg != nil && msg.Chat != nil {
		b.cleaner.Track(msg.Chat.ID, msg.ID)
	}

	switch {
	case data == menu.CallbackMenuCode:
		return b.playerHandler.HandleMenuCode(c)
	case data == menu.CallbackMenuList:
		return b.playerHandler.HandleMenuList(c)
	case data == menu.CallbackMenuSpecials:
		return b.playerHandler.HandleMenuSpecials(c)
	case data == menu.CallbackCancelKick:
		return b.playerHandler.HandleCancelKick(c)
	case data == menu.CallbackBackToMenu:
		return b.playerHandler.HandleBackToMenu(c)
	case strings.HasPrefix(data, menu.CallbackConfirmKick):
		return b.playerHandler.HandleConfirmKick(c, strings.TrimPrefix(data, menu.CallbackConfirmKick))
	case strings.HasPrefix(data, menu.CallbackKick):
		return b.playerHandler.HandleKick(c, strings.TrimPrefix(data, menu.CallbackKick))
	case strings.HasPrefix(data, menu.CallbackUseSpecial):
		return b.playerHandler.HandleUseSpecial(c, strings.TrimPrefix(data, menu.CallbackUseSpecial))

	case data == menu.CallbackStartGame:
		return b.adminHandler.HandleStartGame(c)
	case data == menu.CallbackEndGame:
		return b.adminHandler.HandleEndGame(c)
	case data == menu.CallbackResetGame:
		return b.adminHandler.HandleResetGame(c)
	case data == menu.CallbackAddCodes:
		return b.adminHandler.HandleAddCodes(c)
	case data == menu.CallbackPlayerList:
		return b.adminHandler.HandlePlayerList(c)
	case data == menu.CallbackShowPairs:
		return b.adminHandler.HandleShowPairs(c)
	case data == menu.CallbackShufflePairs:
		return b.adminHandler.HandleShufflePairs(c)
	case data == menu.CallbackButtonStatus:
		return b.adminHandler.HandleButtonStatus(c)
	}

	log.Debug().Str("data", data).Msg("Unknown callback ignored")
	return c.Respond()
}

// Start starts the bot polling and the menu cleaner.
func (b *Bot) Start() {
	b.cleaner.Start(b.bot)
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.cleaner.Stop()
	b.bot.Stop()
}

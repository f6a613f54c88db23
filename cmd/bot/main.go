// Package main is the entry point for the button hunt bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"button-hunt-bot/internal/bot"
	"button-hunt-bot/internal/config"
	"button-hunt-bot/internal/menu"
	"button-hunt-bot/internal/pkg/db"
	"button-hunt-bot/internal/pkg/lock"
	"button-hunt-bot/internal/pkg/pending"
	"button-hunt-bot/internal/repository"
	"button-hunt-bot/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if len(cfg.Admin.IDs) == 0 {
		log.Warn().Msg("No admin IDs configured; nobody can control the game")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	playerRepo := repository.NewPlayerRepository(dbPool.Pool)
	buttonRepo := repository.NewButtonRepository(dbPool.Pool)
	sessionRepo := repository.NewSessionRepository(dbPool.Pool)

	// Seed the numbered slots and the session singleton
	circles := menu.DefaultCircles()
	if cfg.Game.MaxPlayers > 0 && cfg.Game.MaxPlayers < len(circles) {
		circles = circles[:cfg.Game.MaxPlayers]
	}
	if err := buttonRepo.Seed(ctx, circles); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed buttons")
	}
	if _, err := sessionRepo.Ensure(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize game session")
	}

	// Initialize services
	registry := service.NewRegistry(playerRepo, buttonRepo, sessionRepo, cfg.Admin.IDs)
	engine := service.NewEngine(playerRepo, buttonRepo, sessionRepo)
	admin := service.NewAdmin(playerRepo, buttonRepo, sessionRepo, cfg.Admin.IDs)

	// Reconcile admin player records from the allow-list
	if err := admin.SyncAdmins(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to sync admins")
	}

	deps := &bot.Dependencies{
		Config:     cfg,
		Registry:   registry,
		Engine:     engine,
		Admin:      admin,
		Pending:    pending.NewRegistry(),
		PlayerLock: lock.NewPlayerLock(),
	}

	telegramBot, err := bot.New(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	telegramBot.Stop()
	log.Info().Msg("Bot stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create players table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS players (
			telegram_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			first_name VARCHAR(255) NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			alive BOOLEAN NOT NULL DEFAULT TRUE,
			eliminated_by BIGINT,
			button_number INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: players table created")

	// Migration 2: Create buttons table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS buttons (
			id BIGSERIAL PRIMARY KEY,
			number INT UNIQUE,
			circle VARCHAR(16) NOT NULL DEFAULT '',
			code VARCHAR(64),
			owner_id BIGINT,
			taken BOOLEAN NOT NULL DEFAULT FALSE,
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			code_used BOOLEAN NOT NULL DEFAULT FALSE,
			special BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_buttons_live_code ON buttons(code) WHERE code IS NOT NULL AND NOT blocked;
		CREATE INDEX IF NOT EXISTS idx_buttons_owner ON buttons(owner_id) WHERE owner_id IS NOT NULL;
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: buttons table created")

	// Migration 3: Create discoveries table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS discoveries (
			player_id BIGINT NOT NULL,
			target_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (player_id, target_id)
		);
		CREATE INDEX IF NOT EXISTS idx_discoveries_target ON discoveries(target_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: discoveries table created")

	// Migration 4: Create held_specials table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS held_specials (
			player_id BIGINT NOT NULL,
			button_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (player_id, button_id)
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: held_specials table created")

	// Migration 5: Create game_session table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS game_session (
			id SMALLINT PRIMARY KEY,
			phase VARCHAR(16) NOT NULL DEFAULT 'waiting',
			code_pool TEXT[] NOT NULL DEFAULT '{}',
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: game_session table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}

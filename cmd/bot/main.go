// Package main is the entry point for Kai Bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kai-bot/internal/auction"
	"kai-bot/internal/bot"
	"kai-bot/internal/config"
	"kai-bot/internal/pkg/db"
	"kai-bot/internal/pkg/lock"
	"kai-bot/internal/repository"
	"kai-bot/internal/service"
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
	userRepo := repository.NewUserRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)
	auctionRepo := repository.NewAuctionRepository(dbPool.Pool)
	winRepo := repository.NewWinRepository(dbPool.Pool)

	// Initialize services
	accountService := service.NewAccountService(
		userRepo,
		txRepo,
		cfg.Daily.Reward,
		cfg.Daily.CooldownHours,
	)

	userLock := lock.NewUserLock()

	// The telebot instance comes first so the engine's notifier can
	// wrap it; handlers are registered after the engine exists.
	teleBot, err := bot.NewTelebot(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	engine := auction.NewEngine(auction.Config{
		BidCooldown:   cfg.Auction.BidCooldown,
		TickInterval:  cfg.Auction.TickInterval,
		WarningWindow: cfg.Auction.WarningWindow,
		MonthlyWinCap: cfg.Auction.MonthlyWinCap,
	}, auctionRepo, accountService, winRepo, bot.NewTelegramNotifier(teleBot))

	telegramBot := bot.New(teleBot, &bot.Dependencies{
		Config:         cfg,
		AccountService: accountService,
		Engine:         engine,
		UserLock:       userLock,
	})

	// Pick up an auction left running by a previous process
	if err := engine.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to resume active auction")
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

	// The auction record and escrow snapshot are durable; the next
	// process resumes the countdown.
	engine.Stop()
	telegramBot.Stop()
	log.Info().Msg("Bot stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create users table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			telegram_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			last_daily_claim BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_balance ON users(balance DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: users table created")

	// Migration 2: Create transactions table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: transactions table created")

	// Migration 3: Create the single-row auction table. The singleton
	// column pins the table to at most one row.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS auction (
			singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			item TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			minimum_bid BIGINT NOT NULL DEFAULT 0,
			highest_bid BIGINT NOT NULL DEFAULT 0,
			highest_bidder BIGINT,
			end_time TIMESTAMPTZ NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			banner_url TEXT NOT NULL DEFAULT '',
			chat_id BIGINT NOT NULL DEFAULT 0,
			message_id INT NOT NULL DEFAULT 0,
			thread_id INT NOT NULL DEFAULT 0,
			escrow JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: auction table created")

	// Migration 4: Create auction win tracker
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS auction_wins (
			user_id BIGINT NOT NULL,
			month VARCHAR(7) NOT NULL,
			wins INT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, month)
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: auction_wins table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}

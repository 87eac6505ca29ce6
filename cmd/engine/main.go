// Package main is the entry point for the credit engine. It serves the
// HTTP API, runs the settlement and reconciliation jobs and, when a bot
// token is configured, the Telegram bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"credit-engine/internal/api"
	"credit-engine/internal/badge"
	"credit-engine/internal/bot"
	"credit-engine/internal/config"
	"credit-engine/internal/moderation"
	"credit-engine/internal/notify"
	"credit-engine/internal/pkg/db"
	"credit-engine/internal/pkg/lock"
	"credit-engine/internal/repository"
	"credit-engine/internal/scheduler"
	"credit-engine/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.Log)
	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, health, closeStore := openStore(ctx, cfg)
	defer closeStore()

	locker, closeLock := openLocker(ctx, cfg)
	defer closeLock()

	hub := notify.NewHub()
	go hub.Run(ctx)

	ledger := service.NewLedgerService(store, locker, hub, cfg.Account.SignupBonus)
	wagers := service.NewWagerService(store, ledger, locker, cfg.Wager.MinWager, cfg.Wager.MaxWager)
	settlement := service.NewSettlementService(
		store, ledger, locker, hub,
		cfg.Settlement.Concurrency, cfg.Settlement.BatchSize,
		service.RetryPolicy{
			InitialInterval: cfg.Settlement.InitialInterval,
			MaxInterval:     cfg.Settlement.MaxInterval,
			MaxElapsedTime:  cfg.Settlement.MaxElapsedTime,
		},
	)
	achievements := service.NewAchievementService(store, ledger, badge.Default(), hub)
	gate := moderation.NewGate(nil)
	content := service.NewContentReviewService(store, ledger, gate, achievements, cfg.Content.ApprovalReward)

	sched, err := scheduler.New(ctx, scheduler.Config{
		SettleInterval:    cfg.Settlement.Interval,
		ReconcileInterval: cfg.Reconcile.Interval,
		OrphanAge:         cfg.Reconcile.OrphanAge,
	}, settlement, ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	sched.Start()
	log.Info().Strs("jobs", sched.Jobs()).Msg("Scheduler started")

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.Deps{
			Ledger:         ledger,
			Wagers:         wagers,
			Settlement:     settlement,
			Achievements:   achievements,
			Content:        content,
			Gate:           gate,
			Hub:            hub,
			Health:         health,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	var telegramBot *bot.Bot
	if cfg.Bot.Token != "" {
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:     cfg,
			Ledger:     ledger,
			Wagers:     wagers,
			Settlement: settlement,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		go telegramBot.Start()
	} else {
		log.Info().Msg("No bot token configured, Telegram bot disabled")
	}

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if telegramBot != nil {
		telegramBot.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown failed")
	}
	log.Info().Msg("Stopped gracefully")
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.JSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// openStore returns the configured store, a health check for it and a
// cleanup func.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(context.Context) error, func()) {
	if cfg.Storage.Backend == "memory" {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return repository.NewMemoryStore(), func(context.Context) error { return nil }, func() {}
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := db.Migrate(ctx, pool.Pool); err != nil {
		pool.Close()
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	return repository.NewPostgresStore(pool.Pool), pool.HealthCheck, pool.Close
}

func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func()) {
	if cfg.Lock.Backend != "redis" {
		return lock.NewUserLock(cfg.Lock.Timeout), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis lock backend")
	return lock.NewRedisLock(rdb, cfg.Lock.TTL, cfg.Lock.Timeout), func() { _ = rdb.Close() }
}

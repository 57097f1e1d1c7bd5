package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/config"
	"github.com/arbiter-ai/arbiter-engine/pkg/database"
	"github.com/arbiter-ai/arbiter-engine/pkg/handlers"
	"github.com/arbiter-ai/arbiter-engine/pkg/middleware"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/repositories"
	"github.com/arbiter-ai/arbiter-engine/pkg/scryfall"
	"github.com/arbiter-ai/arbiter-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("scryfall_base_url", cfg.Scryfall.BaseURL),
		zap.String("sync_schedule", cfg.Sync.Schedule))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		ConnString:     cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	client, err := scryfall.NewClient(&scryfall.Config{
		BaseURL:        cfg.Scryfall.BaseURL,
		MinInterval:    cfg.Scryfall.MinInterval,
		RequestTimeout: cfg.Scryfall.RequestTimeout,
		UserAgent:      "arbiter-engine/" + cfg.Version,
	}, scryfall.RetryPolicy{
		MaxAttempts: cfg.Scryfall.MaxAttempts,
		Delay:       scryfall.LinearDelay(time.Second),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create catalog client", zap.Error(err))
	}

	cardRepo := repositories.NewCardRepository(db)
	syncRunRepo := repositories.NewSyncRunRepository(db)

	resolverService := services.NewResolverService(cardRepo, client, logger)
	syncService := services.NewSyncService(
		cardRepo, syncRunRepo, client,
		cfg.Sync.BatchSize, cfg.Sync.RuntimeBudget, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewCardsHandler(resolverService, client, logger).RegisterRoutes(mux)
	handlers.NewSyncHandler(syncService, logger).RegisterRoutes(mux)

	scheduler := startScheduler(cfg, syncService, logger)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	addr := cfg.BindAddr + ":" + cfg.Port
	server := &http.Server{Addr: addr, Handler: middleware.RequestLogger(logger)(mux)}

	go func() {
		logger.Info("Starting arbiter-engine",
			zap.String("addr", addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runMigrations applies schema migrations through database/sql, which is what
// golang-migrate drives.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}

// startScheduler wires the cron-driven bulk syncs. Returns nil when no
// schedule is configured.
func startScheduler(cfg *config.Config, syncService services.SyncService, logger *zap.Logger) *cron.Cron {
	if cfg.Sync.Schedule == "" {
		return nil
	}

	scheduler := cron.New()
	for _, dataset := range []models.DatasetType{models.DatasetOracleCards, models.DatasetRulings} {
		dataset := dataset
		_, err := scheduler.AddFunc(cfg.Sync.Schedule, func() {
			runScheduledSync(syncService, dataset, logger)
		})
		if err != nil {
			logger.Fatal("Invalid sync schedule",
				zap.String("schedule", cfg.Sync.Schedule),
				zap.Error(err))
		}
	}
	scheduler.Start()
	logger.Info("Sync scheduler started", zap.String("schedule", cfg.Sync.Schedule))
	return scheduler
}

// runScheduledSync drives one dataset to a terminal state, re-invoking the
// engine each time a pass pauses at its runtime budget.
func runScheduledSync(syncService services.SyncService, dataset models.DatasetType, logger *zap.Logger) {
	ctx := context.Background()

	run, err := syncService.StartSync(ctx, dataset, services.SyncOptions{})
	for err == nil && run.Status == models.SyncStatusPaused {
		run, err = syncService.StartSync(ctx, dataset, services.SyncOptions{ResumeID: &run.ID})
	}

	switch {
	case errors.Is(err, apperrors.ErrSyncInProgress):
		logger.Info("Scheduled sync skipped, another run holds the dataset",
			zap.String("dataset", string(dataset)))
	case err != nil:
		logger.Error("Scheduled sync failed",
			zap.String("dataset", string(dataset)),
			zap.Error(err))
	default:
		logger.Info("Scheduled sync finished",
			zap.String("dataset", string(dataset)),
			zap.String("status", string(run.Status)),
			zap.Int("processed", run.Processed),
			zap.Int("failed", run.Failed))
	}
}

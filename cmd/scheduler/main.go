/**
 * @description
 * Entry point for the scheduler. A non-HTTP, long-running process that expires
 * overdue urgent requests and prunes old monitoring rows on cron schedules.
 */

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cureliah/backend/internal/app"
	"github.com/cureliah/backend/internal/config"
	"github.com/cureliah/backend/internal/jobs"
	"github.com/cureliah/backend/internal/logging"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/internal/supervisor"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", "scheduler")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := store.RunMigrations(ctx, pool); err != nil {
		logger.Error("database migrations failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	repo := store.NewPostgresRepository(pool)
	events := app.NewEventWriter(cfg.EventExchange)
	urgent := app.NewUrgentService(repo, events, logger)
	monitoring := app.NewMonitoringService(repo, events, cfg.AlertEmail, cfg.MonitoringRetention(), logger)

	scheduler := jobs.NewScheduler(jobs.NewJobs(urgent, monitoring, logger), jobs.Schedules{
		UrgentExpiry:    cfg.UrgentExpirySchedule,
		MonitoringPrune: cfg.MonitoringPruneSchedule,
	}, logger)
	if err := scheduler.Register(); err != nil {
		logger.Error("invalid cron schedule", "error", err)
		os.Exit(1)
	}

	tree := supervisor.NewTree("cureliah-scheduler", logger, supervisor.DefaultTreeConfig())
	tree.AddWorker(scheduler)

	logger.Info("scheduler started", "jobs", scheduler.Entries())
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor exited", "error", err)
	}
	logger.Info("scheduler stopped gracefully")
}

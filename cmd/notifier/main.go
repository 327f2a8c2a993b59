/**
 * @description
 * Entry point for the notifier worker. It consumes notification and email
 * events from RabbitMQ and delivers the transactional emails through Resend.
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
	"github.com/cureliah/backend/internal/cache"
	"github.com/cureliah/backend/internal/config"
	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/logging"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/notifier"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/internal/supervisor"
	"github.com/cureliah/backend/pkg/emailclient"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", "notifier")
	slog.SetDefault(logger)

	if cfg.RabbitMQURL == "" {
		logger.Error("RABBITMQ_URL must be configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recipient addresses are resolved from profiles.
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := store.NewPostgresRepository(pool)

	renderer, err := emailclient.NewRenderer()
	if err != nil {
		logger.Error("failed to parse email templates", "error", err)
		os.Exit(1)
	}
	sender := emailclient.NewClient(emailclient.Config{
		APIKey:        cfg.ResendAPIKey,
		From:          cfg.EmailFrom,
		RatePerSecond: cfg.EmailRatePerSecond,
		OnStateChange: metrics.ObserveBreaker,
	}, logger)
	profiles := app.NewProfileDirectory(repo, cache.New[uuid.UUID, *domain.Profile](cfg.CacheSize, cfg.CacheTTL()))
	email := app.NewEmailService(renderer, sender, profiles, logger)

	consumer := notifier.NewEmailConsumer(email, cfg.AppBaseURL, logger)
	tree := supervisor.NewTree("cureliah-notifier", logger, supervisor.DefaultTreeConfig())
	tree.AddMessaging(notifier.NewService(cfg.RabbitMQURL, cfg.EventExchange, cfg.EmailQueue, consumer, logger))

	logger.Info("notifier started", "queue", cfg.EmailQueue)
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor exited", "error", err)
	}
	logger.Info("notifier stopped")
}

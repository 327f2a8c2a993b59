/**
 * @description
 * Entry point for the Cureliah API. It loads configuration, connects to
 * Postgres, Redis and RabbitMQ, builds the application services and runs the
 * HTTP server, the outbox dispatcher and the realtime hub under one supervisor
 * tree until SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: local .env loading.
 * - github.com/redis/go-redis/v9: shared webhook replay guard.
 * - github.com/thejerf/suture/v4 (via internal/supervisor): service supervision.
 * - internal/*, pkg/*: the service's own packages.
 */

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cureliah/backend/internal/api"
	"github.com/cureliah/backend/internal/app"
	"github.com/cureliah/backend/internal/authz"
	"github.com/cureliah/backend/internal/cache"
	"github.com/cureliah/backend/internal/config"
	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/logging"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/realtime"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/internal/supervisor"
	"github.com/cureliah/backend/pkg/emailclient"
	"github.com/cureliah/backend/pkg/rabbitmq"
	"github.com/cureliah/backend/pkg/stripeclient"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// A .env file is optional; deployed environments set real variables.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", "api")
	slog.SetDefault(logger)

	if cfg.SupabaseJWTSecret == "" {
		logger.Error("SUPABASE_JWT_SECRET must be configured")
		os.Exit(1)
	}

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
	logger.Info("database connected")
	repo := store.NewPostgresRepository(pool)

	deduper := newEventDeduper(ctx, cfg, logger)

	stripe := stripeclient.NewClient(stripeclient.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		OnStateChange: metrics.ObserveBreaker,
	}, logger.With("component", "stripe_client"))

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

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		logger.Error("failed to build authorization policy", "error", err)
		os.Exit(1)
	}

	profiles := app.NewProfileDirectory(repo, cache.New[uuid.UUID, *domain.Profile](cfg.CacheSize, cfg.CacheTTL()))
	sessions := cache.New[string, *stripeclient.CheckoutSession](cfg.CacheSize, cfg.CacheTTL())
	catalog := domain.NewPlanCatalog(cfg.PriceTable)
	events := app.NewEventWriter(cfg.EventExchange)

	bookings := app.NewBookingService(repo, events, logger)
	notifications := app.NewNotificationService(repo, events, logger)
	urgent := app.NewUrgentService(repo, events, logger)
	reconciler := app.NewPaymentReconciler(repo, stripe, catalog, events, logger)
	payments := app.NewPaymentService(repo, stripe, reconciler, catalog, sessions, app.CheckoutURLs{
		Success: cfg.CheckoutSuccessURL,
		Cancel:  cfg.CheckoutCancelURL,
	}, logger)
	monitoring := app.NewMonitoringService(repo, events, cfg.AlertEmail, cfg.MonitoringRetention(), logger)
	email := app.NewEmailService(renderer, sender, profiles, logger)

	hub := realtime.NewHub(repo, logger)
	handlers := api.NewHandlers(api.Dependencies{
		Bookings:      bookings,
		Urgent:        urgent,
		Notifications: notifications,
		Payments:      payments,
		Verifier:      stripe,
		Reconciler:    reconciler,
		Deduper:       deduper,
		Monitoring:    monitoring,
		Email:         email,
		Hub:           hub,
		Logger:        logger,
	})
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins:      cfg.AllowedOrigins(),
		InternalAPIKey:      cfg.InternalAPIKey,
		MonitoringRateLimit: cfg.MonitoringRateLimitPerMinute,
		Auth:                api.NewAuthenticator(cfg.SupabaseJWTSecret, cfg.SupabaseJWTAudience, profiles),
		Policy:              enforcer,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tree := supervisor.NewTree("cureliah-api", logger, supervisor.DefaultTreeConfig())
	tree.AddMessaging(hub)
	if cfg.RabbitMQURL != "" {
		tree.AddWorker(app.NewOutboxDispatcher(repo, func() (rabbitmq.Publisher, error) {
			producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
			if err != nil {
				return nil, err
			}
			return producer, nil
		}, cfg.OutboxPollInterval(), logger))
		tree.AddMessaging(realtime.NewBridge(cfg.RabbitMQURL, cfg.EventExchange, hub, logger))
	} else {
		// Outbox rows stay pending until a broker is configured.
		logger.Warn("RABBITMQ_URL not set; realtime updates and event publishing are disabled")
	}
	tree.AddAPI(supervisor.NewHTTPServerService(server, 15*time.Second))

	logger.Info("starting api", "port", cfg.ServerPort)
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor exited", "error", err)
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logger.Warn("services did not stop in time", "count", len(report))
	}
	logger.Info("api stopped")
}

// newEventDeduper prefers Redis so every instance shares the replay guard, and
// falls back to process memory when Redis is absent or unreachable.
func newEventDeduper(ctx context.Context, cfg config.Config, logger *slog.Logger) app.EventDeduper {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set; webhook replay guard is per-process")
		return app.NewMemoryEventDeduper(cfg.WebhookDedupeTTL())
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL; webhook replay guard is per-process", "error", err)
		return app.NewMemoryEventDeduper(cfg.WebhookDedupeTTL())
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable; webhook replay guard is per-process", "error", err)
		_ = client.Close()
		return app.NewMemoryEventDeduper(cfg.WebhookDedupeTTL())
	}
	logger.Info("redis connected")
	return app.NewRedisEventDeduper(client, "cureliah:webhook", cfg.WebhookDedupeTTL())
}

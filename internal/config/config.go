/**
 * @description
 * Configuration for every Cureliah binary. Values come from the environment with
 * an optional .env file, loaded through Viper.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration binding.
 * - internal/domain: price-to-plan table parsing.
 */

package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all configuration variables; each binary reads the subset it needs.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	EventExchange string `mapstructure:"EVENT_EXCHANGE"`
	EmailQueue    string `mapstructure:"EMAIL_QUEUE"`

	SupabaseJWTSecret   string `mapstructure:"SUPABASE_JWT_SECRET"`
	SupabaseJWTAudience string `mapstructure:"SUPABASE_JWT_AUDIENCE"`
	InternalAPIKey      string `mapstructure:"INTERNAL_API_KEY"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripePricePlanMap  string `mapstructure:"STRIPE_PRICE_PLAN_MAP"`
	CheckoutSuccessURL  string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string `mapstructure:"CHECKOUT_CANCEL_URL"`
	AppBaseURL          string `mapstructure:"APP_BASE_URL"`

	ResendAPIKey       string  `mapstructure:"RESEND_API_KEY"`
	EmailFrom          string  `mapstructure:"EMAIL_FROM"`
	AlertEmail         string  `mapstructure:"ALERT_EMAIL"`
	EmailRatePerSecond float64 `mapstructure:"EMAIL_RATE_PER_SECOND"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	CacheSize       int `mapstructure:"CACHE_SIZE"`
	CacheTTLSeconds int `mapstructure:"CACHE_TTL_SECONDS"`

	MonitoringRateLimitPerMinute int `mapstructure:"MONITORING_RATE_LIMIT_PER_MINUTE"`
	MonitoringRetentionDays      int `mapstructure:"MONITORING_RETENTION_DAYS"`

	UrgentExpirySchedule    string `mapstructure:"URGENT_EXPIRY_SCHEDULE"`
	MonitoringPruneSchedule string `mapstructure:"MONITORING_PRUNE_SCHEDULE"`

	OutboxPollIntervalMS    int `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	WebhookDedupeTTLMinutes int `mapstructure:"WEBHOOK_DEDUPE_TTL_MINUTES"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// PriceTable is the merged default + override price catalog, filled after Unmarshal.
	PriceTable map[string]domain.PlanType `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", domain.DefaultEventExchange)
	viper.SetDefault("EMAIL_QUEUE", "cureliah.notifier.email")
	viper.SetDefault("APP_BASE_URL", "https://cureliah.com")
	viper.SetDefault("SUPABASE_JWT_AUDIENCE", "authenticated")
	viper.SetDefault("EMAIL_FROM", "Cureliah <notifications@cureliah.com>")
	viper.SetDefault("EMAIL_RATE_PER_SECOND", 2.0)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	viper.SetDefault("CACHE_SIZE", 1000)
	viper.SetDefault("CACHE_TTL_SECONDS", 300)
	viper.SetDefault("MONITORING_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("MONITORING_RETENTION_DAYS", 30)
	viper.SetDefault("URGENT_EXPIRY_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("MONITORING_PRUNE_SCHEDULE", "30 3 * * *")
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1000)
	viper.SetDefault("WEBHOOK_DEDUPE_TTL_MINUTES", 1440)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL", "RABBITMQ_URL", "CLOUDAMQP_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("EMAIL_QUEUE")
	_ = viper.BindEnv("SUPABASE_JWT_SECRET")
	_ = viper.BindEnv("SUPABASE_JWT_AUDIENCE")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRIPE_PRICE_PLAN_MAP")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("APP_BASE_URL")
	_ = viper.BindEnv("RESEND_API_KEY")
	_ = viper.BindEnv("EMAIL_FROM")
	_ = viper.BindEnv("ALERT_EMAIL")
	_ = viper.BindEnv("EMAIL_RATE_PER_SECOND")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("CACHE_SIZE")
	_ = viper.BindEnv("CACHE_TTL_SECONDS")
	_ = viper.BindEnv("MONITORING_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("MONITORING_RETENTION_DAYS")
	_ = viper.BindEnv("URGENT_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("MONITORING_PRUNE_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("WEBHOOK_DEDUPE_TTL_MINUTES")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")

	// A missing .env is fine; anything else is worth a warning.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.StripeWebhookSecret = strings.TrimSpace(config.StripeWebhookSecret)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.AppBaseURL = strings.TrimSuffix(strings.TrimSpace(config.AppBaseURL), "/")
	if strings.TrimSpace(config.EventExchange) == "" {
		config.EventExchange = domain.DefaultEventExchange
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 1000
	}
	if config.CacheTTLSeconds <= 0 {
		config.CacheTTLSeconds = 300
	}
	if config.EmailRatePerSecond <= 0 {
		config.EmailRatePerSecond = 2
	}
	if config.MonitoringRateLimitPerMinute <= 0 {
		config.MonitoringRateLimitPerMinute = 60
	}
	if config.MonitoringRetentionDays <= 0 {
		config.MonitoringRetentionDays = 30
	}
	if config.OutboxPollIntervalMS <= 0 {
		config.OutboxPollIntervalMS = 1000
	}
	if config.WebhookDedupeTTLMinutes <= 0 {
		config.WebhookDedupeTTLMinutes = 1440
	}

	overrides, parseErr := domain.ParsePriceTable(config.StripePricePlanMap)
	if parseErr != nil {
		slog.Warn("invalid STRIPE_PRICE_PLAN_MAP; using default catalog", "component", "config", "error", parseErr)
		overrides = nil
	}
	config.PriceTable = domain.MergePriceTables(domain.DefaultPriceTable, overrides)

	return config, nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c Config) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMS) * time.Millisecond
}

func (c Config) WebhookDedupeTTL() time.Duration {
	return time.Duration(c.WebhookDedupeTTLMinutes) * time.Minute
}

func (c Config) MonitoringRetention() time.Duration {
	return time.Duration(c.MonitoringRetentionDays) * 24 * time.Hour
}

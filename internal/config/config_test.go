package config

import (
	"os"
	"testing"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "EVENT_EXCHANGE")
	unsetEnvWithCleanup(t, "CACHE_TTL_SECONDS")
	unsetEnvWithCleanup(t, "STRIPE_PRICE_PLAN_MAP")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.EventExchange != domain.DefaultEventExchange {
		t.Fatalf("expected default exchange, got %q", cfg.EventExchange)
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.CacheTTL())
	}
	if len(cfg.PriceTable) != len(domain.DefaultPriceTable) {
		t.Fatalf("expected default price table, got %#v", cfg.PriceTable)
	}
}

func TestLoadConfig_PortEnvTakesPrecedence(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_PricePlanOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "STRIPE_PRICE_PLAN_MAP", "price_live_pro:pro,price_pro_monthly:premium")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PriceTable["price_live_pro"] != domain.PlanPro {
		t.Fatalf("expected override to add price_live_pro, got %#v", cfg.PriceTable)
	}
	if cfg.PriceTable["price_pro_monthly"] != domain.PlanPremium {
		t.Fatalf("expected override to replace default mapping, got %#v", cfg.PriceTable)
	}
}

func TestLoadConfig_InvalidPricePlanMapFallsBackToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "STRIPE_PRICE_PLAN_MAP", "price_x:gold")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if _, ok := cfg.PriceTable["price_x"]; ok {
		t.Fatal("expected invalid override to be ignored")
	}
	if len(cfg.PriceTable) != len(domain.DefaultPriceTable) {
		t.Fatalf("expected default table, got %#v", cfg.PriceTable)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "ALERT_EMAIL")
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/.env", []byte("ALERT_EMAIL=ops@cureliah.test\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AlertEmail != "ops@cureliah.test" {
		t.Fatalf("expected alert email from .env, got %q", cfg.AlertEmail)
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: " https://app.cureliah.com, ,http://localhost:5173 "}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[0] != "https://app.cureliah.com" || origins[1] != "http://localhost:5173" {
		t.Fatalf("unexpected origins %#v", origins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}

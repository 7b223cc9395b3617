package config

import (
	"os"
	"strconv"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	DatabaseURL string

	ListenAddr string

	// BootstrapTenant is the name of the tenant created on first startup
	// when the database has no tenants yet. Empty disables bootstrapping.
	BootstrapTenant string

	// BootstrapAPIKey is the full token ("<key-id>.<secret>") installed for
	// the bootstrap tenant, so a fresh deployment can ingest immediately.
	BootstrapAPIKey string

	// AdminToken protects the /admin provisioning endpoints (tenant and
	// API key management). Empty disables those endpoints entirely.
	AdminToken string

	// StaleAfterDays is the age of last_activity_at beyond which a
	// high-tier lead with no funnel progress is considered stale.
	StaleAfterDays int

	// WinRateRangeCapWeeks bounds the span of a single win-rate query.
	WinRateRangeCapWeeks int
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:          os.Getenv("APP_DATABASE_URL"),
		ListenAddr:           getenv("APP_LISTEN_ADDR", ":8080"),
		BootstrapTenant:      getenv("APP_BOOTSTRAP_TENANT", ""),
		BootstrapAPIKey:      getenv("APP_BOOTSTRAP_API_KEY", ""),
		AdminToken:           getenv("APP_ADMIN_TOKEN", ""),
		StaleAfterDays:       7,
		WinRateRangeCapWeeks: 26,
	}

	if v := os.Getenv("APP_STALE_AFTER_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.StaleAfterDays = days
		}
	}
	if v := os.Getenv("APP_WIN_RATE_RANGE_CAP_WEEKS"); v != "" {
		if weeks, err := strconv.Atoi(v); err == nil && weeks > 0 {
			cfg.WinRateRangeCapWeeks = weeks
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

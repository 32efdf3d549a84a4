package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // Postgres; takes precedence over SQLitePath
	SQLitePath  string
	RedisURL    string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	TrustedProxies     []string // peers whose forwarding headers are honoured
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
	EmailSendsPerHour  int

	// Email delivery. Without a Mailgun domain codes are only logged.
	MailgunDomain  string
	MailgunAPIKey  string
	MailgunAPIBase string
	MailFrom       string

	// First admin, seeded at startup when both are set.
	AdminBootstrapName string
	AdminBootstrapKey  string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		EmailSendsPerHour:  getEnvInt("EMAIL_SENDS_PER_HOUR", 3),
		MailgunDomain:      os.Getenv("MAILGUN_DOMAIN"),
		MailgunAPIKey:      os.Getenv("MAILGUN_API_KEY"),
		MailgunAPIBase:     os.Getenv("MAILGUN_API_BASE"),
		MailFrom:           getEnv("MAIL_FROM", "relay <noreply@localhost>"),
		AdminBootstrapName: os.Getenv("ADMIN_BOOTSTRAP_NAME"),
		AdminBootstrapKey:  os.Getenv("ADMIN_BOOTSTRAP_KEY"),
	}

	// Comma-separated IPs or CIDRs
	cfg.RateLimitWhitelist = getEnvList("RATE_LIMIT_WHITELIST")
	cfg.TrustedProxies = getEnvList("TRUSTED_PROXIES")

	// In production, require a durable store and a real mail transport
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
			panic("DATABASE_URL or SQLITE_PATH is required in production")
		}
		if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" {
			panic("MAILGUN_DOMAIN and MAILGUN_API_KEY are required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

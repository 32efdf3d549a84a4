package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/relay/internal/api"
	"github.com/eldtechnologies/relay/internal/api/middleware"
	"github.com/eldtechnologies/relay/internal/auth"
	"github.com/eldtechnologies/relay/internal/broadcast"
	"github.com/eldtechnologies/relay/internal/config"
	"github.com/eldtechnologies/relay/internal/emailverify"
	"github.com/eldtechnologies/relay/internal/handlers"
	"github.com/eldtechnologies/relay/internal/mailer"
	"github.com/eldtechnologies/relay/internal/ratelimit"
	"github.com/eldtechnologies/relay/internal/registry"
	"github.com/eldtechnologies/relay/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the data store: Postgres, then SQLite, then memory
	var dataStore store.DataStore
	switch {
	case cfg.DatabaseURL != "":
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		dataStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	case cfg.SQLitePath != "":
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	default:
		dataStore = store.NewMemoryStore()
		logger.Warn().Msg("no DATABASE_URL or SQLITE_PATH, using in-memory store")
	}
	defer dataStore.Close()

	// Initialize Redis store. Rate windows, replay cache and IP blocks fall
	// back to process memory without it.
	var (
		redisStore *store.RedisStore
		counters   ratelimit.CounterStore = ratelimit.NewMemoryStore()
		replay     auth.ReplayCache       = auth.NewMemoryReplayCache()
		blocker    middleware.Blocker
	)
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		counters, replay, blocker = redisStore, redisStore, redisStore
		logger.Info().Msg("connected to Redis")
	}

	// Email transport
	var sender mailer.Sender
	if cfg.MailgunDomain != "" && cfg.MailgunAPIKey != "" {
		sender = mailer.NewMailgunSender(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunAPIBase, cfg.MailFrom)
		logger.Info().Str("domain", cfg.MailgunDomain).Msg("mailgun delivery enabled")
	} else {
		sender = mailer.NewLogSender(logger)
		logger.Warn().Msg("no mail transport configured, verification codes will be logged")
	}

	limits := make(map[string]ratelimit.Limit, len(middleware.DefaultLimits)+1)
	for op, l := range middleware.DefaultLimits {
		limits[op] = l
	}
	limits[ratelimit.OpEmailSend] = ratelimit.Limit{Requests: cfg.EmailSendsPerHour, Window: time.Hour}
	window := ratelimit.NewWindow(counters, limits, logger)

	authenticator := auth.NewAuthenticator(dataStore)
	reg := registry.New(dataStore, logger)

	if cfg.AdminBootstrapName != "" && cfg.AdminBootstrapKey != "" {
		if err := reg.Bootstrap(ctx, cfg.AdminBootstrapName, cfg.AdminBootstrapKey, time.Now()); err != nil {
			logger.Fatal().Err(err).Str("agent", cfg.AdminBootstrapName).Msg("admin bootstrap failed")
		}
	}

	deps := handlers.Deps{
		Store:      dataStore,
		Redis:      redisStore,
		Registry:   reg,
		Auth:       authenticator,
		Email:      emailverify.NewEngine(dataStore, window, sender, logger),
		Broadcasts: broadcast.NewService(dataStore, authenticator, logger),
		Logger:     logger,
	}
	limiter := middleware.NewRateLimiter(window, blocker, logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})

	// Create router
	clientIP := middleware.NewClientIP(cfg.TrustedProxies, logger)
	router := api.NewRouter(logger, deps, replay, limiter, clientIP)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting relay server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/relay/internal/api/middleware"
	"github.com/eldtechnologies/relay/internal/auth"
	"github.com/eldtechnologies/relay/internal/handlers"
)

// NewRouter creates and configures the HTTP router. A nil clientIP trusts
// no forwarding headers.
func NewRouter(logger zerolog.Logger, deps handlers.Deps, replay auth.ReplayCache, limiter *middleware.RateLimiter, clientIP *middleware.ClientIP) *chi.Mux {
	r := chi.NewRouter()

	if clientIP == nil {
		clientIP = middleware.NewClientIP(nil, logger)
	}
	r.Use(clientIP.Middleware)

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if limiter != nil {
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.HeaderAgent, middleware.HeaderSignature},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps)
	authMW := middleware.NewAuthMiddleware(deps.Auth, replay, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/agents", h.Register)
	r.Get("/agents/{name}", h.GetAgent)
	r.Get("/agents/{name}/verification", h.VerificationStatus)
	r.Post("/verify", h.Verify)
	r.Post("/email/send", h.SendVerificationCode)
	r.Post("/email/confirm", h.ConfirmVerificationCode)
	r.Get("/admin/keys", h.ListAdminKeys)
	r.Get("/broadcasts", h.ListBroadcasts)
	r.Post("/broadcasts/verify", h.VerifyBroadcast)

	// Body-signed: the broadcast carries its own admin signature
	r.Post("/broadcasts", h.CreateBroadcast)

	// Agent-signed routes
	r.Group(func(r chi.Router) {
		r.Use(authMW.RequireAgent)

		r.Post("/agents/{name}/rotate-key", h.RotateKey)
	})

	// Admin-signed routes
	r.Group(func(r chi.Router) {
		r.Use(authMW.RequireAdmin)

		r.Post("/agents/{name}/approve", h.Approve)
		r.Post("/agents/{name}/revoke", h.Revoke)
		r.Post("/admin/grants", h.GrantAdmin)
		r.Delete("/admin/grants/{name}", h.RevokeAdmin)
	})

	return r
}

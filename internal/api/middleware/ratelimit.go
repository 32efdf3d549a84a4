package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/metrics"
	"github.com/eldtechnologies/relay/internal/ratelimit"
)

// HTTP operations throttled per client IP. Email sends are throttled by the
// verification engine itself.
const (
	OpRegister  = "http-register"
	OpLookup    = "http-lookup"
	OpVerify    = "http-verify"
	OpConfirm   = "http-email-confirm"
	OpBroadcast = "http-broadcast"
	OpSigned    = "http-signed"
)

// DefaultLimits are the per-IP HTTP limits.
var DefaultLimits = map[string]ratelimit.Limit{
	OpRegister:  {Requests: 10, Window: time.Hour},
	OpLookup:    {Requests: 120, Window: time.Minute},
	OpVerify:    {Requests: 120, Window: time.Minute},
	OpConfirm:   {Requests: 30, Window: time.Hour},
	OpBroadcast: {Requests: 30, Window: time.Minute},
	OpSigned:    {Requests: 60, Window: time.Minute},
}

// Blocker tracks abusive IPs. RedisStore implements it.
type Blocker interface {
	IsBlocked(ctx context.Context, ip string) bool
	Block(ctx context.Context, ip string, duration time.Duration, reason string)
	TrackViolation(ctx context.Context, ip string) int64
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
}

// RateLimiter applies fixed windows per route and client IP.
type RateLimiter struct {
	window           *ratelimit.Window
	routes           []route
	blocker          Blocker
	logger           zerolog.Logger
	whitelist        []*net.IPNet
	autoBlockEnabled bool
	now              func() time.Time
}

type route struct {
	pattern   string // "METHOD /prefix"
	operation string
}

// NewRateLimiter creates a new rate limiter. blocker may be nil.
func NewRateLimiter(window *ratelimit.Window, blocker Blocker, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		window:           window,
		blocker:          blocker,
		logger:           logger,
		autoBlockEnabled: cfg.AutoBlockEnabled && blocker != nil,
		now:              time.Now,
		// Longest prefix first.
		routes: []route{
			{"POST /email/confirm", OpConfirm},
			{"POST /broadcasts", OpBroadcast},
			{"POST /agents/", OpSigned},
			{"POST /admin/", OpSigned},
			{"DELETE /admin/", OpSigned},
			{"POST /agents", OpRegister},
			{"POST /verify", OpVerify},
			{"GET /agents/", OpLookup},
			{"GET /broadcasts", OpLookup},
			{"GET /admin/keys", OpLookup},
		},
	}

	rl.whitelist = parseNets(cfg.Whitelist, logger)
	if len(rl.whitelist) > 0 {
		logger.Info().Int("entries", len(rl.whitelist)).Msg("rate limit whitelist configured")
	}

	return rl
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ip string) bool {
	return containsIP(rl.whitelist, ip)
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		// Skip rate limiting for whitelisted IPs
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		// Check IP block first
		if rl.blocker != nil && rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, errs.Forbidden, "temporarily blocked")
			return
		}

		op := rl.findOperation(r)
		if op == "" {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := rl.window.Check(r.Context(), op, ip, rl.now())
		if err != nil {
			// Fail open: the store behind the window is unavailable.
			rl.logger.Error().Err(err).Str("operation", op).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		// Set rate limit headers
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retry := int(decision.ResetAt.Sub(rl.now()).Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			metrics.RateLimitHits.WithLabelValues(op).Inc()

			// Track violation
			rl.trackViolation(r.Context(), ip)

			jsonError(w, http.StatusTooManyRequests, errs.RateLimited, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// findOperation finds the throttled operation for a request.
func (rl *RateLimiter) findOperation(r *http.Request) string {
	key := r.Method + " " + r.URL.Path

	for _, rt := range rl.routes {
		if strings.HasPrefix(key, rt.pattern) {
			return rt.operation
		}
	}
	return ""
}

// trackViolation tracks rate limit violations and auto-blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	count := rl.blocker.TrackViolation(ctx, ip)
	if count >= 10 {
		rl.blocker.Block(ctx, ip, 24*time.Hour, "repeated rate limit violations")
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/relay/internal/auth"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/metrics"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Request headers carried by signed requests. The signature covers the raw
// request body and nothing else.
const (
	HeaderAgent     = "X-Relay-Agent"
	HeaderSignature = "X-Relay-Signature"
)

// AuthMiddleware handles signature verification for authenticated endpoints.
type AuthMiddleware struct {
	auth   *auth.Authenticator
	replay auth.ReplayCache
	logger zerolog.Logger
	window time.Duration
	now    func() time.Time
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(authenticator *auth.Authenticator, replay auth.ReplayCache, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		auth:   authenticator,
		replay: replay,
		logger: logger,
		window: 5 * time.Minute,
		now:    time.Now,
	}
}

// signedEnvelope is the part of every signed body the middleware inspects.
type signedEnvelope struct {
	Timestamp int64 `json:"timestamp"` // unix milliseconds
}

// RequireAgent verifies the request against the agent's identity key.
func (m *AuthMiddleware) RequireAgent(next http.Handler) http.Handler {
	return m.require(auth.RoleAgent, next)
}

// RequireAdmin verifies the request against the admin ledger.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.require(auth.RoleAdmin, next)
}

func (m *AuthMiddleware) require(role auth.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(HeaderAgent)
		signature := r.Header.Get(HeaderSignature)
		if actor == "" || signature == "" {
			jsonError(w, http.StatusUnauthorized, errs.InvalidInput, "missing auth headers")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errs.InvalidInput, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

		var env signedEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			jsonError(w, http.StatusBadRequest, errs.InvalidInput, "invalid JSON body")
			return
		}
		if !m.isTimestampValid(env.Timestamp) {
			jsonError(w, http.StatusUnauthorized, errs.InvalidInput, "timestamp missing, expired or too far in future")
			return
		}

		identity, err := m.auth.Authenticate(r.Context(), actor, body, signature, role)
		if err != nil {
			kind := errs.KindOf(err)
			metrics.AuthFailures.WithLabelValues(string(role), string(kind)).Inc()
			if kind == errs.Internal {
				m.logger.Error().Err(err).Str("agent", actor).Msg("authentication failed")
			} else {
				m.logger.Warn().
					Str("type", "security").
					Str("event", "auth_failed").
					Str("agent", actor).
					Str("role", string(role)).
					Str("kind", string(kind)).
					Str("ip", RealIP(r)).
					Msg("authentication failed")
			}
			jsonError(w, errs.Status(kind), kind, errs.Message(err))
			return
		}

		fresh, err := m.replay.MarkSignatureUsed(r.Context(), actor, signature, 2*m.window)
		if err != nil {
			m.logger.Error().Err(err).Msg("replay cache unavailable")
			jsonError(w, http.StatusInternalServerError, errs.Internal, "internal error")
			return
		}
		if !fresh {
			m.logger.Warn().
				Str("type", "security").
				Str("event", "replayed_signature").
				Str("agent", actor).
				Str("ip", RealIP(r)).
				Msg("replayed signature rejected")
			jsonError(w, http.StatusUnauthorized, errs.InvalidSignature, "signature already used")
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) isTimestampValid(ts int64) bool {
	if ts == 0 {
		return false
	}
	now := m.now().UnixMilli()
	windowMs := m.window.Milliseconds()
	return ts > now-windowMs && ts <= now+windowMs
}

// GetIdentityFromContext retrieves the authenticated identity from the request context.
func GetIdentityFromContext(ctx context.Context) *auth.Identity {
	identity, ok := ctx.Value(IdentityContextKey).(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

func jsonError(w http.ResponseWriter, status int, kind errs.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":     false,
		"error":  message,
		"kind":   kind,
		"status": status,
	})
}

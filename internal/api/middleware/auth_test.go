package middleware

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/relay/internal/auth"
	"github.com/eldtechnologies/relay/internal/crypto"
	"github.com/eldtechnologies/relay/internal/models"
	"github.com/eldtechnologies/relay/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupAuth(t *testing.T) (*AuthMiddleware, ed25519.PrivateKey, *store.MemoryStore) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := crypto.EncodePublicKey(pub)
	require.NoError(t, err)

	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAgent(context.Background(), &models.Agent{
		ID: crypto.NewUUIDv7(), Name: "bmo", PublicKey: key, Status: models.AgentActive,
	}))

	m := NewAuthMiddleware(auth.NewAuthenticator(s), auth.NewMemoryReplayCache(), zerolog.Nop())
	m.now = func() time.Time { return now }
	return m, priv, s
}

func signedRequest(priv ed25519.PrivateKey, agent, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/agents/bmo/rotate-key", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAgent, agent)
	req.Header.Set(HeaderSignature, crypto.Sign(priv, []byte(body)))
	return req
}

func okHandler(t *testing.T, wantBody string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetIdentityFromContext(r.Context())
		require.NotNil(t, id)
		assert.Equal(t, wantBody, readAll(t, r))
		w.WriteHeader(http.StatusNoContent)
	})
}

func readAll(t *testing.T, r *http.Request) string {
	t.Helper()
	b := new(strings.Builder)
	_, err := io.Copy(b, r.Body)
	require.NoError(t, err)
	return b.String()
}

func body(ts time.Time) string {
	return fmt.Sprintf(`{"public_key":"x","timestamp":%d}`, ts.UnixMilli())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, false, out["ok"])
	return out
}

func TestRequireAgent(t *testing.T) {
	m, priv, _ := setupAuth(t)
	b := body(now)

	rec := httptest.NewRecorder()
	m.RequireAgent(okHandler(t, b)).ServeHTTP(rec, signedRequest(priv, "bmo", b))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Same signature again is a replay.
	rec = httptest.NewRecorder()
	m.RequireAgent(okHandler(t, b)).ServeHTTP(rec, signedRequest(priv, "bmo", b))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", decodeError(t, rec)["kind"])
}

func TestRequireAgentFailures(t *testing.T) {
	m, priv, _ := setupAuth(t)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	tests := []struct {
		name   string
		req    *http.Request
		status int
		kind   string
	}{
		{"missing headers", httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body(now))), http.StatusUnauthorized, "invalid_input"},
		{"stale timestamp", signedRequest(priv, "bmo", body(now.Add(-10*time.Minute))), http.StatusUnauthorized, "invalid_input"},
		{"future timestamp", signedRequest(priv, "bmo", body(now.Add(10*time.Minute))), http.StatusUnauthorized, "invalid_input"},
		{"no timestamp", signedRequest(priv, "bmo", `{"public_key":"x"}`), http.StatusUnauthorized, "invalid_input"},
		{"not json", signedRequest(priv, "bmo", `hello`), http.StatusBadRequest, "invalid_input"},
		{"unknown agent", signedRequest(priv, "nobody", body(now)), http.StatusNotFound, "not_found"},
		{"wrong key", signedRequest(otherPriv, "bmo", body(now)), http.StatusBadRequest, "invalid_signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			m.RequireAgent(next).ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
			out := decodeError(t, rec)
			assert.Equal(t, tt.kind, out["kind"])
			assert.Equal(t, float64(tt.status), out["status"])
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	m, priv, s := setupAuth(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, auth.RoleAdmin, GetIdentityFromContext(r.Context()).Role)
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	m.RequireAdmin(next).ServeHTTP(rec, signedRequest(priv, "bmo", body(now)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	agent, err := s.GetAgentByName(context.Background(), "bmo")
	require.NoError(t, err)
	require.NoError(t, s.PutAdminGrant(context.Background(), &models.AdminGrant{Agent: "bmo", PublicKey: agent.PublicKey}))

	rec = httptest.NewRecorder()
	m.RequireAdmin(next).ServeHTTP(rec, signedRequest(priv, "bmo", body(now.Add(time.Second))))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

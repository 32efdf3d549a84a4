package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
}

func TestValidateRequest(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader("name=bmo"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ValidateRequest(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = httptest.NewRecorder()
	ValidateRequest(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/broadcasts?type=<script>", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	ValidateRequest(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMaxBodySize(t *testing.T) {
	rec := httptest.NewRecorder()
	MaxBodySize(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader("toolong")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/agents/:name", normalizePath("/agents/bmo"))
	assert.Equal(t, "/agents/:name/rotate-key", normalizePath("/agents/bmo/rotate-key"))
	assert.Equal(t, "/admin/grants/:name", normalizePath("/admin/grants/bmo"))
	assert.Equal(t, "/agents", normalizePath("/agents"))
	assert.Equal(t, "/broadcasts", normalizePath("/broadcasts"))
}

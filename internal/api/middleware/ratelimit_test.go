package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/eldtechnologies/relay/internal/ratelimit"
)

type fakeBlocker struct {
	blocked    map[string]bool
	violations map[string]int64
}

func newFakeBlocker() *fakeBlocker {
	return &fakeBlocker{blocked: map[string]bool{}, violations: map[string]int64{}}
}

func (b *fakeBlocker) IsBlocked(_ context.Context, ip string) bool { return b.blocked[ip] }

func (b *fakeBlocker) Block(_ context.Context, ip string, _ time.Duration, _ string) {
	b.blocked[ip] = true
}

func (b *fakeBlocker) TrackViolation(_ context.Context, ip string) int64 {
	b.violations[ip]++
	return b.violations[ip]
}

func newLimiter(limits map[string]ratelimit.Limit, blocker Blocker, cfg RateLimiterConfig) *RateLimiter {
	w := ratelimit.NewWindow(ratelimit.NewMemoryStore(), limits, zerolog.Nop())
	rl := NewRateLimiter(w, blocker, zerolog.Nop(), cfg)
	rl.now = func() time.Time { return now }
	return rl
}

func hit(rl *RateLimiter, method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":4000"
	rec := httptest.NewRecorder()
	rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newLimiter(map[string]ratelimit.Limit{OpRegister: {Requests: 2, Window: time.Hour}}, nil, RateLimiterConfig{})

	assert.Equal(t, http.StatusOK, hit(rl, http.MethodPost, "/agents", "10.0.0.1").Code)
	rec := hit(rl, http.MethodPost, "/agents", "10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = hit(rl, http.MethodPost, "/agents", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, hit(rl, http.MethodPost, "/agents", "10.0.0.2").Code)

	rl.now = func() time.Time { return now.Add(time.Hour) }
	assert.Equal(t, http.StatusOK, hit(rl, http.MethodPost, "/agents", "10.0.0.1").Code)
}

func TestRateLimiterWhitelist(t *testing.T) {
	rl := newLimiter(map[string]ratelimit.Limit{OpRegister: {Requests: 1, Window: time.Hour}}, nil,
		RateLimiterConfig{Whitelist: []string{"10.0.0.1", "192.168.0.0/16", "bad/cidr"}})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(rl, http.MethodPost, "/agents", "10.0.0.1").Code)
		assert.Equal(t, http.StatusOK, hit(rl, http.MethodPost, "/agents", "192.168.4.4").Code)
	}
}

func TestRateLimiterAutoBlock(t *testing.T) {
	blocker := newFakeBlocker()
	rl := newLimiter(map[string]ratelimit.Limit{OpRegister: {Requests: 1, Window: time.Hour}}, blocker,
		RateLimiterConfig{AutoBlockEnabled: true})

	hit(rl, http.MethodPost, "/agents", "10.0.0.1")
	for i := 0; i < 10; i++ {
		hit(rl, http.MethodPost, "/agents", "10.0.0.1")
	}
	assert.True(t, blocker.blocked["10.0.0.1"])

	// Blocked IPs are refused on every route.
	assert.Equal(t, http.StatusForbidden, hit(rl, http.MethodGet, "/health", "10.0.0.1").Code)
}

func TestFindOperation(t *testing.T) {
	rl := newLimiter(DefaultLimits, nil, RateLimiterConfig{})
	cases := map[string]string{
		"POST /agents":                OpRegister,
		"POST /agents/bmo/rotate-key": OpSigned,
		"GET /agents/bmo":             OpLookup,
		"POST /email/confirm":         OpConfirm,
		"POST /email/send":            "",
		"POST /broadcasts":            OpBroadcast,
		"POST /broadcasts/verify":     OpBroadcast,
		"DELETE /admin/grants/bmo":    OpSigned,
		"GET /health":                 "",
	}
	for key, want := range cases {
		method, path, _ := strings.Cut(key, " ")
		req := httptest.NewRequest(method, path, nil)
		assert.Equal(t, want, rl.findOperation(req), key)
	}
}

func TestClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	c := NewClientIP(nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.1.1.1:1234"
	req.Header.Set("X-Real-IP", "2.2.2.2")
	req.Header.Set("X-Forwarded-For", "3.3.3.3, 4.4.4.4")
	req.Header.Set("Fly-Client-IP", "5.5.5.5")

	assert.Equal(t, "1.1.1.1", c.Resolve(req))
}

func TestClientIPTrustedProxy(t *testing.T) {
	c := NewClientIP([]string{"10.0.0.0/8", "192.168.1.1"}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	assert.Equal(t, "10.0.0.5", c.Resolve(req))

	req.Header.Set("X-Real-IP", "2.2.2.2")
	assert.Equal(t, "2.2.2.2", c.Resolve(req))

	// Client-supplied entries left of the first untrusted hop are ignored.
	req.Header.Set("X-Forwarded-For", "6.6.6.6, 3.3.3.3, 10.0.0.9")
	assert.Equal(t, "3.3.3.3", c.Resolve(req))

	req.Header.Set("Fly-Client-IP", "5.5.5.5")
	assert.Equal(t, "5.5.5.5", c.Resolve(req))

	single := httptest.NewRequest(http.MethodGet, "/", nil)
	single.RemoteAddr = "192.168.1.1:80"
	single.Header.Set("X-Forwarded-For", "7.7.7.7")
	assert.Equal(t, "7.7.7.7", c.Resolve(single))
}

func TestRealIPUsesResolvedAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.1.1.1:1234"
	req.Header.Set("X-Forwarded-For", "3.3.3.3")
	assert.Equal(t, "1.1.1.1", RealIP(req))

	var seen string
	NewClientIP([]string{"1.1.1.1"}, zerolog.Nop()).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RealIP(r)
	})).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "3.3.3.3", seen)
}

func TestRateLimiterIgnoresSpoofedForwardedFor(t *testing.T) {
	rl := newLimiter(map[string]ratelimit.Limit{OpRegister: {Requests: 1, Window: time.Hour}}, nil, RateLimiterConfig{})
	handler := NewClientIP(nil, zerolog.Nop()).Middleware(rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	codes := make([]int, 0, 3)
	for _, spoofed := range []string{"8.8.8.1", "8.8.8.2", "8.8.8.3"} {
		req := httptest.NewRequest(http.MethodPost, "/agents", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		req.Header.Set("X-Forwarded-For", spoofed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

package emailverify

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/relay/internal/crypto"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/models"
	"github.com/eldtechnologies/relay/internal/ratelimit"
	"github.com/eldtechnologies/relay/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var codeRe = regexp.MustCompile(`\b(\d{6})\b`)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.sent = append(f.sent, body)
	return f.err
}

func (f *fakeSender) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.sent)
	m := codeRe.FindStringSubmatch(f.sent[len(f.sent)-1])
	require.Len(t, m, 2)
	return m[1]
}

func newEngine(t *testing.T) (*Engine, *store.MemoryStore, *fakeSender) {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateAgent(context.Background(), &models.Agent{
		ID:     crypto.NewUUIDv7(),
		Name:   "bmo",
		Status: models.AgentActive,
	}))
	limiter := ratelimit.NewWindow(ratelimit.NewMemoryStore(), map[string]ratelimit.Limit{
		ratelimit.OpEmailSend: {Requests: 3, Window: time.Hour},
	}, zerolog.Nop())
	sender := &fakeSender{}
	return NewEngine(s, limiter, sender, zerolog.Nop()), s, sender
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, `^\d{6}$`, code)
	}
}

func TestRoundTrip(t *testing.T) {
	e, s, sender := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0))
	code := sender.lastCode(t)

	v, err := s.GetEmailVerification(ctx, "bmo")
	require.NoError(t, err)
	assert.NotEqual(t, code, v.CodeHash)
	assert.Equal(t, crypto.HashCode(code), v.CodeHash)
	assert.True(t, v.ExpiresAt.Equal(t0.Add(CodeTTL)))

	state, err := e.Status(ctx, "bmo", t0)
	require.NoError(t, err)
	assert.Equal(t, StateIssued, state)

	require.NoError(t, e.ConfirmVerificationCode(ctx, "bmo", code, t0.Add(time.Minute)))

	agent, err := s.GetAgentByName(ctx, "bmo")
	require.NoError(t, err)
	assert.True(t, agent.EmailVerified)
	assert.Equal(t, "bmo@example.com", agent.Email)

	state, err = e.Status(ctx, "bmo", t0)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, state)
}

func TestWrongCode(t *testing.T) {
	e, _, _ := newEngine(t)
	e.GenerateCode = func() (string, error) { return "123456", nil }
	ctx := context.Background()

	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0))

	err := e.ConfirmVerificationCode(ctx, "bmo", "654321", t0)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
	assert.Equal(t, "invalid code", errs.Message(err))
}

func TestConfirmIsIdempotent(t *testing.T) {
	e, s, sender := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0))
	code := sender.lastCode(t)
	require.NoError(t, e.ConfirmVerificationCode(ctx, "bmo", code, t0))

	before, err := s.GetEmailVerification(ctx, "bmo")
	require.NoError(t, err)

	require.NoError(t, e.ConfirmVerificationCode(ctx, "bmo", code, t0.Add(time.Hour)))

	after, err := s.GetEmailVerification(ctx, "bmo")
	require.NoError(t, err)
	assert.Equal(t, before.Attempts, after.Attempts)
}

func TestExpiryBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("after expiry", func(t *testing.T) {
		e, s, sender := newEngine(t)
		require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0))
		code := sender.lastCode(t)

		err := e.ConfirmVerificationCode(ctx, "bmo", code, t0.Add(CodeTTL+time.Millisecond))
		assert.Equal(t, errs.Expired, errs.KindOf(err))

		v, err := s.GetEmailVerification(ctx, "bmo")
		require.NoError(t, err)
		assert.Equal(t, 0, v.Attempts)

		state, err := e.Status(ctx, "bmo", t0.Add(CodeTTL+time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, StateExpired, state)
	})

	t.Run("before expiry", func(t *testing.T) {
		e, _, sender := newEngine(t)
		require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0))
		code := sender.lastCode(t)

		assert.NoError(t, e.ConfirmVerificationCode(ctx, "bmo", code, t0.Add(CodeTTL-time.Millisecond)))
	})
}

func TestLockoutAfterThreeAttempts(t *testing.T) {
	e, s, sender := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0))
	code := sender.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < MaxAttempts; i++ {
		err := e.ConfirmVerificationCode(ctx, "bmo", wrong, t0)
		assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
	}

	v, err := s.GetEmailVerification(ctx, "bmo")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Attempts)

	err = e.ConfirmVerificationCode(ctx, "bmo", code, t0)
	assert.Equal(t, errs.AttemptsExceeded, errs.KindOf(err))

	state, err := e.Status(ctx, "bmo", t0)
	require.NoError(t, err)
	assert.Equal(t, StateLocked, state)

	// A fresh send recovers.
	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0))
	assert.NoError(t, e.ConfirmVerificationCode(ctx, "bmo", sender.lastCode(t), t0))
}

func TestSendRateLimited(t *testing.T) {
	e, _, sender := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0.Add(time.Duration(i)*time.Minute)))
	}

	err := e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0.Add(30*time.Minute))
	assert.Equal(t, errs.RateLimited, errs.KindOf(err))
	assert.Len(t, sender.sent, 3)

	// Other IPs have their own window.
	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.2", t0.Add(30*time.Minute)))

	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0.Add(time.Hour)))
	assert.Len(t, sender.sent, 5)
}

func TestSendValidation(t *testing.T) {
	e, _, sender := newEngine(t)
	ctx := context.Background()

	err := e.SendVerificationCode(ctx, "nobody", "x@example.com", "10.0.0.1", t0)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	err = e.SendVerificationCode(ctx, "bmo", "not-an-email", "10.0.0.1", t0)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))

	assert.Empty(t, sender.sent)
}

func TestDeliveryFailureKeepsRow(t *testing.T) {
	e, s, sender := newEngine(t)
	sender.err = errors.New("smtp down")
	e.GenerateCode = func() (string, error) { return "424242", nil }
	ctx := context.Background()

	err := e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0)
	assert.Equal(t, errs.DeliveryFailed, errs.KindOf(err))

	v, err := s.GetEmailVerification(ctx, "bmo")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, crypto.HashCode("424242"), v.CodeHash)
}

func TestConfirmWithoutSend(t *testing.T) {
	e, _, _ := newEngine(t)

	err := e.ConfirmVerificationCode(context.Background(), "bmo", "123456", t0)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
	assert.Equal(t, "no pending verification", errs.Message(err))

	state, err := e.Status(context.Background(), "bmo", t0)
	require.NoError(t, err)
	assert.Equal(t, StateNone, state)
}

func TestResendOverwrites(t *testing.T) {
	e, _, sender := newEngine(t)
	ctx := context.Background()
	codes := []string{"111111", "222222"}
	e.GenerateCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0))
	require.NoError(t, e.SendVerificationCode(ctx, "bmo", "bmo@example.com", "10.0.0.1", t0.Add(time.Minute)))
	assert.Equal(t, "222222", sender.lastCode(t))

	err := e.ConfirmVerificationCode(ctx, "bmo", "111111", t0.Add(time.Minute))
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
	assert.NoError(t, e.ConfirmVerificationCode(ctx, "bmo", "222222", t0.Add(time.Minute)))
}

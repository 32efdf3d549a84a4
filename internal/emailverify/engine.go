// Package emailverify issues and confirms one-time email ownership codes.
//
// Each agent has at most one live issuance. A send overwrites it; a confirm
// moves it to verified, or fails as expired, locked or wrong.
package emailverify

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/relay/internal/crypto"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/mailer"
	"github.com/eldtechnologies/relay/internal/metrics"
	"github.com/eldtechnologies/relay/internal/models"
	"github.com/eldtechnologies/relay/internal/ratelimit"
)

const (
	CodeTTL     = 10 * time.Minute
	MaxAttempts = 3
	codeDigits  = 6
)

// State is the position of an agent in the verification state machine.
type State string

const (
	StateNone     State = "none"
	StateIssued   State = "issued"
	StateVerified State = "verified"
	StateExpired  State = "expired"
	StateLocked   State = "locked"
)

// Store persists verification rows.
type Store interface {
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	UpsertEmailVerification(ctx context.Context, v *models.EmailVerification) error
	GetEmailVerification(ctx context.Context, agent string) (*models.EmailVerification, error)
	IncrementVerificationAttempts(ctx context.Context, agent string) (int, error)
	MarkEmailVerified(ctx context.Context, agent string) error
}

// Engine runs the email verification flow.
type Engine struct {
	store    Store
	limiter  *ratelimit.Window
	sender   mailer.Sender
	logger   zerolog.Logger
	validate *validator.Validate

	// GenerateCode returns a fresh plaintext code.
	GenerateCode func() (string, error)
}

// NewEngine creates an Engine.
func NewEngine(store Store, limiter *ratelimit.Window, sender mailer.Sender, logger zerolog.Logger) *Engine {
	return &Engine{
		store:        store,
		limiter:      limiter,
		sender:       sender,
		logger:       logger,
		validate:     validator.New(),
		GenerateCode: GenerateCode,
	}
}

// GenerateCode returns a uniformly random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// SendVerificationCode issues a new code for agent and emails it.
//
// The rate window for sourceIP is consulted first; a throttled call does
// nothing else. The row is written before delivery, so a DeliveryFailed
// error still leaves the code stored. Sending again overwrites it.
func (e *Engine) SendVerificationCode(ctx context.Context, agent, email, sourceIP string, now time.Time) error {
	decision, err := e.limiter.Check(ctx, ratelimit.OpEmailSend, sourceIP, now)
	if err != nil {
		return errs.Wrap(errs.Internal, "rate limit check failed", err)
	}
	if !decision.Allowed {
		metrics.RateLimitHits.WithLabelValues(ratelimit.OpEmailSend).Inc()
		return errs.New(errs.RateLimited, "too many verification emails, try again later")
	}

	if err := e.validate.Var(email, "required,email,max=254"); err != nil {
		return errs.New(errs.InvalidInput, "invalid email address")
	}

	a, err := e.store.GetAgentByName(ctx, agent)
	if err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}
	if a == nil {
		return errs.New(errs.NotFound, "agent not found")
	}

	code, err := e.GenerateCode()
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to generate code", err)
	}

	v := &models.EmailVerification{
		AgentName: agent,
		Email:     email,
		CodeHash:  crypto.HashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(CodeTTL),
	}
	if err := e.store.UpsertEmailVerification(ctx, v); err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}

	body := fmt.Sprintf("Your relay verification code for agent %q is %s.\n\nIt expires in %d minutes.\n",
		agent, code, int(CodeTTL.Minutes()))
	if err := e.sender.Send(ctx, email, "Your verification code", body); err != nil {
		metrics.VerificationEvents.WithLabelValues("delivery_failed").Inc()
		e.logger.Error().Err(err).Str("agent", agent).Msg("verification email delivery failed")
		return errs.Wrap(errs.DeliveryFailed, "failed to send verification email", err)
	}

	metrics.VerificationEvents.WithLabelValues("sent").Inc()
	e.logger.Info().Str("agent", agent).Time("expires_at", v.ExpiresAt).Msg("verification code sent")
	return nil
}

// ConfirmVerificationCode checks code against the agent's live issuance.
func (e *Engine) ConfirmVerificationCode(ctx context.Context, agent, code string, now time.Time) error {
	v, err := e.store.GetEmailVerification(ctx, agent)
	if err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}
	if v == nil {
		return errs.New(errs.NotFound, "no pending verification")
	}
	if v.Verified {
		return nil
	}
	if now.After(v.ExpiresAt) {
		metrics.VerificationEvents.WithLabelValues("expired").Inc()
		return errs.New(errs.Expired, "verification code expired")
	}

	attempts, err := e.store.IncrementVerificationAttempts(ctx, agent)
	if err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}
	if attempts-1 >= MaxAttempts {
		metrics.VerificationEvents.WithLabelValues("locked").Inc()
		e.logger.Warn().
			Str("type", "security").
			Str("event", "verification_locked").
			Str("agent", agent).
			Msg("verification attempts exceeded")
		return errs.New(errs.AttemptsExceeded, "too many attempts, request a new code")
	}

	if subtle.ConstantTimeCompare([]byte(crypto.HashCode(code)), []byte(v.CodeHash)) != 1 {
		metrics.VerificationEvents.WithLabelValues("invalid").Inc()
		return errs.New(errs.InvalidInput, "invalid code")
	}

	if err := e.store.MarkEmailVerified(ctx, agent); err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}

	metrics.VerificationEvents.WithLabelValues("verified").Inc()
	e.logger.Info().Str("agent", agent).Msg("email verified")
	return nil
}

// Status reports where agent is in the verification state machine at now.
func (e *Engine) Status(ctx context.Context, agent string, now time.Time) (State, error) {
	v, err := e.store.GetEmailVerification(ctx, agent)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "database error", err)
	}
	switch {
	case v == nil:
		return StateNone, nil
	case v.Verified:
		return StateVerified, nil
	case v.Attempts >= MaxAttempts:
		return StateLocked, nil
	case now.After(v.ExpiresAt):
		return StateExpired, nil
	default:
		return StateIssued, nil
	}
}

// Package ratelimit implements fixed rolling windows keyed by operation and
// subject (an IP address, an agent name). Time is always supplied by the
// caller.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// OpEmailSend throttles verification code sends per source IP.
const OpEmailSend = "email-send"

// Limit is the threshold for one operation.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Counter is the state of one window.
type Counter struct {
	WindowStart time.Time
	Count       int
}

// CounterStore performs an atomic check-and-increment. If no window exists
// for key, or now is at least window past its start, a new window starting at
// now replaces it. The call is allowed and counted while Count < limit;
// rejected calls leave the counter unchanged.
type CounterStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Counter, bool, error)
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Window applies per-operation limits over a CounterStore.
type Window struct {
	store  CounterStore
	limits map[string]Limit
	logger zerolog.Logger
}

// NewWindow creates a Window. Operations absent from limits are never throttled.
func NewWindow(store CounterStore, limits map[string]Limit, logger zerolog.Logger) *Window {
	copied := make(map[string]Limit, len(limits))
	for op, l := range limits {
		copied[op] = l
	}
	return &Window{store: store, limits: copied, logger: logger}
}

// Limit returns the configured limit for operation.
func (w *Window) Limit(operation string) (Limit, bool) {
	l, ok := w.limits[operation]
	return l, ok
}

// Check counts one call of operation by subject at now.
func (w *Window) Check(ctx context.Context, operation, subject string, now time.Time) (Decision, error) {
	limit, ok := w.limits[operation]
	if !ok {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	counter, allowed, err := w.store.Take(ctx, Key(operation, subject), limit.Requests, limit.Window, now)
	if err != nil {
		return Decision{}, err
	}

	remaining := limit.Requests - counter.Count
	if remaining < 0 {
		remaining = 0
	}

	if !allowed {
		w.logger.Warn().
			Str("type", "security").
			Str("event", "rate_limit_exceeded").
			Str("operation", operation).
			Str("subject", subject).
			Msg("rate limit exceeded")
	}

	return Decision{
		Allowed:   allowed,
		Limit:     limit.Requests,
		Remaining: remaining,
		ResetAt:   counter.WindowStart.Add(limit.Window),
	}, nil
}

// Key returns the counter key for an operation and subject.
func Key(operation, subject string) string {
	return operation + "|" + subject
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestWindow() *Window {
	return NewWindow(NewMemoryStore(), map[string]Limit{
		OpEmailSend: {Requests: 3, Window: time.Hour},
	}, zerolog.Nop())
}

func TestWindowAllowsUpToLimit(t *testing.T) {
	w := newTestWindow()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := w.Check(ctx, OpEmailSend, "10.0.0.1", t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := w.Check(ctx, OpEmailSend, "10.0.0.1", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, t0.Add(time.Hour), d.ResetAt)
}

func TestWindowResetsFromFirstCall(t *testing.T) {
	w := newTestWindow()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := w.Check(ctx, OpEmailSend, "x", t0.Add(time.Duration(i)*20*time.Minute))
		require.NoError(t, err)
	}

	// Still inside the window anchored at t0.
	d, _ := w.Check(ctx, OpEmailSend, "x", t0.Add(time.Hour-time.Millisecond))
	assert.False(t, d.Allowed)

	// Window length elapsed since the first call; later calls do not slide it.
	d, _ = w.Check(ctx, OpEmailSend, "x", t0.Add(time.Hour))
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, t0.Add(2*time.Hour), d.ResetAt)
}

func TestWindowIsolatesSubjectsAndOperations(t *testing.T) {
	w := NewWindow(NewMemoryStore(), map[string]Limit{
		OpEmailSend: {Requests: 1, Window: time.Hour},
		"register":  {Requests: 1, Window: time.Hour},
	}, zerolog.Nop())
	ctx := context.Background()

	d, _ := w.Check(ctx, OpEmailSend, "a", t0)
	assert.True(t, d.Allowed)
	d, _ = w.Check(ctx, OpEmailSend, "b", t0)
	assert.True(t, d.Allowed)
	d, _ = w.Check(ctx, "register", "a", t0)
	assert.True(t, d.Allowed)
	d, _ = w.Check(ctx, OpEmailSend, "a", t0)
	assert.False(t, d.Allowed)
}

func TestWindowUnconfiguredOperation(t *testing.T) {
	w := newTestWindow()
	for i := 0; i < 10; i++ {
		d, err := w.Check(context.Background(), "unknown", "x", t0)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestRejectedCallsDoNotCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, _ = s.Take(ctx, "k", 2, time.Minute, t0)
	}
	c, allowed, err := s.Take(ctx, "k", 2, time.Minute, t0)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 2, c.Count)
}

func TestMemoryStoreEvictsFinishedWindows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, subject := range []string{"a", "b", "c"} {
		_, _, err := s.Take(ctx, Key(OpEmailSend, subject), 3, time.Minute, t0)
		require.NoError(t, err)
	}
	_, _, err := s.Take(ctx, Key(OpEmailSend, "long"), 3, time.Hour, t0)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())

	// Past the short windows: only the hour-long counter and the new one remain.
	_, _, err = s.Take(ctx, Key(OpEmailSend, "d"), 3, time.Minute, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	c, allowed, err := s.Take(ctx, Key(OpEmailSend, "long"), 3, time.Hour, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, c.Count)
}

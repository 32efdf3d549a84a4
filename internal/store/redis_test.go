package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/relay/internal/ratelimit"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestRedisTakeFixedWindow(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c, allowed, err := s.Take(ctx, "email-send|10.0.0.1", 3, time.Hour, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i+1, c.Count)
		assert.True(t, c.WindowStart.Equal(t0))
	}

	c, allowed, err := s.Take(ctx, "email-send|10.0.0.1", 3, time.Hour, t0.Add(59*time.Minute))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, c.Count)

	c, allowed, err = s.Take(ctx, "email-send|10.0.0.1", 3, time.Hour, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, c.Count)
	assert.True(t, c.WindowStart.Equal(t0.Add(time.Hour)))
}

func TestRedisBacksWindow(t *testing.T) {
	s, _ := newTestRedis(t)
	w := ratelimit.NewWindow(s, map[string]ratelimit.Limit{
		ratelimit.OpEmailSend: {Requests: 3, Window: time.Hour},
	}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := w.Check(ctx, ratelimit.OpEmailSend, "10.0.0.9", t0)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := w.Check(ctx, ratelimit.OpEmailSend, "10.0.0.9", t0)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = w.Check(ctx, ratelimit.OpEmailSend, "10.0.0.10", t0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisReplayCache(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	fresh, err := s.MarkSignatureUsed(ctx, "bmo", "sig-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkSignatureUsed(ctx, "bmo", "sig-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = s.MarkSignatureUsed(ctx, "amy", "sig-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	mr.FastForward(2 * time.Minute)
	fresh, err = s.MarkSignatureUsed(ctx, "bmo", "sig-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestRedisIPBlocks(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	assert.False(t, s.IsBlocked(ctx, "1.2.3.4"))
	s.Block(ctx, "1.2.3.4", time.Hour, "test")
	assert.True(t, s.IsBlocked(ctx, "1.2.3.4"))

	assert.Equal(t, int64(1), s.TrackViolation(ctx, "5.6.7.8"))
	assert.Equal(t, int64(2), s.TrackViolation(ctx, "5.6.7.8"))
}

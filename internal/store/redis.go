package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/relay/internal/ratelimit"
)

// RedisStore holds ephemeral relay state: rate window counters, the
// signature replay cache and IP blocks.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// counterKey maps an arbitrary operation and subject to a fixed-length key.
func counterKey(key string) string {
	return fmt.Sprintf("ratewindow:%016x", xxhash.Sum64String(key))
}

// takeScript is the fixed window check-and-increment. ARGV: now (ms),
// window (ms), limit. Returns {allowed, count, windowStart}.
var takeScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count')) or 0
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

if start == nil or now - start >= window then
	start = now
	count = 0
end

local allowed = 0
if count < limit then
	count = count + 1
	allowed = 1
end

redis.call('HSET', KEYS[1], 'start', start, 'count', count)
redis.call('PEXPIRE', KEYS[1], window * 2)
return {allowed, count, start}
`)

// Take implements ratelimit.CounterStore.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (ratelimit.Counter, bool, error) {
	res, err := takeScript.Run(ctx, s.client, []string{counterKey(key)},
		now.UnixMilli(), window.Milliseconds(), limit,
	).Int64Slice()
	if err != nil {
		return ratelimit.Counter{}, false, err
	}
	if len(res) != 3 {
		return ratelimit.Counter{}, false, fmt.Errorf("unexpected rate window reply: %v", res)
	}

	return ratelimit.Counter{
		WindowStart: time.UnixMilli(res[2]).UTC(),
		Count:       int(res[1]),
	}, res[0] == 1, nil
}

// replayKey returns the key for a seen signature.
func replayKey(agent, signature string) string {
	return "replay:" + agent + ":" + strconv.FormatUint(xxhash.Sum64String(signature), 16)
}

// MarkSignatureUsed records a signature and reports whether it was new.
func (s *RedisStore) MarkSignatureUsed(ctx context.Context, agent, signature string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, replayKey(agent, signature), "1", ttl).Result()
}

// IsBlocked checks if an IP is blocked.
func (s *RedisStore) IsBlocked(ctx context.Context, ip string) bool {
	exists, _ := s.client.Exists(ctx, "blocked:ip:"+ip).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (s *RedisStore) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	s.client.Set(ctx, "blocked:ip:"+ip, reason, duration)
}

// TrackViolation increments the violation counter for an IP and returns it.
func (s *RedisStore) TrackViolation(ctx context.Context, ip string) int64 {
	key := "violations:ip:" + ip
	count, _ := s.client.Incr(ctx, key).Result()
	s.client.Expire(ctx, key, time.Hour)
	return count
}

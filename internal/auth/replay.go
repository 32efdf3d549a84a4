package auth

import (
	"context"
	"sync"
	"time"
)

// ReplayCache remembers accepted signatures for a TTL. MarkSignatureUsed
// reports false when the signature was already seen.
type ReplayCache interface {
	MarkSignatureUsed(ctx context.Context, agent, signature string, ttl time.Duration) (bool, error)
}

// MemoryReplayCache is a process-local ReplayCache.
type MemoryReplayCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryReplayCache creates an empty MemoryReplayCache.
func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{seen: make(map[string]time.Time), now: time.Now}
}

// MarkSignatureUsed implements ReplayCache.
func (c *MemoryReplayCache) MarkSignatureUsed(_ context.Context, agent, signature string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, exp := range c.seen {
		if !now.Before(exp) {
			delete(c.seen, k)
		}
	}

	key := agent + ":" + signature
	if _, ok := c.seen[key]; ok {
		return false, nil
	}
	c.seen[key] = now.Add(ttl)
	return true, nil
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often Take scans for finished windows.
const sweepInterval = time.Minute

type memoryEntry struct {
	Counter
	window time.Duration
}

// MemoryStore is a process-local CounterStore. Counters whose window has
// ended are dropped on a later Take.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]memoryEntry
	lastSweep time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]memoryEntry)}
}

// Take implements CounterStore.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweep(now)
	}

	e, ok := s.counters[key]
	if !ok || now.Sub(e.WindowStart) >= window {
		e = memoryEntry{Counter: Counter{WindowStart: now}}
	}
	e.window = window

	allowed := e.Count < limit
	if allowed {
		e.Count++
	}
	s.counters[key] = e

	return e.Counter, allowed, nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for k, e := range s.counters {
		if now.Sub(e.WindowStart) >= e.window {
			delete(s.counters, k)
		}
	}
	s.lastSweep = now
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

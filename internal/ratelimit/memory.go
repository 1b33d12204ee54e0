package ratelimit

import (
	"context"
	"sync"
	"time"
)

// staleFactor is how many of the largest windows an entry may sit unused
// before Sweep drops it
const staleFactor = 5

type windowCounter struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// MemoryStore keeps counters in process memory. Each process enforces its
// own windows; use RedisStore when limits must hold across instances.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*windowCounter
	maxWindow time.Duration
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*windowCounter),
		now:      time.Now,
	}
}

func (s *MemoryStore) Admit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if window > s.maxWindow {
		s.maxWindow = window
	}

	c, ok := s.counters[key]
	if !ok || now.Sub(c.windowStart) > window {
		s.counters[key] = &windowCounter{count: 1, windowStart: now, lastSeen: now}
		return Decision{Allowed: true, Limit: limit, Remaining: max(limit-1, 0)}, nil
	}

	c.lastSeen = now

	if c.count >= limit {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: window}, nil
	}

	c.count++
	return Decision{Allowed: true, Limit: limit, Remaining: limit - c.count}, nil
}

// Sweep removes counters unused for staleFactor times the largest window
// seen so far and returns how many were removed
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxWindow == 0 {
		return 0
	}

	cutoff := now.Add(-staleFactor * s.maxWindow)
	removed := 0
	for key, c := range s.counters {
		if c.lastSeen.Before(cutoff) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

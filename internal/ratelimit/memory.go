package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a single-process fixed-window limiter, used when Redis is not configured.
type MemoryLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	entries     map[string]*entry
	lastCleanup time.Time
}

type entry struct {
	count int
	reset time.Time
}

// NewMemory returns a MemoryLimiter allowing limit requests per window and key.
func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:       limit,
		window:      window,
		entries:     map[string]*entry{},
		lastCleanup: time.Now(),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.window {
		for k, v := range l.entries {
			if now.After(v.reset) {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.entries[key]
	if !ok || now.After(e.reset) {
		l.entries[key] = &entry{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}
	if e.count >= l.limit {
		retryAfter := e.reset.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}
	e.count++
	return true, 0, nil
}

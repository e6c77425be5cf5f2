// Package devotp keeps plain password reset codes in memory so they can be read back at
// GET /v1/dev/reset-otp when OTP_RETURN_TO_CLIENT is enabled outside production.
package devotp

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store holds plain reset codes by account email. Not used in production.
type Store interface {
	// Put stores code for email until expiresAt, replacing any earlier code.
	Put(ctx context.Context, email, code string, expiresAt time.Time)
	// Get returns the code for email if present and not expired.
	Get(ctx context.Context, email string) (code string, ok bool)
	// Delete drops the code for email once it has been used.
	Delete(ctx context.Context, email string)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Put stores code for email until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, email, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key(email)] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for email if present and not expired. Expired entries are dropped.
func (s *MemoryStore) Get(ctx context.Context, email string) (string, bool) {
	k := key(email)
	s.mu.RLock()
	e, ok := s.m[k]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.Delete(ctx, k)
		return "", false
	}
	return e.code, true
}

// Delete removes the code for email.
func (s *MemoryStore) Delete(ctx context.Context, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key(email))
}

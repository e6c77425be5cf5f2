package security

import "time"

// Test secrets for unit tests only. Do not use in production.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
)

// NewTestTokenProvider returns a TokenProvider using fixed test secrets.
// For unit tests only. Callers must not use in production.
func NewTestTokenProvider() *TokenProvider {
	return NewTokenProvider([]byte(testAccessSecret), []byte(testRefreshSecret), "test-issuer", "test-audience", 15*time.Minute, 24*time.Hour)
}

// WithClock returns a copy of p whose notion of "now" is fixed by now.
// Used by tests to mint or verify tokens at a given instant.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	cp := *p
	cp.now = now
	return &cp
}

// Package guard authenticates requests: it verifies the access token and requires the
// session it names to still be active in the revocation cache.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/metrics"
	"taskboard-auth/backend/internal/security"
	"taskboard-auth/backend/internal/session/revocation"
)

// Guard outcomes, recorded as the outcome label of metrics.GuardDecisions.
const (
	OutcomeOK         = "ok"
	OutcomeMissing    = "missing"
	OutcomeExpired    = "expired"
	OutcomeInvalid    = "invalid"
	OutcomeRevoked    = "revoked"
	OutcomeCacheError = "cache_error"
)

const defaultCacheTimeout = 250 * time.Millisecond

// Identity is the authenticated caller.
type Identity struct {
	UserID    string
	Email     string
	SessionID string
	ExpiresAt time.Time
}

// Guard checks access tokens.
type Guard struct {
	tokens       *security.TokenProvider
	cache        revocation.Cache
	cacheTimeout time.Duration
	logger       *slog.Logger
}

// New returns a Guard. cacheTimeout bounds the revocation lookup; zero uses 250ms.
func New(tokens *security.TokenProvider, cache revocation.Cache, cacheTimeout time.Duration, logger *slog.Logger) *Guard {
	if cacheTimeout <= 0 {
		cacheTimeout = defaultCacheTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{tokens: tokens, cache: cache, cacheTimeout: cacheTimeout, logger: logger}
}

// Authorize returns the identity carried by an access token whose session is live.
// An unreachable cache denies the request.
func (g *Guard) Authorize(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, g.deny(OutcomeMissing, apperr.New(apperr.Unauthorized, "Please log in to continue"))
	}
	claims, err := g.tokens.Verify(security.KindAccess, token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, g.deny(OutcomeExpired, apperr.New(apperr.Expired, "Need to refresh token"))
		}
		return nil, g.deny(OutcomeInvalid, apperr.New(apperr.Unauthorized, "Invalid token"))
	}
	if claims.SessionID == "" || claims.UserID() == "" {
		return nil, g.deny(OutcomeInvalid, apperr.New(apperr.Unauthorized, "Invalid token"))
	}

	cctx, cancel := context.WithTimeout(ctx, g.cacheTimeout)
	defer cancel()
	active, err := g.cache.IsActive(cctx, claims.SessionID)
	if err != nil {
		g.logger.Warn("guard: revocation lookup failed", "session_id", claims.SessionID, "error", err)
		return nil, g.deny(OutcomeCacheError, apperr.Wrap(apperr.Unauthorized, "Please log in again", err))
	}
	if !active {
		return nil, g.deny(OutcomeRevoked, apperr.New(apperr.Unauthorized, "Please log in again"))
	}

	metrics.GuardDecisions.WithLabelValues(OutcomeOK).Inc()
	id := &Identity{UserID: claims.UserID(), Email: claims.Email, SessionID: claims.SessionID}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func (g *Guard) deny(outcome string, err error) error {
	metrics.GuardDecisions.WithLabelValues(outcome).Inc()
	return err
}

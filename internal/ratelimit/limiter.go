// Package ratelimit throttles the unauthenticated auth routes (register, login,
// forgot-password) per client IP with a fixed window.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"taskboard-auth/backend/internal/metrics"
	"taskboard-auth/backend/internal/server/httpx"
)

// Limiter decides whether one more request for key fits in the current window.
// retryAfter is meaningful only when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// Middleware rejects requests over the limit with 429 and a Retry-After header. The key is
// route plus the client IP (RemoteAddr, already rewritten by chi's RealIP). Limiter errors
// fail open: the request proceeds and the error is logged.
func Middleware(limiter Limiter, route string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter, err := limiter.Allow(r.Context(), route+":"+clientIP(r), time.Now())
			if err != nil {
				logger.Warn("ratelimit: limiter unavailable", "route", route, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				metrics.RateLimited.WithLabelValues(route).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				httpx.ErrorCode(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

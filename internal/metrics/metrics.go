// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	// GuardDecisions counts auth guard outcomes: ok, missing, expired, invalid, revoked, cache_error.
	GuardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_guard_decisions_total",
			Help: "Auth guard decisions by outcome.",
		},
		[]string{"outcome"},
	)
	// SessionsRevoked counts sessions removed, by reason (logout, evicted, cleared, deleted).
	SessionsRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_revoked_total",
			Help: "Sessions revoked by reason.",
		},
		[]string{"reason"},
	)
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Sessions created by login.",
		},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limited_total",
			Help: "Requests rejected by the auth rate limiter.",
		},
		[]string{"route"},
	)
)

// Register adds every collector to registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(RequestCount, RequestDuration, GuardDecisions, SessionsRevoked, SessionsCreated, RateLimited)
}

// Handler serves registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Middleware records RequestCount and RequestDuration labelled by the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, path, strconv.Itoa(status)}
		RequestCount.WithLabelValues(labels...).Inc()
		RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

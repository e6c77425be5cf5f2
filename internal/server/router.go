// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskboard-auth/backend/internal/audit"
	devotphandler "taskboard-auth/backend/internal/devotp/handler"
	"taskboard-auth/backend/internal/guard"
	healthhandler "taskboard-auth/backend/internal/health/handler"
	identityhandler "taskboard-auth/backend/internal/identity/handler"
	"taskboard-auth/backend/internal/metrics"
	mfahandler "taskboard-auth/backend/internal/mfa/handler"
	"taskboard-auth/backend/internal/ratelimit"
	sessionhandler "taskboard-auth/backend/internal/session/handler"
)

// Step-up actions passed to the policy.
const (
	ActionDeleteSession  = "sessions.delete"
	ActionClearSessions  = "sessions.clear"
	ActionSetMaxSessions = "sessions.set_max"
)

// HTTPDeps holds the HTTP router dependencies.
type HTTPDeps struct {
	Logger    *slog.Logger
	Guard     *guard.Guard
	Users     *identityhandler.Handler
	Sessions  *sessionhandler.Handler
	TwoFactor *mfahandler.Handler
	Health    *healthhandler.Handler
	// StepUp returns the step-up middleware for an action.
	StepUp func(action string) func(http.Handler) http.Handler
	// RateLimiter throttles register, login and forgot-password. Nil disables throttling.
	RateLimiter ratelimit.Limiter
	// DevOTP is mounted at /v1/dev/reset-otp when non-nil. Never set in production.
	DevOTP *devotphandler.Handler
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
	// FederationKey enables POST /v1/users/federated for the OAuth proxy. Empty leaves it unmounted.
	FederationKey string
}

// NewRouter returns the HTTP handler for the /v1 API and the probes.
func NewRouter(deps HTTPDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(clientIP)
	r.Use(requestLogger(logger))

	r.Get("/healthz", deps.Health.Live)
	r.Get("/readyz", deps.Health.Ready)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	limit := func(route string) func(http.Handler) http.Handler {
		if deps.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return ratelimit.Middleware(deps.RateLimiter, route, logger)
	}
	stepUp := deps.StepUp
	if stepUp == nil {
		stepUp = func(string) func(http.Handler) http.Handler {
			return func(next http.Handler) http.Handler { return next }
		}
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.With(limit("register")).Post("/register", deps.Users.Register)
			r.Put("/verify", deps.Users.VerifyAccount)
			r.With(limit("login")).Post("/login", deps.Users.Login)
			r.Get("/refresh-token", deps.Users.RefreshToken)
			r.With(limit("forgot-password")).Post("/forgot-password", deps.Users.ForgotPassword)
			r.Put("/reset-password", deps.Users.ResetPassword)
			if deps.FederationKey != "" {
				r.With(limit("login"), identityhandler.RequireFederationKey(deps.FederationKey)).Post("/federated", deps.Users.LoginFederated)
			}

			r.Group(func(r chi.Router) {
				r.Use(deps.Guard.Middleware)
				r.Put("/logout", deps.Users.Logout)
				r.Put("/delete-account", deps.Users.DeleteAccount)
				r.Get("/get-user", deps.Users.GetUser)
				r.Put("/update", deps.Users.Update)
				r.Get("/get_2fa_qr_code", deps.TwoFactor.QRCode)
				r.Post("/setup_2fa", deps.TwoFactor.Setup)
				r.Put("/verify_2fa", deps.TwoFactor.Verify)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(deps.Guard.Middleware)
			r.Get("/", deps.Sessions.List)
			r.With(stepUp(ActionClearSessions)).Put("/clear", deps.Sessions.Clear)
			r.With(stepUp(ActionSetMaxSessions)).Put("/set-max-sessions", deps.Sessions.SetMaxSessions)
			r.With(stepUp(ActionDeleteSession)).Delete("/{id}", deps.Sessions.Delete)
		})

		if deps.DevOTP != nil {
			r.Get("/dev/reset-otp", deps.DevOTP.GetResetOTP)
		}
	})
	return r
}

// clientIP stores the caller's IP for audit entries. RealIP has already rewritten RemoteAddr.
func clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(audit.WithClientIP(r.Context(), ip)))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

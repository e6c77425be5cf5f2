// Package handler exposes the step-up policy as HTTP middleware.
package handler

import (
	"context"
	"net/http"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/guard"
	"taskboard-auth/backend/internal/policy/engine"
	"taskboard-auth/backend/internal/server/httpx"
	sessiondomain "taskboard-auth/backend/internal/session/domain"
	userdomain "taskboard-auth/backend/internal/user/domain"
)

// UserGetter loads the caller's account.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// SessionGetter loads the caller's session.
type SessionGetter interface {
	Get(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
}

// RequireTwoFactor returns middleware that lets the request through only when the step-up
// policy allows action for the caller's session. It must run after the guard middleware.
func RequireTwoFactor(eval engine.Evaluator, users UserGetter, sessions SessionGetter, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := guard.FromContext(r.Context())
			if id == nil {
				httpx.Error(w, r, apperr.New(apperr.Unauthorized, "Please log in to continue"))
				return
			}
			u, err := users.GetByID(r.Context(), id.UserID)
			if err != nil {
				httpx.Error(w, r, apperr.Wrap(apperr.Internal, "get user", err))
				return
			}
			if !u.Usable() {
				httpx.Error(w, r, apperr.New(apperr.NotFound, "Account not found"))
				return
			}
			sess, err := sessions.Get(r.Context(), id.SessionID)
			if err != nil {
				httpx.Error(w, r, err)
				return
			}
			res, err := eval.EvaluateStepUp(r.Context(), u, sess, action)
			if err != nil {
				httpx.Error(w, r, apperr.Wrap(apperr.Internal, "evaluate step-up policy", err))
				return
			}
			if !res.Allow {
				httpx.ErrorCode(w, r, http.StatusForbidden, res.Reason, "Two-factor verification required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package engine

import (
	"context"

	sessiondomain "taskboard-auth/backend/internal/session/domain"
	userdomain "taskboard-auth/backend/internal/user/domain"
)

// StepUpResult is the outcome of a step-up evaluation.
type StepUpResult struct {
	Allow bool
	// Reason is set when Allow is false.
	Reason string
}

// Evaluator decides whether a session may perform a sensitive action.
type Evaluator interface {
	// EvaluateStepUp reports whether sess, owned by user, may perform action without a
	// further two-factor check.
	EvaluateStepUp(ctx context.Context, user *userdomain.User, sess *sessiondomain.Session, action string) (StepUpResult, error)
}

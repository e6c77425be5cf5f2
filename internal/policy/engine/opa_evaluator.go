package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/open-policy-agent/opa/v1/rego"

	sessiondomain "taskboard-auth/backend/internal/session/domain"
	userdomain "taskboard-auth/backend/internal/user/domain"
)

const stepUpQuery = "data.taskboard.step_up.allow"

// ReasonTwoFactorRequired is the denial reason when the session has not passed 2FA.
const ReasonTwoFactorRequired = "TWO_FACTOR_REQUIRED"

// DefaultStepUpPolicy allows an action when the user does not require 2FA or the session
// has been verified with a TOTP code.
const DefaultStepUpPolicy = `package taskboard.step_up

default allow := false

allow if {
	not input.user.require_2fa
}

allow if {
	input.session.is_2fa_verified
}
`

// OPAEvaluator evaluates the step-up policy with an in-process OPA Rego engine.
// The policy is compiled once at construction.
type OPAEvaluator struct {
	query  rego.PreparedEvalQuery
	logger *slog.Logger
}

// NewOPAEvaluator compiles policy; an empty policy uses DefaultStepUpPolicy.
// The policy must define data.taskboard.step_up.allow.
func NewOPAEvaluator(ctx context.Context, policy string, logger *slog.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultStepUpPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	q, err := rego.New(
		rego.Query(stepUpQuery),
		rego.Module("step_up.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile step-up policy: %w", err)
	}
	return &OPAEvaluator{query: q, logger: logger}, nil
}

// HealthCheck evaluates the compiled policy against a minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, buildInput(&userdomain.User{}, &sessiondomain.Session{}, "health"))
	return err
}

// EvaluateStepUp evaluates the policy. If evaluation fails the built-in rule is applied:
// allow unless the user requires 2FA and the session is unverified.
func (e *OPAEvaluator) EvaluateStepUp(ctx context.Context, user *userdomain.User, sess *sessiondomain.Session, action string) (StepUpResult, error) {
	if user == nil || sess == nil {
		return StepUpResult{}, errors.New("step-up: user and session are required")
	}
	allow, err := e.eval(ctx, buildInput(user, sess, action))
	if err != nil {
		e.logger.Warn("policy: step-up evaluation failed, using defaults", "error", err)
		allow = !user.Require2FA || sess.TwoFactorVerified
	}
	if !allow {
		return StepUpResult{Allow: false, Reason: ReasonTwoFactorRequired}, nil
	}
	return StepUpResult{Allow: true}, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, input map[string]interface{}) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval step-up policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, errors.New("step-up policy returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("step-up policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}

func buildInput(user *userdomain.User, sess *sessiondomain.Session, action string) map[string]interface{} {
	session := map[string]interface{}{
		"id":              sess.ID,
		"is_2fa_verified": sess.TwoFactorVerified,
		"state":           string(sess.State(user.Require2FA)),
		"browser":         "",
		"os":              "",
	}
	if sess.Device != nil {
		session["browser"] = sess.Device.Browser
		session["os"] = sess.Device.OS
	}
	return map[string]interface{}{
		"action": action,
		"user": map[string]interface{}{
			"id":           user.ID,
			"require_2fa":  user.Require2FA,
			"max_sessions": user.MaxSessions,
		},
		"session": session,
	}
}

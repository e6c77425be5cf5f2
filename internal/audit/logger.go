package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskboard-auth/backend/internal/audit/domain"
	auditrepo "taskboard-auth/backend/internal/audit/repository"
)

// Actions recorded by the session and credential services.
const (
	ActionRegister        = "register"
	ActionVerifyAccount   = "verify_account"
	ActionLogin           = "login"
	ActionLoginFailure    = "login_failure"
	ActionLoginFederated  = "login_federated"
	ActionLogout          = "logout"
	ActionSessionRevoked  = "session_revoked"
	ActionSetMaxSessions  = "set_max_sessions"
	ActionTwoFactorToggle = "2fa_toggle"
	ActionTwoFactorVerify = "2fa_verify"
	ActionPasswordForgot  = "password_forgot"
	ActionPasswordReset   = "password_reset"
	ActionPasswordChange  = "password_change"
	ActionAccountDelete   = "account_delete"
)

// Resources.
const (
	ResourceUser    = "user"
	ResourceSession = "session"
)

type ipKey struct{}

// WithClientIP returns ctx carrying the caller's IP for audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

// ClientIP returns the IP stored by WithClientIP, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ipKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are
// logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, sessionID, action, resource string, metadata map[string]any)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo   auditrepo.Repository
	logger *slog.Logger
}

// NewLogger returns a Logger that persists to repo. logger may be nil; then slog.Default is used.
func NewLogger(repo auditrepo.Repository, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{repo: repo, logger: logger}
}

// LogEvent writes one audit log entry. The write is detached from ctx cancellation so
// an aborted request still leaves its trail.
func (l *Logger) LogEvent(ctx context.Context, userID, sessionID, action, resource string, metadata map[string]any) {
	if l == nil || l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Action:    action,
		Resource:  resource,
		IP:        ClientIP(ctx),
		CreatedAt: time.Now().UTC(),
	}
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			entry.Metadata = string(b)
		}
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := l.repo.Create(writeCtx, entry); err != nil {
		l.logger.Warn("audit: failed to log event", "action", action, "resource", resource, "error", err)
	}
}

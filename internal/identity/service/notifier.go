package service

import (
	"context"
	"log/slog"

	userdomain "taskboard-auth/backend/internal/user/domain"
)

// Notifier delivers out-of-band secrets to the account owner.
type Notifier interface {
	SendVerification(ctx context.Context, u *userdomain.User, token string) error
	SendResetCode(ctx context.Context, u *userdomain.User, code string) error
}

// LogNotifier writes deliveries to the log. Secrets are logged at debug level only.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendVerification(ctx context.Context, u *userdomain.User, token string) error {
	n.logger.InfoContext(ctx, "notify: verification issued", "user_id", u.ID)
	n.logger.DebugContext(ctx, "notify: verification token", "email", u.Email, "token", token)
	return nil
}

func (n *LogNotifier) SendResetCode(ctx context.Context, u *userdomain.User, code string) error {
	n.logger.InfoContext(ctx, "notify: reset code issued", "user_id", u.ID)
	n.logger.DebugContext(ctx, "notify: reset code", "email", u.Email, "code", code)
	return nil
}

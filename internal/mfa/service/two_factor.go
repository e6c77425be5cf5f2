// Package service implements the two-factor gate: TOTP provisioning, toggling the
// per-user requirement and verifying the current session.
package service

import (
	"context"
	"log/slog"
	"time"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/audit"
	"taskboard-auth/backend/internal/mfa"
	"taskboard-auth/backend/internal/mfa/domain"
	"taskboard-auth/backend/internal/mfa/repository"
	sessiondomain "taskboard-auth/backend/internal/session/domain"
	sessionservice "taskboard-auth/backend/internal/session/service"
	"taskboard-auth/backend/internal/telemetry"
	userdomain "taskboard-auth/backend/internal/user/domain"
)

// UserStore is the subset of the user repository the gate needs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	SetRequire2FA(ctx context.Context, userID string, require bool) error
}

// Sessions is the subset of the session manager the gate needs.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
	MarkVerified(ctx context.Context, userID, sessionID string) error
	Clear(ctx context.Context, userID, keepID, reason string) ([]string, error)
}

// TwoFactorService provisions TOTP secrets and gates sessions on them.
type TwoFactorService struct {
	users    UserStore
	secrets  repository.Repository
	sessions Sessions
	totp     *mfa.TOTP
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	timeout  time.Duration
	now      func() time.Time
}

// NewTwoFactorService returns a TwoFactorService. auditLogger and events may be nil.
func NewTwoFactorService(users UserStore, secrets repository.Repository, sessions Sessions, totp *mfa.TOTP, auditLogger audit.AuditLogger, events telemetry.EventEmitter, storeTimeout time.Duration) *TwoFactorService {
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &TwoFactorService{
		users:    users,
		secrets:  secrets,
		sessions: sessions,
		totp:     totp,
		audit:    auditLogger,
		events:   events,
		timeout:  storeTimeout,
		now:      time.Now,
	}
}

// Provision returns the user's enrolment data, creating the secret on first use. Once the
// user requires 2FA, only a session that already passed the gate may read the secret again.
func (s *TwoFactorService) Provision(ctx context.Context, userID, sessionID string) (*domain.Provisioning, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.New(apperr.Forbidden, "Account is not activated")
	}
	if u.Require2FA {
		sess, err := s.session(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.State(true) != sessiondomain.State2FAVerified {
			return nil, apperr.New(apperr.Forbidden, "Verify two-factor authentication first")
		}
	}
	account := u.Username
	if account == "" {
		account = u.Email
	}
	secret, err := s.secrets.Get(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get 2fa secret", err)
	}
	if secret == nil {
		raw, err := s.totp.NewSecret(account)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "generate 2fa secret", err)
		}
		secret, err = s.secrets.CreateIfAbsent(ctx, &domain.Secret{UserID: userID, Secret: raw, CreatedAt: s.now().UTC()})
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "store 2fa secret", err)
		}
	}
	p, err := s.totp.Provision(secret.Secret, account)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "provision 2fa", err)
	}
	return p, nil
}

// Toggle flips the user's 2FA requirement after a valid code, marks the calling session
// verified and revokes every other session of the user. Returns the new requirement.
// A wrong code changes nothing.
func (s *TwoFactorService) Toggle(ctx context.Context, userID, sessionID, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	u, err := s.check(ctx, userID, code)
	if err != nil {
		return false, err
	}
	if _, err := s.session(ctx, userID, sessionID); err != nil {
		return false, err
	}
	previous := u.Require2FA
	require := !previous
	if err := s.users.SetRequire2FA(ctx, userID, require); err != nil {
		return false, apperr.Wrap(apperr.Internal, "set require_2fa", err)
	}
	if err := s.sessions.MarkVerified(ctx, userID, sessionID); err != nil {
		s.restoreRequirement(ctx, userID, previous)
		return false, err
	}
	if _, err := s.sessions.Clear(ctx, userID, sessionID, sessionservice.ReasonTwoFactorToggle); err != nil {
		s.restoreRequirement(ctx, userID, previous)
		return false, err
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, sessionID, audit.ActionTwoFactorToggle, audit.ResourceUser, map[string]any{"require_2fa": require})
	}
	ev := telemetry.NewEvent(telemetry.EventTwoFactorToggled, userID, sessionID)
	ev.Metadata = map[string]any{"require_2fa": require}
	telemetry.EmitAsync(s.events, ctx, ev)
	return require, nil
}

// Verify marks the calling session 2FA-verified after a valid code.
func (s *TwoFactorService) Verify(ctx context.Context, userID, sessionID, code string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.check(ctx, userID, code); err != nil {
		return err
	}
	if err := s.sessions.MarkVerified(ctx, userID, sessionID); err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, sessionID, audit.ActionTwoFactorVerify, audit.ResourceSession, nil)
	}
	return nil
}

func (s *TwoFactorService) check(ctx context.Context, userID, code string) (*userdomain.User, error) {
	if code == "" {
		return nil, apperr.New(apperr.NotAcceptable, "OTP code is required")
	}
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	secret, err := s.secrets.Get(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get 2fa secret", err)
	}
	if secret == nil {
		return nil, apperr.New(apperr.NotFound, "Two-factor authentication is not set up")
	}
	if !s.totp.Validate(code, secret.Secret) {
		return nil, apperr.New(apperr.NotAcceptable, "Invalid OTP code")
	}
	return u, nil
}

// session returns the caller's session, NotFound when it is gone or belongs to someone else.
func (s *TwoFactorService) session(ctx context.Context, userID, sessionID string) (*sessiondomain.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, apperr.New(apperr.NotFound, "Session not found")
	}
	return sess, nil
}

// restoreRequirement puts require_2fa back after a toggle failed part way.
func (s *TwoFactorService) restoreRequirement(ctx context.Context, userID string, require bool) {
	if err := s.users.SetRequire2FA(ctx, userID, require); err != nil {
		slog.Default().Error("2fa: restore require_2fa failed", "user_id", userID, "require_2fa", require, "error", err)
	}
}

func (s *TwoFactorService) user(ctx context.Context, userID string) (*userdomain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get user", err)
	}
	if !u.Usable() {
		return nil, apperr.New(apperr.NotFound, "User not found")
	}
	return u, nil
}

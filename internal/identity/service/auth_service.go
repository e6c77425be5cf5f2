// Package service implements account credentials and login: registration and
// verification, password and federated login, token refresh, logout, password recovery,
// profile updates and account deletion. Session state is delegated to the session manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/audit"
	"taskboard-auth/backend/internal/devotp"
	"taskboard-auth/backend/internal/mfa"
	"taskboard-auth/backend/internal/security"
	sessiondomain "taskboard-auth/backend/internal/session/domain"
	sessionservice "taskboard-auth/backend/internal/session/service"
	"taskboard-auth/backend/internal/telemetry"
	userdomain "taskboard-auth/backend/internal/user/domain"
	userrepo "taskboard-auth/backend/internal/user/repository"
)

const (
	defaultVerifyTokenTTL = 10 * time.Minute
	defaultStoreTimeout   = 3 * time.Second
	maxDisplayNameLen     = 50
)

var tracer = otel.Tracer("taskboard-auth/backend/internal/identity/service")

var errRelogin = apperr.New(apperr.Rejected, "Please log in again")

// UserRepo is the user repository subset needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	GetByFederated(ctx context.Context, provider, subject string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	Update(ctx context.Context, u *userdomain.User) error
	LinkFederated(ctx context.Context, provider, subject, userID string) error
}

// SessionManager is the session lifecycle subset needed by the auth service.
type SessionManager interface {
	Create(ctx context.Context, user *userdomain.User, userAgent string) (*sessiondomain.Session, error)
	Get(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
	Touch(ctx context.Context, sessionID string) error
	Revoke(ctx context.Context, userID, sessionID, reason string) error
	Clear(ctx context.Context, userID, keepID, reason string) ([]string, error)
}

// LoginResult is returned by Login and LoginFederated.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             userdomain.Public
	Session          *sessiondomain.Session
}

// RefreshResult carries the new access token. Refresh tokens are not rotated.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
}

// CurrentUser is the caller's redacted profile plus the state of the calling session.
type CurrentUser struct {
	userdomain.Public
	TwoFactorVerified bool      `json:"is_2fa_verified"`
	LastLogin         time.Time `json:"last_login"`
}

// FederatedIdentity is an identity already verified by an external provider.
type FederatedIdentity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}

// AuthService implements the credential operations.
type AuthService struct {
	users          UserRepo
	sessions       SessionManager
	hasher         *security.Hasher
	tokens         *security.TokenProvider
	notifier       Notifier
	audit          audit.AuditLogger
	events         telemetry.EventEmitter
	devOTP         devotp.Store
	logger         *slog.Logger
	verifyTokenTTL time.Duration
	timeout        time.Duration
	now            func() time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithAudit records security events.
func WithAudit(a audit.AuditLogger) Option { return func(s *AuthService) { s.audit = a } }

// WithEvents emits refresh events.
func WithEvents(e telemetry.EventEmitter) Option { return func(s *AuthService) { s.events = e } }

// WithDevOTPStore keeps plain reset codes readable for local development.
func WithDevOTPStore(store devotp.Store) Option { return func(s *AuthService) { s.devOTP = store } }

// WithStoreTimeout bounds the storage round trips of each operation.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *AuthService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *AuthService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAuthService returns an AuthService. notifier may be nil to log deliveries only.
func NewAuthService(users UserRepo, sessions SessionManager, hasher *security.Hasher, tokens *security.TokenProvider, notifier Notifier, opts ...Option) *AuthService {
	s := &AuthService{
		users:          users,
		sessions:       sessions,
		hasher:         hasher,
		tokens:         tokens,
		notifier:       notifier,
		logger:         slog.Default(),
		verifyTokenTTL: defaultVerifyTokenTTL,
		timeout:        defaultStoreTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

func (s *AuthService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *AuthService) logAudit(ctx context.Context, userID, sessionID, action, resource string, metadata map[string]any) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, sessionID, action, resource, metadata)
	}
}

// Register creates an inactive account and sends its verification token.
func (s *AuthService) Register(ctx context.Context, email, password string) (*userdomain.Public, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	email = userdomain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get user", err)
	}
	if existing != nil {
		return nil, apperr.New(apperr.Conflict, "Email already exists")
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "hash password", err)
	}

	now := s.now().UTC()
	token := uuid.New().String()
	expires := now.Add(s.verifyTokenTTL)
	local := localPart(email)
	u := &userdomain.User{
		ID:                   uuid.New().String(),
		Email:                email,
		PasswordHash:         hashed,
		Username:             generateUsername(local),
		DisplayName:          local,
		MaxSessions:          userdomain.DefaultMaxSessions,
		VerifyTokenHash:      security.HashOpaqueToken(token),
		VerifyTokenExpiresAt: &expires,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := u.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.Rejected, err.Error(), err)
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return nil, apperr.New(apperr.Conflict, "Email already exists")
		}
		return nil, apperr.Wrap(apperr.Internal, "create user", err)
	}
	if err := s.notifier.SendVerification(ctx, u, token); err != nil {
		s.logger.Warn("auth: verification delivery failed", "user_id", u.ID, "error", err)
	}
	s.logAudit(ctx, u.ID, "", audit.ActionRegister, audit.ResourceUser, nil)
	pub := u.Public()
	return &pub, nil
}

// VerifyAccount activates the account when token matches and has not expired.
func (s *AuthService) VerifyAccount(ctx context.Context, email, token string) (*userdomain.Public, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u.IsActive {
		return nil, apperr.New(apperr.NotAcceptable, "Account already verified")
	}
	if u.VerifyTokenExpiresAt == nil || !u.VerifyTokenExpiresAt.After(s.now()) {
		return nil, apperr.New(apperr.NotAcceptable, "Verification token expired. Please request a new one!")
	}
	if !security.OpaqueTokenMatches(token, u.VerifyTokenHash) {
		return nil, apperr.New(apperr.NotAcceptable, "Invalid verification token")
	}
	u.IsActive = true
	u.VerifyTokenHash = ""
	u.VerifyTokenExpiresAt = nil
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "activate user", err)
	}
	s.logAudit(ctx, u.ID, "", audit.ActionVerifyAccount, audit.ResourceUser, nil)
	pub := u.Public()
	return &pub, nil
}

// Login authenticates with email and password and opens a session for the device.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.New(apperr.Forbidden, "Your account is not verified")
	}
	if err := s.hasher.Compare(u.PasswordHash, []byte(password)); err != nil {
		s.logAudit(ctx, u.ID, "", audit.ActionLoginFailure, audit.ResourceUser, nil)
		return nil, apperr.New(apperr.Rejected, "Your password is incorrect")
	}
	res, err := s.openSession(ctx, u, userAgent)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, u.ID, res.Session.ID, audit.ActionLogin, audit.ResourceSession, nil)
	return res, nil
}

// LoginFederated signs in a provider-verified identity, creating an active password-less
// account on first use. An existing account with the same email is linked.
func (s *AuthService) LoginFederated(ctx context.Context, ident FederatedIdentity, userAgent string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.LoginFederated")
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ident.Email = userdomain.NormalizeEmail(ident.Email)
	if ident.Provider == "" || ident.Subject == "" || ident.Email == "" {
		return nil, apperr.New(apperr.Rejected, "Incomplete federated identity")
	}
	u, err := s.users.GetByFederated(ctx, ident.Provider, ident.Subject)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get federated user", err)
	}
	if u == nil {
		if u, err = s.users.GetByEmail(ctx, ident.Email); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "get user", err)
		}
	}
	now := s.now().UTC()
	switch {
	case u == nil:
		displayName := strings.TrimSpace(ident.DisplayName)
		if displayName == "" {
			displayName = localPart(ident.Email)
		}
		u = &userdomain.User{
			ID:          uuid.New().String(),
			Email:       ident.Email,
			Username:    generateUsername(localPart(ident.Email)),
			DisplayName: displayName,
			IsActive:    true,
			MaxSessions: userdomain.DefaultMaxSessions,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "create user", err)
		}
	case !u.Usable():
		return nil, apperr.New(apperr.NotFound, "Account not found")
	case !u.IsActive:
		// the provider has verified the email
		u.IsActive = true
		u.VerifyTokenHash = ""
		u.VerifyTokenExpiresAt = nil
		u.UpdatedAt = now
		if err := s.users.Update(ctx, u); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "activate user", err)
		}
	}
	if err := s.users.LinkFederated(ctx, ident.Provider, ident.Subject, u.ID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "link identity", err)
	}
	res, err := s.openSession(ctx, u, userAgent)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, u.ID, res.Session.ID, audit.ActionLoginFederated, audit.ResourceSession, map[string]any{"provider": ident.Provider})
	return res, nil
}

func (s *AuthService) openSession(ctx context.Context, u *userdomain.User, userAgent string) (*LoginResult, error) {
	sess, err := s.sessions.Create(ctx, u, userAgent)
	if err != nil {
		return nil, err
	}
	access, accessExp, err := s.tokens.IssueAccess(u.ID, u.Email, sess.ID)
	if err != nil {
		s.abandon(ctx, u.ID, sess.ID)
		return nil, apperr.Wrap(apperr.Internal, "issue access token", err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(u.ID, u.Email, sess.ID)
	if err != nil {
		s.abandon(ctx, u.ID, sess.ID)
		return nil, apperr.Wrap(apperr.Internal, "issue refresh token", err)
	}
	return &LoginResult{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		User:             u.Public(),
		Session:          sess,
	}, nil
}

func (s *AuthService) abandon(ctx context.Context, userID, sessionID string) {
	if err := s.sessions.Revoke(ctx, userID, sessionID, sessionservice.ReasonLogout); err != nil {
		s.logger.Warn("auth: abandon session", "session_id", sessionID, "error", err)
	}
}

// Refresh mints a new access token for a live session. Every failure asks the client to
// log in again, including a refresh token that has not expired but whose session was revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Refresh")
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	claims, err := s.tokens.Verify(security.KindRefresh, refreshToken)
	if err != nil {
		return nil, errRelogin
	}
	if err := s.sessions.Touch(ctx, claims.SessionID); err != nil {
		return nil, err
	}
	access, exp, err := s.tokens.IssueAccess(claims.UserID(), claims.Email, claims.SessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "issue access token", err)
	}
	telemetry.EmitAsync(s.events, ctx, telemetry.NewEvent(telemetry.EventSessionRefreshed, claims.UserID(), claims.SessionID))
	return &RefreshResult{AccessToken: access, AccessExpiresAt: exp}, nil
}

// Logout ends the calling session.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.sessions.Revoke(ctx, userID, sessionID, sessionservice.ReasonLogout); err != nil {
		return err
	}
	s.logAudit(ctx, userID, sessionID, audit.ActionLogout, audit.ResourceSession, nil)
	return nil
}

// ForgotPassword issues a reset code, at most one per ResetResendInterval. It also drops
// the 2FA requirement so a user who lost their authenticator can get back in.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if wait := mfa.ResendWait(u.ResetOTPSentAt, now); wait > 0 {
		return apperr.New(apperr.NotAcceptable, fmt.Sprintf("Please wait %d seconds to request again!", int(math.Ceil(wait.Seconds()))))
	}
	code, err := mfa.GenerateResetCode()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "generate reset code", err)
	}
	expires := now.Add(mfa.ResetCodeTTL)
	u.ResetOTPHash = mfa.HashResetCode(code)
	u.ResetOTPExpiresAt = &expires
	u.ResetOTPSentAt = &now
	u.Require2FA = false
	u.UpdatedAt = now
	if err := s.users.Update(ctx, u); err != nil {
		return apperr.Wrap(apperr.Internal, "store reset code", err)
	}
	if s.devOTP != nil {
		s.devOTP.Put(ctx, u.Email, code, expires)
	}
	if err := s.notifier.SendResetCode(ctx, u, code); err != nil {
		s.logger.Warn("auth: reset code delivery failed", "user_id", u.ID, "error", err)
	}
	s.logAudit(ctx, u.ID, "", audit.ActionPasswordForgot, audit.ResourceUser, nil)
	return nil
}

// ResetPassword sets a new password with a valid reset code and ends every session.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if u.ResetOTPExpiresAt == nil || !u.ResetOTPExpiresAt.After(s.now()) {
		return apperr.New(apperr.NotAcceptable, "OTP code expired. Please request a new one!")
	}
	if !mfa.ResetCodeMatches(code, u.ResetOTPHash) {
		return apperr.New(apperr.NotAcceptable, "Invalid OTP code")
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "hash password", err)
	}
	u.PasswordHash = hashed
	u.ResetOTPHash = ""
	u.ResetOTPExpiresAt = nil
	u.ResetOTPSentAt = nil
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return apperr.Wrap(apperr.Internal, "update password", err)
	}
	if s.devOTP != nil {
		s.devOTP.Delete(ctx, u.Email)
	}
	if _, err := s.sessions.Clear(ctx, u.ID, "", sessionservice.ReasonPasswordReset); err != nil {
		return err
	}
	s.logAudit(ctx, u.ID, "", audit.ActionPasswordReset, audit.ResourceUser, nil)
	return nil
}

// DeleteAccount soft-deletes the account and ends every session.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u, err := s.userByID(ctx, userID)
	if err != nil {
		return err
	}
	u.IsActive = false
	u.Destroyed = true
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return apperr.Wrap(apperr.Internal, "delete account", err)
	}
	if _, err := s.sessions.Clear(ctx, u.ID, "", sessionservice.ReasonAccountDeleted); err != nil {
		return err
	}
	s.logAudit(ctx, u.ID, "", audit.ActionAccountDelete, audit.ResourceUser, nil)
	return nil
}

// GetCurrentUser returns the caller's profile with the calling session's 2FA state.
func (s *AuthService) GetCurrentUser(ctx context.Context, userID, sessionID string) (*CurrentUser, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u, err := s.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &CurrentUser{
		Public:            u.Public(),
		TwoFactorVerified: sess.TwoFactorVerified,
		LastLogin:         sess.LastLogin,
	}, nil
}

func (s *AuthService) userByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	u, err := s.users.GetByEmail(ctx, userdomain.NormalizeEmail(email))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get user", err)
	}
	if !u.Usable() {
		return nil, apperr.New(apperr.NotFound, "Account not found")
	}
	return u, nil
}

func (s *AuthService) userByID(ctx context.Context, id string) (*userdomain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get user", err)
	}
	if !u.Usable() {
		return nil, apperr.New(apperr.NotFound, "Account not found")
	}
	return u, nil
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return apperr.New(apperr.Rejected, "Email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperr.New(apperr.Rejected, "Invalid email format")
	}
	return nil
}

// validatePassword requires at least 8 characters with one letter and one digit.
func validatePassword(password string) error {
	if len(password) < 8 {
		return apperr.New(apperr.Rejected, "Password must be at least 8 characters")
	}
	if len(password) > 72 {
		return apperr.New(apperr.Rejected, "Password must be at most 72 bytes")
	}
	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasNumber = true
		}
	}
	if !hasLetter || !hasNumber {
		return apperr.New(apperr.Rejected, "Password must contain at least one letter and one number")
	}
	return nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// generateUsername is the lower-cased email local part plus four random characters.
func generateUsername(local string) string {
	return strings.ToLower(local) + uuid.New().String()[:4]
}

// Package service implements the session lifecycle: creation with bounded concurrency,
// listing, revocation and the 2FA verified flag. Every mutation keeps the Postgres
// session store and the Redis revocation cache in step.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/audit"
	"taskboard-auth/backend/internal/device"
	"taskboard-auth/backend/internal/metrics"
	"taskboard-auth/backend/internal/session/domain"
	"taskboard-auth/backend/internal/session/repository"
	"taskboard-auth/backend/internal/session/revocation"
	"taskboard-auth/backend/internal/telemetry"
	userdomain "taskboard-auth/backend/internal/user/domain"
)

// Reasons recorded when sessions are revoked.
const (
	ReasonLogout          = "logout"
	ReasonEvicted         = "evicted"
	ReasonDeleted         = "deleted"
	ReasonCleared         = "cleared"
	ReasonLimitLowered    = "max_sessions_lowered"
	ReasonPasswordChanged = "password_changed"
	ReasonPasswordReset   = "password_reset"
	ReasonAccountDeleted  = "account_deleted"
	ReasonTwoFactorToggle = "2fa_toggled"
	ReasonAdmin           = "admin"
)

const defaultStoreTimeout = 3 * time.Second

var tracer = otel.Tracer("taskboard-auth/backend/internal/session/service")

// UserStore is the subset of the user repository the manager needs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	SetMaxSessions(ctx context.Context, userID string, n int) error
}

// Manager owns every session state transition.
type Manager struct {
	sessions repository.Repository
	users    UserStore
	cache    revocation.Cache
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithAudit records session revocations and limit changes. a may be nil.
func WithAudit(a audit.AuditLogger) Option { return func(m *Manager) { m.audit = a } }

// WithEvents emits session lifecycle events asynchronously. e may be nil.
func WithEvents(e telemetry.EventEmitter) Option { return func(m *Manager) { m.events = e } }

// WithStoreTimeout bounds each operation's storage round trips. Non-positive values keep the default.
func WithStoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a Manager over the session store, user store and revocation cache.
func NewManager(sessions repository.Repository, users UserStore, cache revocation.Cache, opts ...Option) *Manager {
	m := &Manager{
		sessions: sessions,
		users:    users,
		cache:    cache,
		logger:   slog.Default(),
		timeout:  defaultStoreTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) storeCtx(ctx context.Context, op string) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, "session."+op)
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	return ctx, func() {
		cancel()
		span.End()
	}
}

// Create opens a session for user on the device described by userAgent. When the user is
// at its limit, the least recently active sessions are evicted first so that exactly
// max_sessions remain after the insert.
//
// Count, evict and insert are separate round trips: two logins racing at the limit can
// leave the user one session over until the next login or limit change.
func (m *Manager) Create(ctx context.Context, user *userdomain.User, userAgent string) (*domain.Session, error) {
	ctx, done := m.storeCtx(ctx, "Create")
	defer done()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", user.ID))

	limit := user.MaxSessions
	if !userdomain.ValidMaxSessions(limit) {
		limit = userdomain.DefaultMaxSessions
	}
	count, err := m.sessions.CountByUser(ctx, user.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "count sessions", err)
	}
	if count >= limit {
		existing, err := m.sessions.ListByUser(ctx, user.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "list sessions", err)
		}
		if len(existing) >= limit {
			if _, err := m.revoke(ctx, user.ID, ids(existing[limit-1:]), ReasonEvicted); err != nil {
				return nil, err
			}
		}
	}

	now := m.now().UTC()
	info := device.Parse(userAgent)
	s := &domain.Session{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		Device:     &info,
		LastLogin:  now,
		LastActive: now,
		CreatedAt:  now,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create session", err)
	}
	if err := m.cache.MarkActive(ctx, s.ID); err != nil {
		if _, delErr := m.sessions.Delete(ctx, s.ID); delErr != nil {
			m.logger.Warn("session: rollback after cache failure", "session_id", s.ID, "error", delErr)
		}
		return nil, apperr.Wrap(apperr.Internal, "activate session", err)
	}
	metrics.SessionsCreated.Inc()
	telemetry.EmitAsync(m.events, ctx, telemetry.NewEvent(telemetry.EventSessionCreated, user.ID, s.ID))
	return s, nil
}

// Get returns the session or NotFound.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	ctx, done := m.storeCtx(ctx, "Get")
	defer done()
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get session", err)
	}
	if s == nil {
		return nil, apperr.New(apperr.NotFound, "Session not found")
	}
	return s, nil
}

// Touch is the refresh-time liveness check: the session must be active in the cache and
// still stored. Its last_active is bumped; the cache entry's TTL is not.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	ctx, done := m.storeCtx(ctx, "Touch")
	defer done()
	active, err := m.cache.IsActive(ctx, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "check session", err)
	}
	if !active {
		return apperr.New(apperr.Rejected, "Please log in again")
	}
	found, err := m.sessions.Touch(ctx, sessionID, m.now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.Internal, "touch session", err)
	}
	if !found {
		return apperr.New(apperr.Rejected, "Please log in again")
	}
	return nil
}

// Revoke ends one session. Revoking a session that is already gone is not an error.
func (m *Manager) Revoke(ctx context.Context, userID, sessionID, reason string) error {
	ctx, done := m.storeCtx(ctx, "Revoke")
	defer done()
	if err := m.cache.Revoke(ctx, sessionID); err != nil {
		return apperr.Wrap(apperr.Internal, "revoke session", err)
	}
	if _, err := m.sessions.Delete(ctx, sessionID); err != nil {
		return apperr.Wrap(apperr.Internal, "delete session", err)
	}
	metrics.SessionsRevoked.WithLabelValues(reason).Inc()
	ev := telemetry.NewEvent(telemetry.EventSessionRevoked, userID, sessionID)
	ev.Reason = reason
	telemetry.EmitAsync(m.events, ctx, ev)
	return nil
}

// List returns the user's sessions, most recently active first, flagging currentID.
func (m *Manager) List(ctx context.Context, userID, currentID string) ([]domain.View, error) {
	ctx, done := m.storeCtx(ctx, "List")
	defer done()
	if _, err := m.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	list, err := m.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list sessions", err)
	}
	return views(list, currentID), nil
}

// Delete removes one of the user's sessions. Deleting the caller's own session removes
// nothing and reports deletedSelf so the client can log out instead.
func (m *Manager) Delete(ctx context.Context, userID, sessionID, currentID string) (deletedSelf bool, err error) {
	ctx, done := m.storeCtx(ctx, "Delete")
	defer done()
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "get session", err)
	}
	if s == nil {
		return false, apperr.New(apperr.NotFound, "Session not found")
	}
	if s.UserID != userID {
		return false, apperr.New(apperr.Forbidden, "You do not own this session")
	}
	if sessionID == currentID {
		return true, nil
	}
	if _, err := m.revoke(ctx, userID, []string{sessionID}, ReasonDeleted); err != nil {
		return false, err
	}
	return false, nil
}

// Clear revokes every session of the user except keepID. An empty keepID clears all.
// Returns the IDs this call removed; sessions already gone are left out.
func (m *Manager) Clear(ctx context.Context, userID, keepID, reason string) ([]string, error) {
	ctx, done := m.storeCtx(ctx, "Clear")
	defer done()
	list, err := m.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list sessions", err)
	}
	victims := make([]string, 0, len(list))
	for _, s := range list {
		if s.ID != keepID {
			victims = append(victims, s.ID)
		}
	}
	return m.revoke(ctx, userID, victims, reason)
}

// SetMaxSessions persists a new limit and evicts the least recently active sessions until
// at most n remain. Returns the remaining sessions.
func (m *Manager) SetMaxSessions(ctx context.Context, userID string, n int, currentID string) ([]domain.View, error) {
	if !userdomain.ValidMaxSessions(n) {
		return nil, apperr.New(apperr.Rejected, "Max sessions must be between 1 and 10")
	}
	ctx, done := m.storeCtx(ctx, "SetMaxSessions")
	defer done()
	if _, err := m.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := m.users.SetMaxSessions(ctx, userID, n); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "set max sessions", err)
	}
	list, err := m.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list sessions", err)
	}
	if len(list) > n {
		if _, err := m.revoke(ctx, userID, ids(list[n:]), ReasonLimitLowered); err != nil {
			return nil, err
		}
		list = list[:n]
	}
	if m.audit != nil {
		m.audit.LogEvent(ctx, userID, currentID, audit.ActionSetMaxSessions, audit.ResourceUser, map[string]any{"max_sessions": n})
	}
	ev := telemetry.NewEvent(telemetry.EventMaxSessionsChanged, userID, currentID)
	ev.Metadata = map[string]any{"max_sessions": n}
	telemetry.EmitAsync(m.events, ctx, ev)
	return views(list, currentID), nil
}

// MarkVerified upgrades the user's session to 2FA-verified and bumps its last_login.
func (m *Manager) MarkVerified(ctx context.Context, userID, sessionID string) error {
	ctx, done := m.storeCtx(ctx, "MarkVerified")
	defer done()
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "get session", err)
	}
	if s == nil || s.UserID != userID {
		return apperr.New(apperr.NotFound, "Session not found")
	}
	found, err := m.sessions.MarkTwoFactorVerified(ctx, sessionID, m.now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.Internal, "verify session", err)
	}
	if !found {
		return apperr.New(apperr.NotFound, "Session not found")
	}
	telemetry.EmitAsync(m.events, ctx, telemetry.NewEvent(telemetry.EventSessionVerified, userID, sessionID))
	return nil
}

// revoke marks ids revoked in the cache, then deletes them from the store. The cache is
// written first so that a failure part way never leaves a deleted session live in the cache.
// Metrics, audit entries and events cover only the sessions the store actually removed.
func (m *Manager) revoke(ctx context.Context, userID string, sessionIDs []string, reason string) ([]string, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	if err := m.cache.Revoke(ctx, sessionIDs...); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "revoke sessions", err)
	}
	removed, err := m.sessions.DeleteMany(ctx, userID, sessionIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "delete sessions", err)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	metrics.SessionsRevoked.WithLabelValues(reason).Add(float64(len(removed)))

	eventType := telemetry.EventSessionRevoked
	if reason == ReasonEvicted || reason == ReasonLimitLowered {
		eventType = telemetry.EventSessionEvicted
	}
	for _, id := range removed {
		if m.audit != nil {
			m.audit.LogEvent(ctx, userID, id, audit.ActionSessionRevoked, audit.ResourceSession, map[string]any{"reason": reason})
		}
		ev := telemetry.NewEvent(eventType, userID, id)
		ev.Reason = reason
		telemetry.EmitAsync(m.events, ctx, ev)
	}
	return removed, nil
}

func (m *Manager) requireUser(ctx context.Context, userID string) (*userdomain.User, error) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get user", err)
	}
	if !u.Usable() {
		return nil, apperr.New(apperr.NotFound, "User not found")
	}
	return u, nil
}

func ids(list []*domain.Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func views(list []*domain.Session, currentID string) []domain.View {
	out := make([]domain.View, len(list))
	for i, s := range list {
		out[i] = s.ViewFor(currentID)
	}
	return out
}

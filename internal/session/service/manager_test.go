package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/audit"
	"taskboard-auth/backend/internal/metrics"
	"taskboard-auth/backend/internal/session/domain"
	"taskboard-auth/backend/internal/session/repository"
	"taskboard-auth/backend/internal/session/revocation"
	userdomain "taskboard-auth/backend/internal/user/domain"
	userrepo "taskboard-auth/backend/internal/user/repository"
)

const testUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogEvent(_ context.Context, _, _, action, _ string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingAudit) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, got := range a.actions {
		if got == action {
			n++
		}
	}
	return n
}

type failingCache struct {
	revocation.Cache
	revokeErr error
}

func (c failingCache) Revoke(ctx context.Context, ids ...string) error { return c.revokeErr }

type fixture struct {
	mgr      *Manager
	sessions *repository.MemoryRepository
	users    *userrepo.MemoryRepository
	cache    *revocation.RedisCache
	audit    *recordingAudit
	user     *userdomain.User
}

func newFixture(t *testing.T, maxSessions int) *fixture {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		sessions: repository.NewMemoryRepository(),
		users:    userrepo.NewMemoryRepository(),
		cache:    revocation.NewRedisCache(client, time.Hour),
		audit:    &recordingAudit{},
		user: &userdomain.User{
			ID: "u1", Email: "ada@example.com", Username: "ada", IsActive: true, MaxSessions: maxSessions,
		},
	}
	if err := f.users.Create(context.Background(), f.user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	clock := &tickingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.mgr = NewManager(f.sessions, f.users, f.cache, WithAudit(f.audit), WithClock(clock.Now))
	return f
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	s, err := f.mgr.Create(context.Background(), f.user, testUA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s.ID
}

func (f *fixture) active(t *testing.T, id string) bool {
	t.Helper()
	ok, err := f.cache.IsActive(context.Background(), id)
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	return ok
}

func TestCreate_StoresSessionAndMarksActive(t *testing.T) {
	f := newFixture(t, 2)
	s, err := f.mgr.Create(context.Background(), f.user, testUA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.TwoFactorVerified {
		t.Error("new session should not be 2FA verified")
	}
	if s.Device == nil || s.Device.Browser == "" || s.Device.UserAgent != testUA {
		t.Errorf("device = %+v", s.Device)
	}
	if !s.LastLogin.Equal(s.LastActive) {
		t.Errorf("last_login %v != last_active %v", s.LastLogin, s.LastActive)
	}
	if !f.active(t, s.ID) {
		t.Error("new session should be active in the cache")
	}
}

func TestCreate_EvictsLeastRecentAtLimit(t *testing.T) {
	f := newFixture(t, 2)
	first := f.login(t)
	second := f.login(t)
	third := f.login(t)

	n, _ := f.sessions.CountByUser(context.Background(), "u1")
	if n != 2 {
		t.Fatalf("sessions = %d, want 2", n)
	}
	if got, _ := f.sessions.GetByID(context.Background(), first); got != nil {
		t.Error("first session should be evicted")
	}
	if f.active(t, first) {
		t.Error("evicted session should be revoked in the cache")
	}
	if !f.active(t, second) || !f.active(t, third) {
		t.Error("remaining sessions should stay active")
	}
	if f.audit.count(audit.ActionSessionRevoked) != 1 {
		t.Errorf("session_revoked audits = %d, want 1", f.audit.count(audit.ActionSessionRevoked))
	}
}

func TestCreate_EvictsDownToLimitWhenOver(t *testing.T) {
	f := newFixture(t, 3)
	for i := 0; i < 3; i++ {
		f.login(t)
	}
	f.user.MaxSessions = 1
	last := f.login(t)
	list, _ := f.sessions.ListByUser(context.Background(), "u1")
	if len(list) != 1 || list[0].ID != last {
		t.Errorf("sessions = %d, want only the newest", len(list))
	}
}

func TestTouch(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	id := f.login(t)
	before, _ := f.sessions.GetByID(ctx, id)
	if err := f.mgr.Touch(ctx, id); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	after, _ := f.sessions.GetByID(ctx, id)
	if !after.LastActive.After(before.LastActive) {
		t.Error("Touch should bump last_active")
	}

	if err := f.mgr.Revoke(ctx, "u1", id, ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := f.mgr.Touch(ctx, id); !apperr.Is(err, apperr.Rejected) {
		t.Errorf("Touch after revoke: want Rejected, got %v", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	id := f.login(t)
	for i := 0; i < 2; i++ {
		if err := f.mgr.Revoke(ctx, "u1", id, ReasonLogout); err != nil {
			t.Fatalf("Revoke #%d: %v", i+1, err)
		}
	}
	if f.active(t, id) {
		t.Error("revoked session still active")
	}
}

func TestList_FlagsCurrentAndOrders(t *testing.T) {
	f := newFixture(t, 3)
	first := f.login(t)
	second := f.login(t)
	views, err := f.mgr.List(context.Background(), "u1", first)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 2 || views[0].ID != second || views[1].ID != first {
		t.Fatalf("views order = %+v", views)
	}
	if views[0].IsCurrent || !views[1].IsCurrent {
		t.Error("only the first session should be current")
	}
	if _, err := f.mgr.List(context.Background(), "ghost", ""); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("List unknown user: want NotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	current := f.login(t)
	other := f.login(t)

	if _, err := f.mgr.Delete(ctx, "u1", "missing", current); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("missing: want NotFound, got %v", err)
	}
	if _, err := f.mgr.Delete(ctx, "u2", other, ""); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("foreign: want Forbidden, got %v", err)
	}

	self, err := f.mgr.Delete(ctx, "u1", current, current)
	if err != nil || !self {
		t.Fatalf("delete current: self=%v err=%v", self, err)
	}
	if got, _ := f.sessions.GetByID(ctx, current); got == nil || !f.active(t, current) {
		t.Error("deleting the current session should leave it untouched")
	}

	self, err = f.mgr.Delete(ctx, "u1", other, current)
	if err != nil || self {
		t.Fatalf("delete other: self=%v err=%v", self, err)
	}
	if got, _ := f.sessions.GetByID(ctx, other); got != nil || f.active(t, other) {
		t.Error("other session should be deleted and revoked")
	}
}

func TestClear_KeepsCurrent(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	keep := f.login(t)
	a := f.login(t)
	b := f.login(t)

	revoked, err := f.mgr.Clear(ctx, "u1", keep, ReasonCleared)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(revoked) != 2 {
		t.Errorf("revoked = %v, want 2 ids", revoked)
	}
	for _, id := range []string{a, b} {
		if f.active(t, id) {
			t.Errorf("session %s still active", id)
		}
	}
	if !f.active(t, keep) {
		t.Error("kept session revoked")
	}

	if _, err := f.mgr.Clear(ctx, "u1", "", ReasonAccountDeleted); err != nil {
		t.Fatalf("Clear all: %v", err)
	}
	if n, _ := f.sessions.CountByUser(ctx, "u1"); n != 0 {
		t.Errorf("sessions after clear all = %d", n)
	}
}

func TestSetMaxSessions_EvictsLeastRecent(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, f.login(t))
	}
	// the oldest login becomes the most recently active
	if err := f.mgr.Touch(ctx, ids[0]); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	views, err := f.mgr.SetMaxSessions(ctx, "u1", 2, ids[0])
	if err != nil {
		t.Fatalf("SetMaxSessions: %v", err)
	}
	if len(views) != 2 || views[0].ID != ids[0] || views[1].ID != ids[3] {
		t.Fatalf("remaining = %+v", views)
	}
	for _, id := range []string{ids[1], ids[2]} {
		if f.active(t, id) {
			t.Errorf("evicted session %s still active", id)
		}
	}
	u, _ := f.users.GetByID(ctx, "u1")
	if u.MaxSessions != 2 {
		t.Errorf("MaxSessions = %d, want 2", u.MaxSessions)
	}
	if f.audit.count(audit.ActionSetMaxSessions) != 1 {
		t.Error("set_max_sessions should be audited")
	}
}

func TestSetMaxSessions_Validation(t *testing.T) {
	f := newFixture(t, 2)
	for _, n := range []int{0, 11, -1} {
		if _, err := f.mgr.SetMaxSessions(context.Background(), "u1", n, ""); !apperr.Is(err, apperr.Rejected) {
			t.Errorf("SetMaxSessions(%d): want Rejected, got %v", n, err)
		}
	}
	if _, err := f.mgr.SetMaxSessions(context.Background(), "ghost", 3, ""); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("unknown user: want NotFound, got %v", err)
	}
}

func TestMarkVerified(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	id := f.login(t)
	if err := f.mgr.MarkVerified(ctx, "u2", id); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("foreign session: want NotFound, got %v", err)
	}
	if err := f.mgr.MarkVerified(ctx, "u1", id); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	s, _ := f.sessions.GetByID(ctx, id)
	if !s.TwoFactorVerified {
		t.Error("session should be verified")
	}
}

func TestRevocationCacheFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	keep := f.login(t)
	other := f.login(t)

	mgr := NewManager(f.sessions, f.users, failingCache{Cache: f.cache, revokeErr: errors.New("redis down")})
	if _, err := mgr.Clear(ctx, "u1", keep, ReasonCleared); !apperr.Is(err, apperr.Internal) {
		t.Fatalf("Clear: want Internal, got %v", err)
	}
	if got, _ := f.sessions.GetByID(ctx, other); got == nil {
		t.Error("store should be untouched when the cache write fails")
	}
}

// staleListRepository lists a session that a concurrent logout already removed.
type staleListRepository struct {
	*repository.MemoryRepository
	ghost string
}

func (r staleListRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	list, err := r.MemoryRepository.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(list, &domain.Session{ID: r.ghost, UserID: userID}), nil
}

func TestClear_CountsOnlyRemovedSessions(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	keep := f.login(t)
	other := f.login(t)

	const reason = "clear_race"
	mgr := NewManager(staleListRepository{MemoryRepository: f.sessions, ghost: "already-gone"}, f.users, f.cache, WithAudit(f.audit))
	revoked, err := mgr.Clear(ctx, "u1", keep, reason)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(revoked) != 1 || revoked[0] != other {
		t.Errorf("revoked = %v, want [%s]", revoked, other)
	}
	if got := f.audit.count(audit.ActionSessionRevoked); got != 1 {
		t.Errorf("audit entries = %d, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsRevoked.WithLabelValues(reason)); got != 1 {
		t.Errorf("sessions revoked metric = %v, want 1", got)
	}
}

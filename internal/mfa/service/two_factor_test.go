package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/mfa"
	"taskboard-auth/backend/internal/mfa/repository"
	sessiondomain "taskboard-auth/backend/internal/session/domain"
	sessionservice "taskboard-auth/backend/internal/session/service"
	userdomain "taskboard-auth/backend/internal/user/domain"
	userrepo "taskboard-auth/backend/internal/user/repository"
)

type fakeSessions struct {
	byID      map[string]*sessiondomain.Session
	verified  []string
	cleared   []string // keepIDs passed to Clear
	reasons   []string
	verifyErr error
}

func (f *fakeSessions) Get(_ context.Context, sessionID string) (*sessiondomain.Session, error) {
	s, ok := f.byID[sessionID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "Session not found")
	}
	return s, nil
}

func (f *fakeSessions) MarkVerified(_ context.Context, _, sessionID string) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	f.verified = append(f.verified, sessionID)
	if s, ok := f.byID[sessionID]; ok {
		s.TwoFactorVerified = true
	}
	return nil
}

func (f *fakeSessions) Clear(_ context.Context, _, keepID, reason string) ([]string, error) {
	f.cleared = append(f.cleared, keepID)
	f.reasons = append(f.reasons, reason)
	return nil, nil
}

func newTestService(t *testing.T, active bool) (*TwoFactorService, *userrepo.MemoryRepository, *fakeSessions) {
	t.Helper()
	users := userrepo.NewMemoryRepository()
	if err := users.Create(context.Background(), &userdomain.User{
		ID: "u1", Email: "ada@example.com", Username: "ada", IsActive: active, MaxSessions: 2,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	sessions := &fakeSessions{byID: map[string]*sessiondomain.Session{
		"s1":    {ID: "s1", UserID: "u1"},
		"s2":    {ID: "s2", UserID: "u1"},
		"other": {ID: "other", UserID: "u2"},
	}}
	svc := NewTwoFactorService(users, repository.NewMemoryRepository(), sessions, mfa.NewTOTP("Taskboard"), nil, nil, time.Second)
	return svc, users, sessions
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	return code
}

func wrongCode(t *testing.T, secret string) string {
	t.Helper()
	now := time.Now().UTC()
	valid := map[string]bool{}
	for _, at := range []time.Time{now.Add(-30 * time.Second), now, now.Add(30 * time.Second)} {
		valid[currentCodeAt(t, secret, at)] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code candidate")
	return ""
}

func currentCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	return code
}

func TestProvision_ReusesSecret(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	first, err := svc.Provision(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	second, err := svc.Provision(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Provision again: %v", err)
	}
	if first.Secret == "" || first.Secret != second.Secret {
		t.Errorf("secret should be stable: %q vs %q", first.Secret, second.Secret)
	}
}

func TestProvision_Errors(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	if _, err := svc.Provision(context.Background(), "u1", "s1"); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("inactive user: want Forbidden, got %v", err)
	}
	if _, err := svc.Provision(context.Background(), "ghost", "s1"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("unknown user: want NotFound, got %v", err)
	}
}

func TestToggle_FlipsRequirementAndNarrowsSessions(t *testing.T) {
	svc, users, sessions := newTestService(t, true)
	ctx := context.Background()
	p, err := svc.Provision(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	require, err := svc.Toggle(ctx, "u1", "s1", currentCode(t, p.Secret))
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !require {
		t.Error("first toggle should enable 2FA")
	}
	u, _ := users.GetByID(ctx, "u1")
	if !u.Require2FA {
		t.Error("require_2fa should be persisted")
	}
	if len(sessions.verified) != 1 || sessions.verified[0] != "s1" {
		t.Errorf("verified = %v, want [s1]", sessions.verified)
	}
	if len(sessions.cleared) != 1 || sessions.cleared[0] != "s1" {
		t.Errorf("Clear keep ids = %v, want [s1]", sessions.cleared)
	}
	if sessions.reasons[0] != sessionservice.ReasonTwoFactorToggle {
		t.Errorf("Clear reason = %q, want %q", sessions.reasons[0], sessionservice.ReasonTwoFactorToggle)
	}

	require, err = svc.Toggle(ctx, "u1", "s1", currentCode(t, p.Secret))
	if err != nil || require {
		t.Errorf("second toggle: require=%v err=%v, want false", require, err)
	}
}

func TestToggle_WrongCodeChangesNothing(t *testing.T) {
	svc, users, sessions := newTestService(t, true)
	ctx := context.Background()
	p, _ := svc.Provision(ctx, "u1", "s1")

	if _, err := svc.Toggle(ctx, "u1", "s1", wrongCode(t, p.Secret)); !apperr.Is(err, apperr.NotAcceptable) {
		t.Fatalf("wrong code: want NotAcceptable, got %v", err)
	}
	u, _ := users.GetByID(ctx, "u1")
	if u.Require2FA || len(sessions.verified) != 0 || len(sessions.cleared) != 0 {
		t.Error("wrong code must not change state")
	}
	// the secret survives a failed attempt
	if _, err := svc.Toggle(ctx, "u1", "s1", currentCode(t, p.Secret)); err != nil {
		t.Errorf("valid code after failure: %v", err)
	}
}

func TestToggle_Preconditions(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	if _, err := svc.Toggle(ctx, "u1", "s1", ""); !apperr.Is(err, apperr.NotAcceptable) {
		t.Errorf("empty code: want NotAcceptable, got %v", err)
	}
	if _, err := svc.Toggle(ctx, "u1", "s1", "123456"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("no secret: want NotFound, got %v", err)
	}
}

func TestVerify_DoesNotTouchRequirement(t *testing.T) {
	svc, users, sessions := newTestService(t, true)
	ctx := context.Background()
	p, _ := svc.Provision(ctx, "u1", "s1")

	if err := svc.Verify(ctx, "u1", "s2", currentCode(t, p.Secret)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	u, _ := users.GetByID(ctx, "u1")
	if u.Require2FA {
		t.Error("Verify must not change require_2fa")
	}
	if len(sessions.verified) != 1 || sessions.verified[0] != "s2" || len(sessions.cleared) != 0 {
		t.Errorf("verified=%v cleared=%v", sessions.verified, sessions.cleared)
	}
	if err := svc.Verify(ctx, "u1", "s2", wrongCode(t, p.Secret)); !apperr.Is(err, apperr.NotAcceptable) {
		t.Errorf("wrong code: want NotAcceptable, got %v", err)
	}
}

func TestProvision_EnrolledUserNeedsVerifiedSession(t *testing.T) {
	svc, users, _ := newTestService(t, true)
	ctx := context.Background()
	p, err := svc.Provision(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if _, err := svc.Toggle(ctx, "u1", "s1", currentCode(t, p.Secret)); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if u, _ := users.GetByID(ctx, "u1"); !u.Require2FA {
		t.Fatal("require_2fa should be enabled")
	}

	// s2 logged in with the password only
	got, err := svc.Provision(ctx, "u1", "s2")
	if !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("pending session: want Forbidden, got %v", err)
	}
	if got != nil {
		t.Errorf("pending session received provisioning data: %+v", got)
	}
	if _, err := svc.Provision(ctx, "u1", "other"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("foreign session: want NotFound, got %v", err)
	}

	again, err := svc.Provision(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("verified session: %v", err)
	}
	if again.Secret != p.Secret {
		t.Error("verified session should see the enrolled secret")
	}
}

func TestToggle_RevokedSessionKeepsRequirement(t *testing.T) {
	svc, users, sessions := newTestService(t, true)
	ctx := context.Background()
	p, _ := svc.Provision(ctx, "u1", "s1")

	if _, err := svc.Toggle(ctx, "u1", "gone", currentCode(t, p.Secret)); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("missing session: want NotFound, got %v", err)
	}
	if u, _ := users.GetByID(ctx, "u1"); u.Require2FA {
		t.Error("require_2fa flipped for a missing session")
	}

	// revoked between the lookup and the upgrade
	sessions.verifyErr = apperr.New(apperr.NotFound, "Session not found")
	if _, err := svc.Toggle(ctx, "u1", "s1", currentCode(t, p.Secret)); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("revoked session: want NotFound, got %v", err)
	}
	if u, _ := users.GetByID(ctx, "u1"); u.Require2FA {
		t.Error("require_2fa should be restored when the upgrade fails")
	}
	if len(sessions.cleared) != 0 {
		t.Errorf("Clear called: %v", sessions.cleared)
	}
}

package service

import (
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/audit"
	sessionservice "taskboard-auth/backend/internal/session/service"
	userdomain "taskboard-auth/backend/internal/user/domain"
)

// UpdateIntent is one kind of account update. Exactly one is applied per call.
type UpdateIntent interface {
	isUpdateIntent()
}

// PasswordChange replaces the password after checking the current one.
type PasswordChange struct {
	Current string
	New     string
}

// PasswordSet sets a first password on an account that has none (federated sign-up).
type PasswordSet struct {
	New string
}

// ProfileEdit changes the display name.
type ProfileEdit struct {
	DisplayName string
}

// AvatarChange points the avatar at an absolute http(s) URL.
type AvatarChange struct {
	URL string
}

func (PasswordChange) isUpdateIntent() {}
func (PasswordSet) isUpdateIntent()    {}
func (ProfileEdit) isUpdateIntent()    {}
func (AvatarChange) isUpdateIntent()   {}

// Update applies intent to the caller's account. Password changes end every other
// session of the user; the calling session stays.
func (s *AuthService) Update(ctx context.Context, userID, sessionID string, intent UpdateIntent) (*userdomain.Public, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u, err := s.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.New(apperr.Forbidden, "Your account is not verified")
	}

	var passwordChanged bool
	switch in := intent.(type) {
	case PasswordChange:
		if err := s.hasher.Compare(u.PasswordHash, []byte(in.Current)); err != nil {
			return nil, apperr.New(apperr.NotAcceptable, "Your current password is incorrect")
		}
		if err := s.setPassword(u, in.New); err != nil {
			return nil, err
		}
		passwordChanged = true
	case PasswordSet:
		if u.PasswordHash != "" {
			return nil, apperr.New(apperr.Rejected, "Current password is required")
		}
		if err := s.setPassword(u, in.New); err != nil {
			return nil, err
		}
		passwordChanged = true
	case ProfileEdit:
		name := strings.TrimSpace(in.DisplayName)
		if name == "" {
			return nil, apperr.New(apperr.Rejected, "Display name is required")
		}
		if utf8.RuneCountInString(name) > maxDisplayNameLen {
			return nil, apperr.New(apperr.Rejected, "Display name is too long")
		}
		u.DisplayName = name
	case AvatarChange:
		if !validAvatarURL(in.URL) {
			return nil, apperr.New(apperr.Rejected, "Invalid avatar URL")
		}
		u.AvatarURL = in.URL
	default:
		return nil, apperr.New(apperr.Rejected, "Nothing to update")
	}

	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "update user", err)
	}
	if passwordChanged {
		if _, err := s.sessions.Clear(ctx, u.ID, sessionID, sessionservice.ReasonPasswordChanged); err != nil {
			return nil, err
		}
		s.logAudit(ctx, u.ID, sessionID, audit.ActionPasswordChange, audit.ResourceUser, nil)
	}
	pub := u.Public()
	return &pub, nil
}

func (s *AuthService) setPassword(u *userdomain.User, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "hash password", err)
	}
	u.PasswordHash = hashed
	return nil
}

func validAvatarURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

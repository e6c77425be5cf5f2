package domain

import (
	"time"

	"taskboard-auth/backend/internal/device"
)

// State is the trust level of a live session.
type State string

const (
	StateActive      State = "ACTIVE"
	State2FAPending  State = "2FA_PENDING"
	State2FAVerified State = "2FA_VERIFIED"
)

// Session is one device's login. Its ID is the only handle embedded in tokens.
type Session struct {
	ID                string
	UserID            string
	Device            *device.Info // nil when the client sent no descriptor
	TwoFactorVerified bool
	LastLogin         time.Time
	LastActive        time.Time
	CreatedAt         time.Time
}

// State reports the session's trust level given whether its user requires 2FA.
func (s *Session) State(require2FA bool) State {
	switch {
	case s.TwoFactorVerified:
		return State2FAVerified
	case require2FA:
		return State2FAPending
	default:
		return StateActive
	}
}

// View is a session as listed to its owner.
type View struct {
	ID                string       `json:"id"`
	Device            *device.Info `json:"device_info"`
	TwoFactorVerified bool         `json:"is_2fa_verified"`
	LastLogin         time.Time    `json:"last_login"`
	LastActive        time.Time    `json:"last_active"`
	IsCurrent         bool         `json:"is_current"`
}

// ViewFor returns the listing projection of s, flagging it current when its ID matches currentID.
func (s *Session) ViewFor(currentID string) View {
	return View{
		ID:                s.ID,
		Device:            s.Device,
		TwoFactorVerified: s.TwoFactorVerified,
		LastLogin:         s.LastLogin,
		LastActive:        s.LastActive,
		IsCurrent:         s.ID == currentID,
	}
}

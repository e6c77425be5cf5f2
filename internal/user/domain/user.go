package domain

import (
	"errors"
	"strings"
	"time"
)

// Default and allowed range for concurrent sessions per user.
const (
	DefaultMaxSessions = 2
	MinMaxSessions     = 1
	MaxMaxSessions     = 10
)

// User is the credential record: identity, password hash, activation and 2FA flags.
type User struct {
	ID           string
	Email        string
	PasswordHash string // empty for federated accounts
	Username     string
	DisplayName  string
	AvatarURL    string
	IsActive     bool
	Require2FA   bool
	MaxSessions  int
	Destroyed    bool

	VerifyTokenHash      string
	VerifyTokenExpiresAt *time.Time

	ResetOTPHash      string
	ResetOTPExpiresAt *time.Time
	ResetOTPSentAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidMaxSessions reports whether n is an allowed session limit.
func ValidMaxSessions(n int) bool {
	return n >= MinMaxSessions && n <= MaxMaxSessions
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Username == "" {
		return errors.New("username is required")
	}
	if u.MaxSessions == 0 {
		u.MaxSessions = DefaultMaxSessions
	}
	if !ValidMaxSessions(u.MaxSessions) {
		return errors.New("max sessions must be between 1 and 10")
	}
	return nil
}

// Usable reports whether the account exists for authentication purposes.
func (u *User) Usable() bool {
	return u != nil && !u.Destroyed
}

// Public is the redacted projection returned to clients. It never carries the
// password hash, TOTP secret, verification token or reset code.
type Public struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatar,omitempty"`
	IsActive    bool      `json:"isActive"`
	Require2FA  bool      `json:"require_2fa"`
	MaxSessions int       `json:"maxSessions"`
	HasPassword bool      `json:"hasPassword"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Public returns the redacted projection of u.
func (u *User) Public() Public {
	return Public{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsActive:    u.IsActive,
		Require2FA:  u.Require2FA,
		MaxSessions: u.MaxSessions,
		HasPassword: u.PasswordHash != "",
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

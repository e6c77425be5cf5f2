package repository

import (
	"context"
	"errors"

	"taskboard-auth/backend/internal/user/domain"
)

// ErrDuplicate is returned by Create when the email or username is already taken.
var ErrDuplicate = errors.New("user already exists")

// Repository defines persistence for users. Getters return nil, nil when the row does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// GetByFederated returns the user linked to a provider subject.
	GetByFederated(ctx context.Context, provider, subject string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// Update writes every mutable column of u.
	Update(ctx context.Context, u *domain.User) error
	// LinkFederated records that provider/subject signs in as userID. Re-linking is a no-op.
	LinkFederated(ctx context.Context, provider, subject, userID string) error
	SetMaxSessions(ctx context.Context, userID string, n int) error
	SetRequire2FA(ctx context.Context, userID string, require bool) error
}

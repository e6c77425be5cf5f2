package repository

import (
	"context"
	"time"

	"taskboard-auth/backend/internal/session/domain"
)

// Repository defines persistence for sessions. Getters return nil, nil when the row
// does not exist; deletes of missing rows are not errors.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// ListByUser returns the user's sessions, most recently active first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, s *domain.Session) error
	// Delete removes one session and reports whether a row was removed.
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteMany removes the listed sessions owned by userID and returns the IDs actually removed.
	DeleteMany(ctx context.Context, userID string, ids []string) ([]string, error)
	// Touch sets last_active and reports whether the session exists.
	Touch(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkTwoFactorVerified sets is_2fa_verified and last_login, and reports whether the session exists.
	MarkTwoFactorVerified(ctx context.Context, id string, at time.Time) (bool, error)
}

package repository

import (
	"context"

	"taskboard-auth/backend/internal/mfa/domain"
)

// Repository defines persistence for TOTP secrets.
type Repository interface {
	// Get returns the user's secret, or nil if none was provisioned.
	Get(ctx context.Context, userID string) (*domain.Secret, error)
	// CreateIfAbsent stores s unless the user already has a secret, and returns the stored one.
	// Concurrent provisioning therefore converges on a single secret.
	CreateIfAbsent(ctx context.Context, s *domain.Secret) (*domain.Secret, error)
}

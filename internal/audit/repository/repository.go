package repository

import (
	"context"

	"taskboard-auth/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns the user's most recent events first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error)
}

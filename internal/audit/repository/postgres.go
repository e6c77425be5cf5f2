package repository

import (
	"context"
	"database/sql"

	"taskboard-auth/backend/internal/audit/domain"
	"taskboard-auth/backend/internal/db"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts one audit entry.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	var metadata any
	if a.Metadata != "" {
		metadata = a.Metadata
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_logs
		(id, user_id, session_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, db.NullString(a.UserID), db.NullString(a.SessionID), a.Action, a.Resource, a.IP, metadata, a.CreatedAt)
	return err
}

// ListByUser returns up to limit entries for userID, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, session_id, action, resource, ip, metadata, created_at
		FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a                 domain.AuditLog
			user, session, md sql.NullString
		)
		if err := rows.Scan(&a.ID, &user, &session, &a.Action, &a.Resource, &a.IP, &md, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID, a.SessionID, a.Metadata = user.String, session.String, md.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

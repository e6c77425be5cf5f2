package repository

import (
	"context"
	"database/sql"
	"errors"

	"taskboard-auth/backend/internal/mfa/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a TOTP secret repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the secret for userID, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (*domain.Secret, error) {
	var s domain.Secret
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, secret, created_at FROM two_factor_secrets WHERE user_id = $1`, userID,
	).Scan(&s.UserID, &s.Secret, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CreateIfAbsent inserts s; on conflict the existing row wins and is returned.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, s *domain.Secret) (*domain.Secret, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO two_factor_secrets (user_id, secret, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`, s.UserID, s.Secret, s.CreatedAt); err != nil {
		return nil, err
	}
	stored, err := r.Get(ctx, s.UserID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errors.New("two factor secret vanished after insert")
	}
	return stored, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"taskboard-auth/backend/internal/device"
	"taskboard-auth/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, device_info, is_2fa_verified, last_login, last_active, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListByUser returns the user's sessions ordered by last_active descending.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions
		WHERE user_id = $1 ORDER BY last_active DESC, created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountByUser returns how many sessions the user holds.
func (r *PostgresRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM user_sessions WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// Create inserts the session. ID must be set by the caller.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	var info []byte
	if s.Device != nil {
		b, err := json.Marshal(s.Device)
		if err != nil {
			return err
		}
		info = b
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, info, s.TwoFactorVerified, s.LastLogin, s.LastActive, s.CreatedAt)
	return err
}

// Delete removes the session with id.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteMany removes the listed sessions of userID in one statement.
func (r *PostgresRepository) DeleteMany(ctx context.Context, userID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.deleteReturning(ctx, `DELETE FROM user_sessions WHERE user_id = $1 AND id = ANY($2) RETURNING id`, userID, ids)
}

// Touch bumps last_active.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.execAffected(ctx, `UPDATE user_sessions SET last_active = $2 WHERE id = $1`, id, at)
}

// MarkTwoFactorVerified flags the session verified and records at as its last login.
func (r *PostgresRepository) MarkTwoFactorVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.execAffected(ctx, `UPDATE user_sessions SET is_2fa_verified = TRUE, last_login = $2 WHERE id = $1`, id, at)
}

func (r *PostgresRepository) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) deleteReturning(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s    domain.Session
		info []byte
	)
	if err := row.Scan(&s.ID, &s.UserID, &info, &s.TwoFactorVerified, &s.LastLogin, &s.LastActive, &s.CreatedAt); err != nil {
		return nil, err
	}
	if len(info) > 0 {
		var d device.Info
		if err := json.Unmarshal(info, &d); err != nil {
			return nil, err
		}
		s.Device = &d
	}
	return &s, nil
}

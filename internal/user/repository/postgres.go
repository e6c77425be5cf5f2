package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"taskboard-auth/backend/internal/db"
	"taskboard-auth/backend/internal/user/domain"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, username, display_name, avatar_url, is_active, require_2fa,
	max_sessions, destroyed, verify_token_hash, verify_token_expires_at, reset_otp_hash,
	reset_otp_expires_at, reset_otp_sent_at, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// GetByFederated returns the user linked to provider/subject, or nil if no link exists.
func (r *PostgresRepository) GetByFederated(ctx context.Context, provider, subject string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id =
		(SELECT user_id FROM federated_identities WHERE provider = $1 AND subject = $2)`, provider, subject)
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		u.ID, u.Email, db.NullString(u.PasswordHash), u.Username, u.DisplayName, db.NullString(u.AvatarURL),
		u.IsActive, u.Require2FA, u.MaxSessions, u.Destroyed,
		db.NullString(u.VerifyTokenHash), db.NullTime(u.VerifyTokenExpiresAt),
		db.NullString(u.ResetOTPHash), db.NullTime(u.ResetOTPExpiresAt), db.NullTime(u.ResetOTPSentAt),
		u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

// Update writes every mutable column of u. Missing rows are not an error.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET
		email = $2, password_hash = $3, username = $4, display_name = $5, avatar_url = $6,
		is_active = $7, require_2fa = $8, max_sessions = $9, destroyed = $10,
		verify_token_hash = $11, verify_token_expires_at = $12,
		reset_otp_hash = $13, reset_otp_expires_at = $14, reset_otp_sent_at = $15,
		updated_at = $16
		WHERE id = $1`,
		u.ID, u.Email, db.NullString(u.PasswordHash), u.Username, u.DisplayName, db.NullString(u.AvatarURL),
		u.IsActive, u.Require2FA, u.MaxSessions, u.Destroyed,
		db.NullString(u.VerifyTokenHash), db.NullTime(u.VerifyTokenExpiresAt),
		db.NullString(u.ResetOTPHash), db.NullTime(u.ResetOTPExpiresAt), db.NullTime(u.ResetOTPSentAt),
		u.UpdatedAt)
	return mapErr(err)
}

// LinkFederated records a provider subject for userID. An existing link is left unchanged.
func (r *PostgresRepository) LinkFederated(ctx context.Context, provider, subject, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO federated_identities (provider, subject, user_id, created_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (provider, subject) DO NOTHING`,
		provider, subject, userID, time.Now().UTC())
	return err
}

// SetMaxSessions updates only max_sessions.
func (r *PostgresRepository) SetMaxSessions(ctx context.Context, userID string, n int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET max_sessions = $2, updated_at = now() WHERE id = $1`, userID, n)
	return err
}

// SetRequire2FA updates only require_2fa.
func (r *PostgresRepository) SetRequire2FA(ctx context.Context, userID string, require bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET require_2fa = $2, updated_at = now() WHERE id = $1`, userID, require)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                                     domain.User
		passwordHash, avatar, verify, resetOTP sql.NullString
		verifyExp, resetExp, resetSent        sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &passwordHash, &u.Username, &u.DisplayName, &avatar,
		&u.IsActive, &u.Require2FA, &u.MaxSessions, &u.Destroyed,
		&verify, &verifyExp, &resetOTP, &resetExp, &resetSent, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.PasswordHash = passwordHash.String
	u.AvatarURL = avatar.String
	u.VerifyTokenHash = verify.String
	u.VerifyTokenExpiresAt = db.TimePtr(verifyExp)
	u.ResetOTPHash = resetOTP.String
	u.ResetOTPExpiresAt = db.TimePtr(resetExp)
	u.ResetOTPSentAt = db.TimePtr(resetSent)
	return &u, nil
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

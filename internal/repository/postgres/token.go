package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aregchatalyan/motor/internal/domain"
	apperrors "github.com/aregchatalyan/motor/pkg/errors"
)

// TokenRepository implements repository.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new PostgreSQL-backed token repository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create inserts a new token row into the database.
func (r *TokenRepository) Create(ctx context.Context, t *domain.Token) error {
	query := `
		INSERT INTO tokens (id, user_id, token, type, ip, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		t.ID,
		t.UserID,
		t.Token,
		t.Type,
		t.IP,
		t.UserAgent,
		t.ExpiresAt,
		t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("token", "token", t.ID)
		}
		return fmt.Errorf("insert token: %w", err)
	}

	return nil
}

// Rotate replaces the stored refresh token value in a single conditional
// update. Matching on the old value makes rotation linearizable per session
// row: of two concurrent rotations only one matches, the other sees zero rows.
func (r *TokenRepository) Rotate(ctx context.Context, oldToken, newToken string, expiresAt time.Time, ip, userAgent string) error {
	query := `
		UPDATE tokens
		SET token = $2, expires_at = $3, ip = $4, user_agent = $5
		WHERE token = $1 AND type = $6`

	ct, err := r.db.Exec(ctx, query, oldToken, newToken, expiresAt, ip, userAgent, domain.TokenRefresh)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// Delete removes the refresh row with the given token value.
func (r *TokenRepository) Delete(ctx context.Context, token string) error {
	query := `DELETE FROM tokens WHERE token = $1 AND type = $2`

	ct, err := r.db.Exec(ctx, query, token, domain.TokenRefresh)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ConsumeVerification consumes a verification secret and marks the owning
// account verified. Both writes are row-count-checked inside one transaction,
// so a replayed secret or a removed account fails cleanly.
func (r *TokenRepository) ConsumeVerification(ctx context.Context, secret string) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	var userID string
	err = tx.QueryRow(ctx, `
		UPDATE tokens
		SET used_at = $2
		WHERE token = $1 AND type = $3 AND expires_at > $2 AND used_at IS NULL
		RETURNING user_id`,
		secret, now, domain.TokenVerification,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("consume verification token: %w", err)
	}

	ct, err := tx.Exec(ctx, `
		UPDATE users
		SET verified = true, updated_at = $2
		WHERE id = $1 AND active = true AND deleted_at IS NULL`,
		userID, now,
	)
	if err != nil {
		return "", fmt.Errorf("mark user verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return "", apperrors.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	return userID, nil
}

// GetSession resolves a refresh token to its live session row and owning
// user, stamping used_at as part of the same conditional update.
func (r *TokenRepository) GetSession(ctx context.Context, refreshToken string) (*domain.User, *domain.Token, error) {
	now := time.Now().UTC()

	query := `
		UPDATE tokens t
		SET used_at = $2
		FROM users u
		WHERE t.token = $1 AND t.type = $3 AND t.expires_at > $2
		  AND u.id = t.user_id AND u.active = true AND u.verified = true AND u.deleted_at IS NULL
		RETURNING t.id, t.user_id, t.token, t.type, t.ip, t.user_agent, t.expires_at, t.created_at, t.used_at,
		          u.id, u.email, u.password_hash, u.name, u.surname, u.mobile, u.role, u.active, u.verified, u.created_at, u.updated_at, u.deleted_at`

	var (
		t domain.Token
		u domain.User
	)
	err := r.db.QueryRow(ctx, query, refreshToken, now, domain.TokenRefresh).Scan(
		&t.ID,
		&t.UserID,
		&t.Token,
		&t.Type,
		&t.IP,
		&t.UserAgent,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.UsedAt,
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Surname,
		&u.Mobile,
		&u.Role,
		&u.Active,
		&u.Verified,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("resolve session: %w", err)
	}

	return &u, &t, nil
}

// DeleteExpired removes all token rows whose expiry is strictly in the past.
func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM tokens WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	return ct.RowsAffected(), nil
}

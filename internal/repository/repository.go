package repository

import (
	"context"
	"time"

	"github.com/aregchatalyan/motor/internal/domain"
)

// UserRepository is the credential store: persisted user accounts.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a non-deleted user by email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update modifies an existing user.
	Update(ctx context.Context, user *domain.User) error

	// Remove soft-deletes the user and deletes all of their token rows as a
	// single atomic unit.
	Remove(ctx context.Context, id string) error
}

// TokenRepository is the session store: persisted verification and refresh
// token rows.
type TokenRepository interface {
	// Create inserts a new token row.
	Create(ctx context.Context, token *domain.Token) error

	// Rotate atomically replaces the stored refresh token value with a new
	// one, extending expiry and updating client metadata. It matches on the
	// old value, so of two concurrent rotations only one can succeed; the
	// loser gets ErrNotFound.
	Rotate(ctx context.Context, oldToken, newToken string, expiresAt time.Time, ip, userAgent string) error

	// Delete removes the refresh row with the given token value. Returns
	// ErrNotFound if no such row exists.
	Delete(ctx context.Context, token string) error

	// ConsumeVerification marks the matching unexpired, unused verification
	// token as used and sets the owning account verified, atomically.
	// Returns the owner's user ID, or ErrNotFound if the secret is unknown,
	// expired, or already consumed.
	ConsumeVerification(ctx context.Context, secret string) (string, error)

	// GetSession resolves a presented refresh token to its session row and
	// owning user. The row must be unexpired and the owner active and
	// verified; the row's used_at is stamped as part of the lookup. Returns
	// ErrNotFound otherwise.
	GetSession(ctx context.Context, refreshToken string) (*domain.User, *domain.Token, error)

	// DeleteExpired removes all token rows whose expiry is strictly in the
	// past and reports how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

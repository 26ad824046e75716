package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aregchatalyan/motor/internal/domain"
	apperrors "github.com/aregchatalyan/motor/pkg/errors"
)

func newTokenTestFixture(t *testing.T) (*TokenRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := NewTokenRepository(mock)
	return repo, mock
}

func sampleToken() *domain.Token {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Token{
		ID:        "7a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9",
		UserID:    "1f6b2c1a-9d3e-4b8f-a2c4-5e6f7a8b9c0d",
		Token:     "opaque-refresh-token-value",
		Type:      domain.TokenRefresh,
		IP:        "203.0.113.7",
		UserAgent: "test-agent",
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		CreatedAt: now,
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestTokenRepository_Create_Success(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	tok := sampleToken()

	mock.ExpectExec("INSERT INTO tokens").
		WithArgs(
			tok.ID, tok.UserID, tok.Token, tok.Type,
			tok.IP, tok.UserAgent, tok.ExpiresAt, tok.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), tok)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Rotate
// ---------------------------------------------------------------------------

func TestTokenRepository_Rotate_Success(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	expiresAt := time.Now().UTC().Add(7 * 24 * time.Hour)

	mock.ExpectExec("UPDATE tokens").
		WithArgs("old-value", "new-value", expiresAt, "203.0.113.7", "test-agent", domain.TokenRefresh).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.Rotate(context.Background(), "old-value", "new-value", expiresAt, "203.0.113.7", "test-agent")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_Rotate_StaleToken(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	expiresAt := time.Now().UTC().Add(7 * 24 * time.Hour)

	// A concurrent rotation already replaced the old value, so the
	// conditional update matches no rows.
	mock.ExpectExec("UPDATE tokens").
		WithArgs("old-value", "new-value", expiresAt, "", "", domain.TokenRefresh).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Rotate(context.Background(), "old-value", "new-value", expiresAt, "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestTokenRepository_Delete_Success(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM tokens WHERE token =").
		WithArgs("live-token", domain.TokenRefresh).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := repo.Delete(context.Background(), "live-token")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_Delete_Unknown(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM tokens WHERE token =").
		WithArgs("unknown-token", domain.TokenRefresh).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.Delete(context.Background(), "unknown-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// ConsumeVerification
// ---------------------------------------------------------------------------

func TestTokenRepository_ConsumeVerification_Success(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tokens").
		WithArgs("secret-value", pgxmock.AnyArg(), domain.TokenVerification).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-1"))
	mock.ExpectExec("UPDATE users").
		WithArgs("user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	userID, err := repo.ConsumeVerification(context.Background(), "secret-value")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_ConsumeVerification_Replayed(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	// The secret was already consumed (used_at set), so the conditional
	// update returns no row and the user update never runs.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tokens").
		WithArgs("secret-value", pgxmock.AnyArg(), domain.TokenVerification).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}))
	mock.ExpectRollback()

	userID, err := repo.ConsumeVerification(context.Background(), "secret-value")
	assert.Empty(t, userID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_ConsumeVerification_RemovedAccount(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	// Token row matched but the owning account is gone or inactive; the
	// whole transaction rolls back so the token stays unconsumed.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tokens").
		WithArgs("secret-value", pgxmock.AnyArg(), domain.TokenVerification).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-1"))
	mock.ExpectExec("UPDATE users").
		WithArgs("user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := repo.ConsumeVerification(context.Background(), "secret-value")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GetSession
// ---------------------------------------------------------------------------

func sessionColumns() []string {
	return []string{
		"id", "user_id", "token", "type", "ip", "user_agent", "expires_at", "created_at", "used_at",
		"id", "email", "password_hash", "name", "surname", "mobile", "role", "active", "verified", "created_at", "updated_at", "deleted_at",
	}
}

func TestTokenRepository_GetSession_Success(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	tok := sampleToken()
	u := sampleUser()
	now := time.Now().UTC()

	rows := pgxmock.NewRows(sessionColumns()).AddRow(
		tok.ID, tok.UserID, tok.Token, tok.Type, tok.IP, tok.UserAgent, tok.ExpiresAt, tok.CreatedAt, &now,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Surname, u.Mobile, u.Role, u.Active, u.Verified, u.CreatedAt, u.UpdatedAt, u.DeletedAt,
	)

	mock.ExpectQuery("UPDATE tokens t").
		WithArgs(tok.Token, pgxmock.AnyArg(), domain.TokenRefresh).
		WillReturnRows(rows)

	gotUser, gotToken, err := repo.GetSession(context.Background(), tok.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, gotUser.ID)
	assert.Equal(t, tok.Token, gotToken.Token)
	assert.NotNil(t, gotToken.UsedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_GetSession_ExpiredOrMissing(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE tokens t").
		WithArgs("expired-token", pgxmock.AnyArg(), domain.TokenRefresh).
		WillReturnRows(pgxmock.NewRows(sessionColumns()))

	gotUser, gotToken, err := repo.GetSession(context.Background(), "expired-token")
	assert.Nil(t, gotUser)
	assert.Nil(t, gotToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// DeleteExpired
// ---------------------------------------------------------------------------

func TestTokenRepository_DeleteExpired(t *testing.T) {
	repo, mock := newTokenTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM tokens WHERE expires_at <").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	deleted, err := repo.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

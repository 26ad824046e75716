package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aregchatalyan/motor/internal/auth"
	"github.com/aregchatalyan/motor/internal/domain"
	"github.com/aregchatalyan/motor/internal/event"
	"github.com/aregchatalyan/motor/internal/service"
	apperrors "github.com/aregchatalyan/motor/pkg/errors"
	"github.com/aregchatalyan/motor/pkg/health"
	pkgkafka "github.com/aregchatalyan/motor/pkg/kafka"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// Mock Repositories
// ============================================================================

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) Remove(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockTokenRepo struct {
	mock.Mock
}

func (m *mockTokenRepo) Create(ctx context.Context, token *domain.Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockTokenRepo) Rotate(ctx context.Context, oldToken, newToken string, expiresAt time.Time, ip, userAgent string) error {
	args := m.Called(ctx, oldToken, newToken, expiresAt, ip, userAgent)
	return args.Error(0)
}

func (m *mockTokenRepo) Delete(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockTokenRepo) ConsumeVerification(ctx context.Context, secret string) (string, error) {
	args := m.Called(ctx, secret)
	return args.String(0), args.Error(1)
}

func (m *mockTokenRepo) GetSession(ctx context.Context, refreshToken string) (*domain.User, *domain.Token, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.User), args.Get(1).(*domain.Token), args.Error(2)
}

func (m *mockTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// ============================================================================
// Fixtures
// ============================================================================

var testJWT = auth.NewJWTManager("test-access-secret", "test-refresh-secret", 15*time.Minute, 7*24*time.Hour)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(userRepo *mockUserRepo, tokenRepo *mockTokenRepo) http.Handler {
	logger := testLogger()
	producer := event.NewProducer(pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig([]string{"localhost:9092"}), logger), logger)
	svc := service.NewAuthService(userRepo, tokenRepo, testJWT, producer, 24*time.Hour, logger)

	return NewRouter(RouterConfig{
		AuthService:   svc,
		HealthHandler: health.NewHandler(),
		Environment:   "development",
		CORS:          CORSConfig{AllowedOrigins: []string{"*"}, Environment: "development"},
		Logger:        logger,
	})
}

func testUser() *domain.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte("SecurePass123"), 4)
	now := time.Now().UTC()
	return &domain.User{
		ID:           "1f6b2c1a-9d3e-4b8f-a2c4-5e6f7a8b9c0d",
		Email:        "john@example.com",
		PasswordHash: string(hash),
		Name:         "John",
		Role:         domain.RoleUser,
		Active:       true,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// withSession attaches a valid Bearer token and refresh cookie for the user,
// wiring the session row into the token repo mock.
func withSession(t *testing.T, req *http.Request, tokenRepo *mockTokenRepo, user *domain.User) string {
	t.Helper()

	accessToken, err := testJWT.GenerateAccessToken(user.ID, user.Email)
	require.NoError(t, err)
	refreshToken, err := testJWT.GenerateRefreshToken(user.ID)
	require.NoError(t, err)

	session := &domain.Token{
		ID:        "session-1",
		UserID:    user.ID,
		Token:     refreshToken,
		Type:      domain.TokenRefresh,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	tokenRepo.On("GetSession", mock.Anything, refreshToken).Return(user, session, nil)

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: refreshToken})

	return refreshToken
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	return nil
}

// ============================================================================
// SignUp
// ============================================================================

func TestSignUpEndpoint_Created(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	userRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)
	tokenRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Token")).Return(nil)

	body := `{"email":"john@example.com","password":"SecurePass123","name":"John"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	userRepo.AssertExpectations(t)
	tokenRepo.AssertExpectations(t)
}

func TestSignUpEndpoint_ValidationError(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	body := `{"email":"not-an-email","password":"short","name":""}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	userRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSignUpEndpoint_DuplicateEmail(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	userRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).
		Return(apperrors.AlreadyExists("user", "email", "john@example.com"))

	body := `{"email":"john@example.com","password":"SecurePass123","name":"John"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

// ============================================================================
// Verify
// ============================================================================

func TestVerifyEndpoint_Success(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	tokenRepo.On("ConsumeVerification", mock.Anything, "some-secret").Return("user-1", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/verify/some-secret", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	tokenRepo.AssertExpectations(t)
}

func TestVerifyEndpoint_ConsumedSecret(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	tokenRepo.On("ConsumeVerification", mock.Anything, "stale").Return("", apperrors.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/verify/stale", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// SignIn
// ============================================================================

func TestSignInEndpoint_SetsRefreshCookie(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	user := testUser()
	userRepo.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
	tokenRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Token")).Return(nil)

	body := `{"email":"john@example.com","password":"SecurePass123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signin", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	cookie := refreshCookie(rec)
	require.NotNil(t, cookie, "signin must set the refresh cookie")
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)

	// The refresh token must never appear in the response body.
	assert.NotContains(t, rec.Body.String(), cookie.Value)

	var resp struct {
		Data SessionResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Data.AccessToken)
}

func TestSignInEndpoint_BadCredentials(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	userRepo.On("GetByEmail", mock.Anything, "john@example.com").Return(nil, apperrors.ErrNotFound)

	body := `{"email":"john@example.com","password":"SecurePass123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signin", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid email or password")
	assert.Nil(t, refreshCookie(rec))
}

// ============================================================================
// Session guard
// ============================================================================

func TestGuardedEndpoint_MissingCredentials(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	tokenRepo.AssertNotCalled(t, "GetSession", mock.Anything, mock.Anything)
}

func TestGuardedEndpoint_ValidSession(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	user := testUser()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	withSession(t, req, tokenRepo, user)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), user.Email)
	// The password hash is tagged json:"-" and must never serialize.
	assert.NotContains(t, rec.Body.String(), user.PasswordHash)
}

func TestGuardedEndpoint_DeadSessionRow(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	user := testUser()
	accessToken, err := testJWT.GenerateAccessToken(user.ID, user.Email)
	require.NoError(t, err)
	refreshToken, err := testJWT.GenerateRefreshToken(user.ID)
	require.NoError(t, err)

	// Valid JWTs, but the session row is gone: signed out elsewhere.
	tokenRepo.On("GetSession", mock.Anything, refreshToken).Return(nil, nil, apperrors.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: refreshToken})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// Refresh
// ============================================================================

func TestRefreshEndpoint_RotatesCookie(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	user := testUser()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	oldRefresh := withSession(t, req, tokenRepo, user)

	tokenRepo.On("Rotate", mock.Anything, oldRefresh, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time"), mock.AnythingOfType("string"), mock.AnythingOfType("string")).
		Return(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	cookie := refreshCookie(rec)
	require.NotNil(t, cookie)
	assert.NotEqual(t, oldRefresh, cookie.Value, "refresh must replace the cookie value")
	tokenRepo.AssertExpectations(t)
}

func TestRefreshEndpoint_ConcurrentLoser(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	user := testUser()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	oldRefresh := withSession(t, req, tokenRepo, user)

	// Another request rotated the row first; this caller loses.
	tokenRepo.On("Rotate", mock.Anything, oldRefresh, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time"), mock.AnythingOfType("string"), mock.AnythingOfType("string")).
		Return(apperrors.ErrNotFound)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := refreshCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value, "losing refresh must clear the cookie")
}

// ============================================================================
// SignOut
// ============================================================================

func TestSignOutEndpoint_ClearsCookie(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	user := testUser()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signout", nil)
	refresh := withSession(t, req, tokenRepo, user)

	tokenRepo.On("Delete", mock.Anything, refresh).Return(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	cookie := refreshCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

// ============================================================================
// Remove
// ============================================================================

func TestRemoveEndpoint_Success(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	user := testUser()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/auth/remove", nil)
	withSession(t, req, tokenRepo, user)

	userRepo.On("Remove", mock.Anything, user.ID).Return(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	userRepo.AssertExpectations(t)
}

// ============================================================================
// Profile
// ============================================================================

func TestUpdateProfileEndpoint_Success(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokenRepo := new(mockTokenRepo)
	router := newTestRouter(userRepo, tokenRepo)

	user := testUser()
	body, _ := json.Marshal(map[string]string{"name": "Johnny"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/me", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	withSession(t, req, tokenRepo, user)

	userRepo.On("GetByID", mock.Anything, user.ID).Return(user, nil)
	userRepo.On("Update", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Johnny")
}

// ============================================================================
// Middleware
// ============================================================================

func TestContentTypeJSON_RejectsNonJSON(t *testing.T) {
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/test", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestContentTypeJSON_PassesGet(t *testing.T) {
	called := false
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS_PreflightNoContent(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"*"}, Environment: "development"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/signin", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ExactOriginGetsCredentials(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example.com"}, Environment: "production"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_UnlistedOriginBlocked(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example.com"}, Environment: "production"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

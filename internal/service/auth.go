package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aregchatalyan/motor/internal/auth"
	"github.com/aregchatalyan/motor/internal/domain"
	"github.com/aregchatalyan/motor/internal/event"
	"github.com/aregchatalyan/motor/internal/repository"
	apperrors "github.com/aregchatalyan/motor/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// ClientMeta carries per-request client metadata stored on session rows.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// AuthService implements the business logic for account and session
// operations. It is the only writer of both stores for auth purposes.
type AuthService struct {
	users           repository.UserRepository
	tokens          repository.TokenRepository
	jwtManager      *auth.JWTManager
	producer        *event.Producer
	verificationTTL time.Duration
	logger          *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	jwtManager *auth.JWTManager,
	producer *event.Producer,
	verificationTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:           users,
		tokens:          tokens,
		jwtManager:      jwtManager,
		producer:        producer,
		verificationTTL: verificationTTL,
		logger:          logger,
	}
}

// --- Input types ---

// SignUpInput holds the parameters for registering a new account.
type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Surname  string
	Mobile   string
}

// SignInInput holds the parameters for signing in.
type SignInInput struct {
	Email    string
	Password string
}

// UpdateProfileInput holds the parameters for updating profile fields.
type UpdateProfileInput struct {
	Name    *string
	Surname *string
	Mobile  *string
}

// --- Operations ---

// SignUp creates a new unverified account and dispatches a verification
// token. No session is issued: unverified accounts cannot sign in.
func (s *AuthService) SignUp(ctx context.Context, input SignUpInput) error {
	if input.Email == "" {
		return apperrors.InvalidInput("email is required")
	}
	if input.Name == "" {
		return apperrors.InvalidInput("name is required")
	}
	if len(input.Password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        input.Email,
		PasswordHash: string(hashedPassword),
		Name:         input.Name,
		Surname:      input.Surname,
		Mobile:       input.Mobile,
		Role:         domain.RoleUser,
		Active:       true,
		Verified:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	secret := uuid.New().String()
	verification := &domain.Token{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     secret,
		Type:      domain.TokenVerification,
		ExpiresAt: now.Add(s.verificationTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, verification); err != nil {
		return fmt.Errorf("create verification token: %w", err)
	}

	// Notification delivery is best-effort; the account exists either way.
	if err := s.producer.PublishUserSignedUp(ctx, user, secret); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish signed_up event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user signed up",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return nil
}

// Verify consumes a verification secret and marks the account verified.
// Consumption is a conditional update, so replaying the same secret fails.
func (s *AuthService) Verify(ctx context.Context, secret string) error {
	if secret == "" {
		return apperrors.InvalidInput("verification token is required")
	}

	userID, err := s.tokens.ConsumeVerification(ctx, secret)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidInput("invalid or expired verification token")
		}
		return fmt.Errorf("consume verification token: %w", err)
	}

	if err := s.producer.PublishUserVerified(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish verified event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user verified",
		slog.String("user_id", userID),
	)

	return nil
}

// SignIn authenticates credentials and opens a new session. All credential
// failures collapse to the same error so responses never reveal whether an
// email is registered.
func (s *AuthService) SignIn(ctx context.Context, input SignInInput, meta ClientMeta) (*domain.User, *domain.TokenPair, time.Duration, error) {
	if input.Email == "" {
		return nil, nil, 0, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, 0, apperrors.InvalidInput("password is required")
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, nil, 0, apperrors.Unauthorized("invalid email or password")
	}

	if !user.Active || !user.Verified {
		return nil, nil, 0, apperrors.Unauthorized("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, 0, apperrors.Unauthorized("invalid email or password")
	}

	pair, maxAge, err := s.openSession(ctx, user, meta)
	if err != nil {
		return nil, nil, 0, err
	}

	s.logger.InfoContext(ctx, "user signed in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, pair, maxAge, nil
}

// Authenticate is the request guard: it turns a presented access/refresh
// token pair into an authenticated user or fails with a uniform Unauthorized
// regardless of which check tripped.
func (s *AuthService) Authenticate(ctx context.Context, accessToken, refreshToken string) (*domain.User, error) {
	accessClaims, err := s.jwtManager.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired credentials")
	}

	refreshClaims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired credentials")
	}

	// The access and refresh tokens must describe the same subject; a valid
	// but mismatched pair must not authenticate as anyone.
	if accessClaims.UserID != refreshClaims.UserID {
		return nil, apperrors.Unauthorized("invalid or expired credentials")
	}

	user, _, err := s.tokens.GetSession(ctx, refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired credentials")
	}

	if user.ID != accessClaims.UserID {
		return nil, apperrors.Unauthorized("invalid or expired credentials")
	}

	return user, nil
}

// Refresh rotates the caller's session: the stored token value is replaced
// with a freshly minted one in a single conditional update. If the row was
// already rotated or deleted concurrently, the caller must re-authenticate.
func (s *AuthService) Refresh(ctx context.Context, user *domain.User, oldRefreshToken string, meta ClientMeta) (*domain.TokenPair, time.Duration, error) {
	pair, err := s.mintPair(user)
	if err != nil {
		return nil, 0, err
	}

	expiresAt := time.Now().UTC().Add(s.jwtManager.RefreshExpiry())
	if err := s.tokens.Rotate(ctx, oldRefreshToken, pair.RefreshToken, expiresAt, meta.IP, meta.UserAgent); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, 0, apperrors.Unauthorized("session is no longer valid")
		}
		return nil, 0, fmt.Errorf("rotate session: %w", err)
	}

	s.logger.InfoContext(ctx, "session rotated",
		slog.String("user_id", user.ID),
	)

	return pair, s.jwtManager.RefreshExpiry(), nil
}

// SignOut deletes the session row for the given refresh token.
func (s *AuthService) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return apperrors.Unauthorized("missing refresh token")
	}

	if err := s.tokens.Delete(ctx, refreshToken); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Unauthorized("session is no longer valid")
		}
		return fmt.Errorf("delete session: %w", err)
	}

	s.logger.InfoContext(ctx, "user signed out")

	return nil
}

// Remove soft-deletes the account and destroys all of its sessions as one
// atomic unit.
func (s *AuthService) Remove(ctx context.Context, user *domain.User) error {
	if err := s.users.Remove(ctx, user.ID); err != nil {
		return fmt.Errorf("remove user: %w", err)
	}

	if err := s.producer.PublishUserRemoved(ctx, user.ID, user.Email); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish removed event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user removed",
		slog.String("user_id", user.ID),
	)

	return nil
}

// GetProfile retrieves a user by their ID.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

// UpdateProfile updates a user's profile fields.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for update: %w", err)
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, apperrors.InvalidInput("name must not be empty")
		}
		user.Name = *input.Name
	}

	if input.Surname != nil {
		user.Surname = *input.Surname
	}

	if input.Mobile != nil {
		user.Mobile = *input.Mobile
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.logger.InfoContext(ctx, "user profile updated",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// EnsureAdmin creates the configured admin account on first startup. The
// generated password is delivered through the notification sender.
func (s *AuthService) EnsureAdmin(ctx context.Context, adminEmail string) error {
	if adminEmail == "" {
		return nil
	}

	_, err := s.users.GetByEmail(ctx, adminEmail)
	if err == nil {
		s.logger.InfoContext(ctx, "admin user already exists",
			slog.String("email", adminEmail),
		)
		return nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("look up admin user: %w", err)
	}

	password, err := generatePassword()
	if err != nil {
		return fmt.Errorf("generate admin password: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now().UTC()
	admin := &domain.User{
		ID:           uuid.New().String(),
		Email:        adminEmail,
		PasswordHash: string(hashedPassword),
		Name:         "admin",
		Role:         domain.RoleAdmin,
		Active:       true,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, admin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	if err := s.producer.PublishAdminCreated(ctx, admin, password); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish admin_created event",
			slog.String("user_id", admin.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "admin user created",
		slog.String("user_id", admin.ID),
		slog.String("email", admin.Email),
	)

	return nil
}

// --- Helpers ---

// openSession mints a token pair and persists the refresh session row.
func (s *AuthService) openSession(ctx context.Context, user *domain.User, meta ClientMeta) (*domain.TokenPair, time.Duration, error) {
	pair, err := s.mintPair(user)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	session := &domain.Token{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     pair.RefreshToken,
		Type:      domain.TokenRefresh,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		ExpiresAt: now.Add(s.jwtManager.RefreshExpiry()),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, session); err != nil {
		return nil, 0, fmt.Errorf("store session: %w", err)
	}

	return pair, s.jwtManager.RefreshExpiry(), nil
}

// mintPair creates the access/refresh token pair for the given user.
// Signing failures indicate key misconfiguration and are never degraded.
func (s *AuthService) mintPair(user *domain.User) (*domain.TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// generatePassword returns a short random password for bootstrap accounts.
func generatePassword() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:10], nil
}

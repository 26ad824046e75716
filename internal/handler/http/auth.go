package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aregchatalyan/motor/internal/service"
	"github.com/aregchatalyan/motor/pkg/validator"
)

const refreshCookieName = "refreshToken"

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service     *service.AuthService
	environment string
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, environment string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, environment: environment, logger: logger}
}

// --- Request DTOs ---

// SignUpRequest is the JSON request body for account registration.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Surname  string `json:"surname" validate:"omitempty,max=100"`
	Mobile   string `json:"mobile" validate:"omitempty,max=20"`
}

// SignInRequest is the JSON request body for signing in.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// --- Response types ---

// SessionResponse wraps user data with the access token. The refresh token
// travels only in the HTTP-only cookie, never in the body.
type SessionResponse struct {
	User        any    `json:"user"`
	AccessToken string `json:"access_token"`
}

// --- Handlers ---

// SignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		writeValidationError(w, err)
		return
	}

	input := service.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Surname:  req.Surname,
		Mobile:   req.Mobile,
	}

	if err := h.service.SignUp(r.Context(), input); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, response{
		Data: map[string]string{"status": "verification email sent"},
	})
}

// Verify handles GET /api/v1/auth/verify/{secret}
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")

	if err := h.service.Verify(r.Context(), secret); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Data: map[string]string{"status": "verified"},
	})
}

// SignIn handles POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		writeValidationError(w, err)
		return
	}

	input := service.SignInInput{
		Email:    req.Email,
		Password: req.Password,
	}

	user, pair, maxAge, err := h.service.SignIn(r.Context(), input, clientMeta(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, maxAge)

	writeJSON(w, http.StatusOK, response{
		Data: SessionResponse{
			User:        user.AsPrincipal(),
			AccessToken: pair.AccessToken,
		},
	})
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	user := PrincipalFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	pair, maxAge, err := h.service.Refresh(r.Context(), user, refreshTokenFromCookie(r), clientMeta(r))
	if err != nil {
		h.clearRefreshCookie(w)
		writeAppError(w, r, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, maxAge)

	writeJSON(w, http.StatusOK, response{
		Data: SessionResponse{
			User:        user.AsPrincipal(),
			AccessToken: pair.AccessToken,
		},
	})
}

// SignOut handles POST /api/v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context(), refreshTokenFromCookie(r)); err != nil {
		h.clearRefreshCookie(w)
		writeAppError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)

	writeJSON(w, http.StatusOK, response{
		Data: map[string]string{"status": "signed out"},
	})
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := PrincipalFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	writeJSON(w, http.StatusOK, response{Data: user.AsPrincipal()})
}

// Remove handles DELETE /api/v1/auth/remove
func (h *AuthHandler) Remove(w http.ResponseWriter, r *http.Request) {
	user := PrincipalFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	if err := h.service.Remove(r.Context(), user); err != nil {
		writeAppError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)

	writeJSON(w, http.StatusOK, response{
		Data: map[string]string{"status": "removed"},
	})
}

// --- Cookie helpers ---

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.environment != "development",
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.environment != "development",
		SameSite: http.SameSiteLaxMode,
	})
}

func clientMeta(r *http.Request) service.ClientMeta {
	return service.ClientMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

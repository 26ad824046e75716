package domain

import (
	"time"
)

// Persisted token types.
//
// Access tokens are never persisted; their validity is signature and expiry
// only. Revocation of an access token happens implicitly through its paired
// refresh session row.
const (
	TokenVerification = "verification"
	TokenRefresh      = "refresh"
)

// Token is a stored session or verification token row. A refresh row
// represents exactly one still-valid session: rotation replaces the token
// value in place, so a given string is never valid twice.
type Token struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Token     string     `json:"-"`
	Type      string     `json:"type"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// TokenPair holds a freshly issued access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"-"`
}

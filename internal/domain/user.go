package domain

import (
	"time"
)

// Roles assignable to a user account.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account.
//
// A user may sign in only while Active is true (not soft-deleted) and
// Verified is true (completed email verification).
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Name         string     `json:"name"`
	Surname      string     `json:"surname"`
	Mobile       string     `json:"mobile,omitempty"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	Verified     bool       `json:"verified"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Principal is the public projection of an authenticated user attached to a
// request after the guard succeeds. It never carries secrets.
type Principal struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Mobile  string `json:"mobile,omitempty"`
	Role    string `json:"role"`
}

// AsPrincipal returns the public projection of the user.
func (u *User) AsPrincipal() Principal {
	return Principal{
		ID:      u.ID,
		Email:   u.Email,
		Name:    u.Name,
		Surname: u.Surname,
		Mobile:  u.Mobile,
		Role:    u.Role,
	}
}

package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleScheduler UserRole = "SCHEDULER"
	RoleViewer    UserRole = "VIEWER"
)

// Valid reports whether the role is one the API knows about.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleScheduler, RoleViewer:
		return true
	default:
		return false
	}
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed access token and its expiry.
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// User is an API account. Passwords are stored only as bcrypt hashes.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"role" json:"role"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	LastLogin    *time.Time `db:"last_login" json:"lastLogin,omitempty"`
}

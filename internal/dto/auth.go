package dto

import (
	"github.com/noah-isme/sma-timetable/internal/models"
)

// RegisterRequest creates an API account.
type RegisterRequest struct {
	Username string          `json:"username" validate:"required,min=3,max=64"`
	Password string          `json:"password" validate:"required,min=8,max=72"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN SCHEDULER VIEWER"`
}

// LoginRequest exchanges credentials for an access token.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the signed token and the account it was issued for.
type LoginResponse struct {
	models.IssuedToken
	User models.User `json:"user"`
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/response"
)

type accountService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error)
}

// AuthHandler exposes account registration and login.
type AuthHandler struct {
	accounts accountService
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(accounts accountService) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

// Login godoc
// @Summary Exchange credentials for an access token
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body dto.LoginRequest true "Credentials"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	result, err := h.accounts.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Register godoc
// @Summary Create an account
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.RegisterRequest true "Account"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type accountServiceMock struct {
	registered  dto.RegisterRequest
	registerErr error
	loginErr    error
}

func (m *accountServiceMock) Register(ctx context.Context, req dto.RegisterRequest) (*models.User, error) {
	m.registered = req
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &models.User{ID: "u-1", Username: req.Username, Role: req.Role, PasswordHash: "hidden"}, nil
}

func (m *accountServiceMock) Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error) {
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &dto.LoginResponse{
		IssuedToken: models.IssuedToken{AccessToken: "signed", ExpiresIn: 3600},
		User:        models.User{ID: "u-1", Username: req.Username, Role: models.RoleViewer},
	}, nil
}

func TestAuthHandlerLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&accountServiceMock{})

	c, w := newGinContext(http.MethodPost, "/auth/login", []byte(`{"username":"viewer","password":"pass"}`))
	handler.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"access_token":"signed"`)
	assert.Contains(t, w.Body.String(), `"role":"VIEWER"`)

	rejected := NewAuthHandler(&accountServiceMock{loginErr: appErrors.Clone(appErrors.ErrUnauthorized, "invalid username or password")})
	c, w = newGinContext(http.MethodPost, "/auth/login", []byte(`{"username":"viewer","password":"nope"}`))
	rejected.Login(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodPost, "/auth/login", []byte(`not json`))
	handler.Login(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerRegister(t *testing.T) {
	gin.SetMode(gin.TestMode)
	accounts := &accountServiceMock{}
	handler := NewAuthHandler(accounts)

	c, w := newGinContext(http.MethodPost, "/auth/register", []byte(`{"username":"planner","password":"long enough","role":"SCHEDULER"}`))
	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.RoleScheduler, accounts.registered.Role)
	assert.NotContains(t, w.Body.String(), "hidden")

	duplicate := NewAuthHandler(&accountServiceMock{registerErr: appErrors.Clone(appErrors.ErrConflict, "username already registered")})
	c, w = newGinContext(http.MethodPost, "/auth/register", []byte(`{"username":"planner","password":"long enough","role":"SCHEDULER"}`))
	duplicate.Register(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type userStoreMock struct {
	users     map[string]*models.User
	lastLogin map[string]time.Time
}

func newUserStoreMock() *userStoreMock {
	return &userStoreMock{users: map[string]*models.User{}, lastLogin: map[string]time.Time{}}
}

func (m *userStoreMock) Create(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.Username]; ok {
		return fmt.Errorf("create user: %w", repository.ErrDuplicateUsername)
	}
	user.ID = fmt.Sprintf("u-%d", len(m.users)+1)
	stored := *user
	m.users[user.Username] = &stored
	return nil
}

func (m *userStoreMock) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	user, ok := m.users[username]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (m *userStoreMock) Count(ctx context.Context) (int, error) {
	return len(m.users), nil
}

func (m *userStoreMock) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLogin[id] = ts
	return nil
}

func newTestAuthService(store *userStoreMock) (*AuthService, *TokenService) {
	tokens := NewTokenService(TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "timetable"})
	return NewAuthService(store, tokens, nil, nil, bcrypt.MinCost), tokens
}

func TestAuthServiceRegisterHashesPassword(t *testing.T) {
	store := newUserStoreMock()
	svc, _ := newTestAuthService(store)

	user, err := svc.Register(context.Background(), dto.RegisterRequest{Username: "planner", Password: "correct horse", Role: models.RoleScheduler})
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.NotEqual(t, "correct horse", store.users["planner"].PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(store.users["planner"].PasswordHash), []byte("correct horse")))
}

func TestAuthServiceRegisterRejects(t *testing.T) {
	store := newUserStoreMock()
	svc, _ := newTestAuthService(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, dto.RegisterRequest{Username: "planner", Password: "short", Role: models.RoleScheduler})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Register(ctx, dto.RegisterRequest{Username: "planner", Password: "long enough", Role: models.UserRole("STUDENT")})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Register(ctx, dto.RegisterRequest{Username: "planner", Password: "long enough", Role: models.RoleViewer})
	require.NoError(t, err)
	_, err = svc.Register(ctx, dto.RegisterRequest{Username: "planner", Password: "another one", Role: models.RoleAdmin})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, 409, appErrors.FromError(err).Status)
}

func TestAuthServiceLoginIssuesRoleToken(t *testing.T) {
	store := newUserStoreMock()
	svc, tokens := newTestAuthService(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, dto.RegisterRequest{Username: "viewer", Password: "read only pass", Role: models.RoleViewer})
	require.NoError(t, err)

	resp, err := svc.Login(ctx, dto.LoginRequest{Username: "viewer", Password: "read only pass"})
	require.NoError(t, err)
	assert.Equal(t, "viewer", resp.User.Username)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Contains(t, store.lastLogin, resp.User.ID)

	claims, err := tokens.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, models.RoleViewer, claims.Role)
}

func TestAuthServiceLoginRejectsBadCredentials(t *testing.T) {
	store := newUserStoreMock()
	svc, _ := newTestAuthService(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, dto.RegisterRequest{Username: "admin", Password: "s3cret-pass", Role: models.RoleAdmin})
	require.NoError(t, err)

	_, err = svc.Login(ctx, dto.LoginRequest{Username: "admin", Password: "wrong-pass"})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.Login(ctx, dto.LoginRequest{Username: "nobody", Password: "s3cret-pass"})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.Login(ctx, dto.LoginRequest{Username: "admin"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceEnsureAdmin(t *testing.T) {
	store := newUserStoreMock()
	svc, _ := newTestAuthService(store)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "", ""))
	assert.Empty(t, store.users)

	require.NoError(t, svc.EnsureAdmin(ctx, "root", "bootstrap-pass"))
	require.Contains(t, store.users, "root")
	assert.Equal(t, models.RoleAdmin, store.users["root"].Role)

	require.NoError(t, svc.EnsureAdmin(ctx, "second", "bootstrap-pass"))
	assert.Len(t, store.users, 1)
}

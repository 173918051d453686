package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/logger"
)

type authUserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Count(ctx context.Context) (int, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type tokenIssuer interface {
	Issue(userID string, role models.UserRole, email, fullName string) (*models.IssuedToken, error)
}

// AuthService registers accounts and logs them in.
type AuthService struct {
	repo       authUserRepository
	tokens     tokenIssuer
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
	now        func() time.Time
}

// NewAuthService constructs an AuthService. A zero cost selects bcrypt.DefaultCost.
func NewAuthService(repo authUserRepository, tokens tokenIssuer, validate *validator.Validate, logger *zap.Logger, cost int) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &AuthService{repo: repo, tokens: tokens, validator: validate, logger: logger, bcryptCost: cost, now: time.Now}
}

// Register stores a new account with a hashed password.
func (s *AuthService) Register(ctx context.Context, req dto.RegisterRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user := &models.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         req.Role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "username already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	logger.FromContext(ctx, s.logger).Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

// Login verifies credentials and issues an access token carrying the account's role.
func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	user, err := s.repo.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid username or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid username or password")
	}

	issued, err := s.tokens.Issue(user.ID, user.Role, "", user.Username)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}
	return &dto.LoginResponse{IssuedToken: *issued, User: *user}, nil
}

// EnsureAdmin creates the first ADMIN account when the user table is empty. It is a no-op once any
// account exists or when no credentials are configured.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count users")
	}
	if total > 0 {
		return nil
	}
	_, err = s.Register(ctx, dto.RegisterRequest{Username: username, Password: password, Role: models.RoleAdmin})
	if errors.Is(err, appErrors.ErrConflict) {
		return nil
	}
	return err
}

package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

// TokenConfig defines how access tokens are signed.
type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// TokenService validates bearer tokens for the API and issues them for logged-in accounts and
// operators. Verification only trusts the shared signing secret.
type TokenService struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(config TokenConfig) *TokenService {
	if config.Expiry <= 0 {
		config.Expiry = 15 * time.Minute
	}
	return &TokenService{config: config, now: time.Now}
}

// Issue signs an access token for the given subject.
func (s *TokenService) Issue(userID string, role models.UserRole, email, fullName string) (*models.IssuedToken, error) {
	if strings.TrimSpace(s.config.Secret) == "" {
		return nil, appErrors.Clone(appErrors.ErrInternal, "token secret not configured")
	}
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", role))
	}
	if userID == "" {
		userID = uuid.NewString()
	}
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.Expiry)
	claims := &models.JWTClaims{
		UserID:   userID,
		Role:     role,
		Email:    email,
		FullName: fullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}
	return &models.IssuedToken{
		AccessToken: signed,
		ExpiresIn:   int64(s.config.Expiry.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateToken parses and validates a JWT access token.
func (s *TokenService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	options := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, options...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if !claims.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown role in token")
	}

	return claims, nil
}

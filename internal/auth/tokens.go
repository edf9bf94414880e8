package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/compliance-tasks/internal/platform/logger"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

// DefaultClockSkew is the leeway applied to time claims.
const DefaultClockSkew = 2 * time.Minute

// Claims is the validated content of a principal token.
type Claims struct {
	PrincipalID int64
	Subject     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	ID          string
}

type principalClaims struct {
	PrincipalID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// TokenService signs and validates principal tokens with HMAC-SHA256.
type TokenService struct {
	signingKey []byte
	timeFunc   func() time.Time
	clockSkew  time.Duration
}

// NewTokenService creates a TokenService for secret.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &TokenService{
		signingKey: []byte(secret),
		timeFunc:   time.Now,
		clockSkew:  DefaultClockSkew,
	}, nil
}

// WithClock returns a copy of s that reads the current time from now.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	c := *s
	c.timeFunc = now
	return &c
}

// Generate issues a token for principal that expires after lifetime.
func (s *TokenService) Generate(ctx context.Context, principal int64, lifetime time.Duration) (string, error) {
	if principal <= 0 {
		return "", fmt.Errorf("principal id must be positive, got %d", principal)
	}
	now := s.timeFunc()
	claims := principalClaims{
		PrincipalID: principal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(principal, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		logger.FromContext(ctx).Error("failed to sign principal token",
			"error", err,
			"principal_id", principal)
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims. Every failure maps to
// ErrExpiredToken, ErrTokenNotYetValid or ErrInvalidToken.
func (s *TokenService) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	log := logger.FromContext(ctx)
	now := s.timeFunc()

	token, err := jwt.ParseWithClaims(
		tokenString,
		&principalClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("token validation failed: expired", "error", err)
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.Debug("token validation failed: not yet valid", "error", err)
			return nil, ErrTokenNotYetValid
		default:
			log.Debug("token validation failed",
				"error", err,
				"error_type", fmt.Sprintf("%T", err))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*principalClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.PrincipalID <= 0 {
		log.Debug("token validation failed: missing principal")
		return nil, ErrInvalidToken
	}

	out := &Claims{
		PrincipalID: claims.PrincipalID,
		Subject:     claims.Subject,
		ID:          claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Package jwt implements token issuance and validation using signed JWTs.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Config contains JWT authenticator configuration.
type Config struct {
	SecretKey     string
	TokenDuration time.Duration
	Issuer        string
}

// Authenticator issues and validates HMAC-signed JWTs carrying the
// technician id as subject and the role as a private claim.
type Authenticator struct {
	config Config
}

// NewAuthenticator creates a new JWT authenticator.
func NewAuthenticator(config Config) *Authenticator {
	if config.TokenDuration == 0 {
		config.TokenDuration = 12 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "dispatch"
	}
	return &Authenticator{config: config}
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken issues a signed token for the technician.
func (a *Authenticator) GenerateToken(_ context.Context, tech *domain.Technician) (string, error) {
	now := time.Now()
	c := claims{
		Role: string(tech.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(tech.ID, 10),
			Issuer:    a.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, returning the technician id
// and role embedded in it.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (int64, domain.Role, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.SecretKey), nil
	},
		jwt.WithIssuer(a.config.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, "", fmt.Errorf("parse token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return 0, "", errors.New("invalid token claims")
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid subject: %w", err)
	}

	return userID, domain.Role(c.Role), nil
}

// TokenDuration returns the configured token lifetime.
func (a *Authenticator) TokenDuration() time.Duration {
	return a.config.TokenDuration
}

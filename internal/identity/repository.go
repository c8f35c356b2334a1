package identity

import (
	"context"
	"errors"

	"github.com/fieldops/dispatch/internal/domain"
)

// Identity errors.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Credentials pairs a technician with their stored password hash.
type Credentials struct {
	Technician   *domain.Technician
	PasswordHash string
}

// Repository defines the data access interface for the identity module.
type Repository interface {
	GetCredentialsByEmail(ctx context.Context, email string) (*Credentials, error)
	GetTechnicianByID(ctx context.Context, id int64) (*domain.Technician, error)
	SetPassword(ctx context.Context, id int64, passwordHash string) error
}

// Authenticator issues and validates access tokens.
type Authenticator interface {
	GenerateToken(ctx context.Context, tech *domain.Technician) (string, error)
	ValidateToken(ctx context.Context, token string) (int64, domain.Role, error)
}

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldops/dispatch/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// Service provides identity business logic.
type Service struct {
	repo Repository
	auth Authenticator
}

// NewService creates a new identity service.
func NewService(repo Repository, auth Authenticator) *Service {
	return &Service{
		repo: repo,
		auth: auth,
	}
}

// LoginInput contains login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult contains the issued token and the authenticated technician.
type LoginResult struct {
	Token      string
	Technician *domain.Technician
}

// Login authenticates a technician and issues an access token.
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	creds, err := s.repo.GetCredentialsByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get credentials: %w", err)
	}

	if !creds.Technician.Active {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.auth.GenerateToken(ctx, creds.Technician)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &LoginResult{Token: token, Technician: creds.Technician}, nil
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	tech, err := s.repo.GetTechnicianByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get technician: %w", err)
	}

	creds, err := s.repo.GetCredentialsByEmail(ctx, tech.Email)
	if err != nil {
		return fmt.Errorf("get credentials: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.repo.SetPassword(ctx, userID, string(hash))
}

// Me returns the technician for an authenticated user id.
func (s *Service) Me(ctx context.Context, userID int64) (*domain.Technician, error) {
	return s.repo.GetTechnicianByID(ctx, userID)
}

// ValidateToken implements httputil.TokenValidator.
func (s *Service) ValidateToken(ctx context.Context, token string) (int64, domain.Role, error) {
	return s.auth.ValidateToken(ctx, token)
}

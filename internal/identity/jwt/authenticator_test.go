package jwt

import (
	"context"
	"testing"
	"time"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	auth := NewAuthenticator(Config{
		SecretKey:     "test-secret",
		TokenDuration: time.Hour,
	})

	tech := &domain.Technician{ID: 42, Role: domain.RoleManager}
	token, err := auth.GenerateToken(context.Background(), tech)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, role, err := auth.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
	assert.Equal(t, domain.RoleManager, role)
}

func TestAuthenticator_WrongKey(t *testing.T) {
	auth := NewAuthenticator(Config{SecretKey: "secret-a", TokenDuration: time.Hour})
	other := NewAuthenticator(Config{SecretKey: "secret-b", TokenDuration: time.Hour})

	token, err := auth.GenerateToken(context.Background(), &domain.Technician{ID: 1, Role: domain.RoleTech})
	require.NoError(t, err)

	_, _, err = other.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestAuthenticator_Expired(t *testing.T) {
	auth := NewAuthenticator(Config{SecretKey: "secret", TokenDuration: -time.Minute})

	token, err := auth.GenerateToken(context.Background(), &domain.Technician{ID: 1, Role: domain.RoleTech})
	require.NoError(t, err)

	_, _, err = auth.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestAuthenticator_Garbage(t *testing.T) {
	auth := NewAuthenticator(Config{SecretKey: "secret", TokenDuration: time.Hour})

	_, _, err := auth.ValidateToken(context.Background(), "not-a-token")
	assert.Error(t, err)
}

// Package postgres provides the PostgreSQL implementation of the identity
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/identity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements identity.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetCredentialsByEmail retrieves a technician and password hash by email.
func (r *Repository) GetCredentialsByEmail(ctx context.Context, email string) (*identity.Credentials, error) {
	query := `
		SELECT id, name, email, phone, role, available, active, site_id, priority,
		       push_token, notifications_enabled, created_at, updated_at,
		       password_hash
		FROM users
		WHERE lower(email) = lower($1)`

	var t domain.Technician
	var hash string
	err := r.db.QueryRow(ctx, query, email).Scan(
		&t.ID,
		&t.Name,
		&t.Email,
		&t.Phone,
		&t.Role,
		&t.Available,
		&t.Active,
		&t.SiteID,
		&t.Priority,
		&t.PushToken,
		&t.NotificationsEnabled,
		&t.CreatedAt,
		&t.UpdatedAt,
		&hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	return &identity.Credentials{Technician: &t, PasswordHash: hash}, nil
}

// GetTechnicianByID retrieves a technician by id.
func (r *Repository) GetTechnicianByID(ctx context.Context, id int64) (*domain.Technician, error) {
	query := `
		SELECT id, name, email, phone, role, available, active, site_id, priority,
		       push_token, notifications_enabled, created_at, updated_at
		FROM users
		WHERE id = $1`

	var t domain.Technician
	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Name,
		&t.Email,
		&t.Phone,
		&t.Role,
		&t.Available,
		&t.Active,
		&t.SiteID,
		&t.Priority,
		&t.PushToken,
		&t.NotificationsEnabled,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get technician: %w", err)
	}

	return &t, nil
}

// SetPassword stores a new password hash for the technician.
func (r *Repository) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

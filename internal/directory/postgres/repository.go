// Package postgres provides the PostgreSQL implementation of the directory
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements directory.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const technicianColumns = `
	id, name, email, phone, role, available, active, site_id, priority, push_token,
	notifications_enabled, created_at, updated_at
`

func scanTechnician(row pgx.Row) (*domain.Technician, error) {
	var t domain.Technician
	err := row.Scan(
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
		return nil, err
	}
	return &t, nil
}

// GetTechnician retrieves a technician by id.
func (r *Repository) GetTechnician(ctx context.Context, id int64) (*domain.Technician, error) {
	query := `SELECT ` + technicianColumns + ` FROM users WHERE id = $1`

	t, err := scanTechnician(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTechnicianNotFound
		}
		return nil, fmt.Errorf("get technician: %w", err)
	}
	return t, nil
}

// ListTechnicians retrieves all technicians ordered by priority.
func (r *Repository) ListTechnicians(ctx context.Context) ([]*domain.Technician, error) {
	query := `SELECT ` + technicianColumns + ` FROM users WHERE role IN ('tech', 'manager') ORDER BY priority, id`

	return r.queryTechnicians(ctx, query)
}

// ListEligible returns active, available technicians for the site in ladder
// order. Technicians without a site affiliation serve every site.
func (r *Repository) ListEligible(ctx context.Context, siteID *string) ([]*domain.Technician, error) {
	query := `
		SELECT ` + technicianColumns + `
		FROM users
		WHERE role IN ('tech', 'manager')
		  AND active
		  AND available
		  AND ($1::text IS NULL OR site_id IS NULL OR site_id = $1)
		ORDER BY priority, id
	`
	return r.queryTechnicians(ctx, query, siteID)
}

// GetSiteLadder returns the configured ladder for a site, keeping only
// technicians that are still active and available.
func (r *Repository) GetSiteLadder(ctx context.Context, siteID string) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT sl.user_id
		FROM site_ladders sl
		JOIN users u ON u.id = sl.user_id
		WHERE sl.site_id = $1 AND u.active AND u.available
		ORDER BY sl.position
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("get site ladder: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ladder entry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetAvailability updates the availability flag.
func (r *Repository) SetAvailability(ctx context.Context, id int64, available bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET available = $2, updated_at = now() WHERE id = $1`,
		id, available,
	)
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTechnicianNotFound
	}
	return nil
}

// SetPushToken stores the push token.
func (r *Repository) SetPushToken(ctx context.Context, id int64, token string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET push_token = $2, updated_at = now() WHERE id = $1`,
		id, token,
	)
	if err != nil {
		return fmt.Errorf("set push token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTechnicianNotFound
	}
	return nil
}

// SetNotificationsEnabled toggles push delivery.
func (r *Repository) SetNotificationsEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET notifications_enabled = $2, updated_at = now() WHERE id = $1`,
		id, enabled,
	)
	if err != nil {
		return fmt.Errorf("set notifications enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTechnicianNotFound
	}
	return nil
}

func (r *Repository) queryTechnicians(ctx context.Context, query string, args ...any) ([]*domain.Technician, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query technicians: %w", err)
	}
	defer rows.Close()

	var techs []*domain.Technician
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, fmt.Errorf("scan technician: %w", err)
		}
		techs = append(techs, t)
	}
	return techs, rows.Err()
}

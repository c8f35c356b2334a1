// Package directory provides technician directory management: availability,
// ladder priority and push-token registration.
package directory

import (
	"context"

	"github.com/fieldops/dispatch/internal/domain"
)

// Repository defines the interface for technician data access.
type Repository interface {
	GetTechnician(ctx context.Context, id int64) (*domain.Technician, error)
	ListTechnicians(ctx context.Context) ([]*domain.Technician, error)
	// ListEligible returns active, available technicians scoped to the site,
	// ordered by ascending priority rank with ties broken by ascending id.
	ListEligible(ctx context.Context, siteID *string) ([]*domain.Technician, error)
	// GetSiteLadder returns the explicit ladder configuration for the site,
	// filtered to technicians still active and available. Empty when the
	// site has no configured ladder.
	GetSiteLadder(ctx context.Context, siteID string) ([]int64, error)

	SetAvailability(ctx context.Context, id int64, available bool) error
	SetPushToken(ctx context.Context, id int64, token string) error
	SetNotificationsEnabled(ctx context.Context, id int64, enabled bool) error
}

package directory

import (
	"context"

	"github.com/fieldops/dispatch/internal/domain"
)

// Service implements technician directory business logic. It is also the
// routing engine's TechnicianDirectory port.
type Service struct {
	repo Repository
}

// NewService creates a new directory service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetTechnician retrieves a technician by id.
func (s *Service) GetTechnician(ctx context.Context, id int64) (*domain.Technician, error) {
	return s.repo.GetTechnician(ctx, id)
}

// ListTechnicians retrieves all technicians.
func (s *Service) ListTechnicians(ctx context.Context) ([]*domain.Technician, error) {
	return s.repo.ListTechnicians(ctx)
}

// ListEligible returns the technicians eligible for ladder resolution.
func (s *Service) ListEligible(ctx context.Context, siteID *string) ([]*domain.Technician, error) {
	return s.repo.ListEligible(ctx, siteID)
}

// GetSiteLadder returns the explicit per-site ladder configuration.
func (s *Service) GetSiteLadder(ctx context.Context, siteID string) ([]int64, error) {
	return s.repo.GetSiteLadder(ctx, siteID)
}

// SetAvailability toggles the technician's availability flag. In-flight
// attempts are unaffected; only future ladder resolutions see the change.
func (s *Service) SetAvailability(ctx context.Context, id int64, available bool) error {
	return s.repo.SetAvailability(ctx, id, available)
}

// RegisterPushToken stores the technician's push token.
func (s *Service) RegisterPushToken(ctx context.Context, id int64, token string) error {
	return s.repo.SetPushToken(ctx, id, token)
}

// SetNotificationsEnabled toggles push delivery for the technician.
func (s *Service) SetNotificationsEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.repo.SetNotificationsEnabled(ctx, id, enabled)
}

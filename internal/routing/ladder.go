package routing

import (
	"context"
	"fmt"

	"github.com/fieldops/dispatch/internal/domain"
)

// LadderResolver computes the ordered list of technicians to contact for an
// incident. An explicit per-site ladder configuration wins; otherwise eligible
// technicians are ordered by ascending priority rank with ties broken by
// ascending id. Resolution is always fresh, never cached.
type LadderResolver struct {
	directory TechnicianDirectory
}

// NewLadderResolver creates a ladder resolver backed by the given directory.
func NewLadderResolver(directory TechnicianDirectory) *LadderResolver {
	return &LadderResolver{directory: directory}
}

// Resolve returns the ordered technician ids for the incident. An empty
// result means zero technicians are eligible; the caller records a
// no_eligible_technicians event and leaves the incident open.
func (r *LadderResolver) Resolve(ctx context.Context, incident *domain.Incident) ([]int64, error) {
	if incident.SiteID != nil {
		ladder, err := r.directory.GetSiteLadder(ctx, *incident.SiteID)
		if err != nil {
			return nil, fmt.Errorf("resolve site ladder: %w", err)
		}
		if len(ladder) > 0 {
			return ladder, nil
		}
	}

	techs, err := r.directory.ListEligible(ctx, incident.SiteID)
	if err != nil {
		return nil, fmt.Errorf("list eligible technicians: %w", err)
	}

	ladder := make([]int64, 0, len(techs))
	for _, t := range techs {
		ladder = append(ladder, t.ID)
	}
	return ladder, nil
}

// NextCandidate returns the first ladder entry not yet attempted in the
// current routing cycle, or false when the ladder is exhausted.
func NextCandidate(ladder []int64, attempted []int64) (int64, bool) {
	tried := make(map[int64]bool, len(attempted))
	for _, id := range attempted {
		tried[id] = true
	}
	for _, id := range ladder {
		if !tried[id] {
			return id, true
		}
	}
	return 0, false
}

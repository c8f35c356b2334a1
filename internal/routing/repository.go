// Package routing implements the incident routing and escalation engine:
// ladder construction, attempt sequencing, timeout scheduling, response
// reconciliation and the incident lifecycle state machine driving it.
package routing

import (
	"context"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for routing state access. All authoritative
// escalation state lives here; the engine keeps nothing in memory across
// restarts.
type Repository interface {
	// Incidents
	GetIncident(ctx context.Context, id int64) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filters IncidentFilters) ([]*domain.Incident, error)

	// Attempts. CreateAttemptTx returns domain.ErrAttemptInFlight when a
	// non-terminal attempt already exists for the incident.
	GetAttempt(ctx context.Context, id int64) (*domain.CallAttempt, error)
	GetActiveAttempt(ctx context.Context, incidentID int64) (*domain.CallAttempt, error)
	ListAttempts(ctx context.Context, incidentID int64) ([]*domain.CallAttempt, error)
	ListCycleTechnicians(ctx context.Context, cycleID uuid.UUID) ([]int64, error)
	SetAttemptProviderRef(ctx context.Context, attemptID int64, ref string) error

	// Timers
	GetTimer(ctx context.Context, incidentID int64) (*domain.EscalationTimer, error)
	FetchDueTimers(ctx context.Context, limit int) ([]*domain.EscalationTimer, error)

	// Events
	ListEvents(ctx context.Context, incidentID int64) ([]*domain.IncidentEvent, error)

	// Transaction support. State mutations and the events recording them are
	// committed atomically.
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error
	SetIncidentStatusTx(ctx context.Context, tx pgx.Tx, id int64, status domain.IncidentStatus) error
	SetAssignmentTx(ctx context.Context, tx pgx.Tx, id int64, userID *int64) error
	SetClosedNotesTx(ctx context.Context, tx pgx.Tx, id int64, notes string) error
	CreateAttemptTx(ctx context.Context, tx pgx.Tx, attempt *domain.CallAttempt) error
	ResolveAttemptTx(ctx context.Context, tx pgx.Tx, attemptID int64, status domain.AttemptStatus) (bool, error)
	ArmTimerTx(ctx context.Context, tx pgx.Tx, timer *domain.EscalationTimer) error
	DisarmTimerTx(ctx context.Context, tx pgx.Tx, incidentID int64) error
	AppendEventTx(ctx context.Context, tx pgx.Tx, event *domain.IncidentEvent) error
}

// IncidentFilters holds filter options for listing incidents.
type IncidentFilters struct {
	Status *domain.IncidentStatus
	Search string
	Limit  int
	Offset int
}

// TechnicianDirectory is the read-side port for ladder participants. Ladder
// resolution reads availability with snapshot semantics; results are never
// cached across an incident's lifetime.
type TechnicianDirectory interface {
	GetTechnician(ctx context.Context, id int64) (*domain.Technician, error)
	// ListEligible returns active, available technicians for the site ordered
	// by ascending priority rank, ties broken by ascending id.
	ListEligible(ctx context.Context, siteID *string) ([]*domain.Technician, error)
	// GetSiteLadder returns the explicit per-site ladder configuration,
	// already filtered to eligible technicians. Empty when not configured.
	GetSiteLadder(ctx context.Context, siteID string) ([]int64, error)
}

// ContactPayload carries the incident context handed to contact ports.
type ContactPayload struct {
	IncidentID  int64
	AttemptID   int64
	BuildingID  string
	Description string
	Priority    domain.IncidentPriority
}

// Notifier is the push contact port. Delivery is fire-and-forget: failures
// are swallowed and timeout-driven escalation is the recovery path.
type Notifier interface {
	NotifyTechnician(ctx context.Context, tech *domain.Technician, payload ContactPayload) error
}

// Telephony is the voice contact port. PlaceCall returns a provider call
// reference so call-status webhooks can be reconciled to the attempt.
type Telephony interface {
	PlaceCall(ctx context.Context, tech *domain.Technician, payload ContactPayload) (string, error)
}

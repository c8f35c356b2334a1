// Package postgres provides the PostgreSQL implementation of the routing
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/routing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository implements routing.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// BeginTx starts a new transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const incidentColumns = `
	id, building_id, site_id, source, description, priority, status,
	assigned_user_id, created_by_user_id, caller_id, closed_notes,
	created_at, updated_at
`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.BuildingID,
		&inc.SiteID,
		&inc.Source,
		&inc.Description,
		&inc.Priority,
		&inc.Status,
		&inc.AssignedUserID,
		&inc.CreatedByUserID,
		&inc.CallerID,
		&inc.ClosedNotes,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// CreateIncidentTx inserts a new incident.
func (r *Repository) CreateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			building_id, site_id, source, description, priority, status,
			created_by_user_id, caller_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		incident.BuildingID,
		incident.SiteID,
		incident.Source,
		incident.Description,
		incident.Priority,
		incident.Status,
		incident.CreatedByUserID,
		incident.CallerID,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by id.
func (r *Repository) GetIncident(ctx context.Context, id int64) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// ListIncidents retrieves incidents with optional filters, newest first.
func (r *Repository) ListIncidents(ctx context.Context, filters routing.IncidentFilters) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filters.Status)
		argNum++
	}
	if filters.Search != "" {
		query += fmt.Sprintf(" AND (lower(building_id) LIKE $%d OR lower(description) LIKE $%d)", argNum, argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// SetIncidentStatusTx updates the incident status.
func (r *Repository) SetIncidentStatusTx(ctx context.Context, tx pgx.Tx, id int64, status domain.IncidentStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE incidents SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("set incident status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIncidentNotFound
	}
	return nil
}

// SetAssignmentTx sets or clears the assigned technician.
func (r *Repository) SetAssignmentTx(ctx context.Context, tx pgx.Tx, id int64, userID *int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE incidents SET assigned_user_id = $2, updated_at = now() WHERE id = $1`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("set assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIncidentNotFound
	}
	return nil
}

// SetClosedNotesTx stores closure notes.
func (r *Repository) SetClosedNotesTx(ctx context.Context, tx pgx.Tx, id int64, notes string) error {
	if _, err := tx.Exec(ctx,
		`UPDATE incidents SET closed_notes = $2, updated_at = now() WHERE id = $1`,
		id, notes,
	); err != nil {
		return fmt.Errorf("set closed notes: %w", err)
	}
	return nil
}

const attemptColumns = `
	id, incident_id, technician_id, cycle_id, step, channel, status,
	provider_ref, initiated_at, resolved_at
`

func scanAttempt(row pgx.Row) (*domain.CallAttempt, error) {
	var a domain.CallAttempt
	err := row.Scan(
		&a.ID,
		&a.IncidentID,
		&a.TechnicianID,
		&a.CycleID,
		&a.Step,
		&a.Channel,
		&a.Status,
		&a.ProviderRef,
		&a.InitiatedAt,
		&a.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAttemptTx inserts an initiated call attempt. The partial unique index
// on (incident_id) WHERE status = 'initiated' enforces at-most-one-in-flight;
// a violation maps to domain.ErrAttemptInFlight.
func (r *Repository) CreateAttemptTx(ctx context.Context, tx pgx.Tx, attempt *domain.CallAttempt) error {
	query := `
		INSERT INTO call_attempts (incident_id, technician_id, cycle_id, step, channel, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, initiated_at
	`
	err := tx.QueryRow(ctx, query,
		attempt.IncidentID,
		attempt.TechnicianID,
		attempt.CycleID,
		attempt.Step,
		attempt.Channel,
		attempt.Status,
	).Scan(&attempt.ID, &attempt.InitiatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAttemptInFlight
		}
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by id.
func (r *Repository) GetAttempt(ctx context.Context, id int64) (*domain.CallAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM call_attempts WHERE id = $1`

	a, err := scanAttempt(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// GetActiveAttempt retrieves the incident's non-terminal attempt, if any.
func (r *Repository) GetActiveAttempt(ctx context.Context, incidentID int64) (*domain.CallAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM call_attempts WHERE incident_id = $1 AND status = 'initiated'`

	a, err := scanAttempt(r.db.QueryRow(ctx, query, incidentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get active attempt: %w", err)
	}
	return a, nil
}

// ListAttempts retrieves the incident's attempts in ladder order.
func (r *Repository) ListAttempts(ctx context.Context, incidentID int64) ([]*domain.CallAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM call_attempts WHERE incident_id = $1 ORDER BY initiated_at, id`

	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.CallAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListCycleTechnicians returns the technicians already attempted in a
// routing cycle.
func (r *Repository) ListCycleTechnicians(ctx context.Context, cycleID uuid.UUID) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT technician_id FROM call_attempts WHERE cycle_id = $1 ORDER BY step`,
		cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cycle technicians: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan technician id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResolveAttemptTx conditionally transitions an initiated attempt to a
// terminal status. Returns false when the attempt is already terminal: the
// first terminal response wins and later ones never rewrite history.
func (r *Repository) ResolveAttemptTx(ctx context.Context, tx pgx.Tx, attemptID int64, status domain.AttemptStatus) (bool, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE call_attempts SET status = $2, resolved_at = now() WHERE id = $1 AND status = 'initiated'`,
		attemptID, status,
	)
	if err != nil {
		return false, fmt.Errorf("resolve attempt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetAttemptProviderRef stores the telephony provider's call reference.
func (r *Repository) SetAttemptProviderRef(ctx context.Context, attemptID int64, ref string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE call_attempts SET provider_ref = $2 WHERE id = $1`,
		attemptID, ref,
	)
	if err != nil {
		return fmt.Errorf("set provider ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

// ArmTimerTx upserts the incident's escalation timer. The primary key on
// incident_id guarantees exactly one timer per incident.
func (r *Repository) ArmTimerTx(ctx context.Context, tx pgx.Tx, timer *domain.EscalationTimer) error {
	query := `
		INSERT INTO escalation_timers (incident_id, cycle_id, step, fires_at, armed, ladder)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (incident_id) DO UPDATE
		SET cycle_id = EXCLUDED.cycle_id,
		    step = EXCLUDED.step,
		    fires_at = EXCLUDED.fires_at,
		    armed = EXCLUDED.armed,
		    ladder = EXCLUDED.ladder
	`
	if _, err := tx.Exec(ctx, query,
		timer.IncidentID,
		timer.CycleID,
		timer.Step,
		timer.FiresAt,
		timer.Armed,
		timer.Ladder,
	); err != nil {
		return fmt.Errorf("arm timer: %w", err)
	}
	return nil
}

// DisarmTimerTx cancels the incident's pending timer. Best-effort by design:
// a fire already in flight is caught by the engine's re-validation.
func (r *Repository) DisarmTimerTx(ctx context.Context, tx pgx.Tx, incidentID int64) error {
	if _, err := tx.Exec(ctx,
		`UPDATE escalation_timers SET armed = false WHERE incident_id = $1`,
		incidentID,
	); err != nil {
		return fmt.Errorf("disarm timer: %w", err)
	}
	return nil
}

// GetTimer retrieves the incident's timer row.
func (r *Repository) GetTimer(ctx context.Context, incidentID int64) (*domain.EscalationTimer, error) {
	var t domain.EscalationTimer
	err := r.db.QueryRow(ctx,
		`SELECT incident_id, cycle_id, step, fires_at, armed, ladder FROM escalation_timers WHERE incident_id = $1`,
		incidentID,
	).Scan(&t.IncidentID, &t.CycleID, &t.Step, &t.FiresAt, &t.Armed, &t.Ladder)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTimerNotFound
		}
		return nil, fmt.Errorf("get timer: %w", err)
	}
	return &t, nil
}

// FetchDueTimers retrieves armed timers whose fire time has passed.
func (r *Repository) FetchDueTimers(ctx context.Context, limit int) ([]*domain.EscalationTimer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT incident_id, cycle_id, step, fires_at, armed, ladder
		FROM escalation_timers
		WHERE armed AND fires_at <= now()
		ORDER BY fires_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due timers: %w", err)
	}
	defer rows.Close()

	var timers []*domain.EscalationTimer
	for rows.Next() {
		var t domain.EscalationTimer
		if err := rows.Scan(&t.IncidentID, &t.CycleID, &t.Step, &t.FiresAt, &t.Armed, &t.Ladder); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		timers = append(timers, &t)
	}
	return timers, rows.Err()
}

// AppendEventTx appends an audit event.
func (r *Repository) AppendEventTx(ctx context.Context, tx pgx.Tx, event *domain.IncidentEvent) error {
	query := `
		INSERT INTO incident_events (incident_id, type, user_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query,
		event.IncidentID,
		event.Type,
		event.UserID,
		event.Payload,
	).Scan(&event.ID, &event.CreatedAt)

	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents retrieves the incident's audit trail in append order.
func (r *Repository) ListEvents(ctx context.Context, incidentID int64) ([]*domain.IncidentEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, incident_id, type, user_id, payload, created_at FROM incident_events WHERE incident_id = $1 ORDER BY id`,
		incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*domain.IncidentEvent
	for rows.Next() {
		var e domain.IncidentEvent
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.Type, &e.UserID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

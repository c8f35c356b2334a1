package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/text/cases"
)

// Config contains routing engine configuration.
type Config struct {
	// ResponseWindow is how long a technician has to respond before the
	// ladder escalates. Fixed per step; no backoff, the ladder itself is the
	// retry progression.
	ResponseWindow time.Duration
	// RefreshLadderPerStep controls whether the ladder is re-resolved before
	// every escalation step (picking up availability changes) or pinned to
	// the snapshot taken when routing started.
	RefreshLadderPerStep bool
	// ContactTimeout bounds a single outbound contact call.
	ContactTimeout time.Duration
}

// DefaultConfig returns default routing configuration.
func DefaultConfig() Config {
	return Config{
		ResponseWindow:       90 * time.Second,
		RefreshLadderPerStep: true,
		ContactTimeout:       15 * time.Second,
	}
}

// Service is the routing engine orchestrator. All mutating operations for a
// given incident execute under a per-incident lock; operations on different
// incidents run in parallel.
type Service struct {
	repo      Repository
	directory TechnicianDirectory
	ladder    *LadderResolver
	notifier  Notifier
	telephony Telephony
	config    Config
	locks     *incidentLocks
}

// NewService creates a new routing engine.
func NewService(repo Repository, directory TechnicianDirectory, notifier Notifier, telephony Telephony, config Config) *Service {
	if config.ResponseWindow <= 0 {
		config.ResponseWindow = DefaultConfig().ResponseWindow
	}
	if config.ContactTimeout <= 0 {
		config.ContactTimeout = DefaultConfig().ContactTimeout
	}
	return &Service{
		repo:      repo,
		directory: directory,
		ladder:    NewLadderResolver(directory),
		notifier:  notifier,
		telephony: telephony,
		config:    config,
		locks:     newIncidentLocks(),
	}
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	BuildingID      string
	SiteID          *string
	Source          domain.IncidentSource
	Description     string
	Priority        domain.IncidentPriority
	CreatedByUserID *int64
	CallerID        *string
}

// CreateIncident inserts an open incident and records incident_created.
// Routing is not started here; callers invoke StartRouting separately.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (*domain.Incident, error) {
	if !input.Source.IsValid() {
		return nil, fmt.Errorf("invalid incident source: %s", input.Source)
	}
	if input.Priority == "" {
		input.Priority = domain.IncidentPriorityMedium
	}
	if !input.Priority.IsValid() {
		return nil, fmt.Errorf("invalid incident priority: %s", input.Priority)
	}

	incident := &domain.Incident{
		BuildingID:      input.BuildingID,
		SiteID:          input.SiteID,
		Source:          input.Source,
		Description:     input.Description,
		Priority:        input.Priority,
		Status:          domain.IncidentStatusOpen,
		CreatedByUserID: input.CreatedByUserID,
		CallerID:        input.CallerID,
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := s.repo.CreateIncidentTx(ctx, tx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	if err := s.appendEvent(ctx, tx, incident.ID, input.CreatedByUserID, domain.IncidentCreatedPayload{
		BuildingID: incident.BuildingID,
		Source:     incident.Source,
		CallerID:   incident.CallerID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	recordIncidentCreated(string(incident.Source))
	return incident, nil
}

// StartRouting begins the escalation ladder for the incident. Idempotent: if
// a non-terminal attempt already exists, or the incident is assigned or
// closed, the call is a no-op.
func (s *Service) StartRouting(ctx context.Context, incidentID int64, byUserID *int64) error {
	unlock := s.locks.Lock(incidentID)
	defer unlock()

	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}

	return s.startRoutingLocked(ctx, incident, byUserID)
}

// startRoutingLocked runs the step-0 logic. Caller holds the incident lock.
func (s *Service) startRoutingLocked(ctx context.Context, incident *domain.Incident, byUserID *int64) error {
	if incident.Status.IsTerminal() || incident.IsAssigned() {
		slog.Debug("routing not started: incident halted",
			"incident_id", incident.ID,
			"status", incident.Status,
			"assigned", incident.IsAssigned(),
		)
		return nil
	}

	if _, err := s.repo.GetActiveAttempt(ctx, incident.ID); err == nil {
		// At most one active ladder traversal per incident.
		return nil
	} else if !errors.Is(err, domain.ErrAttemptNotFound) {
		return err
	}

	ladder, err := s.ladder.Resolve(ctx, incident)
	if err != nil {
		return err
	}

	if len(ladder) == 0 {
		if err := s.appendEventTx(ctx, incident.ID, byUserID, domain.NoEligibleTechniciansPayload{SiteID: incident.SiteID}); err != nil {
			return err
		}
		slog.Warn("no eligible technicians, incident left open", "incident_id", incident.ID)
		recordNoEligibleTechnicians()
		return nil
	}

	cycleID := uuid.New()
	next, _ := NextCandidate(ladder, nil)
	return s.beginStep(ctx, incident, cycleID, 0, next, ladder, nil, byUserID)
}

// beginStep records one call attempt, arms the escalation timer and fires the
// contact call. The attempt and timer are committed before contact is made:
// a failed outbound contact is recovered by the timeout, never surfaced.
func (s *Service) beginStep(ctx context.Context, incident *domain.Incident, cycleID uuid.UUID, step int, technicianID int64, ladder []int64, pre []domain.EventPayload, byUserID *int64) error {
	tech, err := s.directory.GetTechnician(ctx, technicianID)
	if err != nil {
		return fmt.Errorf("get technician %d: %w", technicianID, err)
	}

	channel := domain.AttemptChannelVoice
	if tech.Contactable() {
		channel = domain.AttemptChannelPush
	}

	attempt := &domain.CallAttempt{
		IncidentID:   incident.ID,
		TechnicianID: tech.ID,
		CycleID:      cycleID,
		Step:         step,
		Channel:      channel,
		Status:       domain.AttemptStatusInitiated,
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	for _, p := range pre {
		if err := s.appendEvent(ctx, tx, incident.ID, byUserID, p); err != nil {
			return err
		}
	}

	if err := s.repo.CreateAttemptTx(ctx, tx, attempt); err != nil {
		if errors.Is(err, domain.ErrAttemptInFlight) {
			// Another traversal won the race; treat as the idempotent no-op.
			return nil
		}
		return fmt.Errorf("create attempt: %w", err)
	}

	var snapshot []int64
	if !s.config.RefreshLadderPerStep {
		snapshot = ladder
	}

	timer := &domain.EscalationTimer{
		IncidentID: incident.ID,
		CycleID:    cycleID,
		Step:       step,
		FiresAt:    attempt.InitiatedAt.Add(s.config.ResponseWindow),
		Armed:      true,
		Ladder:     snapshot,
	}
	if err := s.repo.ArmTimerTx(ctx, tx, timer); err != nil {
		return fmt.Errorf("arm timer: %w", err)
	}

	if err := s.appendEvent(ctx, tx, incident.ID, byUserID, domain.AttemptStartedPayload{
		AttemptID:    attempt.ID,
		TechnicianID: tech.ID,
		CycleID:      cycleID,
		Step:         step,
		Channel:      channel,
		WindowSecs:   int(s.config.ResponseWindow.Seconds()),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("attempt started",
		"incident_id", incident.ID,
		"attempt_id", attempt.ID,
		"technician_id", tech.ID,
		"step", step,
		"channel", channel,
	)
	recordAttemptStarted(string(channel))

	// Contact outside the per-incident critical section.
	go s.contact(tech, attempt, incident)

	return nil
}

// contact invokes the channel's contact port. Failures are logged and
// swallowed: the armed timer governs escalation either way.
func (s *Service) contact(tech *domain.Technician, attempt *domain.CallAttempt, incident *domain.Incident) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ContactTimeout)
	defer cancel()

	payload := ContactPayload{
		IncidentID:  incident.ID,
		AttemptID:   attempt.ID,
		BuildingID:  incident.BuildingID,
		Description: incident.Description,
		Priority:    incident.Priority,
	}

	switch attempt.Channel {
	case domain.AttemptChannelPush:
		if err := s.notifier.NotifyTechnician(ctx, tech, payload); err != nil {
			slog.Warn("push contact failed, relying on escalation timeout",
				"incident_id", incident.ID,
				"attempt_id", attempt.ID,
				"error", err,
			)
			recordContactFailure("push")
		}
	case domain.AttemptChannelVoice:
		ref, err := s.telephony.PlaceCall(ctx, tech, payload)
		if err != nil {
			slog.Warn("voice contact failed, relying on escalation timeout",
				"incident_id", incident.ID,
				"attempt_id", attempt.ID,
				"error", err,
			)
			recordContactFailure("voice")
			return
		}
		if ref == "" {
			// A disabled client reports success with no call id.
			return
		}
		if err := s.repo.SetAttemptProviderRef(ctx, attempt.ID, ref); err != nil {
			slog.Error("failed to store provider call ref",
				"attempt_id", attempt.ID,
				"error", err,
			)
		}
	}
}

// HandleResponse reconciles a terminal technician response (mobile accept or
// decline, telephony callback) against the attempt. The first terminal
// response wins; a later conflicting one is recorded as a stale_response
// event and never errors the responding channel.
func (s *Service) HandleResponse(ctx context.Context, incidentID, attemptID int64, outcome domain.AttemptOutcome, byUserID *int64) error {
	if !outcome.IsValid() {
		return fmt.Errorf("invalid attempt outcome: %s", outcome)
	}

	unlock := s.locks.Lock(incidentID)
	defer unlock()

	attempt, err := s.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if attempt.IncidentID != incidentID {
		return fmt.Errorf("attempt %d: %w", attemptID, domain.ErrAttemptNotFound)
	}

	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}

	// Ladder snapshot for the non-refreshing mode; read before mutating.
	var snapshot []int64
	if timer, err := s.repo.GetTimer(ctx, incidentID); err == nil && timer.CycleID == attempt.CycleID {
		snapshot = timer.Ladder
	}

	status := outcome.Status()

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	updated, err := s.repo.ResolveAttemptTx(ctx, tx, attemptID, status)
	if err != nil {
		return fmt.Errorf("resolve attempt: %w", err)
	}

	if !updated {
		return s.recordStaleResponse(ctx, attempt, outcome)
	}

	if err := s.repo.DisarmTimerTx(ctx, tx, incidentID); err != nil {
		return fmt.Errorf("disarm timer: %w", err)
	}

	if err := s.appendEvent(ctx, tx, incidentID, byUserID, domain.AttemptResolvedPayload{
		Type:         eventTypeForAttemptStatus(status),
		AttemptID:    attemptID,
		TechnicianID: attempt.TechnicianID,
		Step:         attempt.Step,
		Status:       status,
	}); err != nil {
		return err
	}

	if outcome == domain.AttemptOutcomeAccepted {
		if !incident.Status.CanTransitionTo(domain.IncidentStatusEnRoute) {
			slog.Error("acceptance rejected by state machine",
				"incident_id", incidentID,
				"status", incident.Status,
			)
			return fmt.Errorf("accept incident %d in status %s: %w", incidentID, incident.Status, domain.ErrInvalidTransition)
		}

		if err := s.repo.SetAssignmentTx(ctx, tx, incidentID, &attempt.TechnicianID); err != nil {
			return fmt.Errorf("set assignment: %w", err)
		}
		if err := s.repo.SetIncidentStatusTx(ctx, tx, incidentID, domain.IncidentStatusEnRoute); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if err := s.appendEvent(ctx, tx, incidentID, byUserID, domain.StatusChangedPayload{
			From: incident.Status,
			To:   domain.IncidentStatusEnRoute,
		}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}

		slog.Info("incident accepted",
			"incident_id", incidentID,
			"technician_id", attempt.TechnicianID,
			"step", attempt.Step,
		)
		recordAttemptOutcome(string(status))
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	recordAttemptOutcome(string(status))

	return s.advance(ctx, incident, attempt.CycleID, attempt.Step, snapshot, byUserID)
}

// recordStaleResponse appends the informational event for a response that
// lost the race. Same-outcome duplicates are silent no-ops.
func (s *Service) recordStaleResponse(ctx context.Context, attempt *domain.CallAttempt, outcome domain.AttemptOutcome) error {
	current, err := s.repo.GetAttempt(ctx, attempt.ID)
	if err != nil {
		return err
	}

	if current.Status == outcome.Status() {
		return nil
	}

	slog.Info("stale response ignored",
		"incident_id", attempt.IncidentID,
		"attempt_id", attempt.ID,
		"reported", outcome,
		"recorded", current.Status,
	)
	recordStaleResponse()

	return s.appendEventTx(ctx, attempt.IncidentID, nil, domain.StaleResponsePayload{
		AttemptID:       attempt.ID,
		ReportedOutcome: outcome,
		RecordedStatus:  current.Status,
	})
}

// advance moves the ladder to the next step, or records exhaustion when no
// candidate remains. Caller holds the incident lock.
func (s *Service) advance(ctx context.Context, incident *domain.Incident, cycleID uuid.UUID, fromStep int, snapshot []int64, byUserID *int64) error {
	ladder := snapshot
	if s.config.RefreshLadderPerStep || len(ladder) == 0 {
		fresh, err := s.ladder.Resolve(ctx, incident)
		if err != nil {
			return err
		}
		ladder = fresh
	}

	attempted, err := s.repo.ListCycleTechnicians(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("list cycle technicians: %w", err)
	}

	next, ok := NextCandidate(ladder, attempted)
	if !ok {
		if err := s.appendEventTx(ctx, incident.ID, byUserID, domain.LadderExhaustedPayload{
			CycleID:    cycleID,
			StepsTried: len(attempted),
		}); err != nil {
			return err
		}
		slog.Warn("ladder exhausted, incident left open for manual assignment",
			"incident_id", incident.ID,
			"steps_tried", len(attempted),
		)
		recordLadderExhausted()
		return nil
	}

	recordEscalation()
	pre := []domain.EventPayload{domain.EscalatedPayload{
		CycleID:  cycleID,
		FromStep: fromStep,
		ToStep:   fromStep + 1,
	}}
	return s.beginStep(ctx, incident, cycleID, fromStep+1, next, ladder, pre, byUserID)
}

// HandleTimerFire processes a due escalation timer. Timers are not
// transactionally linked to responses, so the authoritative state is re-read
// under the incident lock; a timer made stale by a response is a no-op.
func (s *Service) HandleTimerFire(ctx context.Context, fired *domain.EscalationTimer) error {
	unlock := s.locks.Lock(fired.IncidentID)
	defer unlock()

	timer, err := s.repo.GetTimer(ctx, fired.IncidentID)
	if err != nil {
		if errors.Is(err, domain.ErrTimerNotFound) {
			return nil
		}
		return err
	}
	if !timer.Armed || timer.Step != fired.Step || timer.CycleID != fired.CycleID {
		recordTimerFire("stale")
		return nil
	}

	incident, err := s.repo.GetIncident(ctx, fired.IncidentID)
	if err != nil {
		return err
	}
	if incident.Status.IsTerminal() || incident.IsAssigned() {
		recordTimerFire("stale")
		return s.disarmOnly(ctx, fired.IncidentID)
	}

	attempt, err := s.repo.GetActiveAttempt(ctx, fired.IncidentID)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptNotFound) {
			recordTimerFire("stale")
			return s.disarmOnly(ctx, fired.IncidentID)
		}
		return err
	}
	if attempt.Step != timer.Step || attempt.CycleID != timer.CycleID {
		recordTimerFire("stale")
		return nil
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	updated, err := s.repo.ResolveAttemptTx(ctx, tx, attempt.ID, domain.AttemptStatusExpired)
	if err != nil {
		return fmt.Errorf("expire attempt: %w", err)
	}
	if !updated {
		// A response landed between the reads above and this update.
		recordTimerFire("stale")
		return nil
	}

	if err := s.repo.DisarmTimerTx(ctx, tx, fired.IncidentID); err != nil {
		return fmt.Errorf("disarm timer: %w", err)
	}

	if err := s.appendEvent(ctx, tx, fired.IncidentID, nil, domain.AttemptResolvedPayload{
		Type:         domain.EventTypeAttemptTimedOut,
		AttemptID:    attempt.ID,
		TechnicianID: attempt.TechnicianID,
		Step:         attempt.Step,
		Status:       domain.AttemptStatusExpired,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("attempt timed out",
		"incident_id", fired.IncidentID,
		"attempt_id", attempt.ID,
		"step", attempt.Step,
	)
	recordTimerFire("advanced")
	recordAttemptOutcome(string(domain.AttemptStatusExpired))

	return s.advance(ctx, incident, attempt.CycleID, attempt.Step, timer.Ladder, nil)
}

func (s *Service) disarmOnly(ctx context.Context, incidentID int64) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := s.repo.DisarmTimerTx(ctx, tx, incidentID); err != nil {
		return fmt.Errorf("disarm timer: %w", err)
	}
	return tx.Commit(ctx)
}

// AssignIncident is the manual override: it always wins over an in-progress
// automated ladder. Any in-flight attempt is expired and the timer disarmed.
func (s *Service) AssignIncident(ctx context.Context, incidentID, technicianID int64, assignedBy *int64) error {
	unlock := s.locks.Lock(incidentID)
	defer unlock()

	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if incident.Status.IsTerminal() {
		return fmt.Errorf("assign incident %d in status %s: %w", incidentID, incident.Status, domain.ErrInvalidTransition)
	}

	if _, err := s.directory.GetTechnician(ctx, technicianID); err != nil {
		return err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := s.expireActiveAttemptTx(ctx, tx, incidentID); err != nil {
		return err
	}
	if err := s.repo.DisarmTimerTx(ctx, tx, incidentID); err != nil {
		return fmt.Errorf("disarm timer: %w", err)
	}
	if err := s.repo.SetAssignmentTx(ctx, tx, incidentID, &technicianID); err != nil {
		return fmt.Errorf("set assignment: %w", err)
	}

	if incident.Status == domain.IncidentStatusOpen {
		if err := s.repo.SetIncidentStatusTx(ctx, tx, incidentID, domain.IncidentStatusEnRoute); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if err := s.appendEvent(ctx, tx, incidentID, assignedBy, domain.StatusChangedPayload{
			From: incident.Status,
			To:   domain.IncidentStatusEnRoute,
		}); err != nil {
			return err
		}
	}

	if err := s.appendEvent(ctx, tx, incidentID, assignedBy, domain.ManualActionPayload{
		Type:         domain.EventTypeManuallyAssigned,
		TechnicianID: &technicianID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("incident manually assigned",
		"incident_id", incidentID,
		"technician_id", technicianID,
	)
	return nil
}

// ManualEscalate clears the assignment context and restarts the ladder from
// step 0 as a new routing cycle.
func (s *Service) ManualEscalate(ctx context.Context, incidentID int64, byUserID *int64) error {
	unlock := s.locks.Lock(incidentID)
	defer unlock()

	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if incident.Status.IsTerminal() {
		return fmt.Errorf("escalate incident %d in status %s: %w", incidentID, incident.Status, domain.ErrInvalidTransition)
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := s.expireActiveAttemptTx(ctx, tx, incidentID); err != nil {
		return err
	}
	if err := s.repo.DisarmTimerTx(ctx, tx, incidentID); err != nil {
		return fmt.Errorf("disarm timer: %w", err)
	}
	if incident.IsAssigned() {
		if err := s.repo.SetAssignmentTx(ctx, tx, incidentID, nil); err != nil {
			return fmt.Errorf("clear assignment: %w", err)
		}
	}
	if incident.Status != domain.IncidentStatusOpen {
		if err := s.repo.SetIncidentStatusTx(ctx, tx, incidentID, domain.IncidentStatusOpen); err != nil {
			return fmt.Errorf("reset status: %w", err)
		}
		if err := s.appendEvent(ctx, tx, incidentID, byUserID, domain.StatusChangedPayload{
			From: incident.Status,
			To:   domain.IncidentStatusOpen,
		}); err != nil {
			return err
		}
	}
	if err := s.appendEvent(ctx, tx, incidentID, byUserID, domain.ManualActionPayload{
		Type: domain.EventTypeManuallyEscalated,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	incident.Status = domain.IncidentStatusOpen
	incident.AssignedUserID = nil

	return s.startRoutingLocked(ctx, incident, byUserID)
}

// CloseInput holds data for closing an incident.
type CloseInput struct {
	Notes            string
	FollowUpRequired bool
	ClosedByUserID   *int64
}

// CloseIncident transitions the incident to resolved or follow_up_required.
// Valid only from open, en_route or on_site.
func (s *Service) CloseIncident(ctx context.Context, incidentID int64, input CloseInput) error {
	target := domain.IncidentStatusResolved
	if input.FollowUpRequired {
		target = domain.IncidentStatusFollowUpRequired
	}

	unlock := s.locks.Lock(incidentID)
	defer unlock()

	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if !incident.Status.CanTransitionTo(target) {
		slog.Warn("close rejected by state machine",
			"incident_id", incidentID,
			"from", incident.Status,
			"to", target,
		)
		return fmt.Errorf("close incident %d from %s to %s: %w", incidentID, incident.Status, target, domain.ErrInvalidTransition)
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := s.expireActiveAttemptTx(ctx, tx, incidentID); err != nil {
		return err
	}
	if err := s.repo.DisarmTimerTx(ctx, tx, incidentID); err != nil {
		return fmt.Errorf("disarm timer: %w", err)
	}
	if err := s.repo.SetIncidentStatusTx(ctx, tx, incidentID, target); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if input.Notes != "" {
		if err := s.repo.SetClosedNotesTx(ctx, tx, incidentID, input.Notes); err != nil {
			return fmt.Errorf("set closed notes: %w", err)
		}
	}

	if err := s.appendEvent(ctx, tx, incidentID, input.ClosedByUserID, domain.StatusChangedPayload{
		From: incident.Status,
		To:   target,
	}); err != nil {
		return err
	}
	if err := s.appendEvent(ctx, tx, incidentID, input.ClosedByUserID, domain.ClosedPayload{
		Outcome:          target,
		Notes:            input.Notes,
		FollowUpRequired: input.FollowUpRequired,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("incident closed", "incident_id", incidentID, "outcome", target)
	recordIncidentClosed(string(target))
	return nil
}

// expireActiveAttemptTx marks the in-flight attempt expired, if one exists.
func (s *Service) expireActiveAttemptTx(ctx context.Context, tx pgx.Tx, incidentID int64) error {
	attempt, err := s.repo.GetActiveAttempt(ctx, incidentID)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptNotFound) {
			return nil
		}
		return err
	}

	if _, err := s.repo.ResolveAttemptTx(ctx, tx, attempt.ID, domain.AttemptStatusExpired); err != nil {
		return fmt.Errorf("expire attempt: %w", err)
	}

	return s.appendEvent(ctx, tx, incidentID, nil, domain.AttemptResolvedPayload{
		Type:         domain.EventTypeAttemptTimedOut,
		AttemptID:    attempt.ID,
		TechnicianID: attempt.TechnicianID,
		Step:         attempt.Step,
		Status:       domain.AttemptStatusExpired,
	})
}

// GetIncident retrieves an incident by id.
func (s *Service) GetIncident(ctx context.Context, id int64) (*domain.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}

// ListIncidents retrieves incidents with optional filters. The search term
// is case-folded so building ids and descriptions match case-insensitively.
func (s *Service) ListIncidents(ctx context.Context, filters IncidentFilters) ([]*domain.Incident, error) {
	if filters.Search != "" {
		filters.Search = cases.Fold().String(filters.Search)
	}
	return s.repo.ListIncidents(ctx, filters)
}

// ListEvents retrieves the incident's audit trail.
func (s *Service) ListEvents(ctx context.Context, incidentID int64) ([]*domain.IncidentEvent, error) {
	return s.repo.ListEvents(ctx, incidentID)
}

// ListAttempts retrieves the incident's call attempts.
func (s *Service) ListAttempts(ctx context.Context, incidentID int64) ([]*domain.CallAttempt, error) {
	return s.repo.ListAttempts(ctx, incidentID)
}

// appendEvent appends a typed event within the transaction.
func (s *Service) appendEvent(ctx context.Context, tx pgx.Tx, incidentID int64, userID *int64, payload domain.EventPayload) error {
	event, err := domain.NewIncidentEvent(incidentID, userID, payload)
	if err != nil {
		return err
	}
	if err := s.repo.AppendEventTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append %s event: %w", payload.EventType(), err)
	}
	return nil
}

// appendEventTx appends a single event in its own transaction.
func (s *Service) appendEventTx(ctx context.Context, incidentID int64, userID *int64, payload domain.EventPayload) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := s.appendEvent(ctx, tx, incidentID, userID, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func eventTypeForAttemptStatus(status domain.AttemptStatus) domain.EventType {
	switch status {
	case domain.AttemptStatusAccepted:
		return domain.EventTypeAttemptAccepted
	case domain.AttemptStatusDeclined:
		return domain.EventTypeAttemptDeclined
	default:
		return domain.EventTypeAttemptTimedOut
	}
}

// rollback rolls back unless the transaction already committed.
func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}

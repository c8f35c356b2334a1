package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of an incident event.
type EventType string

// Incident event types. The event log is append-only and is the sole audit
// trail for reconstructing ladder state after a restart.
const (
	EventTypeIncidentCreated       EventType = "incident_created"
	EventTypeAttemptStarted        EventType = "attempt_started"
	EventTypeAttemptAccepted       EventType = "attempt_accepted"
	EventTypeAttemptDeclined       EventType = "attempt_declined"
	EventTypeAttemptTimedOut       EventType = "attempt_timed_out"
	EventTypeEscalated             EventType = "escalated"
	EventTypeManuallyAssigned      EventType = "manually_assigned"
	EventTypeManuallyEscalated     EventType = "manually_escalated"
	EventTypeStatusChanged         EventType = "status_changed"
	EventTypeClosed                EventType = "closed"
	EventTypeNoEligibleTechnicians EventType = "no_eligible_technicians"
	EventTypeLadderExhausted       EventType = "ladder_exhausted"
	EventTypeStaleResponse         EventType = "stale_response"
)

// IncidentEvent is one append-only audit record.
type IncidentEvent struct {
	ID         int64           `json:"id"`
	IncidentID int64           `json:"incident_id"`
	Type       EventType       `json:"type"`
	UserID     *int64          `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EventPayload is the tagged union of structured event payloads, keyed by
// the event type each variant reports.
type EventPayload interface {
	EventType() EventType
}

// IncidentCreatedPayload describes the trigger that opened the incident.
type IncidentCreatedPayload struct {
	BuildingID string         `json:"building_id"`
	Source     IncidentSource `json:"source"`
	CallerID   *string        `json:"caller_id,omitempty"`
}

// AttemptStartedPayload records a new call attempt.
type AttemptStartedPayload struct {
	AttemptID    int64          `json:"attempt_id"`
	TechnicianID int64          `json:"technician_id"`
	CycleID      uuid.UUID      `json:"cycle_id"`
	Step         int            `json:"step"`
	Channel      AttemptChannel `json:"channel"`
	WindowSecs   int            `json:"window_secs"`
}

// AttemptResolvedPayload records a terminal attempt response. It backs the
// attempt_accepted, attempt_declined and attempt_timed_out event types.
type AttemptResolvedPayload struct {
	Type         EventType     `json:"-"`
	AttemptID    int64         `json:"attempt_id"`
	TechnicianID int64         `json:"technician_id"`
	Step         int           `json:"step"`
	Status       AttemptStatus `json:"status"`
}

// EscalatedPayload records advancing to the next ladder step.
type EscalatedPayload struct {
	CycleID  uuid.UUID `json:"cycle_id"`
	FromStep int       `json:"from_step"`
	ToStep   int       `json:"to_step"`
}

// ManualActionPayload backs the manually_assigned and manually_escalated
// event types.
type ManualActionPayload struct {
	Type         EventType `json:"-"`
	TechnicianID *int64    `json:"technician_id,omitempty"`
}

// StatusChangedPayload records an incident status transition.
type StatusChangedPayload struct {
	From IncidentStatus `json:"from"`
	To   IncidentStatus `json:"to"`
}

// ClosedPayload records incident closure details.
type ClosedPayload struct {
	Outcome          IncidentStatus `json:"outcome"`
	Notes            string         `json:"notes,omitempty"`
	FollowUpRequired bool           `json:"follow_up_required"`
}

// NoEligibleTechniciansPayload records an empty ladder resolution.
type NoEligibleTechniciansPayload struct {
	SiteID *string `json:"site_id,omitempty"`
}

// LadderExhaustedPayload records that every ladder step was tried without
// an acceptance.
type LadderExhaustedPayload struct {
	CycleID    uuid.UUID `json:"cycle_id"`
	StepsTried int       `json:"steps_tried"`
}

// StaleResponsePayload records a response for an already-terminal attempt.
// Informational only: it never overrides the first terminal response.
type StaleResponsePayload struct {
	AttemptID       int64          `json:"attempt_id"`
	ReportedOutcome AttemptOutcome `json:"reported_outcome"`
	RecordedStatus  AttemptStatus  `json:"recorded_status"`
}

func (IncidentCreatedPayload) EventType() EventType       { return EventTypeIncidentCreated }
func (AttemptStartedPayload) EventType() EventType        { return EventTypeAttemptStarted }
func (p AttemptResolvedPayload) EventType() EventType     { return p.Type }
func (EscalatedPayload) EventType() EventType             { return EventTypeEscalated }
func (p ManualActionPayload) EventType() EventType        { return p.Type }
func (StatusChangedPayload) EventType() EventType         { return EventTypeStatusChanged }
func (ClosedPayload) EventType() EventType                { return EventTypeClosed }
func (NoEligibleTechniciansPayload) EventType() EventType { return EventTypeNoEligibleTechnicians }
func (LadderExhaustedPayload) EventType() EventType       { return EventTypeLadderExhausted }
func (StaleResponsePayload) EventType() EventType         { return EventTypeStaleResponse }

// NewIncidentEvent builds an event row from a typed payload.
func NewIncidentEvent(incidentID int64, userID *int64, payload EventPayload) (*IncidentEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", payload.EventType(), err)
	}
	return &IncidentEvent{
		IncidentID: incidentID,
		Type:       payload.EventType(),
		UserID:     userID,
		Payload:    raw,
	}, nil
}

// DecodePayload decodes the raw payload into its typed variant.
func (e *IncidentEvent) DecodePayload() (EventPayload, error) {
	var p EventPayload
	switch e.Type {
	case EventTypeIncidentCreated:
		p = &IncidentCreatedPayload{}
	case EventTypeAttemptStarted:
		p = &AttemptStartedPayload{}
	case EventTypeAttemptAccepted, EventTypeAttemptDeclined, EventTypeAttemptTimedOut:
		v := &AttemptResolvedPayload{Type: e.Type}
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, v); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
			}
		}
		return *v, nil
	case EventTypeEscalated:
		p = &EscalatedPayload{}
	case EventTypeManuallyAssigned, EventTypeManuallyEscalated:
		v := &ManualActionPayload{Type: e.Type}
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, v); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
			}
		}
		return *v, nil
	case EventTypeStatusChanged:
		p = &StatusChangedPayload{}
	case EventTypeClosed:
		p = &ClosedPayload{}
	case EventTypeNoEligibleTechnicians:
		p = &NoEligibleTechniciansPayload{}
	case EventTypeLadderExhausted:
		p = &LadderExhaustedPayload{}
	case EventTypeStaleResponse:
		p = &StaleResponsePayload{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.Type)
	}

	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	}

	switch v := p.(type) {
	case *IncidentCreatedPayload:
		return *v, nil
	case *AttemptStartedPayload:
		return *v, nil
	case *EscalatedPayload:
		return *v, nil
	case *StatusChangedPayload:
		return *v, nil
	case *ClosedPayload:
		return *v, nil
	case *NoEligibleTechniciansPayload:
		return *v, nil
	case *LadderExhaustedPayload:
		return *v, nil
	case *StaleResponsePayload:
		return *v, nil
	}
	return p, nil
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus represents the status of a call attempt.
type AttemptStatus string

// Attempt statuses.
const (
	AttemptStatusInitiated AttemptStatus = "initiated"
	AttemptStatusAnswered  AttemptStatus = "answered"
	AttemptStatusNoAnswer  AttemptStatus = "no_answer"
	AttemptStatusDeclined  AttemptStatus = "declined"
	AttemptStatusAccepted  AttemptStatus = "accepted"
	AttemptStatusExpired   AttemptStatus = "expired"
)

// IsTerminal reports whether the attempt status will not change again.
// Terminal attempts are immutable; corrections are appended as events.
func (s AttemptStatus) IsTerminal() bool {
	return s != AttemptStatusInitiated
}

// AttemptChannel represents how a technician was contacted.
type AttemptChannel string

// Attempt channels.
const (
	AttemptChannelPush  AttemptChannel = "push"
	AttemptChannelVoice AttemptChannel = "voice"
)

// AttemptOutcome is a terminal response to a call attempt.
type AttemptOutcome string

// Attempt outcomes reported by technicians or the telephony provider.
// Answered means the call was picked up but ended without a selection;
// routing treats it like a missed attempt.
const (
	AttemptOutcomeAccepted AttemptOutcome = "accepted"
	AttemptOutcomeDeclined AttemptOutcome = "declined"
	AttemptOutcomeAnswered AttemptOutcome = "answered"
	AttemptOutcomeNoAnswer AttemptOutcome = "no_answer"
)

// IsValid checks if the outcome is valid.
func (o AttemptOutcome) IsValid() bool {
	switch o {
	case AttemptOutcomeAccepted, AttemptOutcomeDeclined, AttemptOutcomeAnswered, AttemptOutcomeNoAnswer:
		return true
	}
	return false
}

// Status maps the outcome to the terminal attempt status it produces.
func (o AttemptOutcome) Status() AttemptStatus {
	switch o {
	case AttemptOutcomeAccepted:
		return AttemptStatusAccepted
	case AttemptOutcomeDeclined:
		return AttemptStatusDeclined
	case AttemptOutcomeAnswered:
		return AttemptStatusAnswered
	case AttemptOutcomeNoAnswer:
		return AttemptStatusNoAnswer
	}
	return AttemptStatusExpired
}

// CallAttempt represents one contact try to one technician for one ladder step.
// At most one attempt per incident is non-terminal at any time.
type CallAttempt struct {
	ID           int64          `json:"id"`
	IncidentID   int64          `json:"incident_id"`
	TechnicianID int64          `json:"technician_id"`
	CycleID      uuid.UUID      `json:"cycle_id"`
	Step         int            `json:"step"`
	Channel      AttemptChannel `json:"channel"`
	Status       AttemptStatus  `json:"status"`
	ProviderRef  *string        `json:"provider_ref,omitempty"`
	InitiatedAt  time.Time      `json:"initiated_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
}

// EscalationTimer is the durable wake-up for an incident's current ladder step.
// Exactly one row exists per incident; it is disarmed, never deleted, when a
// terminal response for the step arrives, so the routing cycle context survives.
type EscalationTimer struct {
	IncidentID int64     `json:"incident_id"`
	CycleID    uuid.UUID `json:"cycle_id"`
	Step       int       `json:"step"`
	FiresAt    time.Time `json:"fires_at"`
	Armed      bool      `json:"armed"`
	Ladder     []int64   `json:"ladder,omitempty"`
}

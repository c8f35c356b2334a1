package domain

import "time"

// IncidentStatus represents the lifecycle status of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen             IncidentStatus = "open"
	IncidentStatusEnRoute          IncidentStatus = "en_route"
	IncidentStatusOnSite           IncidentStatus = "on_site"
	IncidentStatusResolved         IncidentStatus = "resolved"
	IncidentStatusFollowUpRequired IncidentStatus = "follow_up_required"
)

// IncidentSource represents how an incident entered the system.
type IncidentSource string

// Incident sources.
const (
	IncidentSourceTelephony IncidentSource = "telephony"
	IncidentSourceManual    IncidentSource = "manual"
)

// IncidentPriority represents incident urgency.
type IncidentPriority string

// Incident priorities.
const (
	IncidentPriorityLow    IncidentPriority = "low"
	IncidentPriorityMedium IncidentPriority = "medium"
	IncidentPriorityHigh   IncidentPriority = "high"
)

// Incident represents an emergency incident routed through the escalation ladder.
type Incident struct {
	ID              int64            `json:"id"`
	BuildingID      string           `json:"building_id"`
	SiteID          *string          `json:"site_id,omitempty"`
	Source          IncidentSource   `json:"source"`
	Description     string           `json:"description"`
	Priority        IncidentPriority `json:"priority"`
	Status          IncidentStatus   `json:"status"`
	AssignedUserID  *int64           `json:"assigned_user_id,omitempty"`
	CreatedByUserID *int64           `json:"created_by_user_id,omitempty"`
	CallerID        *string          `json:"caller_id,omitempty"`
	ClosedNotes     string           `json:"closed_notes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsValid checks if the incident source is valid.
func (s IncidentSource) IsValid() bool {
	return s == IncidentSourceTelephony || s == IncidentSourceManual
}

// IsValid checks if the priority is valid.
func (p IncidentPriority) IsValid() bool {
	return p == IncidentPriorityLow || p == IncidentPriorityMedium || p == IncidentPriorityHigh
}

// IsTerminal reports whether no further routing transitions are allowed.
// A follow_up_required incident can only be reopened through a new manual
// routing cycle, never by reversing status.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved || s == IncidentStatusFollowUpRequired
}

// incidentTransitions lists the allowed forward transitions.
var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:    {IncidentStatusEnRoute, IncidentStatusResolved, IncidentStatusFollowUpRequired},
	IncidentStatusEnRoute: {IncidentStatusOnSite, IncidentStatusResolved, IncidentStatusFollowUpRequired},
	IncidentStatusOnSite:  {IncidentStatusResolved, IncidentStatusFollowUpRequired},
}

// CanTransitionTo reports whether the status may move to target.
func (s IncidentStatus) CanTransitionTo(target IncidentStatus) bool {
	for _, t := range incidentTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsAssigned reports whether a technician currently owns the incident.
// An assigned incident halts the escalation ladder.
func (i *Incident) IsAssigned() bool {
	return i.AssignedUserID != nil
}

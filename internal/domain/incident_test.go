package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncidentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    IncidentStatus
		to      IncidentStatus
		allowed bool
	}{
		{IncidentStatusOpen, IncidentStatusEnRoute, true},
		{IncidentStatusOpen, IncidentStatusResolved, true},
		{IncidentStatusOpen, IncidentStatusFollowUpRequired, true},
		{IncidentStatusOpen, IncidentStatusOnSite, false},
		{IncidentStatusEnRoute, IncidentStatusOnSite, true},
		{IncidentStatusEnRoute, IncidentStatusResolved, true},
		{IncidentStatusEnRoute, IncidentStatusOpen, false},
		{IncidentStatusOnSite, IncidentStatusResolved, true},
		{IncidentStatusOnSite, IncidentStatusFollowUpRequired, true},
		{IncidentStatusOnSite, IncidentStatusEnRoute, false},
		{IncidentStatusResolved, IncidentStatusOpen, false},
		{IncidentStatusResolved, IncidentStatusEnRoute, false},
		{IncidentStatusFollowUpRequired, IncidentStatusResolved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestIncidentStatus_IsTerminal(t *testing.T) {
	assert.False(t, IncidentStatusOpen.IsTerminal())
	assert.False(t, IncidentStatusEnRoute.IsTerminal())
	assert.False(t, IncidentStatusOnSite.IsTerminal())
	assert.True(t, IncidentStatusResolved.IsTerminal())
	assert.True(t, IncidentStatusFollowUpRequired.IsTerminal())
}

func TestIncident_IsAssigned(t *testing.T) {
	inc := &Incident{}
	assert.False(t, inc.IsAssigned())

	userID := int64(5)
	inc.AssignedUserID = &userID
	assert.True(t, inc.IsAssigned())
}

func TestAttemptOutcome_Status(t *testing.T) {
	assert.Equal(t, AttemptStatusAccepted, AttemptOutcomeAccepted.Status())
	assert.Equal(t, AttemptStatusDeclined, AttemptOutcomeDeclined.Status())
	assert.Equal(t, AttemptStatusAnswered, AttemptOutcomeAnswered.Status())
	assert.Equal(t, AttemptStatusNoAnswer, AttemptOutcomeNoAnswer.Status())
	assert.False(t, AttemptOutcome("busy").IsValid())
}

func TestAttemptStatus_IsTerminal(t *testing.T) {
	assert.False(t, AttemptStatusInitiated.IsTerminal())
	assert.True(t, AttemptStatusAccepted.IsTerminal())
	assert.True(t, AttemptStatusDeclined.IsTerminal())
	assert.True(t, AttemptStatusExpired.IsTerminal())
}

func TestTechnician_Contactable(t *testing.T) {
	token := "device-token"
	empty := ""

	tests := []struct {
		name string
		tech Technician
		want bool
	}{
		{"token and enabled", Technician{PushToken: &token, NotificationsEnabled: true}, true},
		{"notifications disabled", Technician{PushToken: &token, NotificationsEnabled: false}, false},
		{"no token", Technician{NotificationsEnabled: true}, false},
		{"empty token", Technician{PushToken: &empty, NotificationsEnabled: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tech.Contactable())
		})
	}
}

func TestRole_HasPermission(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleManager))
	assert.True(t, RoleManager.HasPermission(RoleManager))
	assert.False(t, RoleTech.HasPermission(RoleManager))
	assert.True(t, RoleTech.HasPermission(RoleTech))
}

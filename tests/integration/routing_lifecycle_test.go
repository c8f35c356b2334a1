//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouting_PushContactAndAccept(t *testing.T) {
	resetRoutingState(t)

	tech := newTestClient(t)
	tech.LoginAsTech(t)
	registerPushToken(t, tech, "tech1-device-token")

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	incident := createIncident(t, manager, map[string]interface{}{
		"priority": "high",
	})
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)

	// Tech 1 has the best priority rank, so step 0 goes to them over push.
	attempt := activeAttempt(t, manager, incident.ID)
	assert.Equal(t, 0, attempt.Step)
	assert.Equal(t, domain.AttemptChannelPush, attempt.Channel)
	assert.Equal(t, userID(t, "tech1@dispatch.local"), attempt.TechnicianID)

	// The push gateway received the delivery for the registered token.
	require.Eventually(t, func() bool {
		for _, p := range contactGateway.Pushes() {
			if p["to"] == "tech1-device-token" {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)

	respond(t, tech, incident.ID, attempt.ID, "accepted")

	got := getIncident(t, manager, incident.ID)
	assert.Equal(t, domain.IncidentStatusEnRoute, got.Status)
	require.NotNil(t, got.AssignedUserID)
	assert.Equal(t, attempt.TechnicianID, *got.AssignedUserID)
}

func TestRouting_VoiceFallbackWithoutPushToken(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	incident := createIncident(t, manager, nil)

	// No registered push token, so the contact goes out as a voice call.
	attempt := activeAttempt(t, manager, incident.ID)
	assert.Equal(t, domain.AttemptChannelVoice, attempt.Channel)

	require.Eventually(t, func() bool {
		for _, c := range contactGateway.Calls() {
			if c["attempt_id"] == float64(attempt.ID) {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)

	// The gateway call id is reconciled onto the attempt.
	require.Eventually(t, func() bool {
		for _, a := range listAttempts(t, manager, incident.ID) {
			if a.ID == attempt.ID && a.ProviderRef != nil {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRouting_DeclineEscalates(t *testing.T) {
	resetRoutingState(t)

	tech := newTestClient(t)
	tech.LoginAsTech(t)

	incident := createIncident(t, tech, nil)
	first := activeAttempt(t, tech, incident.ID)

	respond(t, tech, incident.ID, first.ID, "declined")

	second := activeAttempt(t, tech, incident.ID)
	assert.Equal(t, 1, second.Step)
	assert.Equal(t, userID(t, "tech2@dispatch.local"), second.TechnicianID)
	assert.Equal(t, first.CycleID, second.CycleID)

	types := listEventTypes(t, tech, incident.ID)
	assert.Contains(t, types, domain.EventTypeAttemptDeclined)
	assert.Contains(t, types, domain.EventTypeEscalated)
}

func TestRouting_TimeoutEscalation(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	incident := createIncident(t, manager, nil)
	first := activeAttempt(t, manager, incident.ID)
	require.Equal(t, 0, first.Step)

	// Nobody answers; the scheduler expires step 0 and advances.
	second := waitForAttemptAtStep(t, manager, incident.ID, 1)
	assert.NotEqual(t, first.TechnicianID, second.TechnicianID)

	attempts := listAttempts(t, manager, incident.ID)
	for _, a := range attempts {
		if a.ID == first.ID {
			assert.Equal(t, domain.AttemptStatusExpired, a.Status)
		}
	}
	assert.Contains(t, listEventTypes(t, manager, incident.ID), domain.EventTypeAttemptTimedOut)
}

func TestRouting_TelephonyWebhookAccept(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	incident := createIncident(t, manager, nil)
	attempt := activeAttempt(t, manager, incident.ID)

	// The provider callback needs no bearer token.
	hook := newTestClient(t)
	resp, err := hook.POST("/api/v1/webhooks/telephony", map[string]interface{}{
		"incident_id": incident.ID,
		"attempt_id":  attempt.ID,
		"call_status": "accepted",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	got := getIncident(t, manager, incident.ID)
	assert.Equal(t, domain.IncidentStatusEnRoute, got.Status)
	require.NotNil(t, got.AssignedUserID)
	assert.Equal(t, attempt.TechnicianID, *got.AssignedUserID)
}

func TestRouting_StaleResponseRecorded(t *testing.T) {
	resetRoutingState(t)

	tech := newTestClient(t)
	tech.LoginAsTech(t)

	incident := createIncident(t, tech, nil)
	first := activeAttempt(t, tech, incident.ID)

	respond(t, tech, incident.ID, first.ID, "declined")

	// The late acceptance still returns 200 but cannot win.
	respond(t, tech, incident.ID, first.ID, "accepted")

	got := getIncident(t, tech, incident.ID)
	assert.Equal(t, domain.IncidentStatusOpen, got.Status)
	assert.Nil(t, got.AssignedUserID)
	assert.Contains(t, listEventTypes(t, tech, incident.ID), domain.EventTypeStaleResponse)
}

func TestRouting_ManualAssignHaltsLadder(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	incident := createIncident(t, manager, nil)
	attempt := activeAttempt(t, manager, incident.ID)

	tech2 := userID(t, "tech2@dispatch.local")
	resp, err := manager.POST(fmt.Sprintf("/api/v1/incidents/%d/assign", incident.ID), map[string]interface{}{
		"technician_id": tech2,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	got := getIncident(t, manager, incident.ID)
	assert.Equal(t, domain.IncidentStatusEnRoute, got.Status)
	require.NotNil(t, got.AssignedUserID)
	assert.Equal(t, tech2, *got.AssignedUserID)

	// The in-flight attempt was expired and the ladder never advances.
	for _, a := range listAttempts(t, manager, incident.ID) {
		if a.ID == attempt.ID {
			assert.Equal(t, domain.AttemptStatusExpired, a.Status)
		}
	}
	time.Sleep(responseWindow + 500*time.Millisecond)
	for _, a := range listAttempts(t, manager, incident.ID) {
		assert.NotEqual(t, domain.AttemptStatusInitiated, a.Status)
	}
}

func TestRouting_ManualAssignRequiresManager(t *testing.T) {
	resetRoutingState(t)

	tech := newTestClient(t)
	tech.LoginAsTech(t)

	incident := createIncident(t, tech, map[string]interface{}{
		"start_routing": false,
	})

	resp, err := tech.POST(fmt.Sprintf("/api/v1/incidents/%d/assign", incident.ID), map[string]interface{}{
		"technician_id": userID(t, "tech2@dispatch.local"),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRouting_CloseAndReclose(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	incident := createIncident(t, manager, nil)

	resp, err := manager.POST(fmt.Sprintf("/api/v1/incidents/%d/close", incident.ID), map[string]interface{}{
		"notes": "false alarm",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	got := getIncident(t, manager, incident.ID)
	assert.Equal(t, domain.IncidentStatusResolved, got.Status)
	assert.Equal(t, "false alarm", got.ClosedNotes)

	// Closing a terminal incident is rejected by the state machine.
	resp, err = manager.POST(fmt.Sprintf("/api/v1/incidents/%d/close", incident.ID), map[string]interface{}{
		"notes": "again",
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRouting_ManualEscalateRestartsCycle(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	tech := newTestClient(t)
	tech.LoginAsTech(t)

	incident := createIncident(t, manager, nil)
	first := activeAttempt(t, manager, incident.ID)
	respond(t, tech, incident.ID, first.ID, "accepted")

	resp, err := manager.POST(fmt.Sprintf("/api/v1/incidents/%d/escalate", incident.ID), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	got := getIncident(t, manager, incident.ID)
	assert.Equal(t, domain.IncidentStatusOpen, got.Status)
	assert.Nil(t, got.AssignedUserID)

	fresh := activeAttempt(t, manager, incident.ID)
	assert.Equal(t, 0, fresh.Step)
	assert.NotEqual(t, first.CycleID, fresh.CycleID)
}

func TestRouting_SiteLadderPreferred(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	// Explicit ladder puts tech2 first despite tech1's better priority rank.
	tech2 := userID(t, "tech2@dispatch.local")
	tech1 := userID(t, "tech1@dispatch.local")
	_, err := testDB.Exec(context.Background(),
		`INSERT INTO site_ladders (site_id, position, user_id) VALUES ($1, 0, $2), ($1, 1, $3)`,
		"site-9", tech2, tech1)
	require.NoError(t, err)

	incident := createIncident(t, manager, map[string]interface{}{
		"site_id": "site-9",
	})

	attempt := activeAttempt(t, manager, incident.ID)
	assert.Equal(t, tech2, attempt.TechnicianID)
}

func TestRouting_NoEligibleTechnicians(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	for _, email := range []string{"manager@dispatch.local", "tech1@dispatch.local", "tech2@dispatch.local"} {
		setAvailability(t, email, false)
	}

	incident := createIncident(t, manager, nil)

	assert.Empty(t, listAttempts(t, manager, incident.ID))
	assert.Contains(t, listEventTypes(t, manager, incident.ID), domain.EventTypeNoEligibleTechnicians)
	assert.Equal(t, domain.IncidentStatusOpen, getIncident(t, manager, incident.ID).Status)
}

func TestRouting_DeferredStart(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	incident := createIncident(t, manager, map[string]interface{}{
		"start_routing": false,
	})
	assert.Empty(t, listAttempts(t, manager, incident.ID))

	resp, err := manager.POST(fmt.Sprintf("/api/v1/incidents/%d/route", incident.ID), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	attempt := activeAttempt(t, manager, incident.ID)
	assert.Equal(t, 0, attempt.Step)
}

//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_SetOwnAvailability(t *testing.T) {
	resetRoutingState(t)

	tech := newTestClient(t)
	tech.LoginAsTech(t)

	resp, err := tech.PATCH("/api/v1/technicians/availability", map[string]interface{}{
		"available": false,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data map[string]bool `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.False(t, result.Data["available"])

	// An unavailable technician drops out of freshly resolved ladders.
	manager := newTestClient(t)
	manager.LoginAsManager(t)
	incident := createIncident(t, manager, nil)
	attempt := activeAttempt(t, manager, incident.ID)
	assert.NotEqual(t, userID(t, "tech1@dispatch.local"), attempt.TechnicianID)
}

func TestDirectory_ManagerListAndGet(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	resp, err := manager.GET("/api/v1/technicians")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Data []domain.Technician `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &list)
	require.NotEmpty(t, list.Data)

	resp, err = manager.GET(fmt.Sprintf("/api/v1/technicians/%d", list.Data[0].ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var one struct {
		Data domain.Technician `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &one)
	assert.Equal(t, list.Data[0].ID, one.Data.ID)
}

func TestDirectory_ManagerSetAvailability(t *testing.T) {
	resetRoutingState(t)

	manager := newTestClient(t)
	manager.LoginAsManager(t)

	tech1 := userID(t, "tech1@dispatch.local")
	resp, err := manager.PATCH(fmt.Sprintf("/api/v1/technicians/%d/availability", tech1), map[string]interface{}{
		"available": false,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data map[string]bool `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.False(t, result.Data["available"])
}

func TestDirectory_UnknownTechnician(t *testing.T) {
	manager := newTestClient(t)
	manager.LoginAsManager(t)

	resp, err := manager.GET("/api/v1/technicians/999999")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDirectory_NotificationSettings(t *testing.T) {
	resetRoutingState(t)

	tech := newTestClient(t)
	tech.LoginAsTech(t)
	registerPushToken(t, tech, "settings-test-token")

	// Disabling notifications forces the voice channel even with a token.
	resp, err := tech.PATCH("/api/v1/notifications/settings", map[string]interface{}{
		"enabled": false,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	manager := newTestClient(t)
	manager.LoginAsManager(t)
	incident := createIncident(t, manager, nil)

	attempt := activeAttempt(t, manager, incident.ID)
	assert.Equal(t, userID(t, "tech1@dispatch.local"), attempt.TechnicianID)
	assert.Equal(t, domain.AttemptChannelVoice, attempt.Channel)
}

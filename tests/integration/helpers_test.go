//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/testutil"
	"github.com/stretchr/testify/require"
)

// resetRoutingState wipes incidents and their routing artifacts between tests.
// Users are seeded by migration and restored to their seed availability.
func resetRoutingState(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := testDB.Exec(ctx, `
		TRUNCATE incident_events, call_attempts, escalation_timers, incidents
		RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	_, err = testDB.Exec(ctx, `
		UPDATE users
		SET available = (role != 'admin'),
		    push_token = NULL,
		    notifications_enabled = true,
		    site_id = NULL`)
	require.NoError(t, err)

	_, err = testDB.Exec(ctx, `TRUNCATE site_ladders`)
	require.NoError(t, err)
}

// createIncident creates an incident through the API and returns it.
func createIncident(t *testing.T, client *testutil.Client, body map[string]interface{}) domain.Incident {
	t.Helper()

	if body == nil {
		body = map[string]interface{}{}
	}
	if _, ok := body["building_id"]; !ok {
		body["building_id"] = "B-100"
	}
	if _, ok := body["description"]; !ok {
		body["description"] = "alarm triggered"
	}

	resp, err := client.POST("/api/v1/incidents", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data domain.Incident `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotZero(t, result.Data.ID)
	return result.Data
}

// getIncident fetches an incident through the API.
func getIncident(t *testing.T, client *testutil.Client, id int64) domain.Incident {
	t.Helper()

	resp, err := client.GET(fmt.Sprintf("/api/v1/incidents/%d", id))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data domain.Incident `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// listAttempts fetches the incident's call attempts.
func listAttempts(t *testing.T, client *testutil.Client, incidentID int64) []domain.CallAttempt {
	t.Helper()

	resp, err := client.GET(fmt.Sprintf("/api/v1/incidents/%d/attempts", incidentID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []domain.CallAttempt `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// listEventTypes fetches the incident's event types in append order.
func listEventTypes(t *testing.T, client *testutil.Client, incidentID int64) []domain.EventType {
	t.Helper()

	resp, err := client.GET(fmt.Sprintf("/api/v1/incidents/%d/events", incidentID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []domain.IncidentEvent `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)

	types := make([]domain.EventType, 0, len(result.Data))
	for _, e := range result.Data {
		types = append(types, e.Type)
	}
	return types
}

// activeAttempt returns the incident's initiated attempt, failing if none exists.
func activeAttempt(t *testing.T, client *testutil.Client, incidentID int64) domain.CallAttempt {
	t.Helper()

	for _, a := range listAttempts(t, client, incidentID) {
		if a.Status == domain.AttemptStatusInitiated {
			return a
		}
	}
	t.Fatalf("incident %d has no active attempt", incidentID)
	return domain.CallAttempt{}
}

// waitForAttemptAtStep polls until the incident has an initiated attempt at
// the given ladder step. Used to observe timeout escalation driven by the
// background scheduler.
func waitForAttemptAtStep(t *testing.T, client *testutil.Client, incidentID int64, step int) domain.CallAttempt {
	t.Helper()

	var found domain.CallAttempt
	require.Eventually(t, func() bool {
		for _, a := range listAttempts(t, client, incidentID) {
			if a.Status == domain.AttemptStatusInitiated && a.Step == step {
				found = a
				return true
			}
		}
		return false
	}, 3*responseWindow, 100*time.Millisecond, "attempt at step %d never appeared", step)
	return found
}

// respond records a technician response to an attempt.
func respond(t *testing.T, client *testutil.Client, incidentID, attemptID int64, outcome string) {
	t.Helper()

	resp, err := client.POST(fmt.Sprintf("/api/v1/incidents/%d/respond", incidentID), map[string]interface{}{
		"attempt_id": attemptID,
		"outcome":    outcome,
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// setAvailability flips a user's availability directly in the database.
func setAvailability(t *testing.T, email string, available bool) {
	t.Helper()

	_, err := testDB.Exec(context.Background(),
		`UPDATE users SET available = $1 WHERE email = $2`, available, email)
	require.NoError(t, err)
}

// registerPushToken registers a device token for the logged-in technician.
func registerPushToken(t *testing.T, client *testutil.Client, token string) {
	t.Helper()

	resp, err := client.POST("/api/v1/notifications/register-token", map[string]string{
		"push_token": token,
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// userID looks up a seeded user's id by email.
func userID(t *testing.T, email string) int64 {
	t.Helper()

	var id int64
	err := testDB.QueryRow(context.Background(),
		`SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	require.NoError(t, err)
	return id
}

package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncidentEvent(t *testing.T) {
	userID := int64(3)
	event, err := NewIncidentEvent(7, &userID, StatusChangedPayload{
		From: IncidentStatusOpen,
		To:   IncidentStatusEnRoute,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), event.IncidentID)
	assert.Equal(t, EventTypeStatusChanged, event.Type)
	require.NotNil(t, event.UserID)
	assert.Equal(t, int64(3), *event.UserID)
	assert.JSONEq(t, `{"from":"open","to":"en_route"}`, string(event.Payload))
}

func TestDecodePayload_AttemptResolved(t *testing.T) {
	// The attempt_* event types share one payload shape; the variant is
	// recovered from the row's type column, not the JSON body.
	event, err := NewIncidentEvent(1, nil, AttemptResolvedPayload{
		Type:         EventTypeAttemptDeclined,
		AttemptID:    10,
		TechnicianID: 4,
		Step:         2,
		Status:       AttemptStatusDeclined,
	})
	require.NoError(t, err)

	decoded, err := event.DecodePayload()
	require.NoError(t, err)

	payload, ok := decoded.(AttemptResolvedPayload)
	require.True(t, ok)
	assert.Equal(t, EventTypeAttemptDeclined, payload.Type)
	assert.Equal(t, EventTypeAttemptDeclined, payload.EventType())
	assert.Equal(t, int64(10), payload.AttemptID)
	assert.Equal(t, AttemptStatusDeclined, payload.Status)
}

func TestDecodePayload_ManualAction(t *testing.T) {
	techID := int64(9)
	event, err := NewIncidentEvent(1, nil, ManualActionPayload{
		Type:         EventTypeManuallyAssigned,
		TechnicianID: &techID,
	})
	require.NoError(t, err)

	decoded, err := event.DecodePayload()
	require.NoError(t, err)

	payload, ok := decoded.(ManualActionPayload)
	require.True(t, ok)
	assert.Equal(t, EventTypeManuallyAssigned, payload.EventType())
	require.NotNil(t, payload.TechnicianID)
	assert.Equal(t, int64(9), *payload.TechnicianID)
}

func TestDecodePayload_AttemptStarted(t *testing.T) {
	cycleID := uuid.New()
	event, err := NewIncidentEvent(2, nil, AttemptStartedPayload{
		AttemptID:    5,
		TechnicianID: 8,
		CycleID:      cycleID,
		Step:         1,
		Channel:      AttemptChannelVoice,
		WindowSecs:   90,
	})
	require.NoError(t, err)

	decoded, err := event.DecodePayload()
	require.NoError(t, err)

	payload, ok := decoded.(AttemptStartedPayload)
	require.True(t, ok)
	assert.Equal(t, cycleID, payload.CycleID)
	assert.Equal(t, AttemptChannelVoice, payload.Channel)
	assert.Equal(t, 90, payload.WindowSecs)
}

func TestDecodePayload_UnknownType(t *testing.T) {
	event := &IncidentEvent{Type: "made_up"}

	_, err := event.DecodePayload()
	assert.Error(t, err)
}

func TestDecodePayload_EmptyPayload(t *testing.T) {
	event := &IncidentEvent{Type: EventTypeManuallyEscalated}

	decoded, err := event.DecodePayload()
	require.NoError(t, err)

	payload, ok := decoded.(ManualActionPayload)
	require.True(t, ok)
	assert.Equal(t, EventTypeManuallyEscalated, payload.EventType())
	assert.Nil(t, payload.TechnicianID)
}

package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "enabled without gateway url",
			config:  Config{Enabled: true},
			wantErr: "gateway url is required",
		},
		{
			name:    "disabled - no validation",
			config:  Config{Enabled: false},
			wantErr: "",
		},
		{
			name:    "valid config",
			config:  Config{Enabled: true, GatewayURL: "https://push.example.com/send"},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, sender)
			}
		})
	}
}

func testTechnician(token string) *domain.Technician {
	return &domain.Technician{
		ID:                   5,
		Name:                 "Tech",
		PushToken:            &token,
		NotificationsEnabled: true,
	}
}

func TestNotifyTechnician(t *testing.T) {
	var received message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewSender(Config{
		Enabled:     true,
		GatewayURL:  srv.URL,
		AccessToken: "test-token",
	})
	require.NoError(t, err)

	err = sender.NotifyTechnician(context.Background(), testTechnician("ExponentPushToken[abc]"), routing.ContactPayload{
		IncidentID:  10,
		AttemptID:   20,
		BuildingID:  "B-1",
		Description: "water leak",
		Priority:    domain.IncidentPriorityHigh,
	})

	require.NoError(t, err)
	assert.Equal(t, "ExponentPushToken[abc]", received.To)
	assert.Equal(t, "water leak", received.Body)
	assert.Equal(t, "high", received.Priority)
	assert.EqualValues(t, 10, received.Data["incident_id"])
}

func TestNotifyTechnician_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusBadRequest)
	}))
	defer srv.Close()

	sender, err := NewSender(Config{Enabled: true, GatewayURL: srv.URL})
	require.NoError(t, err)

	err = sender.NotifyTechnician(context.Background(), testTechnician("tok"), routing.ContactPayload{IncidentID: 1})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestNotifyTechnician_NoToken(t *testing.T) {
	sender, err := NewSender(Config{Enabled: true, GatewayURL: "https://push.example.com"})
	require.NoError(t, err)

	err = sender.NotifyTechnician(context.Background(), &domain.Technician{ID: 5}, routing.ContactPayload{})

	assert.Error(t, err)
}

func TestNotifyTechnician_Disabled(t *testing.T) {
	sender, err := NewSender(Config{Enabled: false})
	require.NoError(t, err)

	err = sender.NotifyTechnician(context.Background(), testTechnician("tok"), routing.ContactPayload{})

	assert.NoError(t, err)
}

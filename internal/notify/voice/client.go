// Package voice places automated calls through a telephony gateway.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldops/dispatch/internal/domain"
	"github.com/fieldops/dispatch/internal/routing"
)

// Config holds telephony client configuration.
type Config struct {
	Enabled     bool
	GatewayURL  string
	AccessToken string
	CallbackURL string
	CallerID    string
	Timeout     time.Duration
}

// Client implements the voice contact port against an HTTP telephony gateway.
type Client struct {
	config Config
	client *http.Client
}

var _ routing.Telephony = (*Client)(nil)

// NewClient creates a new telephony client.
// Returns error if enabled but required config is missing.
func NewClient(config Config) (*Client, error) {
	if config.Enabled {
		if config.GatewayURL == "" {
			return nil, errors.New("telephony client: gateway url is required when enabled")
		}
		if config.CallbackURL == "" {
			return nil, errors.New("telephony client: callback url is required when enabled")
		}
	}

	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	slog.Info("telephony client configured",
		"enabled", config.Enabled,
		"gateway_url", config.GatewayURL,
		"caller_id", config.CallerID,
	)

	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

type callRequest struct {
	To          string `json:"to"`
	CallerID    string `json:"caller_id,omitempty"`
	Message     string `json:"message"`
	CallbackURL string `json:"callback_url"`
	AttemptID   int64  `json:"attempt_id"`
}

type callResponse struct {
	CallID string `json:"call_id"`
}

// PlaceCall starts an automated call announcing the incident. The returned
// provider call id ties later status webhooks back to the attempt.
func (c *Client) PlaceCall(ctx context.Context, tech *domain.Technician, payload routing.ContactPayload) (string, error) {
	if !c.config.Enabled {
		slog.Debug("telephony client disabled, skipping",
			"technician_id", tech.ID,
			"incident_id", payload.IncidentID,
		)
		return "", nil
	}

	if tech.Phone == nil || *tech.Phone == "" {
		return "", fmt.Errorf("technician %d has no phone number", tech.ID)
	}

	body, err := json.Marshal(callRequest{
		To:          *tech.Phone,
		CallerID:    c.config.CallerID,
		Message:     fmt.Sprintf("Incident at building %s. %s", payload.BuildingID, payload.Description),
		CallbackURL: c.config.CallbackURL,
		AttemptID:   payload.AttemptID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("telephony gateway returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed callResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode call response: %w", err)
	}

	slog.Info("call placed",
		"technician_id", tech.ID,
		"incident_id", payload.IncidentID,
		"call_id", parsed.CallID,
	)

	return parsed.CallID, nil
}

// Package push provides push notification delivery through an Expo-compatible
// push gateway.
package push

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
	"golang.org/x/time/rate"
)

// Config holds push sender configuration.
type Config struct {
	Enabled     bool
	GatewayURL  string
	AccessToken string
	Timeout     time.Duration
	RateLimit   float64
	Burst       int
}

// Sender implements the push contact port against an HTTP push gateway.
type Sender struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

var _ routing.Notifier = (*Sender)(nil)

// NewSender creates a new push sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.GatewayURL == "" {
			return nil, errors.New("push sender: gateway url is required when enabled")
		}
	}

	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.Burst == 0 {
		config.Burst = 20
	}

	slog.Info("push sender configured",
		"enabled", config.Enabled,
		"gateway_url", config.GatewayURL,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}, nil
}

// message is the gateway wire format.
type message struct {
	To       string         `json:"to"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Sound    string         `json:"sound"`
	Priority string         `json:"priority"`
	Data     map[string]any `json:"data"`
}

// NotifyTechnician delivers an incident push to the technician's registered
// device token.
func (s *Sender) NotifyTechnician(ctx context.Context, tech *domain.Technician, payload routing.ContactPayload) error {
	if !s.config.Enabled {
		slog.Debug("push sender disabled, skipping",
			"technician_id", tech.ID,
			"incident_id", payload.IncidentID,
		)
		return nil
	}

	if tech.PushToken == nil || *tech.PushToken == "" {
		return fmt.Errorf("technician %d has no push token", tech.ID)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	msg := message{
		To:       *tech.PushToken,
		Title:    fmt.Sprintf("Incident at %s", payload.BuildingID),
		Body:     payload.Description,
		Sound:    "default",
		Priority: "high",
		Data: map[string]any{
			"incident_id": payload.IncidentID,
			"attempt_id":  payload.AttemptID,
			"priority":    string(payload.Priority),
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		// Cap the error body read, gateways can return large HTML pages.
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, string(data))
	}

	slog.Info("push notification sent",
		"technician_id", tech.ID,
		"incident_id", payload.IncidentID,
		"attempt_id", payload.AttemptID,
	)

	return nil
}

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a postgres testcontainer.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer creates a new PostgreSQL container for testing.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		ConnectionString:  connStr,
	}, nil
}

// ContactGateway is a fake push/voice gateway backed by httptest. It records
// every delivery request so tests can inspect outbound contact traffic.
type ContactGateway struct {
	server *httptest.Server

	mu     sync.Mutex
	pushes []map[string]any
	calls  []map[string]any
}

// NewContactGateway starts the fake gateway. Push deliveries go to /push,
// voice calls to /calls; a voice call is answered with a generated call id.
func NewContactGateway() *ContactGateway {
	g := &ContactGateway{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /push", func(w http.ResponseWriter, r *http.Request) {
		body := g.record(r, &g.pushes)
		if body == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /calls", func(w http.ResponseWriter, r *http.Request) {
		body := g.record(r, &g.calls)
		if body == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		g.mu.Lock()
		n := len(g.calls)
		g.mu.Unlock()
		fmt.Fprintf(w, `{"call_id":"test-call-%d"}`, n)
	})

	g.server = httptest.NewServer(mux)
	return g
}

func (g *ContactGateway) record(r *http.Request, into *[]map[string]any) map[string]any {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil
	}
	g.mu.Lock()
	*into = append(*into, body)
	g.mu.Unlock()
	return body
}

// URL returns the gateway base URL.
func (g *ContactGateway) URL() string {
	return g.server.URL
}

// Pushes returns a copy of the recorded push deliveries.
func (g *ContactGateway) Pushes() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.pushes...)
}

// Calls returns a copy of the recorded voice call requests.
func (g *ContactGateway) Calls() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.calls...)
}

// Close shuts the fake gateway down.
func (g *ContactGateway) Close() {
	g.server.Close()
}

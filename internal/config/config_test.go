package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISPATCH_DATABASE__URL", "postgres://localhost/dispatch")
	t.Setenv("DISPATCH_JWT__SECRET_KEY", "secret")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Routing.ResponseWindow)
	assert.True(t, cfg.Routing.RefreshLadderPerStep)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("DISPATCH_JWT__SECRET_KEY", "secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
database:
  url: postgres://db/dispatch
routing:
  response_window: 45s
  refresh_ladder_per_step: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgres://db/dispatch", cfg.Database.URL)
	assert.Equal(t, 45*time.Second, cfg.Routing.ResponseWindow)
	assert.False(t, cfg.Routing.RefreshLadderPerStep)
	// Untouched keys keep defaults.
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("DISPATCH_JWT__SECRET_KEY", "secret")
	t.Setenv("DISPATCH_SERVER__PORT", "7001")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
database:
  url: postgres://db/dispatch
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "7001", cfg.Server.Port)
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
}

func TestLoad_MissingFileIgnored(t *testing.T) {
	t.Setenv("DISPATCH_DATABASE__URL", "postgres://localhost/dispatch")
	t.Setenv("DISPATCH_JWT__SECRET_KEY", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

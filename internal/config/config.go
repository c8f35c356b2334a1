// Package config loads application configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides. Section and key are separated
// by a double underscore: DISPATCH_SERVER__PORT, DISPATCH_JWT__SECRET_KEY.
const envPrefix = "DISPATCH_"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	CORS      CORSConfig      `koanf:"cors"`
	JWT       JWTConfig       `koanf:"jwt"`
	Routing   RoutingConfig   `koanf:"routing"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Push      PushConfig      `koanf:"push"`
	Telephony TelephonyConfig `koanf:"telephony"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// JWTConfig contains token settings.
type JWTConfig struct {
	SecretKey     string        `koanf:"secret_key"`
	TokenDuration time.Duration `koanf:"token_duration"`
}

// RoutingConfig contains escalation engine settings.
type RoutingConfig struct {
	ResponseWindow       time.Duration `koanf:"response_window"`
	RefreshLadderPerStep bool          `koanf:"refresh_ladder_per_step"`
	ContactTimeout       time.Duration `koanf:"contact_timeout"`
}

// SchedulerConfig contains timer poller settings.
type SchedulerConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchSize    int           `koanf:"batch_size"`
}

// PushConfig contains push gateway settings.
type PushConfig struct {
	Enabled     bool    `koanf:"enabled"`
	GatewayURL  string  `koanf:"gateway_url"`
	AccessToken string  `koanf:"access_token"`
	RateLimit   float64 `koanf:"rate_limit"`
	Burst       int     `koanf:"burst"`
}

// TelephonyConfig contains telephony gateway settings.
type TelephonyConfig struct {
	Enabled     bool   `koanf:"enabled"`
	GatewayURL  string `koanf:"gateway_url"`
	AccessToken string `koanf:"access_token"`
	CallbackURL string `koanf:"callback_url"`
	CallerID    string `koanf:"caller_id"`
}

// defaults returns the configuration used when no file or env override is set.
func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		JWT: JWTConfig{
			TokenDuration: 12 * time.Hour,
		},
		Routing: RoutingConfig{
			ResponseWindow:       90 * time.Second,
			RefreshLadderPerStep: true,
			ContactTimeout:       10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 2 * time.Second,
			BatchSize:    50,
		},
		Push: PushConfig{
			RateLimit: 10,
			Burst:     20,
		},
	}
}

// Load reads configuration from the optional YAML file at path, then applies
// environment overrides on top of built-in defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps DISPATCH_SERVER__METRICS_PORT to server.metrics_port.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database.url is required")
	}
	if c.JWT.SecretKey == "" {
		return errors.New("config: jwt.secret_key is required")
	}
	if c.Routing.ResponseWindow <= 0 {
		return errors.New("config: routing.response_window must be positive")
	}
	return nil
}

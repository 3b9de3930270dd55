package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/marathoner/internal/core/compiler"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Marathon MarathonConfig `mapstructure:"marathon"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	Ports    PortsConfig    `mapstructure:"ports"`
	Events   EventsConfig   `mapstructure:"events"`
	Checker  CheckerConfig  `mapstructure:"checker"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AuthToken, when set, is required on every /api/v1 request.
	AuthToken string `mapstructure:"auth_token"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MarathonConfig holds the backend connection.
type MarathonConfig struct {
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// Force makes group updates cancel deployments holding the group lock.
	Force bool `mapstructure:"force"`

	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

// CompilerConfig holds the compilation policies.
type CompilerConfig struct {
	// HAProxyGroup is one of "always", "never" or "when_targeted".
	HAProxyGroup      string `mapstructure:"haproxy_group"`
	HAProxyGroupValue string `mapstructure:"haproxy_group_value"`
	EndpointEnv       bool   `mapstructure:"endpoint_env"`

	// OnNodeError is "abort" or "skip".
	OnNodeError string `mapstructure:"on_node_error"`
}

// Build validates the policy names and returns the compiler configuration.
func (c CompilerConfig) Build() (compiler.Config, error) {
	labels, err := compiler.ParseLabelPolicy(c.HAProxyGroup)
	if err != nil {
		return compiler.Config{}, fmt.Errorf("compiler.haproxy_group: %w", err)
	}
	onError, err := compiler.ParseErrorPolicy(c.OnNodeError)
	if err != nil {
		return compiler.Config{}, fmt.Errorf("compiler.on_node_error: %w", err)
	}
	return compiler.Config{
		HAProxyGroup:      labels,
		HAProxyGroupValue: c.HAProxyGroupValue,
		EndpointEnv:       c.EndpointEnv,
		OnNodeError:       onError,
	}, nil
}

// PortsConfig holds service port allocation settings.
type PortsConfig struct {
	Base int `mapstructure:"base"`

	// Persist stores assignments so they survive restarts.
	Persist bool `mapstructure:"persist"`
}

// EventsConfig controls the task event stream subscription.
type EventsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// CheckerConfig controls the periodic group existence check.
type CheckerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("database.dsn", "./data/marathoner.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("marathon.url", "http://localhost:8080")
	v.SetDefault("marathon.username", "")
	v.SetDefault("marathon.password", "")
	v.SetDefault("marathon.token", "")
	v.SetDefault("marathon.timeout", "10s")
	v.SetDefault("marathon.force", false)
	v.SetDefault("marathon.reconnect_interval", "1s")

	v.SetDefault("compiler.haproxy_group", string(compiler.LabelAlways))
	v.SetDefault("compiler.haproxy_group_value", compiler.DefaultHAProxyGroupValue)
	v.SetDefault("compiler.endpoint_env", false)
	v.SetDefault("compiler.on_node_error", string(compiler.AbortOnError))

	v.SetDefault("ports.base", 10000)
	v.SetDefault("ports.persist", false)

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.handler_timeout", "10s")

	v.SetDefault("checker.enabled", true)
	v.SetDefault("checker.interval", "60s")
	v.SetDefault("checker.timeout", "10s")
	v.SetDefault("checker.max_concurrent", 5)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("MARATHONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Ports.Base <= 0 || cfg.Ports.Base > 65535 {
		return nil, fmt.Errorf("ports.base must be between 1 and 65535, got %d", cfg.Ports.Base)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Package config defines the camlink client configuration, loaded from YAML
// with sane defaults for every tunable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/camlink/errors"
	"github.com/c360/camlink/pkg/retry"
)

// Config represents the complete client configuration.
type Config struct {
	// ServerURL is the WebSocket endpoint of the camera service.
	ServerURL string `yaml:"server_url"`
	// Token is the authentication credential. The CAMLINK_TOKEN environment
	// variable overrides it so tokens stay out of config files.
	Token string `yaml:"token,omitempty"`

	Connection ConnectionConfig `yaml:"connection"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Router     RouterConfig     `yaml:"router"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ConnectionConfig tunes dialing, calls, and the reconnect schedule.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`

	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"`

	// RateLimit caps outbound calls per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty"`
	RateBurst int     `yaml:"rate_burst,omitempty"`
}

// HeartbeatConfig tunes liveness probing.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	// MissThreshold is how many consecutive unanswered pings declare the
	// connection dead.
	MissThreshold int `yaml:"miss_threshold"`
	// TargetRTT is the round-trip latency considered fully healthy.
	TargetRTT time.Duration `yaml:"target_rtt"`
	// WindowSize bounds the health sample history.
	WindowSize int `yaml:"window_size"`
}

// RouterConfig tunes notification ordering repair.
type RouterConfig struct {
	FlushTimeout time.Duration `yaml:"flush_timeout"`
	ReorderCap   int           `yaml:"reorder_cap"`
}

// MetricsConfig tunes the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			HandshakeTimeout:      10 * time.Second,
			CallTimeout:           10 * time.Second,
			ReconnectInitialDelay: time.Second,
			ReconnectMaxDelay:     30 * time.Second,
			MaxReconnectAttempts:  10,
		},
		Heartbeat: HeartbeatConfig{
			Interval:      15 * time.Second,
			MissThreshold: 3,
			TargetRTT:     100 * time.Millisecond,
			WindowSize:    20,
		},
		Router: RouterConfig{
			FlushTimeout: 250 * time.Millisecond,
			ReorderCap:   32,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file, applies defaults for omitted fields, and
// validates the result. The server_url field has no default, so an empty
// path fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "config", "Load", "parse config file")
		}
	}

	if token := os.Getenv("CAMLINK_TOKEN"); token != "" {
		cfg.Token = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var problems []string

	if c.ServerURL == "" {
		problems = append(problems, "server_url is required")
	} else if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		problems = append(problems, "server_url must use ws:// or wss://")
	}

	if c.Connection.HandshakeTimeout <= 0 {
		problems = append(problems, "connection.handshake_timeout must be positive")
	}
	if c.Connection.CallTimeout <= 0 {
		problems = append(problems, "connection.call_timeout must be positive")
	}
	if c.Connection.ReconnectInitialDelay <= 0 {
		problems = append(problems, "connection.reconnect_initial_delay must be positive")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectInitialDelay {
		problems = append(problems, "connection.reconnect_max_delay must be >= reconnect_initial_delay")
	}
	if c.Connection.MaxReconnectAttempts < 0 {
		problems = append(problems, "connection.max_reconnect_attempts cannot be negative")
	}
	if c.Connection.RateLimit < 0 {
		problems = append(problems, "connection.rate_limit cannot be negative")
	}

	if c.Heartbeat.Interval <= 0 {
		problems = append(problems, "heartbeat.interval must be positive")
	}
	if c.Heartbeat.MissThreshold <= 0 {
		problems = append(problems, "heartbeat.miss_threshold must be positive")
	}
	if c.Heartbeat.WindowSize <= 0 {
		problems = append(problems, "heartbeat.window_size must be positive")
	}

	if c.Router.FlushTimeout <= 0 {
		problems = append(problems, "router.flush_timeout must be positive")
	}
	if c.Router.ReorderCap <= 0 {
		problems = append(problems, "router.reorder_cap must be positive")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		problems = append(problems, "metrics.port must be in 1-65535")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}

	if len(problems) > 0 {
		return errors.Wrap(
			fmt.Errorf("%s", strings.Join(problems, "; ")),
			"config", "Validate", "validate configuration")
	}
	return nil
}

// ReconnectPolicy converts the connection section into a retry schedule.
func (c *Config) ReconnectPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Connection.MaxReconnectAttempts,
		InitialDelay: c.Connection.ReconnectInitialDelay,
		MaxDelay:     c.Connection.ReconnectMaxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

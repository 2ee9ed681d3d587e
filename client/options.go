package client

import (
	"log/slog"
	"time"

	"github.com/c360/camlink/auth"
	"github.com/c360/camlink/config"
	"github.com/c360/camlink/metric"
	"github.com/c360/camlink/pkg/retry"
	"github.com/c360/camlink/router"
	"github.com/c360/camlink/transport"
)

// Option configures the client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches operational metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithReconnectPolicy overrides the reconnect backoff schedule.
func WithReconnectPolicy(cfg retry.Config) Option {
	return func(c *Client) { c.reconnectPolicy = cfg }
}

// WithAutoReconnect controls whether a dropped transport triggers automatic
// re-establishment. Enabled by default.
func WithAutoReconnect(enabled bool) Option {
	return func(c *Client) { c.autoReconnect = enabled }
}

// WithHeartbeat sets the ping interval and how many consecutive misses
// declare the connection dead.
func WithHeartbeat(interval time.Duration, missThreshold int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.heartbeatInterval = interval
		}
		if missThreshold > 0 {
			c.missThreshold = missThreshold
		}
	}
}

// WithHealthWindow sets the health sample history size and the round-trip
// latency considered fully healthy.
func WithHealthWindow(size int, targetRTT time.Duration) Option {
	return func(c *Client) {
		if size > 0 {
			c.healthWindowSize = size
		}
		if targetRTT > 0 {
			c.targetRTT = targetRTT
		}
	}
}

// WithCallTimeout sets the default per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the WebSocket dial handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.transportOpts.HandshakeTimeout = d
		}
	}
}

// WithTransportOptions replaces the WebSocket transport options wholesale.
func WithTransportOptions(opts transport.Options) Option {
	return func(c *Client) { c.transportOpts = opts }
}

// WithRateLimit caps the outbound call rate. Zero disables limiting.
func WithRateLimit(callsPerSecond float64, burst int) Option {
	return func(c *Client) {
		c.rateLimit = callsPerSecond
		c.rateBurst = burst
	}
}

// WithRefreshFunc installs the credential refresher invoked when the session
// lapses.
func WithRefreshFunc(fn auth.RefreshFunc) Option {
	return func(c *Client) { c.refreshFunc = fn }
}

// WithRouterOptions forwards options to the notification router.
func WithRouterOptions(opts ...router.Option) Option {
	return func(c *Client) { c.routerOpts = append(c.routerOpts, opts...) }
}

// FromConfig expands a loaded configuration into the equivalent option set.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithReconnectPolicy(cfg.ReconnectPolicy()),
		WithHeartbeat(cfg.Heartbeat.Interval, cfg.Heartbeat.MissThreshold),
		WithHealthWindow(cfg.Heartbeat.WindowSize, cfg.Heartbeat.TargetRTT),
		WithCallTimeout(cfg.Connection.CallTimeout),
		WithHandshakeTimeout(cfg.Connection.HandshakeTimeout),
		WithRateLimit(cfg.Connection.RateLimit, cfg.Connection.RateBurst),
		WithRouterOptions(
			router.WithFlushTimeout(cfg.Router.FlushTimeout),
			router.WithReorderCap(cfg.Router.ReorderCap),
		),
	}
}

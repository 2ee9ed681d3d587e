package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all client-level metrics (not domain-specific)
type Metrics struct {
	// RPC metrics
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec

	// Connection metrics
	ConnectionState prometheus.Gauge
	Reconnects      prometheus.Counter
	HeartbeatRTT    prometheus.Gauge
	HealthScore     prometheus.Gauge

	// Notification metrics
	NotificationsRouted  *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all client metrics
func NewMetrics() *Metrics {
	return &Metrics{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "camlink",
				Subsystem: "rpc",
				Name:      "calls_total",
				Help:      "Total number of RPC calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),

		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "camlink",
				Subsystem: "rpc",
				Name:      "call_duration_seconds",
				Help:      "RPC call round-trip duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		ConnectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "camlink",
				Subsystem: "connection",
				Name:      "state",
				Help: "Connection state (0=disconnected, 1=connecting, " +
					"2=authenticating, 3=ready, 4=reconnecting)",
			},
		),

		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "camlink",
				Subsystem: "connection",
				Name:      "reconnects_total",
				Help:      "Total number of reconnection attempts",
			},
		),

		HeartbeatRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "camlink",
				Subsystem: "heartbeat",
				Name:      "rtt_milliseconds",
				Help:      "Latest heartbeat round-trip time in milliseconds",
			},
		),

		HealthScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "camlink",
				Subsystem: "health",
				Name:      "score",
				Help:      "Derived connection health score (0-100)",
			},
		),

		NotificationsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "camlink",
				Subsystem: "notifications",
				Name:      "routed_total",
				Help:      "Total number of notifications delivered to handlers",
			},
			[]string{"category"},
		),

		NotificationsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "camlink",
				Subsystem: "notifications",
				Name:      "dropped_total",
				Help:      "Total number of notifications dropped by reason",
			},
			[]string{"reason"},
		),
	}
}

// RecordCall increments the call counter and observes its duration
func (c *Metrics) RecordCall(method, outcome string, duration time.Duration) {
	c.CallsTotal.WithLabelValues(method, outcome).Inc()
	c.CallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordConnectionState updates the connection state gauge
func (c *Metrics) RecordConnectionState(state int) {
	c.ConnectionState.Set(float64(state))
}

// RecordReconnect increments the reconnection counter
func (c *Metrics) RecordReconnect() {
	c.Reconnects.Inc()
}

// RecordHeartbeatRTT updates the heartbeat round-trip gauge
func (c *Metrics) RecordHeartbeatRTT(rtt time.Duration) {
	c.HeartbeatRTT.Set(float64(rtt.Milliseconds()))
}

// RecordHealthScore updates the derived health score gauge
func (c *Metrics) RecordHealthScore(score float64) {
	c.HealthScore.Set(score)
}

// RecordNotificationRouted increments the routed counter for a category
func (c *Metrics) RecordNotificationRouted(category string) {
	c.NotificationsRouted.WithLabelValues(category).Inc()
}

// RecordNotificationDropped increments the dropped counter for a reason
func (c *Metrics) RecordNotificationDropped(reason string) {
	c.NotificationsDropped.WithLabelValues(reason).Inc()
}

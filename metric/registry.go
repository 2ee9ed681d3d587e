// Package metric exposes the client's operational metrics through a
// Prometheus registry and an optional HTTP scrape endpoint.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/camlink/errors"
)

// Registry manages the registration and lifecycle of metrics
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a new metrics registry with core client metrics
func NewRegistry() *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &Registry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.registerMetrics()

	// Add Go runtime metrics
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core client metrics
func (r *Registry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register registers an application-supplied collector under name
func (r *Registry) Register(name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registeredMetrics[name]; exists {
		return errors.Wrap(
			fmt.Errorf("metric %s already registered", name),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.Wrap(err, "Registry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.Wrap(err, "Registry", "Register", "register collector with prometheus")
	}

	r.registeredMetrics[name] = collector
	return nil
}

// Unregister removes a metric from the registry
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	collector, exists := r.registeredMetrics[name]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registeredMetrics, name)
	}

	return success
}

// registerMetrics registers all core client metrics
func (r *Registry) registerMetrics() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.CallsTotal,
		r.Metrics.CallDuration,
		r.Metrics.ConnectionState,
		r.Metrics.Reconnects,
		r.Metrics.HeartbeatRTT,
		r.Metrics.HealthScore,
		r.Metrics.NotificationsRouted,
		r.Metrics.NotificationsDropped,
	)
}

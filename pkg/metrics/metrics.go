// Package metrics exposes Prometheus instrumentation for the admin core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "traefik_admin"

// Verify outcomes.
const (
	OutcomeAllowed      = "allowed"
	OutcomeRedirect     = "redirect"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeNotFound     = "not_found"
	OutcomeError        = "error"
)

// Metrics holds the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	verifyDecisions    *prometheus.CounterVec
	generations        prometheus.Counter
	generationDuration prometheus.Histogram
	skippedServices    prometheus.Counter
	activeSessions     prometheus.Gauge
	disabledServices   prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		verifyDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_decisions_total",
			Help:      "Forward-auth decisions by outcome",
		}, []string{"outcome"}),
		generations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_generations_total",
			Help:      "Dynamic configuration documents generated",
		}),
		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "config_generation_duration_seconds",
			Help:      "Time spent generating the dynamic configuration",
			Buckets:   prometheus.DefBuckets,
		}),
		skippedServices: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_skipped_services_total",
			Help:      "Services and domains left out of generated documents",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions held in the session index",
		}),
		disabledServices: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "services_auto_disabled_total",
			Help:      "Services disabled after their enable window elapsed",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// ObserveVerify counts one verify decision.
func (m *Metrics) ObserveVerify(outcome string) {
	if m == nil {
		return
	}

	m.verifyDecisions.WithLabelValues(outcome).Inc()
}

// ObserveGeneration records one generation run and how many entities it
// skipped.
func (m *Metrics) ObserveGeneration(d time.Duration, skipped int) {
	if m == nil {
		return
	}

	m.generations.Inc()
	m.generationDuration.Observe(d.Seconds())
	m.skippedServices.Add(float64(skipped))
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}

	m.activeSessions.Set(float64(n))
}

// ObserveDisabledServices counts services turned off by the sweep.
func (m *Metrics) ObserveDisabledServices(n int) {
	if m == nil {
		return
	}

	m.disabledServices.Add(float64(n))
}

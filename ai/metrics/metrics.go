// Package metrics exports Prometheus metrics for the chat engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder, so callers can carry one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	completions       *prometheus.CounterVec
	completionLatency *prometheus.HistogramVec
	localAvailable    prometheus.Gauge
	localModels       prometheus.Gauge
}

// New creates the collectors on the given registry (a fresh one if nil).
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_completions_total",
			Help: "Completion calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		completionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_completion_duration_seconds",
			Help:    "Completion call latency by provider.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		localAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_local_provider_available",
			Help: "Whether the latest local availability probe succeeded.",
		}),
		localModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_local_provider_models",
			Help: "Number of models the latest probe enumerated.",
		}),
	}

	registry.MustRegister(m.completions, m.completionLatency, m.localAvailable, m.localModels)
	return m
}

// ObserveCompletion records one provider call.
func (m *Metrics) ObserveCompletion(provider string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.completions.WithLabelValues(provider, outcome).Inc()
	m.completionLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetLocalStatus records the latest probe result.
func (m *Metrics) SetLocalStatus(available bool, models int) {
	if m == nil {
		return
	}
	if available {
		m.localAvailable.Set(1)
	} else {
		m.localAvailable.Set(0)
	}
	m.localModels.Set(float64(models))
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

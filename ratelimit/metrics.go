/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tollgate/tollgate/limits"
)

// Prometheus labels.
const (
	metricsLabelResult    = "result"
	metricsLabelLimitType = "limit_type"
	metricsLabelEndpoint  = "endpoint"
)

// NoEndpoint is reported as the endpoint of requests that matched no endpoint rule.
const NoEndpoint = "-"

// MetricsCollector receives admission decisions and load changes.
type MetricsCollector interface {
	IncDecisions(endpoint string, limitType limits.LimitType, allowed bool)
	IncDegradedDecisions()
	SetLoadMultiplier(m float64)
	SetLoadLevel(load float64)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	Namespace   string
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents collector of metrics for admission decisions.
type PrometheusMetrics struct {
	Decisions         *prometheus.CounterVec
	DegradedDecisions prometheus.Counter
	LoadMultiplier    prometheus.Gauge
	LoadLevel         prometheus.Gauge
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   "ratelimit",
			Name:        "decisions_total",
			Help:        "Number of admission decisions.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelResult, metricsLabelLimitType, metricsLabelEndpoint}),
		DegradedDecisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   "ratelimit",
			Name:        "degraded_decisions_total",
			Help:        "Number of admission decisions made with stale or fallback limits.",
			ConstLabels: opts.ConstLabels,
		}),
		LoadMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Subsystem:   "ratelimit",
			Name:        "load_multiplier",
			Help:        "Factor all limits are currently multiplied by.",
			ConstLabels: opts.ConstLabels,
		}),
		LoadLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Subsystem:   "ratelimit",
			Name:        "load_level",
			Help:        "Last sampled host load (1 means all CPUs are busy).",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Decisions, pm.DegradedDecisions, pm.LoadMultiplier, pm.LoadLevel)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Decisions)
	prometheus.Unregister(pm.DegradedDecisions)
	prometheus.Unregister(pm.LoadMultiplier)
	prometheus.Unregister(pm.LoadLevel)
}

// IncDecisions implements MetricsCollector.
func (pm *PrometheusMetrics) IncDecisions(endpoint string, limitType limits.LimitType, allowed bool) {
	result := "rejected"
	if allowed {
		result = "admitted"
	}
	if endpoint == "" {
		endpoint = NoEndpoint
	}
	pm.Decisions.With(prometheus.Labels{
		metricsLabelResult:    result,
		metricsLabelLimitType: string(limitType),
		metricsLabelEndpoint:  endpoint,
	}).Inc()
}

// IncDegradedDecisions implements MetricsCollector.
func (pm *PrometheusMetrics) IncDegradedDecisions() {
	pm.DegradedDecisions.Inc()
}

// SetLoadMultiplier implements MetricsCollector.
func (pm *PrometheusMetrics) SetLoadMultiplier(m float64) {
	pm.LoadMultiplier.Set(m)
}

// SetLoadLevel implements MetricsCollector.
func (pm *PrometheusMetrics) SetLoadLevel(load float64) {
	pm.LoadLevel.Set(load)
}

type disabledMetrics struct{}

func (disabledMetrics) IncDecisions(string, limits.LimitType, bool) {}
func (disabledMetrics) IncDegradedDecisions()                       {}
func (disabledMetrics) SetLoadMultiplier(float64)                   {}
func (disabledMetrics) SetLoadLevel(float64)                        {}

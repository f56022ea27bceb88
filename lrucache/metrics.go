/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector receives cache statistics.
type MetricsCollector interface {
	// SetAmount sets the current number of entries.
	SetAmount(int)
	// IncHits counts a lookup that found a live entry.
	IncHits()
	// IncMisses counts a lookup that found nothing or an expired entry.
	IncMisses()
	// AddEvictions counts entries dropped because the cache was full.
	AddEvictions(int)
	// AddExpirations counts entries dropped because their TTL elapsed.
	AddExpirations(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	Namespace string
	// Subsystem distinguishes caches living in one process ("windows", "limits").
	Subsystem   string
	ConstLabels prometheus.Labels
}

// PrometheusMetrics implements MetricsCollector with Prometheus gauge and counters.
type PrometheusMetrics struct {
	EntriesAmount    prometheus.Gauge
	HitsTotal        prometheus.Counter
	MissesTotal      prometheus.Counter
	EvictionsTotal   prometheus.Counter
	ExpirationsTotal prometheus.Counter
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates PrometheusMetrics without namespace and subsystem.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates PrometheusMetrics.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem, ConstLabels: opts.ConstLabels, Name: name, Help: help,
		})
	}
	return &PrometheusMetrics{
		EntriesAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem, ConstLabels: opts.ConstLabels,
			Name: "cache_entries_amount", Help: "Current number of entries in the cache.",
		}),
		HitsTotal:        counter("cache_hits_total", "Number of lookups that found a live entry."),
		MissesTotal:      counter("cache_misses_total", "Number of lookups that found nothing or an expired entry."),
		EvictionsTotal:   counter("cache_evictions_total", "Number of entries evicted because the cache was full."),
		ExpirationsTotal: counter("cache_expirations_total", "Number of entries dropped after their TTL elapsed."),
	}
}

func (pm *PrometheusMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{pm.EntriesAmount, pm.HitsTotal, pm.MissesTotal, pm.EvictionsTotal, pm.ExpirationsTotal}
}

// MustRegister registers the metrics in the default registry. It panics on error.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.collectors()...)
}

// Unregister removes the metrics from the default registry.
func (pm *PrometheusMetrics) Unregister() {
	for _, c := range pm.collectors() {
		prometheus.Unregister(c)
	}
}

// SetAmount implements MetricsCollector.
func (pm *PrometheusMetrics) SetAmount(amount int) { pm.EntriesAmount.Set(float64(amount)) }

// IncHits implements MetricsCollector.
func (pm *PrometheusMetrics) IncHits() { pm.HitsTotal.Inc() }

// IncMisses implements MetricsCollector.
func (pm *PrometheusMetrics) IncMisses() { pm.MissesTotal.Inc() }

// AddEvictions implements MetricsCollector.
func (pm *PrometheusMetrics) AddEvictions(n int) { pm.EvictionsTotal.Add(float64(n)) }

// AddExpirations implements MetricsCollector.
func (pm *PrometheusMetrics) AddExpirations(n int) { pm.ExpirationsTotal.Add(float64(n)) }

type disabledMetrics struct{}

func (disabledMetrics) SetAmount(int)      {}
func (disabledMetrics) IncHits()           {}
func (disabledMetrics) IncMisses()         {}
func (disabledMetrics) AddEvictions(int)   {}
func (disabledMetrics) AddExpirations(int) {}

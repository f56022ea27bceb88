/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package slidingwindow

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/tollgate/tollgate/lrucache"
)

// MetricsCollector receives limiter state changes.
type MetricsCollector interface {
	// AddActiveKeys changes the number of keys that currently hold a window (delta may be negative).
	AddActiveKeys(delta int)
	// AddForcedEvictions counts keys evicted because the key capacity was exhausted.
	AddForcedEvictions(n int)
	// AddExpiredKeys counts keys removed after staying idle for longer than their TTL.
	AddExpiredKeys(n int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	Namespace   string
	ConstLabels prometheus.Labels
}

// PrometheusMetrics exposes the limiter state in Prometheus.
type PrometheusMetrics struct {
	ActiveKeys      prometheus.Gauge
	ForcedEvictions prometheus.Counter
	ExpiredKeys     prometheus.Counter
}

// NewPrometheusMetrics creates PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		ActiveKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Subsystem:   "limiter",
			Name:        "active_windows",
			Help:        "Number of keys that currently hold a sliding window.",
			ConstLabels: opts.ConstLabels,
		}),
		ForcedEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   "limiter",
			Name:        "forced_evictions_total",
			Help:        "Number of windows evicted because the key capacity was exhausted.",
			ConstLabels: opts.ConstLabels,
		}),
		ExpiredKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   "limiter",
			Name:        "expired_windows_total",
			Help:        "Number of windows removed after an inactivity period.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.ActiveKeys, pm.ForcedEvictions, pm.ExpiredKeys)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.ActiveKeys)
	prometheus.Unregister(pm.ForcedEvictions)
	prometheus.Unregister(pm.ExpiredKeys)
}

// AddActiveKeys implements MetricsCollector.
func (pm *PrometheusMetrics) AddActiveKeys(delta int) {
	pm.ActiveKeys.Add(float64(delta))
}

// AddForcedEvictions implements MetricsCollector.
func (pm *PrometheusMetrics) AddForcedEvictions(n int) {
	pm.ForcedEvictions.Add(float64(n))
}

// AddExpiredKeys implements MetricsCollector.
func (pm *PrometheusMetrics) AddExpiredKeys(n int) {
	pm.ExpiredKeys.Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) AddActiveKeys(int)      {}
func (disabledMetrics) AddForcedEvictions(int) {}
func (disabledMetrics) AddExpiredKeys(int)     {}

// shardMetrics adapts a shard's cache metrics to the limiter-wide collector.
// The cache reports absolute entry counts per shard, the collector wants deltas.
type shardMetrics struct {
	parent MetricsCollector
	amount atomic.Int64
}

var _ lrucache.MetricsCollector = (*shardMetrics)(nil)

func (m *shardMetrics) SetAmount(n int) {
	prev := m.amount.Swap(int64(n))
	if delta := int64(n) - prev; delta != 0 {
		m.parent.AddActiveKeys(int(delta))
	}
}

func (m *shardMetrics) IncHits()   {}
func (m *shardMetrics) IncMisses() {}

func (m *shardMetrics) AddEvictions(n int) {
	m.parent.AddForcedEvictions(n)
}

func (m *shardMetrics) AddExpirations(n int) {
	m.parent.AddExpiredKeys(n)
}

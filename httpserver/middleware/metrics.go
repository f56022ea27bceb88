/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tollgate/tollgate/ratelimit"
)

const (
	httpRequestMetricsLabelMethod     = "method"
	httpRequestMetricsLabelAdmission  = "admission"
	httpRequestMetricsLabelEndpoint   = "endpoint"
	httpRequestMetricsLabelStatusCode = "status_code"
)

// Admission outcomes reported in the "admission" label.
const (
	AdmissionNone     = "none"
	AdmissionAdmitted = "admitted"
	AdmissionRejected = "rejected"
	AdmissionDryRun   = "dry_run"
)

// DefaultHTTPRequestDurationBuckets is default buckets into which observations of serving HTTP requests are counted.
var DefaultHTTPRequestDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// HTTPRequestPrometheusMetricsOpts represents options for HTTPRequestPrometheusMetrics.
type HTTPRequestPrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace       string
	DurationBuckets []float64
	ConstLabels     prometheus.Labels
}

// HTTPRequestPrometheusMetrics represents collector of metrics for incoming HTTP requests.
type HTTPRequestPrometheusMetrics struct {
	Durations *prometheus.HistogramVec
	InFlight  prometheus.Gauge
}

// NewHTTPRequestPrometheusMetrics creates a new metrics collector.
func NewHTTPRequestPrometheusMetrics() *HTTPRequestPrometheusMetrics {
	return NewHTTPRequestPrometheusMetricsWithOpts(HTTPRequestPrometheusMetricsOpts{})
}

// NewHTTPRequestPrometheusMetricsWithOpts is a more configurable version of creating HTTPRequestPrometheusMetrics.
func NewHTTPRequestPrometheusMetricsWithOpts(opts HTTPRequestPrometheusMetricsOpts) *HTTPRequestPrometheusMetrics {
	durBuckets := opts.DurationBuckets
	if durBuckets == nil {
		durBuckets = DefaultHTTPRequestDurationBuckets
	}
	return &HTTPRequestPrometheusMetrics{
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "http_request_duration_seconds",
			Help:        "A histogram of the HTTP request durations.",
			Buckets:     durBuckets,
			ConstLabels: opts.ConstLabels,
		}, []string{
			httpRequestMetricsLabelMethod,
			httpRequestMetricsLabelAdmission,
			httpRequestMetricsLabelEndpoint,
			httpRequestMetricsLabelStatusCode,
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "http_requests_in_flight",
			Help:        "Current number of HTTP requests being served.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *HTTPRequestPrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Durations, pm.InFlight)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *HTTPRequestPrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Durations)
	prometheus.Unregister(pm.InFlight)
}

func (pm *HTTPRequestPrometheusMetrics) observe(r *http.Request, mp *MetricsParams, status int, elapsed time.Duration) {
	admission, endpoint := mp.values()
	if admission == "" {
		admission = AdmissionNone
	}
	if endpoint == "" {
		endpoint = ratelimit.NoEndpoint
	}
	pm.Durations.With(prometheus.Labels{
		httpRequestMetricsLabelMethod:     r.Method,
		httpRequestMetricsLabelAdmission:  admission,
		httpRequestMetricsLabelEndpoint:   endpoint,
		httpRequestMetricsLabelStatusCode: strconv.Itoa(status),
	}).Observe(elapsed.Seconds())
}

// HTTPRequestMetricsOpts represents options for HTTPRequestMetrics middleware.
type HTTPRequestMetricsOpts struct {
	ExcludedEndpoints []string
}

type httpRequestMetricsHandler struct {
	next      http.Handler
	collector *HTTPRequestPrometheusMetrics
	opts      HTTPRequestMetricsOpts
}

// HTTPRequestMetrics is a middleware that collects metrics for incoming HTTP requests using Prometheus data types.
// Requests are labeled with the admission outcome and the matched endpoint rule reported by the Admission middleware.
func HTTPRequestMetrics(collector *HTTPRequestPrometheusMetrics) func(next http.Handler) http.Handler {
	return HTTPRequestMetricsWithOpts(collector, HTTPRequestMetricsOpts{})
}

// HTTPRequestMetricsWithOpts is a more configurable version of HTTPRequestMetrics middleware.
func HTTPRequestMetricsWithOpts(
	collector *HTTPRequestPrometheusMetrics, opts HTTPRequestMetricsOpts,
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &httpRequestMetricsHandler{next: next, collector: collector, opts: opts}
	}
}

func (h *httpRequestMetricsHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if isEndpointExcluded(r.URL.Path, h.opts.ExcludedEndpoints) {
		h.next.ServeHTTP(rw, r)
		return
	}

	startTime := GetRequestStartTimeFromContext(r.Context())
	if startTime.IsZero() {
		startTime = time.Now()
		r = r.WithContext(NewContextWithRequestStartTime(r.Context(), startTime))
	}

	h.collector.InFlight.Inc()
	defer h.collector.InFlight.Dec()

	mp := &MetricsParams{}
	r = r.WithContext(NewContextWithMetricsParams(r.Context(), mp))
	wrw := wrapResponseWriter(rw, r.ProtoMajor)
	defer func() {
		if p := recover(); p != nil {
			if p != http.ErrAbortHandler {
				h.collector.observe(r, mp, http.StatusInternalServerError, time.Since(startTime))
			}
			panic(p)
		}
		h.collector.observe(r, mp, responseStatus(wrw), time.Since(startTime))
	}()

	h.next.ServeHTTP(wrw, r)
}

func isEndpointExcluded(urlPath string, endpoints []string) bool {
	for _, endpoint := range endpoints {
		if urlPath == endpoint {
			return true
		}
	}
	return false
}

// wrapResponseWriter wraps rw unless it is already wrapped by an outer middleware.
func wrapResponseWriter(rw http.ResponseWriter, protoMajor int) chimw.WrapResponseWriter {
	if wrw, ok := rw.(chimw.WrapResponseWriter); ok {
		return wrw
	}
	return chimw.NewWrapResponseWriter(rw, protoMajor)
}

// responseStatus treats a response nothing was written to as 200, the way net/http does.
func responseStatus(wrw chimw.WrapResponseWriter) int {
	if status := wrw.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	responseErrorsMu sync.RWMutex
	responseErrors   *prometheus.CounterVec
)

// MustInitAndRegisterMetrics creates the counter of error responses and registers it in the default registry.
// It panics if the counter is already registered.
func MustInitAndRegisterMetrics(namespace string) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "restapi",
		Name:      "response_errors",
		Help:      "The total number of error responses the gateway has sent.",
	}, []string{"domain", "code"})
	prometheus.MustRegister(counter)

	responseErrorsMu.Lock()
	responseErrors = counter
	responseErrorsMu.Unlock()
}

// UnregisterMetrics unregisters the counter of error responses. Errors are not counted after that.
func UnregisterMetrics() {
	responseErrorsMu.Lock()
	defer responseErrorsMu.Unlock()
	if responseErrors != nil {
		prometheus.Unregister(responseErrors)
		responseErrors = nil
	}
}

func countResponseError(apiErr *Error) {
	responseErrorsMu.RLock()
	defer responseErrorsMu.RUnlock()
	if responseErrors != nil {
		responseErrors.WithLabelValues(apiErr.Domain, apiErr.Code).Inc()
	}
}

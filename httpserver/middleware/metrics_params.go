/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import "sync"

// MetricsParams stores label values for the HTTPRequestMetrics middleware
// that are known only to the underlying middlewares/handlers.
type MetricsParams struct {
	mu        sync.Mutex
	admission string
	endpoint  string
}

// SetAdmission sets the admission outcome of the request (see the Admission* constants)
// and the ID of the endpoint rule it matched.
func (mp *MetricsParams) SetAdmission(admission, endpoint string) {
	mp.mu.Lock()
	mp.admission, mp.endpoint = admission, endpoint
	mp.mu.Unlock()
}

func (mp *MetricsParams) values() (admission, endpoint string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.admission, mp.endpoint
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs the gateway as a set of units (HTTP server, periodic maintenance workers)
// sharing one lifecycle: metrics registration, start, and graceful stop on OS signal or context cancellation.
package service

// Unit is a component of the service with its own lifecycle.
type Unit interface {
	// Start runs the unit. It may return right after initialization or block for the unit's lifetime.
	// A failure is reported by writing to fatalErr before returning; a successful Start never writes to it,
	// and nobody writes to the channel after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called when Start has failed or has not been called at all.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that own Prometheus collectors.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}

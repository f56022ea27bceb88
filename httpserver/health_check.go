/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/tollgate/tollgate/httpserver/middleware"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/restapi"
)

// StatusClientClosedRequest is a special HTTP status code used by Nginx to show that the client
// closed the request before the server could send a response
const StatusClientClosedRequest = 499

// HealthCheckComponentName is a type alias for component names. It's used for better readability.
type HealthCheckComponentName = string

// HealthCheckStatus is a resulting status of the health-check.
type HealthCheckStatus int

// Health-check statuses.
const (
	HealthCheckStatusOK HealthCheckStatus = iota
	HealthCheckStatusFail
)

// HealthCheckResult is a type alias for result of health-check operation. It's used for better readability.
type HealthCheckResult = map[HealthCheckComponentName]HealthCheckStatus

// HealthCheck is a type alias for health-check operation. It's used for better readability.
type HealthCheck = func() (HealthCheckResult, error)

// HealthCheckContext is a type alias for health-check operation that has access to the request Context
type HealthCheckContext = func(ctx context.Context) (HealthCheckResult, error)

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
}

// HealthCheckHandler serves /healthz. It responds with 200 when all components are healthy,
// with 503 when some of them are not and with 500 when the health-check itself fails.
type HealthCheckHandler struct {
	check HealthCheckContext
}

// NewHealthCheckHandler creates a new HealthCheckHandler. A nil function means there are no components to check.
func NewHealthCheckHandler(fn HealthCheck) *HealthCheckHandler {
	if fn == nil {
		return NewHealthCheckHandlerContext(nil)
	}
	return &HealthCheckHandler{check: func(context.Context) (HealthCheckResult, error) { return fn() }}
}

// NewHealthCheckHandlerContext creates a new HealthCheckHandler whose function has access to the request context.
func NewHealthCheckHandlerContext(fn HealthCheckContext) *HealthCheckHandler {
	if fn == nil {
		fn = func(ctx context.Context) (HealthCheckResult, error) { return HealthCheckResult{}, ctx.Err() }
	}
	return &HealthCheckHandler{check: fn}
}

// ServeHTTP implements http.Handler.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLoggerFromContext(ctx)

	result, err := h.check(ctx)
	if err == nil {
		// The check may ignore the context, so the client may be gone already.
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		if logger != nil {
			logger.Error("health-check failed", log.Error(err))
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	respData := healthCheckResponseData{Components: make(map[string]bool, len(result))}
	for name, componentStatus := range result {
		healthy := componentStatus == HealthCheckStatusOK
		respData.Components[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
		}
	}
	restapi.RespondCodeAndJSON(rw, status, respData, logger)
}

// Pinger is a component which reachability can be checked (e.g. the rate limit configuration store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc is an adapter to allow the use of ordinary functions as Pinger.
type PingerFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// NewPingHealthCheck returns a health-check reporting a component as failed when its Ping returns an error.
// Errors of the pings are logged with the passed logger, they do not fail the health-check itself.
func NewPingHealthCheck(components map[HealthCheckComponentName]Pinger, logger log.FieldLogger) HealthCheckContext {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return func(ctx context.Context) (HealthCheckResult, error) {
		result := make(HealthCheckResult, len(components))
		for name, pinger := range components {
			if err := pinger.Ping(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				logger.Warn("health-check of component failed", log.String("component", name), log.Error(err))
				result[name] = HealthCheckStatusFail
				continue
			}
			result[name] = HealthCheckStatusOK
		}
		return result, nil
	}
}

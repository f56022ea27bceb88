/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"time"

	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/ratelimit"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyInternalRequestID
	ctxKeyLogger
	ctxKeyLoggingParams
	ctxKeyMetricsParams
	ctxKeyRequestStartTime
	ctxKeySubject
	ctxKeyDecision
)

func valueFromContext[T any](ctx context.Context, key ctxKey) (T, bool) {
	value, ok := ctx.Value(key).(T)
	return value, ok
}

// NewContextWithRequestID returns a copy of ctx carrying the X-Request-ID value.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext returns the X-Request-ID value or an empty string.
func GetRequestIDFromContext(ctx context.Context) string {
	id, _ := valueFromContext[string](ctx, ctxKeyRequestID)
	return id
}

// NewContextWithInternalRequestID returns a copy of ctx carrying the per-hop request id.
func NewContextWithInternalRequestID(ctx context.Context, internalRequestID string) context.Context {
	return context.WithValue(ctx, ctxKeyInternalRequestID, internalRequestID)
}

// GetInternalRequestIDFromContext returns the per-hop request id or an empty string.
func GetInternalRequestIDFromContext(ctx context.Context) string {
	id, _ := valueFromContext[string](ctx, ctxKeyInternalRequestID)
	return id
}

// NewContextWithLogger returns a copy of ctx carrying the request-scoped logger.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLoggerFromContext returns the request-scoped logger or nil.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	logger, _ := valueFromContext[log.FieldLogger](ctx, ctxKeyLogger)
	return logger
}

// NewContextWithLoggingParams creates a new context with logging params.
func NewContextWithLoggingParams(ctx context.Context, loggingParams *LoggingParams) context.Context {
	return context.WithValue(ctx, ctxKeyLoggingParams, loggingParams)
}

// GetLoggingParamsFromContext extracts logging params from the context.
func GetLoggingParamsFromContext(ctx context.Context) *LoggingParams {
	lp, _ := valueFromContext[*LoggingParams](ctx, ctxKeyLoggingParams)
	return lp
}

// NewContextWithMetricsParams creates a new context with metrics params.
func NewContextWithMetricsParams(ctx context.Context, metricsParams *MetricsParams) context.Context {
	return context.WithValue(ctx, ctxKeyMetricsParams, metricsParams)
}

// GetMetricsParamsFromContext extracts metrics params from the context.
func GetMetricsParamsFromContext(ctx context.Context) *MetricsParams {
	mp, _ := valueFromContext[*MetricsParams](ctx, ctxKeyMetricsParams)
	return mp
}

// NewContextWithRequestStartTime creates a new context with request start time.
func NewContextWithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyRequestStartTime, startTime)
}

// GetRequestStartTimeFromContext extracts request start time from the context.
func GetRequestStartTimeFromContext(ctx context.Context) time.Time {
	startTime, _ := valueFromContext[time.Time](ctx, ctxKeyRequestStartTime)
	return startTime
}

// NewContextWithSubject creates a new context with the subject the request is admitted for.
func NewContextWithSubject(ctx context.Context, subject limits.Subject) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// GetSubjectFromContext extracts the subject of the request from the context.
func GetSubjectFromContext(ctx context.Context) (limits.Subject, bool) {
	return valueFromContext[limits.Subject](ctx, ctxKeySubject)
}

// NewContextWithDecision creates a new context with the admission decision.
func NewContextWithDecision(ctx context.Context, decision ratelimit.Decision) context.Context {
	return context.WithValue(ctx, ctxKeyDecision, decision)
}

// GetDecisionFromContext extracts the admission decision from the context.
func GetDecisionFromContext(ctx context.Context) (ratelimit.Decision, bool) {
	return valueFromContext[ratelimit.Decision](ctx, ctxKeyDecision)
}

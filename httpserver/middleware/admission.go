/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/ratelimit"
	"github.com/tollgate/tollgate/restapi"
)

// Headers written by the Admission middleware.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// Headers the default subject getter reads the identity from.
const (
	DefaultIdentityHeader = "X-Identity-ID"
	DefaultClassHeader    = "X-Identity-Class"
)

// RateLimitExceededErrCode is sent in the "error" field of the rejection body.
const RateLimitExceededErrCode = "rate_limit_exceeded"

// DefaultAdmissionExcludedEndpoints are never subject to admission control.
var DefaultAdmissionExcludedEndpoints = []string{"/metrics", "/healthz"}

// RateLimitExceededResponse is the body of the 429 response.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// AdmissionChecker makes admission decisions. It is implemented by *ratelimit.Manager.
type AdmissionChecker interface {
	Check(ctx context.Context, req ratelimit.Request) ratelimit.Decision
}

// AdmissionGetSubjectFunc returns the subject the request is admitted for.
// Empty identity means the request is anonymous and is keyed by its address.
type AdmissionGetSubjectFunc func(r *http.Request) limits.Subject

// AdmissionOnRejectFunc is called when the request is not admitted.
type AdmissionOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, decision ratelimit.Decision, next http.Handler, logger log.FieldLogger)

// AdmissionOpts represents options for the Admission middleware.
type AdmissionOpts struct {
	// GetSubject overrides the default subject extraction from IdentityHeader, ClassHeader and the client address.
	GetSubject        AdmissionGetSubjectFunc
	IdentityHeader    string
	ClassHeader       string
	// TrustForwardedFor makes anonymous subjects be keyed by X-Forwarded-For or X-Real-IP.
	// Enable it only behind a proxy that overwrites these headers.
	TrustForwardedFor bool
	// DryRun makes rejected requests be logged and served anyway.
	DryRun bool
	// ExcludedEndpoints are served without admission control, DefaultAdmissionExcludedEndpoints if nil.
	ExcludedEndpoints []string

	OnReject         AdmissionOnRejectFunc
	OnRejectInDryRun AdmissionOnRejectFunc
}

type admissionHandler struct {
	next       http.Handler
	checker    AdmissionChecker
	getSubject AdmissionGetSubjectFunc
	excluded   []string
	dryRun     bool
	onReject   AdmissionOnRejectFunc
}

// Admission is a middleware that asks the checker whether the request may be served.
// Admitted requests get X-RateLimit-* headers and are passed to the next handler,
// rejected ones get 429 with Retry-After and a JSON body.
func Admission(checker AdmissionChecker) func(next http.Handler) http.Handler {
	return AdmissionWithOpts(checker, AdmissionOpts{})
}

// AdmissionWithOpts is a more configurable version of Admission middleware.
func AdmissionWithOpts(checker AdmissionChecker, opts AdmissionOpts) func(next http.Handler) http.Handler {
	if checker == nil {
		panic("admission checker cannot be nil")
	}
	getSubject := opts.GetSubject
	if getSubject == nil {
		getSubject = NewHeaderSubjectGetter(opts.IdentityHeader, opts.ClassHeader, opts.TrustForwardedFor)
	}
	excluded := opts.ExcludedEndpoints
	if excluded == nil {
		excluded = DefaultAdmissionExcludedEndpoints
	}
	onReject := opts.OnReject
	if onReject == nil {
		onReject = DefaultAdmissionOnReject
	}
	if opts.DryRun {
		onReject = opts.OnRejectInDryRun
		if onReject == nil {
			onReject = DefaultAdmissionOnRejectInDryRun
		}
	}
	return func(next http.Handler) http.Handler {
		return &admissionHandler{
			next:       next,
			checker:    checker,
			getSubject: getSubject,
			excluded:   excluded,
			dryRun:     opts.DryRun,
			onReject:   onReject,
		}
	}
}

// NewHeaderSubjectGetter returns a subject getter that reads the identity and its class from the request headers
// set by the authentication layer in front of the gateway. Empty header names fall back to the defaults.
func NewHeaderSubjectGetter(identityHeader, classHeader string, trustForwardedFor bool) AdmissionGetSubjectFunc {
	if identityHeader == "" {
		identityHeader = DefaultIdentityHeader
	}
	if classHeader == "" {
		classHeader = DefaultClassHeader
	}
	return func(r *http.Request) limits.Subject {
		return limits.Subject{
			Identity: r.Header.Get(identityHeader),
			Class:    r.Header.Get(classHeader),
			Address:  ClientAddress(r, trustForwardedFor),
		}
	}
}

func (h *admissionHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if isEndpointExcluded(r.URL.Path, h.excluded) {
		h.next.ServeHTTP(rw, r)
		return
	}

	subject := h.getSubject(r)
	decision := h.checker.Check(r.Context(), ratelimit.Request{
		Identity: subject.Identity,
		Class:    subject.Class,
		Address:  subject.Address,
		Method:   r.Method,
		Path:     r.URL.Path,
	})
	ctx := NewContextWithDecision(NewContextWithSubject(r.Context(), subject), decision)
	r = r.WithContext(ctx)

	setRateLimitHeaders(rw.Header(), decision)
	if lp := GetLoggingParamsFromContext(ctx); lp != nil {
		fields := []log.Field{
			log.String("rate_limit_type", string(decision.LimitType)),
			log.Int("rate_limit_remaining", decision.Remaining),
		}
		if decision.Degraded {
			fields = append(fields, log.Bool("rate_limit_degraded", true))
		}
		lp.ExtendFields(fields...)
	}

	admission := AdmissionAdmitted
	switch {
	case decision.Allowed:
	case h.dryRun:
		admission = AdmissionDryRun
	default:
		admission = AdmissionRejected
	}
	if mp := GetMetricsParamsFromContext(ctx); mp != nil {
		mp.SetAdmission(admission, decision.Endpoint)
	}

	if decision.Allowed {
		h.next.ServeHTTP(rw, r)
		return
	}
	h.onReject(rw, r, decision, h.next, GetLoggerFromContext(ctx))
}

// DefaultAdmissionOnReject responds with 429, Retry-After and RateLimitExceededResponse in the body.
func DefaultAdmissionOnReject(
	rw http.ResponseWriter, _ *http.Request, decision ratelimit.Decision, _ http.Handler, logger log.FieldLogger,
) {
	retryAfter := RetryAfterSeconds(decision.ResetAfter)
	rw.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))
	restapi.RespondCodeAndJSON(rw, http.StatusTooManyRequests, RateLimitExceededResponse{
		Error: RateLimitExceededErrCode,
		Message: fmt.Sprintf("Too many requests, the %s rate limit of %d requests is exceeded.",
			decision.LimitType, decision.Limit),
		RetryAfter: retryAfter,
	}, logger)
}

// DefaultAdmissionOnRejectInDryRun logs the rejection and serves the request.
func DefaultAdmissionOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, decision ratelimit.Decision, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("rate limit is exceeded, serving will be continued because of dry run mode",
			log.String("rate_limit_type", string(decision.LimitType)),
			log.Int("rate_limit", decision.Limit),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	next.ServeHTTP(rw, r)
}

func setRateLimitHeaders(h http.Header, decision ratelimit.Decision) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
	h.Set(HeaderRateLimitReset, strconv.Itoa(ceilSeconds(decision.ResetAfter)))
}

// RetryAfterSeconds converts the time until a rejected request may succeed into the Retry-After value.
// It is never less than one second.
func RetryAfterSeconds(d time.Duration) int {
	if s := ceilSeconds(d); s > 0 {
		return s
	}
	return 1
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tollgate/tollgate/httpserver/middleware"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/ratelimit"
	"github.com/tollgate/tollgate/restapi"
)

// Paths of the debug endpoints.
const (
	DebugWindowsPath    = "/debug/ratelimit/windows"
	DebugInvalidatePath = "/debug/ratelimit/invalidate"
)

// RateLimitInspector reports the effective limit and the window counts of a request without counting it.
type RateLimitInspector interface {
	Inspect(ctx context.Context, req ratelimit.Request) (limits.EffectiveLimit, []ratelimit.WindowState)
}

// RateLimitInvalidator drops cached rate limit configuration.
type RateLimitInvalidator interface {
	Invalidate()
}

// DebugOpts represents options of the debug endpoints.
type DebugOpts struct {
	Inspector   RateLimitInspector
	Invalidator RateLimitInvalidator
	ErrorDomain string
}

type debugLimits struct {
	RPM         int    `json:"rpm"`
	RPH         int    `json:"rph"`
	Burst       int    `json:"burst"`
	BurstWindow string `json:"burstWindow"`
}

type debugWindowsResponseData struct {
	SubjectKey string                  `json:"subjectKey"`
	Limits     debugLimits             `json:"limits"`
	Sources    map[string]string       `json:"sources"`
	Endpoint   string                  `json:"endpoint,omitempty"`
	Degraded   bool                    `json:"degraded"`
	Fallback   bool                    `json:"fallback"`
	Windows    []ratelimit.WindowState `json:"windows"`
}

// MountDebugRoutes mounts the rate limit debug endpoints:
//
//	GET  /debug/ratelimit/windows?identity=&class=&address=&method=&path=
//	POST /debug/ratelimit/invalidate
//
// An endpoint is not mounted if its collaborator is nil.
func MountDebugRoutes(router chi.Router, opts DebugOpts) {
	if opts.ErrorDomain == "" {
		opts.ErrorDomain = DefaultErrorDomain
	}
	if opts.Inspector != nil {
		router.Get(DebugWindowsPath, newDebugWindowsHandler(opts.Inspector, opts.ErrorDomain))
	}
	if opts.Invalidator != nil {
		router.Post(DebugInvalidatePath, func(rw http.ResponseWriter, r *http.Request) {
			opts.Invalidator.Invalidate()
			rw.WriteHeader(http.StatusNoContent)
		})
	}
}

func newDebugWindowsHandler(inspector RateLimitInspector, errDomain string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		logger := middleware.GetLoggerFromContext(r.Context())
		query := r.URL.Query()
		req := ratelimit.Request{
			Identity: query.Get("identity"),
			Class:    query.Get("class"),
			Address:  middleware.NormalizeAddress(query.Get("address")),
			Method:   query.Get("method"),
			Path:     query.Get("path"),
		}
		if req.Identity == "" && req.Address == "" {
			restapi.RespondBadRequestError(rw, errDomain, "Either identity or address query parameter is required.", logger)
			return
		}
		if req.Method == "" {
			req.Method = http.MethodGet
		}
		if req.Path == "" {
			req.Path = "/"
		}

		eff, windows := inspector.Inspect(r.Context(), req)
		respData := debugWindowsResponseData{
			SubjectKey: eff.Subject.Key(),
			Limits: debugLimits{
				RPM:         eff.RPM,
				RPH:         eff.RPH,
				Burst:       eff.Burst,
				BurstWindow: eff.BurstWindow.String(),
			},
			Sources: map[string]string{
				"rpm":         string(eff.Sources.RPM),
				"rph":         string(eff.Sources.RPH),
				"burst":       string(eff.Sources.Burst),
				"burstWindow": string(eff.Sources.BurstWindow),
			},
			Degraded: eff.Degraded,
			Fallback: eff.Fallback,
			Windows:  windows,
		}
		if eff.Endpoint != nil {
			respData.Endpoint = eff.Endpoint.RuleID
		}
		restapi.RespondJSON(rw, respData, logger)
	}
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/slidingwindow"
	"github.com/tollgate/tollgate/stats"
)

// Window lengths of the sustained tiers.
const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
)

// Request is the part of an incoming request admission depends on.
type Request struct {
	// Identity is empty for anonymous requests.
	Identity string
	Class    string
	// Address is the normalized client address, it keys anonymous requests.
	Address string
	Method  string
	Path    string
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// LimitType is the tier that rejected the request or, for admitted requests,
	// the tier with the least remaining quota.
	LimitType limits.LimitType
	Limit     int
	Remaining int
	// ResetAfter is the time until the reported window frees a slot (rejected)
	// or until its oldest counted request expires (admitted).
	ResetAfter time.Duration
	// Degraded is set when stale or fallback limits were applied.
	Degraded bool
	// Endpoint is the ID of the matched endpoint rule.
	Endpoint string
}

// WindowState describes one window of a subject.
type WindowState struct {
	Key       string           `json:"key"`
	LimitType limits.LimitType `json:"limitType"`
	Limit     int              `json:"limit"`
	Window    string           `json:"window"`
	Count     int              `json:"count"`
}

// ManagerOpts represents options for the Manager.
type ManagerOpts struct {
	// Load provides the limits multiplier. Nil means limits are never scaled.
	Load LoadMultiplier
	// Fallback limits are applied when the resolver fails without providing usable limits.
	Fallback limits.NumericLimits
	Metrics  MetricsCollector
	Recorder stats.Recorder
	Logger   log.FieldLogger
	Now      func() time.Time
}

type noLoad struct{}

func (noLoad) Multiplier() float64 { return 1 }

// Manager makes admission decisions.
type Manager struct {
	resolver limits.Resolver
	limiter  *slidingwindow.Limiter
	opts     ManagerOpts
	errLog   rate.Sometimes
}

type tierCheck struct {
	slidingwindow.Request
	limitType limits.LimitType
}

// NewManager creates a new Manager.
func NewManager(resolver limits.Resolver, limiter *slidingwindow.Limiter, opts ManagerOpts) (*Manager, error) {
	if resolver == nil || limiter == nil {
		return nil, fmt.Errorf("resolver and limiter are required")
	}
	if opts.Load == nil {
		opts.Load = noLoad{}
	}
	if opts.Fallback == (limits.NumericLimits{}) {
		opts.Fallback = limits.DefaultFallback
	}
	if opts.Fallback.BurstWindow <= 0 {
		return nil, fmt.Errorf("fallback burst window should be positive")
	}
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	if opts.Recorder == nil {
		opts.Recorder = stats.DisabledRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		resolver: resolver,
		limiter:  limiter,
		opts:     opts,
		errLog:   rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}, nil
}

// Check decides whether the request is admitted. An admitted request is counted in every window
// that applies to it, a rejected one is not counted at all.
func (m *Manager) Check(ctx context.Context, req Request) Decision {
	eff := m.resolve(ctx, req)
	checks := m.plan(eff)
	reqs := make([]slidingwindow.Request, len(checks))
	for i := range checks {
		reqs[i] = checks[i].Request
	}
	res := m.limiter.CheckAll(reqs)

	dec := Decision{Allowed: res.Allowed, Degraded: eff.Degraded || eff.Fallback}
	if eff.Endpoint != nil {
		dec.Endpoint = eff.Endpoint.RuleID
	}
	idx := res.Denied
	if res.Allowed {
		idx = 0
		for i := range res.Results {
			if res.Results[i].Remaining < res.Results[idx].Remaining {
				idx = i
			}
		}
	}
	dec.LimitType = checks[idx].limitType
	dec.Limit = checks[idx].MaxRequests
	dec.Remaining = res.Results[idx].Remaining
	dec.ResetAfter = res.Results[idx].ResetAfter

	m.opts.Metrics.IncDecisions(dec.Endpoint, dec.LimitType, dec.Allowed)
	if dec.Degraded {
		m.opts.Metrics.IncDegradedDecisions()
	}
	m.opts.Recorder.Record(stats.Event{
		Time:      m.opts.Now(),
		Endpoint:  dec.Endpoint,
		LimitType: string(dec.LimitType),
		Allowed:   dec.Allowed,
		Degraded:  dec.Degraded,
	})
	return dec
}

// Inspect returns the effective limit of the request and the current state of its windows
// without counting anything.
func (m *Manager) Inspect(ctx context.Context, req Request) (limits.EffectiveLimit, []WindowState) {
	eff := m.resolve(ctx, req)
	checks := m.plan(eff)
	states := make([]WindowState, 0, len(checks))
	for _, c := range checks {
		states = append(states, WindowState{
			Key:       c.Key,
			LimitType: c.limitType,
			Limit:     c.MaxRequests,
			Window:    c.Window.String(),
			Count:     m.limiter.Count(c.Key, c.Window),
		})
	}
	return eff, states
}

func (m *Manager) resolve(ctx context.Context, req Request) limits.EffectiveLimit {
	subject := limits.Subject{Identity: req.Identity, Class: req.Class, Address: req.Address}
	eff, err := m.resolver.Resolve(ctx, subject, limits.NewEndpoint(req.Method, req.Path))
	if err != nil && !eff.Fallback {
		m.errLog.Do(func() {
			m.opts.Logger.Warn("rate limit resolution failed, fallback limits are applied", log.Error(err))
		})
		eff = m.fallback()
	}
	if eff.Subject == (limits.Subject{}) {
		eff.Subject = subject
	}
	return eff
}

func (m *Manager) fallback() limits.EffectiveLimit {
	return limits.EffectiveLimit{
		NumericLimits: m.opts.Fallback,
		Identity:      m.opts.Fallback,
		Sources: limits.Sources{
			RPM:         limits.LimitTypeFallback,
			RPH:         limits.LimitTypeFallback,
			Burst:       limits.LimitTypeFallback,
			BurstWindow: limits.LimitTypeFallback,
		},
		Fallback: true,
	}
}

// plan returns the windows to check for the effective limit. Sustained windows come first,
// most restrictive first, the burst window is the last one.
func (m *Manager) plan(eff limits.EffectiveLimit) []tierCheck {
	mult := m.opts.Load.Multiplier()
	subjectKey := eff.Subject.Key()

	checks := make([]tierCheck, 0, 5)
	checks = append(checks,
		tierCheck{slidingwindow.Request{
			Key: subjectKey + "|*|rpm", MaxRequests: scaleLimit(eff.Identity.RPM, mult), Window: MinuteWindow,
		}, eff.Sources.RPM},
		tierCheck{slidingwindow.Request{
			Key: subjectKey + "|*|rph", MaxRequests: scaleLimit(eff.Identity.RPH, mult), Window: HourWindow,
		}, eff.Sources.RPH},
	)
	if ep := eff.Endpoint; ep != nil {
		endpointKey := subjectKey + "|" + ep.RuleID
		if ep.Limits.RequestsPerMinute != nil {
			checks = append(checks, tierCheck{slidingwindow.Request{
				Key: endpointKey + "|rpm", MaxRequests: scaleLimit(eff.RPM, mult), Window: MinuteWindow,
			}, limits.LimitTypeEndpoint})
		}
		if ep.Limits.RequestsPerHour != nil {
			checks = append(checks, tierCheck{slidingwindow.Request{
				Key: endpointKey + "|rph", MaxRequests: scaleLimit(eff.RPH, mult), Window: HourWindow,
			}, limits.LimitTypeEndpoint})
		}
	}
	sort.SliceStable(checks, func(i, j int) bool {
		return rateOf(checks[i].Request) < rateOf(checks[j].Request)
	})

	burstKey := slidingwindow.BurstKey(subjectKey)
	if eff.BurstFromEndpoint() {
		burstKey = slidingwindow.BurstKey(subjectKey + "|" + eff.Endpoint.RuleID)
	}
	return append(checks, tierCheck{slidingwindow.Request{
		Key: burstKey, MaxRequests: scaleLimit(eff.Burst, mult), Window: eff.BurstWindow,
	}, limits.LimitTypeBurst})
}

// rateOf returns the allowed requests per second of the window.
func rateOf(r slidingwindow.Request) float64 {
	return float64(r.MaxRequests) / r.Window.Seconds()
}

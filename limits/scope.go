/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limits

import (
	"time"

	"github.com/tollgate/tollgate/config"
)

// Scope is one level of the configuration hierarchy contributing limits to a request context.
type Scope interface {
	Type() LimitType
	ID() string
	Limits() Limits
}

// GlobalScope wraps the active global default.
type GlobalScope struct{ Config RateLimitConfig }

func (s GlobalScope) Type() LimitType { return LimitTypeGlobal }
func (s GlobalScope) ID() string      { return s.Config.ID }
func (s GlobalScope) Limits() Limits  { return s.Config.Limits }

// ClassScope wraps the active default of an identity class.
type ClassScope struct{ Config RateLimitConfig }

func (s ClassScope) Type() LimitType { return LimitTypeClass }
func (s ClassScope) ID() string      { return s.Config.ID }
func (s ClassScope) Limits() Limits  { return s.Config.Limits }

// IdentityScope wraps an identity override.
type IdentityScope struct{ Override IdentityOverride }

func (s IdentityScope) Type() LimitType { return LimitTypeIdentity }
func (s IdentityScope) ID() string      { return s.Override.ID }
func (s IdentityScope) Limits() Limits  { return s.Override.Limits }

// EndpointScope wraps a matched endpoint rule.
type EndpointScope struct{ Rule EndpointRule }

func (s EndpointScope) Type() LimitType { return LimitTypeEndpoint }
func (s EndpointScope) ID() string      { return s.Rule.ID }
func (s EndpointScope) Limits() Limits  { return s.Rule.Limits }

// BuiltinScope supplies every dimension and terminates the hierarchy.
// Dimensions no configuration specifies are reported as the fallback tier.
type BuiltinScope struct{ Values NumericLimits }

func (s BuiltinScope) Type() LimitType { return LimitTypeFallback }
func (s BuiltinScope) ID() string      { return "builtin" }
func (s BuiltinScope) Limits() Limits  { return s.Values.toLimits() }

func (n NumericLimits) toLimits() Limits {
	rpm, rph, burst, window := n.RPM, n.RPH, n.Burst, config.TimeDuration(n.BurstWindow)
	return Limits{RequestsPerMinute: &rpm, RequestsPerHour: &rph, Burst: &burst, BurstWindow: &window}
}

// mergeScopes resolves every dimension from the first scope (in the given precedence order) that
// specifies a valid value for it. Scopes must end with a BuiltinScope so every dimension gets a value.
// Malformed values are reported through invalid and skipped.
func mergeScopes(scopes []Scope, invalid func(InvalidValueError)) (NumericLimits, Sources) {
	var (
		res      NumericLimits
		src      Sources
		rpmSet   bool
		rphSet   bool
		burstSet bool
		winSet   bool
	)
	for _, scope := range scopes {
		lim, problems := scope.Limits().Sanitize()
		for _, p := range problems {
			p.Scope, p.ID = scope.Type(), scope.ID()
			invalid(p)
		}
		if !rpmSet && lim.RequestsPerMinute != nil {
			res.RPM, src.RPM, rpmSet = *lim.RequestsPerMinute, scope.Type(), true
		}
		if !rphSet && lim.RequestsPerHour != nil {
			res.RPH, src.RPH, rphSet = *lim.RequestsPerHour, scope.Type(), true
		}
		if !burstSet && lim.Burst != nil {
			res.Burst, src.Burst, burstSet = *lim.Burst, scope.Type(), true
		}
		if !winSet && lim.BurstWindow != nil {
			res.BurstWindow, src.BurstWindow, winSet = time.Duration(*lim.BurstWindow), scope.Type(), true
		}
	}
	return res, src
}

// combine computes the effective limit from the identity hierarchy and the matched endpoint rule.
// Every dimension takes the most restrictive value of both tiers: requests per minute and per hour
// the minimum, the burst setting the one allowing the lower rate (burst / window). A burst count or
// window the rule leaves unset is taken from the identity side.
func combine(identity, classes []Scope, endpoint *EndpointScope, invalid func(InvalidValueError)) EffectiveLimit {
	idScopes := append(append([]Scope{}, identity...), classes...)
	idValues, idSources := mergeScopes(idScopes, invalid)

	eff := EffectiveLimit{NumericLimits: idValues, Identity: idValues, Sources: idSources}
	if endpoint == nil {
		return eff
	}

	epLimits, problems := endpoint.Limits().Sanitize()
	for _, p := range problems {
		p.Scope, p.ID = LimitTypeEndpoint, endpoint.ID()
		invalid(p)
	}
	eff.Endpoint = &EndpointLimits{RuleID: endpoint.ID(), Limits: epLimits}
	if v := epLimits.RequestsPerMinute; v != nil && *v < eff.RPM {
		eff.RPM = *v
	}
	if v := epLimits.RequestsPerHour; v != nil && *v < eff.RPH {
		eff.RPH = *v
	}

	if epLimits.Burst == nil && epLimits.BurstWindow == nil {
		return eff
	}
	burst, window := eff.Burst, eff.BurstWindow
	burstSrc, windowSrc := eff.Sources.Burst, eff.Sources.BurstWindow
	if v := epLimits.Burst; v != nil {
		burst, burstSrc = *v, LimitTypeEndpoint
	}
	if v := epLimits.BurstWindow; v != nil {
		window, windowSrc = time.Duration(*v), LimitTypeEndpoint
	}
	if burstTighter(burst, window, eff.Burst, eff.BurstWindow) {
		eff.Burst, eff.BurstWindow = burst, window
		eff.Sources.Burst, eff.Sources.BurstWindow = burstSrc, windowSrc
	}
	return eff
}

// burstTighter reports whether n requests per window w allow a strictly lower rate than m per v.
func burstTighter(n int, w time.Duration, m int, v time.Duration) bool {
	return float64(n)*v.Seconds() < float64(m)*w.Seconds()
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limits

import (
	"fmt"
	"time"

	"github.com/tollgate/tollgate/config"
)

// LimitType names the tier that produced a limit or a rejection.
type LimitType string

// Limit types.
const (
	LimitTypeGlobal   LimitType = "global"
	LimitTypeClass    LimitType = "class"
	LimitTypeIdentity LimitType = "identity"
	LimitTypeEndpoint LimitType = "endpoint"
	LimitTypeBurst    LimitType = "burst"
	LimitTypeFallback LimitType = "fallback"
)

// ScopeKind is the scope of a RateLimitConfig.
type ScopeKind string

// Scope kinds of a RateLimitConfig.
const (
	ScopeGlobal ScopeKind = "global"
	ScopeClass  ScopeKind = "class"
)

// Dimension is one numeric parameter of a limit.
type Dimension string

// Dimensions.
const (
	DimensionRPM         Dimension = "rpm"
	DimensionRPH         Dimension = "rph"
	DimensionBurst       Dimension = "burst"
	DimensionBurstWindow Dimension = "burstWindow"
)

// Limits is a partial set of limits. A nil field is not specified at its scope and is inherited
// from the next scope in precedence. An explicit zero denies every request.
type Limits struct {
	RequestsPerMinute *int                 `mapstructure:"rpm" yaml:"rpm,omitempty" json:"rpm,omitempty"`
	RequestsPerHour   *int                 `mapstructure:"rph" yaml:"rph,omitempty" json:"rph,omitempty"`
	Burst             *int                 `mapstructure:"burst" yaml:"burst,omitempty" json:"burst,omitempty"`
	BurstWindow       *config.TimeDuration `mapstructure:"burstWindow" yaml:"burstWindow,omitempty" json:"burstWindow,omitempty"`
}

// IsEmpty reports whether no dimension is specified.
func (l Limits) IsEmpty() bool {
	return l.RequestsPerMinute == nil && l.RequestsPerHour == nil && l.Burst == nil && l.BurstWindow == nil
}

// Sanitize returns a copy of l without malformed dimensions (negative counts, non-positive burst window)
// and the list of problems found.
func (l Limits) Sanitize() (Limits, []InvalidValueError) {
	var problems []InvalidValueError
	checkCount := func(dim Dimension, v **int) {
		if *v != nil && **v < 0 {
			problems = append(problems, InvalidValueError{Dimension: dim, Value: fmt.Sprint(**v)})
			*v = nil
		}
	}
	checkCount(DimensionRPM, &l.RequestsPerMinute)
	checkCount(DimensionRPH, &l.RequestsPerHour)
	checkCount(DimensionBurst, &l.Burst)
	if l.BurstWindow != nil && *l.BurstWindow <= 0 {
		problems = append(problems, InvalidValueError{Dimension: DimensionBurstWindow, Value: l.BurstWindow.String()})
		l.BurstWindow = nil
	}
	return l, problems
}

// RateLimitConfig is a global or identity-class default.
type RateLimitConfig struct {
	ID     string    `mapstructure:"id" yaml:"id" json:"id"`
	Scope  ScopeKind `mapstructure:"scope" yaml:"scope" json:"scope"`
	Target string    `mapstructure:"target" yaml:"target,omitempty" json:"target,omitempty"`
	Limits `mapstructure:",squash" yaml:",inline"`
	// Priority picks one config when several active ones share the same scope and target.
	Priority int  `mapstructure:"priority" yaml:"priority,omitempty" json:"priority,omitempty"`
	Active   bool `mapstructure:"active" yaml:"active" json:"active"`
}

// IdentityOverride replaces some dimensions of the class default for one identity.
type IdentityOverride struct {
	ID         string `mapstructure:"id" yaml:"id" json:"id"`
	IdentityID string `mapstructure:"identity" yaml:"identity" json:"identity"`
	Limits     `mapstructure:",squash" yaml:",inline"`
	ExpiresAt  *time.Time `mapstructure:"expiresAt" yaml:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	Active     bool       `mapstructure:"active" yaml:"active" json:"active"`
}

// InEffect reports whether the override applies at the given moment.
func (o *IdentityOverride) InEffect(now time.Time) bool {
	return o.Active && (o.ExpiresAt == nil || now.Before(*o.ExpiresAt))
}

// EndpointRule limits requests to the endpoints matched by its pattern.
//
// Pattern syntax:
//   - "= /path" or "/path" matches the path exactly;
//   - "/path/*" is a glob, "*" matches any sequence of characters;
//   - "~ regexp" is a regular expression matched against the normalized path.
type EndpointRule struct {
	ID      string `mapstructure:"id" yaml:"id" json:"id"`
	Pattern string `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
	// Method is an HTTP method. Empty or "*" matches any method.
	Method   string `mapstructure:"method" yaml:"method,omitempty" json:"method,omitempty"`
	Limits   `mapstructure:",squash" yaml:",inline"`
	Priority int  `mapstructure:"priority" yaml:"priority,omitempty" json:"priority,omitempty"`
	Active   bool `mapstructure:"active" yaml:"active" json:"active"`
}

// RuleSet is a complete set of configuration entities.
type RuleSet struct {
	Configs   []RateLimitConfig  `mapstructure:"configs" yaml:"configs" json:"configs"`
	Overrides []IdentityOverride `mapstructure:"overrides" yaml:"overrides" json:"overrides"`
	Endpoints []EndpointRule     `mapstructure:"endpoints" yaml:"endpoints" json:"endpoints"`
}

// Validate checks the structural consistency of the rule set.
// Malformed limit values are not reported here, they are skipped at resolution time.
func (rs *RuleSet) Validate() error {
	ids := make(map[string]struct{})
	checkID := func(kind, id string) error {
		if id == "" {
			return fmt.Errorf("%s without id", kind)
		}
		if _, ok := ids[kind+"/"+id]; ok {
			return fmt.Errorf("duplicate %s id %q", kind, id)
		}
		ids[kind+"/"+id] = struct{}{}
		return nil
	}
	for i := range rs.Configs {
		c := &rs.Configs[i]
		if err := checkID("config", c.ID); err != nil {
			return err
		}
		switch c.Scope {
		case ScopeGlobal:
			if c.Target != "" {
				return fmt.Errorf("config %q: global scope cannot have a target", c.ID)
			}
		case ScopeClass:
			if c.Target == "" {
				return fmt.Errorf("config %q: class scope requires a target", c.ID)
			}
		default:
			return fmt.Errorf("config %q: unknown scope %q", c.ID, c.Scope)
		}
	}
	for i := range rs.Overrides {
		if err := checkID("override", rs.Overrides[i].ID); err != nil {
			return err
		}
		if rs.Overrides[i].IdentityID == "" {
			return fmt.Errorf("override %q: identity is missing", rs.Overrides[i].ID)
		}
	}
	for i := range rs.Endpoints {
		if err := checkID("endpoint", rs.Endpoints[i].ID); err != nil {
			return err
		}
		if _, err := ParsePattern(rs.Endpoints[i].Pattern); err != nil {
			return fmt.Errorf("endpoint %q: %w", rs.Endpoints[i].ID, err)
		}
	}
	return nil
}

// NumericLimits is a fully resolved set of limits.
type NumericLimits struct {
	RPM         int
	RPH         int
	Burst       int
	BurstWindow time.Duration
}

// Get returns the value of the count dimension.
func (n NumericLimits) Get(dim Dimension) int {
	switch dim {
	case DimensionRPM:
		return n.RPM
	case DimensionRPH:
		return n.RPH
	case DimensionBurst:
		return n.Burst
	}
	return 0
}

// Sources tells which tier supplied each dimension of resolved limits.
type Sources struct {
	RPM         LimitType
	RPH         LimitType
	Burst       LimitType
	BurstWindow LimitType
}

// Get returns the source of the dimension.
func (s Sources) Get(dim Dimension) LimitType {
	switch dim {
	case DimensionRPM:
		return s.RPM
	case DimensionRPH:
		return s.RPH
	case DimensionBurst:
		return s.Burst
	case DimensionBurstWindow:
		return s.BurstWindow
	}
	return ""
}

// EndpointLimits are the limits of the matched endpoint rule. Only dimensions the rule
// specifies (after sanitizing) are set, others are nil.
type EndpointLimits struct {
	RuleID string
	Limits Limits
}

// EffectiveLimit is the outcome of resolution for one request context.
type EffectiveLimit struct {
	// NumericLimits are the final values: the most restrictive of the identity and endpoint values
	// per dimension. The burst count and window are compared together as a rate.
	NumericLimits
	// Identity holds the values resolved from the global, class and identity scopes.
	Identity NumericLimits
	Sources  Sources
	// Endpoint is nil when no endpoint rule matched.
	Endpoint *EndpointLimits
	Subject  Subject
	// Degraded is set when the configuration store was unavailable and a stale value was used.
	Degraded bool
	// Fallback is set when the built-in fallback limits were used.
	Fallback bool
}

// BurstFromEndpoint reports whether the burst setting (count or window) came from the endpoint rule.
func (e *EffectiveLimit) BurstFromEndpoint() bool {
	return e.Endpoint != nil && (e.Sources.Burst == LimitTypeEndpoint || e.Sources.BurstWindow == LimitTypeEndpoint)
}

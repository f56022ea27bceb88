/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"sync"

	"github.com/tollgate/tollgate/limits"
)

// Memory keeps the rule set in memory.
type Memory struct {
	mu    sync.RWMutex
	rules limits.RuleSet
}

// NewMemory creates a new Memory store seeded with the rule set.
func NewMemory(rules limits.RuleSet) (*Memory, error) {
	m := &Memory{}
	if err := m.Import(context.Background(), rules); err != nil {
		return nil, err
	}
	return m, nil
}

// Import replaces the rule set.
func (m *Memory) Import(_ context.Context, rules limits.RuleSet) error {
	rules, err := prepareImport(rules)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
	return nil
}

// Rules returns a copy of the current rule set.
func (m *Memory) Rules() limits.RuleSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return limits.RuleSet{
		Configs:   append([]limits.RateLimitConfig(nil), m.rules.Configs...),
		Overrides: append([]limits.IdentityOverride(nil), m.rules.Overrides...),
		Endpoints: append([]limits.EndpointRule(nil), m.rules.Endpoints...),
	}
}

// Configs returns global configs and the configs of the class.
func (m *Memory) Configs(_ context.Context, class string) ([]limits.RateLimitConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []limits.RateLimitConfig
	for i := range m.rules.Configs {
		c := &m.rules.Configs[i]
		if c.Scope == limits.ScopeGlobal || (c.Scope == limits.ScopeClass && c.Target == class) {
			res = append(res, *c)
		}
	}
	return res, nil
}

// Overrides returns the overrides of the identity.
func (m *Memory) Overrides(_ context.Context, identity string) ([]limits.IdentityOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []limits.IdentityOverride
	for i := range m.rules.Overrides {
		if m.rules.Overrides[i].IdentityID == identity {
			res = append(res, m.rules.Overrides[i])
		}
	}
	return res, nil
}

// EndpointRules returns all endpoint rules.
func (m *Memory) EndpointRules(_ context.Context) ([]limits.EndpointRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]limits.EndpointRule(nil), m.rules.Endpoints...), nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close does nothing.
func (m *Memory) Close() error {
	return nil
}

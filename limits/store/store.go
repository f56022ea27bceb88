/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
)

// Type is a type of the configuration store backend.
type Type string

// Store types.
const (
	TypeMemory   Type = "memory"
	TypeFile     Type = "file"
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
)

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Writer replaces the whole rule set kept by the store.
// Entities without ID get a generated one.
type Writer interface {
	Import(ctx context.Context, rules limits.RuleSet) error
}

// Backend is a store opened by Open.
type Backend interface {
	limits.Store
	Pinger
	io.Closer
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*File)(nil)
	_ Backend = (*SQLite)(nil)
	_ Backend = (*Postgres)(nil)
	_ Writer  = (*Memory)(nil)
	_ Writer  = (*SQLite)(nil)
	_ Writer  = (*Postgres)(nil)
)

// Open opens the store described by the configuration.
func Open(ctx context.Context, cfg *Config, logger log.FieldLogger) (Backend, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	var (
		b   Backend
		err error
	)
	switch cfg.Type {
	case TypeMemory:
		b, err = NewMemory(cfg.Rules)
	case TypeFile:
		b, err = NewFile(cfg.Path, logger)
	case TypeSQLite:
		b, err = OpenSQLite(ctx, cfg.Path, cfg.connectPolicy(), logger)
	case TypePostgres:
		b, err = OpenPostgres(ctx, cfg.DSN, cfg.connectPolicy(), logger)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// AssignIDs generates IDs for the entities of the rule set that have none.
func AssignIDs(rules *limits.RuleSet) {
	for i := range rules.Configs {
		if rules.Configs[i].ID == "" {
			rules.Configs[i].ID = uuid.NewString()
		}
	}
	for i := range rules.Overrides {
		if rules.Overrides[i].ID == "" {
			rules.Overrides[i].ID = uuid.NewString()
		}
	}
	for i := range rules.Endpoints {
		if rules.Endpoints[i].ID == "" {
			rules.Endpoints[i].ID = uuid.NewString()
		}
	}
}

// prepareImport returns a validated copy of the rule set with all IDs assigned.
func prepareImport(rules limits.RuleSet) (limits.RuleSet, error) {
	cp := limits.RuleSet{
		Configs:   append([]limits.RateLimitConfig(nil), rules.Configs...),
		Overrides: append([]limits.IdentityOverride(nil), rules.Overrides...),
		Endpoints: append([]limits.EndpointRule(nil), rules.Endpoints...),
	}
	AssignIDs(&cp)
	if err := cp.Validate(); err != nil {
		return limits.RuleSet{}, fmt.Errorf("invalid rule set: %w", err)
	}
	return cp, nil
}

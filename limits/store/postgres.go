/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/retry"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_configs (
  id TEXT PRIMARY KEY,
  scope TEXT NOT NULL CHECK (scope IN ('global', 'class')),
  target TEXT NOT NULL DEFAULT '',
  rpm INTEGER,
  rph INTEGER,
  burst INTEGER,
  burst_window_ms BIGINT,
  priority INTEGER NOT NULL DEFAULT 0,
  active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_configs_scope_target ON rate_limit_configs(scope, target);

CREATE TABLE IF NOT EXISTS identity_overrides (
  id TEXT PRIMARY KEY,
  identity_id TEXT NOT NULL,
  rpm INTEGER,
  rph INTEGER,
  burst INTEGER,
  burst_window_ms BIGINT,
  expires_at TIMESTAMPTZ,
  active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_identity_overrides_identity_id ON identity_overrides(identity_id);

CREATE TABLE IF NOT EXISTS endpoint_rules (
  id TEXT PRIMARY KEY,
  pattern TEXT NOT NULL,
  method TEXT NOT NULL DEFAULT '',
  rpm INTEGER,
  rph INTEGER,
  burst INTEGER,
  burst_window_ms BIGINT,
  priority INTEGER NOT NULL DEFAULT 0,
  active BOOLEAN NOT NULL DEFAULT TRUE
);
`

// Postgres keeps the rule set in a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the PostgreSQL database and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, connectPolicy retry.Policy, logger log.FieldLogger) (*Postgres, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err = connect(ctx, connectPolicy, logger, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	if _, err = pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Configs returns global configs and the configs of the class.
func (p *Postgres) Configs(ctx context.Context, class string) ([]limits.RateLimitConfig, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+configColumns+` FROM rate_limit_configs
		WHERE scope = 'global' OR (scope = 'class' AND target = $1) ORDER BY id`, class)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (limits.RateLimitConfig, error) {
		return scanConfig(row)
	})
}

// Overrides returns the overrides of the identity.
func (p *Postgres) Overrides(ctx context.Context, identity string) ([]limits.IdentityOverride, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+overrideColumns+` FROM identity_overrides
		WHERE identity_id = $1 ORDER BY id`, identity)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (limits.IdentityOverride, error) {
		var expires sql.NullTime
		return scanOverride(row, &expires, func() *time.Time {
			if !expires.Valid {
				return nil
			}
			t := expires.Time.UTC()
			return &t
		})
	})
}

// EndpointRules returns all endpoint rules.
func (p *Postgres) EndpointRules(ctx context.Context) ([]limits.EndpointRule, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+endpointColumns+` FROM endpoint_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (limits.EndpointRule, error) {
		return scanEndpointRule(row)
	})
}

// Import replaces all stored entities with the rule set in one transaction.
func (p *Postgres) Import(ctx context.Context, rules limits.RuleSet) error {
	rules, err := prepareImport(rules)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE rate_limit_configs, identity_overrides, endpoint_rules`); err != nil {
			return fmt.Errorf("truncate tables: %w", err)
		}
		batch := &pgx.Batch{}
		for i := range rules.Configs {
			batch.Queue(`INSERT INTO rate_limit_configs (`+configColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, configArgs(&rules.Configs[i])...)
		}
		for i := range rules.Overrides {
			o := &rules.Overrides[i]
			expires := sql.NullTime{}
			if o.ExpiresAt != nil {
				expires = sql.NullTime{Time: *o.ExpiresAt, Valid: true}
			}
			batch.Queue(`INSERT INTO identity_overrides (`+overrideColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, overrideArgs(o, expires)...)
		}
		for i := range rules.Endpoints {
			batch.Queue(`INSERT INTO endpoint_rules (`+endpointColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, endpointArgs(&rules.Endpoints[i])...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert rule set: %w", err)
		}
		return nil
	})
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes all connections of the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

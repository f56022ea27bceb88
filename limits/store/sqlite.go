/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/retry"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_configs (
  id TEXT PRIMARY KEY,
  scope TEXT NOT NULL CHECK (scope IN ('global', 'class')),
  target TEXT NOT NULL DEFAULT '',
  rpm INTEGER,
  rph INTEGER,
  burst INTEGER,
  burst_window_ms INTEGER,
  priority INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_configs_scope_target ON rate_limit_configs(scope, target);

CREATE TABLE IF NOT EXISTS identity_overrides (
  id TEXT PRIMARY KEY,
  identity_id TEXT NOT NULL,
  rpm INTEGER,
  rph INTEGER,
  burst INTEGER,
  burst_window_ms INTEGER,
  expires_at INTEGER,
  active INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_identity_overrides_identity_id ON identity_overrides(identity_id);

CREATE TABLE IF NOT EXISTS endpoint_rules (
  id TEXT PRIMARY KEY,
  pattern TEXT NOT NULL,
  method TEXT NOT NULL DEFAULT '',
  rpm INTEGER,
  rph INTEGER,
  burst INTEGER,
  burst_window_ms INTEGER,
  priority INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1
);
`

// SQLite keeps the rule set in a SQLite database. Expiration times are stored as Unix milliseconds.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the SQLite database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, connectPolicy retry.Policy, logger log.FieldLogger) (*SQLite, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if err = connect(ctx, connectPolicy, logger, db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") && strings.Contains(path, "?") {
		return path + "&_pragma=busy_timeout(5000)"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?_pragma=busy_timeout(5000)"
}

// Configs returns global configs and the configs of the class.
func (s *SQLite) Configs(ctx context.Context, class string) ([]limits.RateLimitConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+configColumns+` FROM rate_limit_configs
		WHERE scope = 'global' OR (scope = 'class' AND target = ?) ORDER BY id`, class)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []limits.RateLimitConfig
	for rows.Next() {
		c, scanErr := scanConfig(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Overrides returns the overrides of the identity.
func (s *SQLite) Overrides(ctx context.Context, identity string) ([]limits.IdentityOverride, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+overrideColumns+` FROM identity_overrides
		WHERE identity_id = ? ORDER BY id`, identity)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []limits.IdentityOverride
	for rows.Next() {
		var expiresMS sql.NullInt64
		o, scanErr := scanOverride(rows, &expiresMS, func() *time.Time {
			if !expiresMS.Valid {
				return nil
			}
			t := time.UnixMilli(expiresMS.Int64).UTC()
			return &t
		})
		if scanErr != nil {
			return nil, scanErr
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// EndpointRules returns all endpoint rules.
func (s *SQLite) EndpointRules(ctx context.Context) ([]limits.EndpointRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+endpointColumns+` FROM endpoint_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var res []limits.EndpointRule
	for rows.Next() {
		e, scanErr := scanEndpointRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Import replaces all stored entities with the rule set in one transaction.
func (s *SQLite) Import(ctx context.Context, rules limits.RuleSet) (err error) {
	if rules, err = prepareImport(rules); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"rate_limit_configs", "identity_overrides", "endpoint_rules"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i := range rules.Configs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO rate_limit_configs (`+configColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, configArgs(&rules.Configs[i])...); err != nil {
			return fmt.Errorf("insert config %q: %w", rules.Configs[i].ID, err)
		}
	}
	for i := range rules.Overrides {
		o := &rules.Overrides[i]
		expires := sql.NullInt64{}
		if o.ExpiresAt != nil {
			expires = sql.NullInt64{Int64: o.ExpiresAt.UnixMilli(), Valid: true}
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO identity_overrides (`+overrideColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, overrideArgs(o, expires)...); err != nil {
			return fmt.Errorf("insert override %q: %w", o.ID, err)
		}
	}
	for i := range rules.Endpoints {
		if _, err = tx.ExecContext(ctx, `INSERT INTO endpoint_rules (`+endpointColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, endpointArgs(&rules.Endpoints[i])...); err != nil {
			return fmt.Errorf("insert endpoint rule %q: %w", rules.Endpoints[i].ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

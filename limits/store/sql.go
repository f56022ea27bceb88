/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tollgate/tollgate/config"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/retry"
)

// Both SQL backends share the table layout. Limit dimensions are nullable: NULL means
// the dimension is not specified at this scope. Burst windows are kept in milliseconds.
const (
	configColumns   = "id, scope, target, rpm, rph, burst, burst_window_ms, priority, active"
	overrideColumns = "id, identity_id, rpm, rph, burst, burst_window_ms, expires_at, active"
	endpointColumns = "id, pattern, method, rpm, rph, burst, burst_window_ms, priority, active"
)

// rowScanner is implemented by *sql.Row, *sql.Rows and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type nullLimits struct {
	rpm, rph, burst, burstWindowMS sql.NullInt64
}

func (n *nullLimits) toLimits() limits.Limits {
	intOrNil := func(v sql.NullInt64) *int {
		if !v.Valid {
			return nil
		}
		i := int(v.Int64)
		return &i
	}
	l := limits.Limits{
		RequestsPerMinute: intOrNil(n.rpm),
		RequestsPerHour:   intOrNil(n.rph),
		Burst:             intOrNil(n.burst),
	}
	if n.burstWindowMS.Valid {
		d := config.TimeDuration(time.Duration(n.burstWindowMS.Int64) * time.Millisecond)
		l.BurstWindow = &d
	}
	return l
}

func limitArgs(l limits.Limits) []any {
	toNull := func(v *int) sql.NullInt64 {
		if v == nil {
			return sql.NullInt64{}
		}
		return sql.NullInt64{Int64: int64(*v), Valid: true}
	}
	bw := sql.NullInt64{}
	if l.BurstWindow != nil {
		bw = sql.NullInt64{Int64: time.Duration(*l.BurstWindow).Milliseconds(), Valid: true}
	}
	return []any{toNull(l.RequestsPerMinute), toNull(l.RequestsPerHour), toNull(l.Burst), bw}
}

func scanConfig(row rowScanner) (limits.RateLimitConfig, error) {
	var (
		c     limits.RateLimitConfig
		scope string
		nl    nullLimits
	)
	if err := row.Scan(&c.ID, &scope, &c.Target, &nl.rpm, &nl.rph, &nl.burst, &nl.burstWindowMS,
		&c.Priority, &c.Active); err != nil {
		return limits.RateLimitConfig{}, err
	}
	c.Scope = limits.ScopeKind(scope)
	c.Limits = nl.toLimits()
	return c, nil
}

// scanOverride scans an override row. The expiration column is scanned into expires,
// its value is then converted by expiresAt.
func scanOverride(row rowScanner, expires any, expiresAt func() *time.Time) (limits.IdentityOverride, error) {
	var (
		o  limits.IdentityOverride
		nl nullLimits
	)
	if err := row.Scan(&o.ID, &o.IdentityID, &nl.rpm, &nl.rph, &nl.burst, &nl.burstWindowMS,
		expires, &o.Active); err != nil {
		return limits.IdentityOverride{}, err
	}
	o.Limits = nl.toLimits()
	o.ExpiresAt = expiresAt()
	return o, nil
}

func scanEndpointRule(row rowScanner) (limits.EndpointRule, error) {
	var (
		e  limits.EndpointRule
		nl nullLimits
	)
	if err := row.Scan(&e.ID, &e.Pattern, &e.Method, &nl.rpm, &nl.rph, &nl.burst, &nl.burstWindowMS,
		&e.Priority, &e.Active); err != nil {
		return limits.EndpointRule{}, err
	}
	e.Limits = nl.toLimits()
	return e, nil
}

func configArgs(c *limits.RateLimitConfig) []any {
	args := []any{c.ID, string(c.Scope), c.Target}
	args = append(args, limitArgs(c.Limits)...)
	return append(args, c.Priority, c.Active)
}

func overrideArgs(o *limits.IdentityOverride, expires any) []any {
	args := []any{o.ID, o.IdentityID}
	args = append(args, limitArgs(o.Limits)...)
	return append(args, expires, o.Active)
}

func endpointArgs(e *limits.EndpointRule) []any {
	args := []any{e.ID, e.Pattern, e.Method}
	args = append(args, limitArgs(e.Limits)...)
	return append(args, e.Priority, e.Active)
}

// connect pings the database until it answers or the retry policy gives up.
func connect(ctx context.Context, policy retry.Policy, logger log.FieldLogger, ping retry.RetryableFunc) error {
	if policy == nil {
		return ping(ctx)
	}
	return retry.DoWithRetry(ctx, policy, nil, func(err error, next time.Duration) {
		logger.Warn("database is not reachable, retrying", log.Error(err), log.Duration("retry_in", next))
	}, ping)
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/lrucache"
	"github.com/tollgate/tollgate/retry"
)

// Default values for ServiceOpts.
const (
	DefaultCacheTTL        = 10 * time.Second
	DefaultCacheMaxEntries = 50000
	DefaultFetchTimeout    = 200 * time.Millisecond
	DefaultStaleTTL        = time.Hour
)

// DefaultFallback is used when ServiceOpts.Fallback is not set.
var DefaultFallback = NumericLimits{RPM: 30, RPH: 600, Burst: 5, BurstWindow: 10 * time.Second}

// Store reads configuration entities.
type Store interface {
	// Configs returns global configs and the configs of the given identity class.
	Configs(ctx context.Context, class string) ([]RateLimitConfig, error)
	// Overrides returns the overrides of the given identity.
	Overrides(ctx context.Context, identity string) ([]IdentityOverride, error)
	// EndpointRules returns all endpoint rules.
	EndpointRules(ctx context.Context) ([]EndpointRule, error)
}

// Resolver resolves the effective limit of a request context.
type Resolver interface {
	Resolve(ctx context.Context, subject Subject, endpoint Endpoint) (EffectiveLimit, error)
}

// ServiceOpts represents options for the Service.
type ServiceOpts struct {
	// CacheTTL is how long a resolved limit is served without asking the store again.
	// Older entries are kept as the last known good value.
	CacheTTL time.Duration
	// StaleTTL is how long an unused entry is kept as the last known good value.
	StaleTTL        time.Duration
	CacheMaxEntries int
	// FetchTimeout bounds all store reads made for one resolution, retries included.
	FetchTimeout time.Duration
	// RetryPolicy is used for transient store errors. Nil disables retries.
	RetryPolicy    retry.Policy
	AnonymousClass string
	DefaultClass   string
	// Fallback terminates the scope hierarchy and is served as is when the store is unavailable
	// and nothing was resolved before.
	Fallback     NumericLimits
	CacheMetrics lrucache.MetricsCollector
	Logger       log.FieldLogger
	Now          func() time.Time
}

type cachedLimit struct {
	limit      EffectiveLimit
	resolvedAt time.Time
}

type cachedRules struct {
	matcher   *EndpointMatcher
	fetchedAt time.Time
}

// Service resolves configuration entities into effective limits.
// Resolved limits are cached per (class, identity, endpoint); concurrent misses for the same key
// share one store round trip.
type Service struct {
	store  Store
	opts   ServiceOpts
	cache  *lrucache.LRUCache[string, cachedLimit]
	flight singleflight.Group
	logger log.FieldLogger

	rulesMu sync.RWMutex
	rules   *cachedRules

	degradedLog rate.Sometimes
	invalidLog  rate.Sometimes
}

var _ Resolver = (*Service)(nil)

// NewService creates a new Service.
func NewService(store Store, opts ServiceOpts) (*Service, error) {
	if opts.CacheTTL < 0 || opts.StaleTTL < 0 || opts.CacheMaxEntries < 0 || opts.FetchTimeout < 0 {
		return nil, fmt.Errorf("cache TTLs, cache size and fetch timeout must not be negative")
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.StaleTTL == 0 {
		opts.StaleTTL = DefaultStaleTTL
	}
	if opts.StaleTTL < opts.CacheTTL {
		opts.StaleTTL = opts.CacheTTL
	}
	if opts.CacheMaxEntries == 0 {
		opts.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.AnonymousClass == "" {
		opts.AnonymousClass = DefaultAnonymousClass
	}
	if opts.DefaultClass == "" {
		opts.DefaultClass = DefaultIdentityClass
	}
	if opts.Fallback == (NumericLimits{}) {
		opts.Fallback = DefaultFallback
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cache, err := lrucache.NewWithOpts[string, cachedLimit](opts.CacheMaxEntries, opts.CacheMetrics,
		lrucache.Options[string, cachedLimit]{DefaultTTL: opts.StaleTTL, SlidingExpiration: true, Now: opts.Now})
	if err != nil {
		return nil, fmt.Errorf("new effective limits cache: %w", err)
	}
	return &Service{
		store:       store,
		opts:        opts,
		cache:       cache,
		logger:      opts.Logger,
		degradedLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		invalidLog:  rate.Sometimes{First: 1, Interval: time.Minute},
	}, nil
}

// Resolve returns the effective limit for the subject calling the endpoint.
// The returned value is always usable. On a store failure it is the last known good value
// (Degraded is set) or the built-in fallback (Fallback is set); in the latter case the error
// wraps ErrConfigurationUnavailable.
func (s *Service) Resolve(_ context.Context, subject Subject, endpoint Endpoint) (EffectiveLimit, error) {
	subject = s.NormalizeSubject(subject)
	key := cacheKey(subject, endpoint)
	now := s.opts.Now()

	if entry, ok := s.cache.Get(key); ok && now.Sub(entry.resolvedAt) < s.opts.CacheTTL {
		if entry.limit.Fallback {
			return withSubject(entry.limit, subject), ErrConfigurationUnavailable
		}
		return withSubject(entry.limit, subject), nil
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.refresh(key, subject, endpoint)
	})
	eff := v.(EffectiveLimit)
	return withSubject(eff, subject), err
}

// NormalizeSubject assigns the anonymous class to subjects without identity
// and the default class to identities without class.
func (s *Service) NormalizeSubject(subject Subject) Subject {
	switch {
	case subject.IsAnonymous():
		subject.Class = s.opts.AnonymousClass
	case subject.Class == "":
		subject.Class = s.opts.DefaultClass
	}
	return subject
}

// Invalidate drops every cached value, including last known good ones.
func (s *Service) Invalidate() {
	s.cache.Purge()
	s.rulesMu.Lock()
	s.rules = nil
	s.rulesMu.Unlock()
	s.logger.Info("rate limit configuration cache invalidated")
}

// CleanupCache drops cached values that were not used for longer than StaleTTL.
// It matches the service.WorkerFunc signature.
func (s *Service) CleanupCache(_ context.Context) error {
	if n := s.cache.CleanupExpired(); n > 0 {
		s.logger.Debug("unused effective limits dropped from cache", log.Int("entries", n))
	}
	return nil
}

func (s *Service) refresh(key string, subject Subject, endpoint Endpoint) (EffectiveLimit, error) {
	// Callers share this fetch, so it must not depend on the context of any of them.
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
	defer cancel()

	eff, err := s.fetch(ctx, subject, endpoint)
	now := s.opts.Now()
	if err == nil {
		s.cache.Add(key, cachedLimit{limit: eff, resolvedAt: now})
		return eff, nil
	}

	err = fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
	if entry, ok := s.cache.Peek(key); ok && !entry.limit.Fallback {
		s.degradedLog.Do(func() {
			s.logger.Warn("rate limit configuration is unavailable, serving last known good limits",
				log.String("key", key), log.Error(err))
		})
		entry.limit.Degraded = true
		entry.resolvedAt = now
		s.cache.Add(key, entry)
		return entry.limit, nil
	}

	s.degradedLog.Do(func() {
		s.logger.Warn("rate limit configuration is unavailable, serving fallback limits",
			log.String("key", key), log.Error(err))
	})
	eff = s.fallback()
	s.cache.Add(key, cachedLimit{limit: eff, resolvedAt: now})
	return eff, err
}

func (s *Service) fallback() EffectiveLimit {
	src := Sources{
		RPM: LimitTypeFallback, RPH: LimitTypeFallback, Burst: LimitTypeFallback, BurstWindow: LimitTypeFallback,
	}
	return EffectiveLimit{
		NumericLimits: s.opts.Fallback,
		Identity:      s.opts.Fallback,
		Sources:       src,
		Fallback:      true,
	}
}

func (s *Service) fetch(ctx context.Context, subject Subject, endpoint Endpoint) (EffectiveLimit, error) {
	matcher, err := s.endpointMatcher(ctx)
	if err != nil {
		return EffectiveLimit{}, fmt.Errorf("fetch endpoint rules: %w", err)
	}

	var configs []RateLimitConfig
	if err = s.withRetry(ctx, func(ctx context.Context) (fetchErr error) {
		configs, fetchErr = s.store.Configs(ctx, subject.Class)
		return fetchErr
	}); err != nil {
		return EffectiveLimit{}, fmt.Errorf("fetch configs of class %q: %w", subject.Class, err)
	}

	var overrides []IdentityOverride
	if !subject.IsAnonymous() {
		if err = s.withRetry(ctx, func(ctx context.Context) (fetchErr error) {
			overrides, fetchErr = s.store.Overrides(ctx, subject.Identity)
			return fetchErr
		}); err != nil {
			return EffectiveLimit{}, fmt.Errorf("fetch overrides of identity %q: %w", subject.Identity, err)
		}
	}

	var identityScopes []Scope
	if o, ok := pickOverride(overrides, subject.Identity, s.opts.Now()); ok {
		identityScopes = append(identityScopes, IdentityScope{Override: o})
	}
	var defaultScopes []Scope
	if c, ok := pickConfig(configs, ScopeClass, subject.Class); ok {
		defaultScopes = append(defaultScopes, ClassScope{Config: c})
	}
	if c, ok := pickConfig(configs, ScopeGlobal, ""); ok {
		defaultScopes = append(defaultScopes, GlobalScope{Config: c})
	}
	defaultScopes = append(defaultScopes, BuiltinScope{Values: s.opts.Fallback})

	var endpointScope *EndpointScope
	if rule, ok := matcher.Match(endpoint); ok {
		endpointScope = &EndpointScope{Rule: rule}
	}
	return combine(identityScopes, defaultScopes, endpointScope, s.reportInvalid), nil
}

func (s *Service) endpointMatcher(ctx context.Context) (*EndpointMatcher, error) {
	now := s.opts.Now()
	s.rulesMu.RLock()
	cached := s.rules
	s.rulesMu.RUnlock()
	if cached != nil && now.Sub(cached.fetchedAt) < s.opts.CacheTTL {
		return cached.matcher, nil
	}

	v, err, _ := s.flight.Do("\x00endpoint-rules", func() (interface{}, error) {
		var rules []EndpointRule
		fetchErr := s.withRetry(ctx, func(ctx context.Context) (err error) {
			rules, err = s.store.EndpointRules(ctx)
			return err
		})
		if fetchErr != nil {
			return nil, fetchErr
		}
		matcher, errs := NewEndpointMatcher(rules)
		for _, e := range errs {
			s.invalidLog.Do(func() {
				s.logger.Warn("endpoint rule is skipped", log.Error(e))
			})
		}
		s.rulesMu.Lock()
		s.rules = &cachedRules{matcher: matcher, fetchedAt: now}
		s.rulesMu.Unlock()
		return matcher, nil
	})
	if err == nil {
		return v.(*EndpointMatcher), nil
	}
	if cached != nil {
		// Rules are stale, but they still describe the endpoints better than no rules at all.
		return cached.matcher, nil
	}
	return nil, err
}

func (s *Service) withRetry(ctx context.Context, fn retry.RetryableFunc) error {
	if s.opts.RetryPolicy == nil {
		return fn(ctx)
	}
	return retry.DoWithRetry(ctx, s.opts.RetryPolicy, isRetryable, nil, fn)
}

func (s *Service) reportInvalid(e InvalidValueError) {
	s.invalidLog.Do(func() {
		s.logger.Warn("invalid rate limit configuration value is ignored",
			log.String("scope", string(e.Scope)), log.String("id", e.ID),
			log.String("dimension", string(e.Dimension)), log.String("value", e.Value))
	})
}

func isRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// pickConfig returns the active config of the scope with the highest priority.
func pickConfig(configs []RateLimitConfig, scope ScopeKind, target string) (RateLimitConfig, bool) {
	var candidates []RateLimitConfig
	for i := range configs {
		c := &configs[i]
		if c.Active && c.Scope == scope && c.Target == target {
			candidates = append(candidates, *c)
		}
	}
	if len(candidates) == 0 {
		return RateLimitConfig{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// pickOverride returns the override of the identity that is in effect.
// If several are, the one expiring last wins; an override without expiry outlives any other.
func pickOverride(overrides []IdentityOverride, identity string, now time.Time) (IdentityOverride, bool) {
	var (
		best  IdentityOverride
		found bool
	)
	later := func(a, b *IdentityOverride) bool {
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return true
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return false
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.After(*b.ExpiresAt)
		}
		return a.ID < b.ID
	}
	for i := range overrides {
		o := &overrides[i]
		if o.IdentityID != identity || !o.InEffect(now) {
			continue
		}
		if !found || later(o, &best) {
			best, found = *o, true
		}
	}
	return best, found
}

func cacheKey(subject Subject, endpoint Endpoint) string {
	return subject.Class + "|" + subject.Identity + "|" + endpoint.Method + " " + endpoint.Path
}

func withSubject(eff EffectiveLimit, subject Subject) EffectiveLimit {
	eff.Subject = subject
	return eff
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/tollgate/tollgate/config"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/limits/store"
	"github.com/tollgate/tollgate/slidingwindow"
	"github.com/tollgate/tollgate/stats"
)

func intPtr(v int) *int { return &v }

func durPtr(d time.Duration) *config.TimeDuration {
	td := config.TimeDuration(d)
	return &td
}

type ManagerTestSuite struct {
	suite.Suite
	clock    *slidingwindow.ManualClock
	limiter  *slidingwindow.Limiter
	metrics  *PrometheusMetrics
	counters *stats.Counters
}

func TestManager(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (ts *ManagerTestSuite) SetupTest() {
	ts.clock = slidingwindow.NewManualClock(time.Hour)
	var err error
	ts.limiter, err = slidingwindow.New(slidingwindow.Opts{Clock: ts.clock})
	ts.Require().NoError(err)
	ts.metrics = NewPrometheusMetrics()
	ts.counters = stats.NewCounters()
}

func (ts *ManagerTestSuite) newManager(rules limits.RuleSet, load LoadMultiplier) *Manager {
	st, err := store.NewMemory(rules)
	ts.Require().NoError(err)
	svc, err := limits.NewService(st, limits.ServiceOpts{})
	ts.Require().NoError(err)
	m, err := NewManager(svc, ts.limiter, ManagerOpts{Load: load, Metrics: ts.metrics, Recorder: ts.counters})
	ts.Require().NoError(err)
	return m
}

func classRules(class string, l limits.Limits) limits.RuleSet {
	return limits.RuleSet{Configs: []limits.RateLimitConfig{
		{ID: class, Scope: limits.ScopeClass, Target: class, Active: true, Limits: l},
	}}
}

func (ts *ManagerTestSuite) TestBurstComposition() {
	m := ts.newManager(classRules("standard", limits.Limits{
		RequestsPerMinute: intPtr(25), RequestsPerHour: intPtr(1000),
		Burst: intPtr(10), BurstWindow: durPtr(10 * time.Second),
	}), nil)
	req := Request{Identity: "alice", Method: "GET", Path: "/items"}

	dec := m.Check(context.Background(), req)
	ts.True(dec.Allowed)
	ts.Equal(limits.LimitTypeBurst, dec.LimitType)
	ts.Equal(10, dec.Limit)
	ts.Equal(9, dec.Remaining)
	ts.Equal(10*time.Second, dec.ResetAfter)
	ts.False(dec.Degraded)

	for i := 1; i < 10; i++ {
		ts.True(m.Check(context.Background(), req).Allowed, "request #%d", i)
	}
	dec = m.Check(context.Background(), req)
	ts.False(dec.Allowed)
	ts.Equal(limits.LimitTypeBurst, dec.LimitType)
	ts.Equal(0, dec.Remaining)
	ts.Equal(10*time.Second, dec.ResetAfter)

	ts.clock.Advance(11 * time.Second)
	for i := 0; i < 10; i++ {
		ts.True(m.Check(context.Background(), req).Allowed, "request #%d", i)
	}

	ts.clock.Advance(11 * time.Second)
	for i := 0; i < 5; i++ {
		ts.True(m.Check(context.Background(), req).Allowed, "request #%d", i)
	}
	dec = m.Check(context.Background(), req)
	ts.False(dec.Allowed)
	ts.Equal(limits.LimitTypeClass, dec.LimitType)
	ts.Equal(25, dec.Limit)
	ts.Equal(38*time.Second, dec.ResetAfter)

	ts.Equal(25, ts.limiter.Count("id:alice|*|rpm", time.Minute))
	ts.Equal(1.0, testutil.ToFloat64(ts.metrics.Decisions.WithLabelValues("rejected", "burst", NoEndpoint)))
	ts.Equal(1.0, testutil.ToFloat64(ts.metrics.Decisions.WithLabelValues("rejected", "class", NoEndpoint)))
}

func (ts *ManagerTestSuite) TestBurstOnTopOfSustainedMinuteLimit() {
	m := ts.newManager(classRules("standard", limits.Limits{
		RequestsPerMinute: intPtr(60), RequestsPerHour: intPtr(1000),
		Burst: intPtr(10), BurstWindow: durPtr(10 * time.Second),
	}), nil)
	req := Request{Identity: "alice", Method: "GET", Path: "/items"}

	for i := 0; i < 10; i++ {
		ts.True(m.Check(context.Background(), req).Allowed, "request #%d", i)
		ts.clock.Advance(100 * time.Millisecond)
	}
	dec := m.Check(context.Background(), req)
	ts.False(dec.Allowed)
	ts.Equal(limits.LimitTypeBurst, dec.LimitType)
	ts.Equal(10, dec.Limit)

	ts.Equal(10, ts.limiter.Count("id:alice|*|rpm", time.Minute))
	_, windows := m.Inspect(context.Background(), req)
	ts.Contains(windows, WindowState{
		Key: "id:alice|*|rpm", LimitType: limits.LimitTypeClass, Limit: 60, Window: "1m0s", Count: 10,
	}, "50 requests of the minute budget are left")
}

func (ts *ManagerTestSuite) TestEndpointBurstCannotLoosenClassBurst() {
	rules := classRules("standard", limits.Limits{
		RequestsPerMinute: intPtr(60), RequestsPerHour: intPtr(1000),
		Burst: intPtr(5), BurstWindow: durPtr(10 * time.Second),
	})
	rules.Endpoints = []limits.EndpointRule{
		{ID: "bulk", Pattern: "/bulk", Active: true, Limits: limits.Limits{Burst: intPtr(50)}},
	}
	m := ts.newManager(rules, nil)
	req := Request{Identity: "alice", Method: "GET", Path: "/bulk"}

	admitted := 0
	var last Decision
	for i := 0; i < 20; i++ {
		last = m.Check(context.Background(), req)
		if last.Allowed {
			admitted++
		}
	}
	ts.Equal(5, admitted)
	ts.Equal(limits.LimitTypeBurst, last.LimitType)
	ts.Equal(5, last.Limit)

	eff, _ := m.Inspect(context.Background(), req)
	ts.Equal(5, eff.Burst)
	ts.Equal(limits.LimitTypeClass, eff.Sources.Burst)
}

func (ts *ManagerTestSuite) TestPrecedence() {
	rules := classRules("standard", limits.Limits{RequestsPerMinute: intPtr(60), Burst: intPtr(100)})
	rules.Overrides = []limits.IdentityOverride{
		{ID: "o1", IdentityID: "alice", Active: true, Limits: limits.Limits{RequestsPerMinute: intPtr(5)}},
	}
	rules.Endpoints = []limits.EndpointRule{
		{ID: "search", Pattern: "/search", Active: true, Limits: limits.Limits{RequestsPerMinute: intPtr(2)}},
	}
	m := ts.newManager(rules, nil)
	ctx := context.Background()
	search := Request{Identity: "alice", Method: "GET", Path: "/search"}
	other := Request{Identity: "alice", Method: "GET", Path: "/other"}

	for i := 0; i < 2; i++ {
		dec := m.Check(ctx, search)
		ts.True(dec.Allowed)
		ts.Equal("search", dec.Endpoint)
	}
	dec := m.Check(ctx, search)
	ts.False(dec.Allowed)
	ts.Equal(limits.LimitTypeEndpoint, dec.LimitType)
	ts.Equal(2, dec.Limit)

	for i := 0; i < 3; i++ {
		ts.True(m.Check(ctx, other).Allowed)
	}
	dec = m.Check(ctx, other)
	ts.False(dec.Allowed)
	ts.Equal(limits.LimitTypeIdentity, dec.LimitType)
	ts.Equal(5, dec.Limit)

	// Bob has no override and gets the class default.
	bob := Request{Identity: "bob", Method: "GET", Path: "/other"}
	dec = m.Check(ctx, bob)
	ts.True(dec.Allowed)
	ts.Equal(59, dec.Remaining)
	ts.Equal(limits.LimitTypeClass, dec.LimitType)
}

func (ts *ManagerTestSuite) TestSubjectsAreIsolated() {
	m := ts.newManager(classRules("anonymous", limits.Limits{RequestsPerMinute: intPtr(1)}), nil)
	ctx := context.Background()
	first := Request{Address: "10.0.0.1", Method: "GET", Path: "/"}
	second := Request{Address: "10.0.0.2", Method: "GET", Path: "/"}

	ts.True(m.Check(ctx, first).Allowed)
	ts.False(m.Check(ctx, first).Allowed)
	ts.True(m.Check(ctx, second).Allowed)
}

func (ts *ManagerTestSuite) TestExplicitZeroDeniesAll() {
	m := ts.newManager(classRules("blocked", limits.Limits{RequestsPerMinute: intPtr(0)}), nil)
	dec := m.Check(context.Background(), Request{Identity: "mallory", Class: "blocked", Method: "GET", Path: "/"})
	ts.False(dec.Allowed)
	ts.Equal(limits.LimitTypeClass, dec.LimitType)
	ts.Equal(0, dec.Limit)
}

func (ts *ManagerTestSuite) TestLoadAdaptation() {
	adapter, err := NewLoadAdapter(LoadProbeFunc(func(context.Context) (float64, error) { return 0, nil }),
		LoadAdapterOpts{HighWater: 0.8, LowWater: 0.6, Multiplier: 0.5, Metrics: ts.metrics})
	ts.Require().NoError(err)
	m := ts.newManager(classRules("standard", limits.Limits{
		RequestsPerMinute: intPtr(10), Burst: intPtr(100),
	}), adapter)
	ctx := context.Background()
	req := Request{Identity: "alice", Method: "GET", Path: "/"}

	adapter.Observe(0.9)
	ts.Equal(0.5, testutil.ToFloat64(ts.metrics.LoadMultiplier))
	for i := 0; i < 5; i++ {
		ts.True(m.Check(ctx, req).Allowed, "request #%d", i)
	}
	dec := m.Check(ctx, req)
	ts.False(dec.Allowed)
	ts.Equal(5, dec.Limit)

	adapter.Observe(0.7) // inside the band, still engaged
	ts.False(m.Check(ctx, req).Allowed)

	adapter.Observe(0.5)
	ts.Equal(1.0, testutil.ToFloat64(ts.metrics.LoadMultiplier))
	dec = m.Check(ctx, req)
	ts.True(dec.Allowed)
	ts.Equal(10, dec.Limit)
	ts.Equal(4, dec.Remaining)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, limits.Subject, limits.Endpoint) (limits.EffectiveLimit, error) {
	return limits.EffectiveLimit{}, errors.New("resolver is broken")
}

func (ts *ManagerTestSuite) TestResolverFailureAppliesFallback() {
	m, err := NewManager(failingResolver{}, ts.limiter, ManagerOpts{
		Fallback: limits.NumericLimits{RPM: 2, RPH: 100, Burst: 10, BurstWindow: time.Second},
		Metrics:  ts.metrics,
		Recorder: ts.counters,
	})
	ts.Require().NoError(err)
	req := Request{Address: "10.0.0.1", Method: "GET", Path: "/"}

	for i := 0; i < 2; i++ {
		dec := m.Check(context.Background(), req)
		ts.True(dec.Allowed)
		ts.True(dec.Degraded)
	}
	dec := m.Check(context.Background(), req)
	ts.False(dec.Allowed)
	ts.Equal(limits.LimitTypeFallback, dec.LimitType)
	ts.Equal(3.0, testutil.ToFloat64(ts.metrics.DegradedDecisions))

	counters, degraded := ts.counters.Snapshot()
	ts.EqualValues(3, degraded)
	ts.Equal([]stats.Counter{
		{CounterKey: stats.CounterKey{LimitType: "fallback", Result: stats.ResultAllowed}, Count: 2},
		{CounterKey: stats.CounterKey{LimitType: "fallback", Result: stats.ResultDenied}, Count: 1},
	}, counters)
}

func (ts *ManagerTestSuite) TestConcurrentChecksAdmitExactlyTheLimit() {
	m := ts.newManager(classRules("standard", limits.Limits{RequestsPerMinute: intPtr(50), Burst: intPtr(1000)}), nil)
	req := Request{Identity: "alice", Method: "POST", Path: "/orders"}

	const workers = 200
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Check(context.Background(), req).Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	ts.EqualValues(50, admitted.Load())
	ts.Equal(50, ts.limiter.Count("id:alice|*|rpm", time.Minute))
}

func (ts *ManagerTestSuite) TestInspect() {
	rules := classRules("standard", limits.Limits{RequestsPerMinute: intPtr(60), Burst: intPtr(10)})
	rules.Endpoints = []limits.EndpointRule{{ID: "login", Pattern: "/login", Active: true, Limits: limits.Limits{
		RequestsPerHour: intPtr(20), Burst: intPtr(3), BurstWindow: durPtr(time.Minute),
	}}}
	m := ts.newManager(rules, nil)
	req := Request{Identity: "alice", Method: "POST", Path: "/login"}
	for i := 0; i < 2; i++ {
		ts.Require().True(m.Check(context.Background(), req).Allowed)
	}

	eff, windows := m.Inspect(context.Background(), req)
	ts.Equal(3, eff.Burst)
	ts.Equal([]WindowState{
		{Key: "id:alice|login|rph", LimitType: limits.LimitTypeEndpoint, Limit: 20, Window: "1h0m0s", Count: 2},
		{Key: "id:alice|*|rph", LimitType: limits.LimitTypeFallback, Limit: 600, Window: "1h0m0s", Count: 2},
		{Key: "id:alice|*|rpm", LimitType: limits.LimitTypeClass, Limit: 60, Window: "1m0s", Count: 2},
		{Key: "id:alice|login" + slidingwindow.BurstSuffix, LimitType: limits.LimitTypeBurst, Limit: 3, Window: "1m0s", Count: 2},
	}, windows)
}

func TestNewManager_InvalidOpts(t *testing.T) {
	limiter, err := slidingwindow.New(slidingwindow.Opts{})
	require.NoError(t, err)
	_, err = NewManager(nil, limiter, ManagerOpts{})
	require.Error(t, err)
	_, err = NewManager(failingResolver{}, limiter, ManagerOpts{Fallback: limits.NumericLimits{RPM: 1}})
	require.EqualError(t, err, "fallback burst window should be positive")
}

func TestScaleLimit(t *testing.T) {
	tests := []struct {
		limit int
		m     float64
		want  int
	}{
		{limit: 100, m: 1, want: 100},
		{limit: 100, m: 0.5, want: 50},
		{limit: 5, m: 0.5, want: 2},
		{limit: 1, m: 0.1, want: 1},
		{limit: 0, m: 0.5, want: 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, scaleLimit(tt.limit, tt.m), "limit=%d m=%v", tt.limit, tt.m)
	}
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package slidingwindow

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/lrucache"
)

// Default values for Opts.
const (
	DefaultShards  = 64
	DefaultMaxKeys = 100000
	DefaultIdleTTL = time.Hour
)

// BurstSuffix is appended to a key to get the key of its burst window.
const BurstSuffix = ":burst"

// BurstKey returns the key under which the burst window of the given key is tracked.
func BurstKey(key string) string {
	return key + BurstSuffix
}

// Result is the outcome of a single window check.
type Result struct {
	Allowed   bool
	Remaining int
	// ResetAfter is the time until the oldest counted event leaves the window.
	// For a rejected check it is the time until one more event would fit.
	ResetAfter time.Duration
}

// Request describes one window check.
type Request struct {
	Key         string
	MaxRequests int
	Window      time.Duration
}

// MultiResult is the outcome of CheckAll.
type MultiResult struct {
	Allowed bool
	// Denied is the index of the first rejected request in the caller's order, or -1.
	Denied  int
	Results []Result
}

// Opts represents options for the Limiter.
type Opts struct {
	// Shards is the number of independently locked partitions. Rounded up to a power of two.
	Shards int
	// MaxKeys bounds the number of tracked keys. Least recently used keys are evicted beyond it.
	MaxKeys int
	// IdleTTL is how long a key may stay untouched before its window is collected.
	// A key never expires sooner than its own window length.
	IdleTTL time.Duration
	Clock   Clock
	Metrics MetricsCollector
	Logger  log.FieldLogger
}

// Limiter is an exact sliding-window limiter keyed by strings.
type Limiter struct {
	shards  []*lrucache.LRUCache[string, *windowLog]
	mask    uint32
	idleTTL time.Duration
	clock   Clock
	logger  log.FieldLogger

	overflowLog rate.Sometimes
}

// New creates a new Limiter.
func New(opts Opts) (*Limiter, error) {
	if opts.Shards < 0 || opts.MaxKeys < 0 || opts.IdleTTL < 0 {
		return nil, fmt.Errorf("shards, max keys and idle TTL must not be negative")
	}
	shards := opts.Shards
	if shards == 0 {
		shards = DefaultShards
	}
	shards = nextPowerOfTwo(shards)
	maxKeys := opts.MaxKeys
	if maxKeys == 0 {
		maxKeys = DefaultMaxKeys
	}
	if maxKeys < shards {
		shards = nextPowerOfTwo(maxKeys)
		if shards > maxKeys {
			shards >>= 1
		}
	}
	idleTTL := opts.IdleTTL
	if idleTTL == 0 {
		idleTTL = DefaultIdleTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = NewMonotonicClock()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	l := &Limiter{
		mask:        uint32(shards - 1), //nolint:gosec // shards is a small positive number
		idleTTL:     idleTTL,
		clock:       clock,
		logger:      logger,
		overflowLog: rate.Sometimes{First: 1, Interval: time.Minute},
	}

	// Expiration bookkeeping follows the limiter clock so TTLs cannot be shortened by wall-clock jumps.
	origin := time.Unix(0, 0)
	now := func() time.Time { return origin.Add(clock.Now()) }
	perShard := (maxKeys + shards - 1) / shards
	l.shards = make([]*lrucache.LRUCache[string, *windowLog], shards)
	for i := range l.shards {
		shard, err := lrucache.NewWithOpts[string, *windowLog](perShard, &shardMetrics{parent: metrics},
			lrucache.Options[string, *windowLog]{
				SlidingExpiration: true,
				Now:               now,
				OnEvict:           l.onEvict,
			})
		if err != nil {
			return nil, fmt.Errorf("new window store shard: %w", err)
		}
		l.shards[i] = shard
	}
	return l, nil
}

// Check admits one event for key if fewer than maxRequests events were admitted
// within the trailing window. Rejected events are not recorded.
// A non-positive maxRequests or window always rejects.
func (l *Limiter) Check(key string, maxRequests int, window time.Duration) Result {
	res := l.CheckAll([]Request{{Key: key, MaxRequests: maxRequests, Window: window}})
	return res.Results[0]
}

// CheckAll admits one event for every request only if all of them pass.
// Windows are locked in key order, so concurrent calls over overlapping keys never deadlock
// and never observe each other's partial updates. Keys within one call must be distinct.
func (l *Limiter) CheckAll(reqs []Request) MultiResult {
	res := MultiResult{Allowed: true, Denied: -1, Results: make([]Result, len(reqs))}
	if len(reqs) == 0 {
		return res
	}

	logs := make([]*windowLog, len(reqs))
	for i, req := range reqs {
		if req.MaxRequests <= 0 || req.Window <= 0 {
			continue
		}
		logs[i] = l.window(req.Key, req.Window)
	}

	order := make([]int, 0, len(reqs))
	for i := range reqs {
		if logs[i] != nil {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool { return reqs[order[a]].Key < reqs[order[b]].Key })
	for _, i := range order {
		logs[i].mu.Lock()
	}
	defer func() {
		for _, i := range order {
			logs[i].mu.Unlock()
		}
	}()

	now := l.clock.Now()
	counts := make([]int, len(reqs))
	passed := make([]bool, len(reqs))
	for i, req := range reqs {
		if logs[i] == nil {
			res.Results[i] = Result{ResetAfter: positive(req.Window)}
			res.reject(i)
			continue
		}
		allowed, count := logs[i].evaluate(now, req.MaxRequests, req.Window)
		counts[i] = count
		passed[i] = allowed
		if !allowed {
			res.Results[i] = Result{ResetAfter: logs[i].untilFree(now, count, req.MaxRequests, req.Window)}
			res.reject(i)
		}
	}

	for i, req := range reqs {
		if !passed[i] {
			continue
		}
		if res.Allowed {
			logs[i].push(now)
			res.Results[i] = Result{
				Allowed:    true,
				Remaining:  req.MaxRequests - counts[i] - 1,
				ResetAfter: logs[i].resetAfter(now, req.Window),
			}
			continue
		}
		// The check itself passed, but the event is not recorded because another one failed.
		res.Results[i] = Result{
			Remaining:  req.MaxRequests - counts[i],
			ResetAfter: logs[i].resetAfter(now, req.Window),
		}
	}
	return res
}

// Count returns the number of admitted events of key within the trailing window without
// recording anything or extending the key's lifetime.
func (l *Limiter) Count(key string, window time.Duration) int {
	wl, ok := l.shard(key).Peek(key)
	if !ok {
		return 0
	}
	wl.mu.Lock()
	defer wl.mu.Unlock()
	cutoff := l.clock.Now() - window
	n := 0
	for i := wl.count() - 1; i >= 0 && wl.at(i) > cutoff; i-- {
		n++
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		n += s.Len()
	}
	return n
}

// CleanupExpired collects windows of keys that stayed idle longer than their TTL.
func (l *Limiter) CleanupExpired() int {
	n := 0
	for _, s := range l.shards {
		n += s.CleanupExpired()
	}
	return n
}

// Cleanup is CleanupExpired in the form of a service.WorkerFunc.
func (l *Limiter) Cleanup(context.Context) error {
	if n := l.CleanupExpired(); n > 0 {
		l.logger.Debug("idle rate limit windows collected", log.Int("windows", n))
	}
	return nil
}

func (l *Limiter) window(key string, window time.Duration) *windowLog {
	ttl := l.idleTTL
	if window > ttl {
		ttl = window
	}
	wl, _ := l.shard(key).GetOrAddWithTTL(key, newWindowLog, ttl)
	return wl
}

func (l *Limiter) shard(key string) *lrucache.LRUCache[string, *windowLog] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()&l.mask]
}

func (l *Limiter) onEvict(key string, _ *windowLog, reason lrucache.EvictReason) {
	if reason != lrucache.EvictReasonCapacity {
		return
	}
	l.overflowLog.Do(func() {
		l.logger.Warn("rate limit key capacity exhausted, evicting least recently used windows",
			log.String("evicted_key", key))
	})
}

func (r *MultiResult) reject(i int) {
	if r.Allowed {
		r.Allowed = false
		r.Denied = i
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

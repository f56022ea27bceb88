/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tollgate/tollgate/log"
)

// Default values for RedisRecorderOpts.
const (
	DefaultRedisPrefix = "tollgate:stats"
	DefaultRedisTTL    = 24 * time.Hour
)

// noEndpoint is the endpoint field value for requests that matched no endpoint rule.
const noEndpoint = "-"

// RedisRecorderOpts represents options for RedisRecorder.
type RedisRecorderOpts struct {
	Prefix string
	// TTL is applied to per-minute buckets only, totals never expire.
	TTL    time.Duration
	Logger log.FieldLogger
	Now    func() time.Time
}

// RedisRecorder accumulates events in memory and writes them to Redis on Flush.
// It implements service.Worker, so it may be run by service.PeriodicWorker.
type RedisRecorder struct {
	client   redis.Cmdable
	counters *Counters
	prefix   string
	ttl      time.Duration
	logger   log.FieldLogger
	now      func() time.Time
}

// NewRedisRecorder creates a new RedisRecorder.
func NewRedisRecorder(client redis.Cmdable, opts RedisRecorderOpts) *RedisRecorder {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultRedisTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisRecorder{
		client:   client,
		counters: NewCounters(),
		prefix:   strings.Trim(opts.Prefix, ":"),
		ttl:      opts.TTL,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Record implements Recorder.
func (r *RedisRecorder) Record(e Event) {
	r.counters.Record(e)
}

// Flush writes accumulated counters to Redis in one pipeline.
// Counters that could not be written are kept for the next flush.
func (r *RedisRecorder) Flush(ctx context.Context) error {
	counters, degraded := r.counters.Drain()
	if len(counters) == 0 && degraded == 0 {
		return nil
	}

	totalKey := r.prefix + ":total"
	minuteKey := fmt.Sprintf("%s:minute:%s", r.prefix, r.now().UTC().Format("200601021504"))
	endpointKey := r.prefix + ":endpoint"

	pipe := r.client.Pipeline()
	for _, c := range counters {
		pipe.HIncrBy(ctx, totalKey, c.Result, c.Count)
		pipe.HIncrBy(ctx, minuteKey, c.Result, c.Count)
		endpoint := c.Endpoint
		if endpoint == "" {
			endpoint = noEndpoint
		}
		pipe.HIncrBy(ctx, endpointKey, endpoint+":"+c.LimitType+":"+c.Result, c.Count)
	}
	if degraded > 0 {
		pipe.HIncrBy(ctx, totalKey, "degraded", degraded)
	}
	if len(counters) > 0 && r.ttl > 0 {
		pipe.Expire(ctx, minuteKey, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.counters.add(counters, degraded)
		return fmt.Errorf("flush decision counters to redis: %w", err)
	}
	r.logger.Debug("decision counters are flushed to redis", log.Int("counters", len(counters)))
	return nil
}

// Run flushes the counters once. Implements service.Worker.
func (r *RedisRecorder) Run(ctx context.Context) error {
	return r.Flush(ctx)
}

// NewRedisClient creates a Redis client from the configuration.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tollgate/tollgate/internal/libinfo"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/limits/store"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/lrucache"
	"github.com/tollgate/tollgate/ratelimit"
	"github.com/tollgate/tollgate/restapi"
	"github.com/tollgate/tollgate/service"
	"github.com/tollgate/tollgate/slidingwindow"
	"github.com/tollgate/tollgate/stats"
)

const metricsNamespace = "tollgate"

// admission holds the components making admission decisions.
type admission struct {
	store    store.Backend
	resolver *limits.Service
	limiter  *slidingwindow.Limiter
	manager  *ratelimit.Manager
	load     *ratelimit.LoadAdapter
	recorder *stats.RedisRecorder
	redis    *redis.Client
	metrics  metricsGroup
}

type admissionOpts struct {
	// WithMetrics enables Prometheus collectors of the components.
	WithMetrics bool
	// WithBackground enables components that need background workers (load adaptation, stats sink).
	WithBackground bool
}

func newAdmission(ctx context.Context, cfg *AppConfig, logger log.FieldLogger, opts admissionOpts) (a *admission, err error) {
	a = &admission{}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				logger.Error("failed to release admission components", log.Error(closeErr))
			}
		}
	}()

	if a.store, err = store.Open(ctx, cfg.Store, logger); err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}

	var cacheMetrics lrucache.MetricsCollector
	var limiterMetrics slidingwindow.MetricsCollector
	var managerMetrics ratelimit.MetricsCollector
	if opts.WithMetrics {
		constLabels := libinfo.AddPrometheusVersionLabel(nil)
		cm := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
			Namespace: metricsNamespace, Subsystem: "limits", ConstLabels: constLabels,
		})
		lm := slidingwindow.NewPrometheusMetricsWithOpts(slidingwindow.PrometheusMetricsOpts{
			Namespace: metricsNamespace, ConstLabels: constLabels,
		})
		mm := ratelimit.NewPrometheusMetricsWithOpts(ratelimit.PrometheusMetricsOpts{
			Namespace: metricsNamespace, ConstLabels: constLabels,
		})
		cacheMetrics, limiterMetrics, managerMetrics = cm, lm, mm
		a.metrics = append(a.metrics, cm, lm, mm, newBuildInfoMetrics(), restapiMetrics{})
	}

	serviceOpts := cfg.Resolver.ServiceOpts()
	serviceOpts.Fallback = cfg.RateLimit.FallbackLimits()
	serviceOpts.CacheMetrics = cacheMetrics
	serviceOpts.Logger = logger
	if a.resolver, err = limits.NewService(a.store, serviceOpts); err != nil {
		return nil, fmt.Errorf("create limits service: %w", err)
	}

	limiterOpts := cfg.RateLimit.LimiterOpts()
	limiterOpts.Metrics = limiterMetrics
	limiterOpts.Logger = logger
	if a.limiter, err = slidingwindow.New(limiterOpts); err != nil {
		return nil, fmt.Errorf("create sliding window limiter: %w", err)
	}

	managerOpts := ratelimit.ManagerOpts{
		Fallback: cfg.RateLimit.FallbackLimits(),
		Metrics:  managerMetrics,
		Logger:   logger,
	}
	if opts.WithBackground && cfg.RateLimit.Load.Enabled {
		probe, probeErr := ratelimit.NewProcLoadProbe(cfg.RateLimit.Load.ProcPath)
		if probeErr != nil {
			return nil, probeErr
		}
		loadOpts := cfg.RateLimit.LoadAdapterOpts()
		loadOpts.Metrics = managerMetrics
		loadOpts.Logger = logger
		if a.load, err = ratelimit.NewLoadAdapter(probe, loadOpts); err != nil {
			return nil, fmt.Errorf("create load adapter: %w", err)
		}
		managerOpts.Load = a.load
	}
	if opts.WithBackground && cfg.Stats.Redis.Enabled {
		a.redis = stats.NewRedisClient(cfg.Stats.Redis)
		a.recorder = stats.NewRedisRecorder(a.redis, stats.RedisRecorderOpts{
			Prefix: cfg.Stats.Redis.Prefix,
			TTL:    time.Duration(cfg.Stats.Redis.TTL),
			Logger: logger,
		})
		managerOpts.Recorder = a.recorder
	}
	if a.manager, err = ratelimit.NewManager(a.resolver, a.limiter, managerOpts); err != nil {
		return nil, fmt.Errorf("create rate limit manager: %w", err)
	}
	return a, nil
}

// workerUnits returns units running the periodic background work of the components.
const (
	workerStopTimeout    = 10 * time.Second
	statsFlushRetryDelay = time.Second
)

// workerUnits returns units running the periodic maintenance of the admission components.
// Collectors of the components are registered together with the limiter cleanup unit.
func (a *admission) workerUnits(cfg *AppConfig, logger log.FieldLogger) []service.Unit {
	newUnit := func(name string, worker service.Worker, interval time.Duration, opts service.PeriodicWorkerOpts,
		metrics service.MetricsRegisterer) service.Unit {
		pw := service.NewPeriodicWorkerWithOpts(worker, interval, logger.With(log.String("worker", name)), opts)
		return service.NewWorkerUnitWithOpts(pw, service.WorkerUnitOpts{
			MetricsRegisterer:   metrics,
			GracefulStopTimeout: workerStopTimeout,
		})
	}

	units := []service.Unit{
		newUnit("limiter-cleanup", service.WorkerFunc(a.limiter.Cleanup), time.Duration(cfg.RateLimit.Limiter.CleanupInterval), service.PeriodicWorkerOpts{}, a.metrics),
		newUnit("limits-cache-cleanup", service.WorkerFunc(a.resolver.CleanupCache),
			time.Duration(cfg.Resolver.CacheCleanupInterval), service.PeriodicWorkerOpts{}, nil),
	}
	if a.load != nil {
		units = append(units, newUnit("load-sampler", a.load,
			time.Duration(cfg.RateLimit.Load.Interval), service.PeriodicWorkerOpts{}, nil))
	}
	if a.recorder != nil {
		flushInterval := time.Duration(cfg.Stats.Redis.FlushInterval)
		units = append(units, newUnit("stats-flush", a.recorder, flushInterval, service.PeriodicWorkerOpts{
			InitialDelay: flushInterval,
			IntervalDelayFunc: func(_ service.Worker, err error) time.Duration {
				if err != nil && statsFlushRetryDelay < flushInterval {
					return statsFlushRetryDelay
				}
				return flushInterval
			},
		}, nil))
	}
	return units
}

// Close flushes pending statistics and releases connections.
func (a *admission) Close() error {
	var errs []error
	if a.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.recorder.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis client: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// promCollector is implemented by the PrometheusMetrics types of the packages.
type promCollector interface {
	MustRegister()
	Unregister()
}

// metricsGroup presents several collectors as one service.MetricsRegisterer.
type metricsGroup []promCollector

var _ service.MetricsRegisterer = metricsGroup(nil)

func (g metricsGroup) MustRegisterMetrics() {
	for _, c := range g {
		c.MustRegister()
	}
}

func (g metricsGroup) UnregisterMetrics() {
	for _, c := range g {
		c.Unregister()
	}
}

type restapiMetrics struct{}

func (restapiMetrics) MustRegister() { restapi.MustInitAndRegisterMetrics(metricsNamespace) }
func (restapiMetrics) Unregister()   { restapi.UnregisterMetrics() }

type buildInfoMetrics struct {
	gauge prometheus.Gauge
}

func newBuildInfoMetrics() buildInfoMetrics {
	return buildInfoMetrics{gauge: libinfo.NewPrometheusBuildInfo()}
}

func (m buildInfoMetrics) MustRegister() { prometheus.MustRegister(m.gauge) }
func (m buildInfoMetrics) Unregister()   { prometheus.Unregister(m.gauge) }

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/prometheus/procfs"
	"go.uber.org/atomic"

	"github.com/tollgate/tollgate/log"
)

// Default values for LoadAdapterOpts.
const (
	DefaultLoadHighWater  = 0.85
	DefaultLoadLowWater   = 0.6
	DefaultLoadMultiplier = 0.5
)

// LoadProbe samples the host load. 1.0 means all CPUs are busy.
type LoadProbe interface {
	Load(ctx context.Context) (float64, error)
}

// LoadProbeFunc is an adapter to allow the use of ordinary functions as LoadProbe.
type LoadProbeFunc func(ctx context.Context) (float64, error)

// Load implements LoadProbe.
func (f LoadProbeFunc) Load(ctx context.Context) (float64, error) {
	return f(ctx)
}

// ProcLoadProbe reports the 1-minute load average divided by the number of CPUs.
type ProcLoadProbe struct {
	fs   procfs.FS
	cpus int
}

// NewProcLoadProbe creates a new ProcLoadProbe reading procfs mounted at mountPoint
// (procfs.DefaultMountPoint if empty).
func NewProcLoadProbe(mountPoint string) (*ProcLoadProbe, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcLoadProbe{fs: fs, cpus: runtime.NumCPU()}, nil
}

// Load implements LoadProbe.
func (p *ProcLoadProbe) Load(context.Context) (float64, error) {
	avg, err := p.fs.LoadAvg()
	if err != nil {
		return 0, fmt.Errorf("read load average: %w", err)
	}
	return avg.Load1 / float64(p.cpus), nil
}

// LoadMultiplier provides the factor all limits are multiplied by.
type LoadMultiplier interface {
	Multiplier() float64
}

// LoadAdapterOpts represents options for the LoadAdapter.
type LoadAdapterOpts struct {
	// HighWater is the load at or above which the multiplier is engaged.
	HighWater float64
	// LowWater is the load at or below which the multiplier is released.
	// Between LowWater and HighWater the state does not change.
	LowWater float64
	// Multiplier is applied to all limits while engaged, in (0, 1].
	Multiplier float64
	Metrics    MetricsCollector
	Logger     log.FieldLogger
}

// LoadAdapter tracks the host load and switches the limits multiplier with hysteresis.
// It implements service.Worker, each Run takes one sample.
type LoadAdapter struct {
	probe LoadProbe
	opts  LoadAdapterOpts

	mu         sync.Mutex
	engaged    atomic.Bool
	multiplier atomic.Float64
}

var _ LoadMultiplier = (*LoadAdapter)(nil)

// NewLoadAdapter creates a new LoadAdapter.
func NewLoadAdapter(probe LoadProbe, opts LoadAdapterOpts) (*LoadAdapter, error) {
	if opts.HighWater == 0 {
		opts.HighWater = DefaultLoadHighWater
	}
	if opts.LowWater == 0 {
		opts.LowWater = DefaultLoadLowWater
	}
	if opts.Multiplier == 0 {
		opts.Multiplier = DefaultLoadMultiplier
	}
	if opts.LowWater < 0 || opts.LowWater > opts.HighWater {
		return nil, fmt.Errorf("low water (%v) should be in [0, high water (%v)]", opts.LowWater, opts.HighWater)
	}
	if opts.Multiplier < 0 || opts.Multiplier > 1 {
		return nil, fmt.Errorf("multiplier (%v) should be in (0, 1]", opts.Multiplier)
	}
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	a := &LoadAdapter{probe: probe, opts: opts}
	a.multiplier.Store(1)
	opts.Metrics.SetLoadMultiplier(1)
	return a, nil
}

// Run samples the load once.
func (a *LoadAdapter) Run(ctx context.Context) error {
	load, err := a.probe.Load(ctx)
	if err != nil {
		return fmt.Errorf("sample host load: %w", err)
	}
	a.Observe(load)
	return nil
}

// Observe applies one load sample.
func (a *LoadAdapter) Observe(load float64) {
	a.opts.Metrics.SetLoadLevel(load)

	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case !a.engaged.Load() && load >= a.opts.HighWater:
		a.engaged.Store(true)
		a.multiplier.Store(a.opts.Multiplier)
		a.opts.Metrics.SetLoadMultiplier(a.opts.Multiplier)
		a.opts.Logger.Warn("high load, rate limits are tightened",
			log.Float64("load", load), log.Float64("multiplier", a.opts.Multiplier))
	case a.engaged.Load() && load <= a.opts.LowWater:
		a.engaged.Store(false)
		a.multiplier.Store(1)
		a.opts.Metrics.SetLoadMultiplier(1)
		a.opts.Logger.Info("load is back to normal, rate limits are restored", log.Float64("load", load))
	}
}

// Multiplier returns the current limits multiplier.
func (a *LoadAdapter) Multiplier() float64 {
	return a.multiplier.Load()
}

// Engaged reports whether limits are currently tightened.
func (a *LoadAdapter) Engaged() bool {
	return a.engaged.Load()
}

// scaleLimit applies the load multiplier to a limit. Positive limits never drop below 1.
func scaleLimit(limit int, m float64) int {
	if limit <= 0 || m >= 1 {
		return limit
	}
	scaled := int(float64(limit) * m)
	if scaled < 1 {
		return 1
	}
	return scaled
}

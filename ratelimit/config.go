/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"time"

	"github.com/tollgate/tollgate/config"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/slidingwindow"
)

const cfgDefaultKeyPrefix = "ratelimit"

const (
	cfgKeyLimiterShards          = "limiter.shards"
	cfgKeyLimiterMaxKeys         = "limiter.maxKeys"
	cfgKeyLimiterIdleTTL         = "limiter.idleTTL"
	cfgKeyLimiterCleanupInterval = "limiter.cleanupInterval"
	cfgKeyLoadEnabled            = "load.enabled"
	cfgKeyLoadInterval           = "load.interval"
	cfgKeyLoadHighWater          = "load.highWater"
	cfgKeyLoadLowWater           = "load.lowWater"
	cfgKeyLoadMultiplier         = "load.multiplier"
	cfgKeyLoadProcPath           = "load.procPath"
	cfgKeyFallbackRPM            = "fallback.rpm"
	cfgKeyFallbackRPH            = "fallback.rph"
	cfgKeyFallbackBurst          = "fallback.burst"
	cfgKeyFallbackBurstWindow    = "fallback.burstWindow"
)

// Default values of the Config.
const (
	DefaultLimiterCleanupInterval = time.Minute
	DefaultLoadInterval           = 5 * time.Second
)

// Config represents a set of configuration parameters for admission control.
type Config struct {
	Limiter  LimiterConfig  `mapstructure:"limiter" yaml:"limiter" json:"limiter"`
	Load     LoadConfig     `mapstructure:"load" yaml:"load" json:"load"`
	Fallback FallbackConfig `mapstructure:"fallback" yaml:"fallback" json:"fallback"`

	keyPrefix string
}

// LimiterConfig configures the sliding window limiter.
type LimiterConfig struct {
	Shards          int                 `mapstructure:"shards" yaml:"shards" json:"shards"`
	MaxKeys         int                 `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
	IdleTTL         config.TimeDuration `mapstructure:"idleTTL" yaml:"idleTTL" json:"idleTTL"`
	CleanupInterval config.TimeDuration `mapstructure:"cleanupInterval" yaml:"cleanupInterval" json:"cleanupInterval"`
}

// LoadConfig configures load adaptation.
type LoadConfig struct {
	Enabled    bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Interval   config.TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`
	HighWater  float64             `mapstructure:"highWater" yaml:"highWater" json:"highWater"`
	LowWater   float64             `mapstructure:"lowWater" yaml:"lowWater" json:"lowWater"`
	Multiplier float64             `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
	// ProcPath is the procfs mount point the load average is read from.
	ProcPath string `mapstructure:"procPath" yaml:"procPath,omitempty" json:"procPath,omitempty"`
}

// FallbackConfig holds the limits applied when the configuration is unavailable.
type FallbackConfig struct {
	RPM         int                 `mapstructure:"rpm" yaml:"rpm" json:"rpm"`
	RPH         int                 `mapstructure:"rph" yaml:"rph" json:"rph"`
	Burst       int                 `mapstructure:"burst" yaml:"burst" json:"burst"`
	BurstWindow config.TimeDuration `mapstructure:"burstWindow" yaml:"burstWindow" json:"burstWindow"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	c := NewConfig(options...)
	c.Limiter = LimiterConfig{
		Shards:          slidingwindow.DefaultShards,
		MaxKeys:         slidingwindow.DefaultMaxKeys,
		IdleTTL:         config.TimeDuration(slidingwindow.DefaultIdleTTL),
		CleanupInterval: config.TimeDuration(DefaultLimiterCleanupInterval),
	}
	c.Load = LoadConfig{
		Enabled:    true,
		Interval:   config.TimeDuration(DefaultLoadInterval),
		HighWater:  DefaultLoadHighWater,
		LowWater:   DefaultLoadLowWater,
		Multiplier: DefaultLoadMultiplier,
	}
	c.Fallback = FallbackConfig{
		RPM:         limits.DefaultFallback.RPM,
		RPH:         limits.DefaultFallback.RPH,
		Burst:       limits.DefaultFallback.Burst,
		BurstWindow: config.TimeDuration(limits.DefaultFallback.BurstWindow),
	}
	return c
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyLimiterShards, slidingwindow.DefaultShards)
	dp.SetDefault(cfgKeyLimiterMaxKeys, slidingwindow.DefaultMaxKeys)
	dp.SetDefault(cfgKeyLimiterIdleTTL, slidingwindow.DefaultIdleTTL.String())
	dp.SetDefault(cfgKeyLimiterCleanupInterval, DefaultLimiterCleanupInterval.String())
	dp.SetDefault(cfgKeyLoadEnabled, true)
	dp.SetDefault(cfgKeyLoadInterval, DefaultLoadInterval.String())
	dp.SetDefault(cfgKeyLoadHighWater, DefaultLoadHighWater)
	dp.SetDefault(cfgKeyLoadLowWater, DefaultLoadLowWater)
	dp.SetDefault(cfgKeyLoadMultiplier, DefaultLoadMultiplier)
	dp.SetDefault(cfgKeyFallbackRPM, limits.DefaultFallback.RPM)
	dp.SetDefault(cfgKeyFallbackRPH, limits.DefaultFallback.RPH)
	dp.SetDefault(cfgKeyFallbackBurst, limits.DefaultFallback.Burst)
	dp.SetDefault(cfgKeyFallbackBurstWindow, limits.DefaultFallback.BurstWindow.String())
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.setLimiter(dp); err != nil {
		return err
	}
	if err := c.setLoad(dp); err != nil {
		return err
	}
	return c.setFallback(dp)
}

func (c *Config) setLimiter(dp config.DataProvider) error {
	var err error
	if c.Limiter.Shards, err = dp.GetInt(cfgKeyLimiterShards); err != nil {
		return err
	}
	if c.Limiter.Shards <= 0 {
		return dp.WrapKeyErr(cfgKeyLimiterShards, fmt.Errorf("should be positive"))
	}
	if c.Limiter.MaxKeys, err = dp.GetInt(cfgKeyLimiterMaxKeys); err != nil {
		return err
	}
	if c.Limiter.MaxKeys < c.Limiter.Shards {
		return dp.WrapKeyErr(cfgKeyLimiterMaxKeys, fmt.Errorf("should be >= %s", cfgKeyLimiterShards))
	}
	for _, d := range []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyLimiterIdleTTL, &c.Limiter.IdleTTL},
		{cfgKeyLimiterCleanupInterval, &c.Limiter.CleanupInterval},
	} {
		val, durErr := dp.GetDuration(d.key)
		if durErr != nil {
			return durErr
		}
		if val <= 0 {
			return dp.WrapKeyErr(d.key, fmt.Errorf("should be positive"))
		}
		*d.dst = config.TimeDuration(val)
	}
	return nil
}

func (c *Config) setLoad(dp config.DataProvider) error {
	var err error
	if c.Load.Enabled, err = dp.GetBool(cfgKeyLoadEnabled); err != nil {
		return err
	}
	interval, err := dp.GetDuration(cfgKeyLoadInterval)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return dp.WrapKeyErr(cfgKeyLoadInterval, fmt.Errorf("should be positive"))
	}
	c.Load.Interval = config.TimeDuration(interval)
	if c.Load.HighWater, err = dp.GetFloat64(cfgKeyLoadHighWater); err != nil {
		return err
	}
	if c.Load.HighWater <= 0 {
		return dp.WrapKeyErr(cfgKeyLoadHighWater, fmt.Errorf("should be positive"))
	}
	if c.Load.LowWater, err = dp.GetFloat64(cfgKeyLoadLowWater); err != nil {
		return err
	}
	if c.Load.LowWater <= 0 || c.Load.LowWater > c.Load.HighWater {
		return dp.WrapKeyErr(cfgKeyLoadLowWater, fmt.Errorf("should be in (0, %s]", cfgKeyLoadHighWater))
	}
	if c.Load.Multiplier, err = dp.GetFloat64(cfgKeyLoadMultiplier); err != nil {
		return err
	}
	if c.Load.Multiplier <= 0 || c.Load.Multiplier > 1 {
		return dp.WrapKeyErr(cfgKeyLoadMultiplier, fmt.Errorf("should be in (0, 1]"))
	}
	if c.Load.ProcPath, err = dp.GetString(cfgKeyLoadProcPath); err != nil {
		return err
	}
	return nil
}

func (c *Config) setFallback(dp config.DataProvider) error {
	for _, v := range []struct {
		key string
		dst *int
	}{
		{cfgKeyFallbackRPM, &c.Fallback.RPM},
		{cfgKeyFallbackRPH, &c.Fallback.RPH},
		{cfgKeyFallbackBurst, &c.Fallback.Burst},
	} {
		val, err := dp.GetInt(v.key)
		if err != nil {
			return err
		}
		// Fallback must neither lift all limits nor deny everything.
		if val <= 0 {
			return dp.WrapKeyErr(v.key, fmt.Errorf("should be positive"))
		}
		*v.dst = val
	}
	window, err := dp.GetDuration(cfgKeyFallbackBurstWindow)
	if err != nil {
		return err
	}
	if window <= 0 {
		return dp.WrapKeyErr(cfgKeyFallbackBurstWindow, fmt.Errorf("should be positive"))
	}
	c.Fallback.BurstWindow = config.TimeDuration(window)
	return nil
}

// FallbackLimits returns the fallback limits.
func (c *Config) FallbackLimits() limits.NumericLimits {
	return limits.NumericLimits{
		RPM:         c.Fallback.RPM,
		RPH:         c.Fallback.RPH,
		Burst:       c.Fallback.Burst,
		BurstWindow: time.Duration(c.Fallback.BurstWindow),
	}
}

// LimiterOpts converts the configuration into options of the sliding window limiter.
func (c *Config) LimiterOpts() slidingwindow.Opts {
	return slidingwindow.Opts{
		Shards:  c.Limiter.Shards,
		MaxKeys: c.Limiter.MaxKeys,
		IdleTTL: time.Duration(c.Limiter.IdleTTL),
	}
}

// LoadAdapterOpts converts the configuration into options of the LoadAdapter.
func (c *Config) LoadAdapterOpts() LoadAdapterOpts {
	return LoadAdapterOpts{
		HighWater:  c.Load.HighWater,
		LowWater:   c.Load.LowWater,
		Multiplier: c.Load.Multiplier,
	}
}

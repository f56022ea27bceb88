/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limits

import (
	"fmt"
	"time"

	"github.com/tollgate/tollgate/config"
	"github.com/tollgate/tollgate/retry"
)

const cfgDefaultKeyPrefix = "resolver"

const (
	cfgKeyCacheTTL             = "cacheTTL"
	cfgKeyStaleTTL             = "staleTTL"
	cfgKeyCacheMaxEntries      = "cacheMaxEntries"
	cfgKeyCacheCleanupInterval = "cacheCleanupInterval"
	cfgKeyFetchTimeout         = "fetchTimeout"
	cfgKeyRetryMaxAttempts     = "retry.maxAttempts"
	cfgKeyRetryInitialInterval = "retry.initialInterval"
	cfgKeyAnonymousClass       = "anonymousClass"
	cfgKeyDefaultClass         = "defaultClass"
)

// Default values of the Config.
const (
	DefaultCacheCleanupInterval = time.Minute
	DefaultRetryMaxAttempts     = 2
	DefaultRetryInitialInterval = 20 * time.Millisecond
)

// Config represents a set of configuration parameters for the Service.
type Config struct {
	CacheTTL             config.TimeDuration `mapstructure:"cacheTTL" yaml:"cacheTTL" json:"cacheTTL"`
	StaleTTL             config.TimeDuration `mapstructure:"staleTTL" yaml:"staleTTL" json:"staleTTL"`
	CacheMaxEntries      int                 `mapstructure:"cacheMaxEntries" yaml:"cacheMaxEntries" json:"cacheMaxEntries"`
	CacheCleanupInterval config.TimeDuration `mapstructure:"cacheCleanupInterval" yaml:"cacheCleanupInterval" json:"cacheCleanupInterval"`
	FetchTimeout         config.TimeDuration `mapstructure:"fetchTimeout" yaml:"fetchTimeout" json:"fetchTimeout"`
	Retry                RetryConfig         `mapstructure:"retry" yaml:"retry" json:"retry"`
	AnonymousClass       string              `mapstructure:"anonymousClass" yaml:"anonymousClass" json:"anonymousClass"`
	DefaultClass         string              `mapstructure:"defaultClass" yaml:"defaultClass" json:"defaultClass"`

	keyPrefix string
}

// RetryConfig configures retries of transient store errors. Zero MaxAttempts disables retries.
type RetryConfig struct {
	MaxAttempts     int                 `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	InitialInterval config.TimeDuration `mapstructure:"initialInterval" yaml:"initialInterval" json:"initialInterval"`
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
	c.CacheTTL = config.TimeDuration(DefaultCacheTTL)
	c.StaleTTL = config.TimeDuration(DefaultStaleTTL)
	c.CacheMaxEntries = DefaultCacheMaxEntries
	c.CacheCleanupInterval = config.TimeDuration(DefaultCacheCleanupInterval)
	c.FetchTimeout = config.TimeDuration(DefaultFetchTimeout)
	c.Retry = RetryConfig{
		MaxAttempts:     DefaultRetryMaxAttempts,
		InitialInterval: config.TimeDuration(DefaultRetryInitialInterval),
	}
	c.AnonymousClass = DefaultAnonymousClass
	c.DefaultClass = DefaultIdentityClass
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
	dp.SetDefault(cfgKeyCacheTTL, DefaultCacheTTL.String())
	dp.SetDefault(cfgKeyStaleTTL, DefaultStaleTTL.String())
	dp.SetDefault(cfgKeyCacheMaxEntries, DefaultCacheMaxEntries)
	dp.SetDefault(cfgKeyCacheCleanupInterval, DefaultCacheCleanupInterval.String())
	dp.SetDefault(cfgKeyFetchTimeout, DefaultFetchTimeout.String())
	dp.SetDefault(cfgKeyRetryMaxAttempts, DefaultRetryMaxAttempts)
	dp.SetDefault(cfgKeyRetryInitialInterval, DefaultRetryInitialInterval.String())
	dp.SetDefault(cfgKeyAnonymousClass, DefaultAnonymousClass)
	dp.SetDefault(cfgKeyDefaultClass, DefaultIdentityClass)
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	durations := []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyCacheTTL, &c.CacheTTL},
		{cfgKeyStaleTTL, &c.StaleTTL},
		{cfgKeyCacheCleanupInterval, &c.CacheCleanupInterval},
		{cfgKeyFetchTimeout, &c.FetchTimeout},
		{cfgKeyRetryInitialInterval, &c.Retry.InitialInterval},
	}
	for _, d := range durations {
		val, err := dp.GetDuration(d.key)
		if err != nil {
			return err
		}
		if val <= 0 {
			return dp.WrapKeyErr(d.key, fmt.Errorf("should be positive"))
		}
		*d.dst = config.TimeDuration(val)
	}
	if c.StaleTTL < c.CacheTTL {
		return dp.WrapKeyErr(cfgKeyStaleTTL, fmt.Errorf("should be >= %s", cfgKeyCacheTTL))
	}

	var err error
	if c.CacheMaxEntries, err = dp.GetInt(cfgKeyCacheMaxEntries); err != nil {
		return err
	}
	if c.CacheMaxEntries <= 0 {
		return dp.WrapKeyErr(cfgKeyCacheMaxEntries, fmt.Errorf("should be positive"))
	}
	if c.Retry.MaxAttempts, err = dp.GetInt(cfgKeyRetryMaxAttempts); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyRetryMaxAttempts, fmt.Errorf("should be >= 0"))
	}
	if c.AnonymousClass, err = dp.GetString(cfgKeyAnonymousClass); err != nil {
		return err
	}
	if c.DefaultClass, err = dp.GetString(cfgKeyDefaultClass); err != nil {
		return err
	}
	if c.AnonymousClass == "" || c.DefaultClass == "" {
		return fmt.Errorf("%s and %s cannot be empty", cfgKeyAnonymousClass, cfgKeyDefaultClass)
	}
	return nil
}

// ServiceOpts converts the configuration into options of the Service.
func (c *Config) ServiceOpts() ServiceOpts {
	opts := ServiceOpts{
		CacheTTL:        time.Duration(c.CacheTTL),
		StaleTTL:        time.Duration(c.StaleTTL),
		CacheMaxEntries: c.CacheMaxEntries,
		FetchTimeout:    time.Duration(c.FetchTimeout),
		AnonymousClass:  c.AnonymousClass,
		DefaultClass:    c.DefaultClass,
	}
	if c.Retry.MaxAttempts > 0 {
		opts.RetryPolicy = retry.NewExponentialBackoffPolicy(time.Duration(c.Retry.InitialInterval), c.Retry.MaxAttempts)
	}
	return opts
}

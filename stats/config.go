/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import (
	"fmt"
	"time"

	"github.com/tollgate/tollgate/config"
)

const cfgDefaultKeyPrefix = "stats"

const (
	cfgKeyRedisEnabled       = "redis.enabled"
	cfgKeyRedisAddr          = "redis.addr"
	cfgKeyRedisPassword      = "redis.password"
	cfgKeyRedisDB            = "redis.db"
	cfgKeyRedisPrefix        = "redis.prefix"
	cfgKeyRedisTTL           = "redis.ttl"
	cfgKeyRedisFlushInterval = "redis.flushInterval"
)

// Default values of the Config.
const (
	DefaultRedisAddr          = "127.0.0.1:6379"
	DefaultRedisFlushInterval = 5 * time.Second
)

// Config represents a set of configuration parameters for decision statistics.
type Config struct {
	Redis RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`

	keyPrefix string
}

// RedisConfig configures the Redis sink of decision counters.
type RedisConfig struct {
	Enabled       bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Addr          string              `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password      string              `mapstructure:"password" yaml:"password,omitempty" json:"password,omitempty"`
	DB            int                 `mapstructure:"db" yaml:"db" json:"db"`
	Prefix        string              `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	TTL           config.TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	FlushInterval config.TimeDuration `mapstructure:"flushInterval" yaml:"flushInterval" json:"flushInterval"`
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
	c.Redis = RedisConfig{
		Addr:          DefaultRedisAddr,
		Prefix:        DefaultRedisPrefix,
		TTL:           config.TimeDuration(DefaultRedisTTL),
		FlushInterval: config.TimeDuration(DefaultRedisFlushInterval),
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
	dp.SetDefault(cfgKeyRedisEnabled, false)
	dp.SetDefault(cfgKeyRedisAddr, DefaultRedisAddr)
	dp.SetDefault(cfgKeyRedisDB, 0)
	dp.SetDefault(cfgKeyRedisPrefix, DefaultRedisPrefix)
	dp.SetDefault(cfgKeyRedisTTL, DefaultRedisTTL.String())
	dp.SetDefault(cfgKeyRedisFlushInterval, DefaultRedisFlushInterval.String())
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Redis.Enabled, err = dp.GetBool(cfgKeyRedisEnabled); err != nil {
		return err
	}
	if c.Redis.Addr, err = dp.GetString(cfgKeyRedisAddr); err != nil {
		return err
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return dp.WrapKeyErr(cfgKeyRedisAddr, fmt.Errorf("cannot be empty"))
	}
	if c.Redis.Password, err = dp.GetString(cfgKeyRedisPassword); err != nil {
		return err
	}
	if c.Redis.DB, err = dp.GetInt(cfgKeyRedisDB); err != nil {
		return err
	}
	if c.Redis.Prefix, err = dp.GetString(cfgKeyRedisPrefix); err != nil {
		return err
	}

	ttl, err := dp.GetDuration(cfgKeyRedisTTL)
	if err != nil {
		return err
	}
	if ttl < 0 {
		return dp.WrapKeyErr(cfgKeyRedisTTL, fmt.Errorf("cannot be negative"))
	}
	c.Redis.TTL = config.TimeDuration(ttl)

	interval, err := dp.GetDuration(cfgKeyRedisFlushInterval)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return dp.WrapKeyErr(cfgKeyRedisFlushInterval, fmt.Errorf("should be positive"))
	}
	c.Redis.FlushInterval = config.TimeDuration(interval)
	return nil
}

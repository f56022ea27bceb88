/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/tollgate/tollgate/config"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/retry"
)

const cfgDefaultKeyPrefix = "store"

const (
	cfgKeyType                   = "type"
	cfgKeyPath                   = "path"
	cfgKeyDSN                    = "dsn"
	cfgKeyConnectMaxAttempts     = "connect.maxAttempts"
	cfgKeyConnectInitialInterval = "connect.initialInterval"
	cfgKeyRules                  = "rules"
)

// Default values of the Config.
const (
	DefaultType                   = TypeMemory
	DefaultConnectMaxAttempts     = 5
	DefaultConnectInitialInterval = 200 * time.Millisecond
)

// Config represents a set of configuration parameters for the configuration store.
type Config struct {
	Type Type `mapstructure:"type" yaml:"type" json:"type"`
	// Path is the rules file for the file store and the database file for SQLite.
	Path    string        `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	DSN     string        `mapstructure:"dsn" yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Connect ConnectConfig `mapstructure:"connect" yaml:"connect" json:"connect"`
	// Rules seed the memory store.
	Rules limits.RuleSet `mapstructure:"rules" yaml:"rules,omitempty" json:"rules,omitempty"`

	keyPrefix string
}

// ConnectConfig configures retries of the initial database connection.
type ConnectConfig struct {
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
	c.Type = DefaultType
	c.Connect = ConnectConfig{
		MaxAttempts:     DefaultConnectMaxAttempts,
		InitialInterval: config.TimeDuration(DefaultConnectInitialInterval),
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
	dp.SetDefault(cfgKeyType, string(DefaultType))
	dp.SetDefault(cfgKeyConnectMaxAttempts, DefaultConnectMaxAttempts)
	dp.SetDefault(cfgKeyConnectInitialInterval, DefaultConnectInitialInterval.String())
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	typ, err := dp.GetStringFromSet(cfgKeyType,
		[]string{string(TypeMemory), string(TypeFile), string(TypeSQLite), string(TypePostgres)}, true)
	if err != nil {
		return err
	}
	c.Type = Type(strings.ToLower(typ))

	if c.Path, err = dp.GetString(cfgKeyPath); err != nil {
		return err
	}
	if c.DSN, err = dp.GetString(cfgKeyDSN); err != nil {
		return err
	}
	switch c.Type {
	case TypeFile, TypeSQLite:
		if c.Path == "" {
			return dp.WrapKeyErr(cfgKeyPath, fmt.Errorf("cannot be empty for %s store", c.Type))
		}
	case TypePostgres:
		if c.DSN == "" {
			return dp.WrapKeyErr(cfgKeyDSN, fmt.Errorf("cannot be empty for %s store", c.Type))
		}
	}

	if c.Connect.MaxAttempts, err = dp.GetInt(cfgKeyConnectMaxAttempts); err != nil {
		return err
	}
	if c.Connect.MaxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyConnectMaxAttempts, fmt.Errorf("should be >= 0"))
	}
	interval, err := dp.GetDuration(cfgKeyConnectInitialInterval)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return dp.WrapKeyErr(cfgKeyConnectInitialInterval, fmt.Errorf("should be positive"))
	}
	c.Connect.InitialInterval = config.TimeDuration(interval)

	c.Rules = limits.RuleSet{}
	if dp.IsSet(cfgKeyRules) {
		if err = dp.UnmarshalKey(cfgKeyRules, &c.Rules, decodeHooks); err != nil {
			return err
		}
		if err = c.Rules.Validate(); err != nil {
			return dp.WrapKeyErr(cfgKeyRules, err)
		}
	}
	return nil
}

// decodeHooks allows human-readable durations and RFC 3339 timestamps in rule sets.
func decodeHooks(dc *mapstructure.DecoderConfig) {
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

func (c *Config) connectPolicy() retry.Policy {
	if c.Connect.MaxAttempts == 0 {
		return nil
	}
	return retry.NewExponentialBackoffPolicy(time.Duration(c.Connect.InitialInterval), c.Connect.MaxAttempts)
}

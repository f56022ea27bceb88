/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ViperAdapter is a DataProvider backed by viper.
type ViperAdapter struct {
	viper *viper.Viper
}

var _ DataProvider = (*ViperAdapter)(nil)

// NewViperAdapter creates a new ViperAdapter.
func NewViperAdapter() *ViperAdapter {
	return &ViperAdapter{viper.New()}
}

// UseEnvVars makes environment variables override configuration values.
// The variable name is the upper-cased prefix and key joined with underscores:
// "ratelimit.load.enabled" is overridden by TOLLGATE_RATELIMIT_LOAD_ENABLED for the "tollgate" prefix.
func (va *ViperAdapter) UseEnvVars(prefix string) {
	va.viper.AutomaticEnv()
	va.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	va.viper.SetEnvPrefix(prefix)
}

// SetDefault sets the value used when the key is set neither in the data nor in the environment.
func (va *ViperAdapter) SetDefault(key string, value interface{}) {
	va.viper.SetDefault(key, value)
}

// IsSet checks whether the key is set in any source. The check is case-insensitive.
func (va *ViperAdapter) IsSet(key string) bool {
	return va.viper.IsSet(key)
}

// SetFromFile reads configuration data from the file.
func (va *ViperAdapter) SetFromFile(path string, dataType DataType) error {
	va.viper.SetConfigType(string(dataType))
	va.viper.SetConfigFile(path)
	return va.viper.ReadInConfig()
}

// SetFromReader reads configuration data from the reader.
func (va *ViperAdapter) SetFromReader(reader io.Reader, dataType DataType) error {
	va.viper.SetConfigType(string(dataType))
	return va.viper.ReadConfig(reader)
}

// GetInt returns the value as int.
func (va *ViperAdapter) GetInt(key string) (int, error) {
	res, err := cast.ToIntE(va.viper.Get(key))
	return res, WrapKeyErrIfNeeded(key, err)
}

// GetFloat64 returns the value as float64.
func (va *ViperAdapter) GetFloat64(key string) (float64, error) {
	res, err := cast.ToFloat64E(va.viper.Get(key))
	return res, WrapKeyErrIfNeeded(key, err)
}

// GetString returns the value as string.
func (va *ViperAdapter) GetString(key string) (string, error) {
	res, err := cast.ToStringE(va.viper.Get(key))
	return res, WrapKeyErrIfNeeded(key, err)
}

// GetBool returns the value as bool.
func (va *ViperAdapter) GetBool(key string) (bool, error) {
	res, err := cast.ToBoolE(va.viper.Get(key))
	return res, WrapKeyErrIfNeeded(key, err)
}

// GetStringSlice returns the value as a slice of strings. Missing key gives nil slice.
func (va *ViperAdapter) GetStringSlice(key string) ([]string, error) {
	val := va.viper.Get(key)
	if val == nil {
		return nil, nil
	}
	res, err := cast.ToStringSliceE(val)
	return res, WrapKeyErrIfNeeded(key, err)
}

// GetStringFromSet returns the string value if it is one of set.
func (va *ViperAdapter) GetStringFromSet(key string, set []string, ignoreCase bool) (string, error) {
	str, err := va.GetString(key)
	if err != nil {
		return "", err
	}
	for _, s := range set {
		if str == s || (ignoreCase && strings.EqualFold(str, s)) {
			return str, nil
		}
	}
	return "", WrapKeyErr(key, fmt.Errorf("unknown value %q, should be one of %v", str, set))
}

// GetDuration returns the value as time.Duration. Both "1m30s" strings and integer nanoseconds are accepted.
func (va *ViperAdapter) GetDuration(key string) (time.Duration, error) {
	val := va.viper.Get(key)
	if val == nil {
		return 0, nil
	}
	res, err := cast.ToDurationE(val)
	return res, WrapKeyErrIfNeeded(key, err)
}

// GetByteSize returns the value as ByteSize. Both "10MB" (or "10Mi") strings and integer bytes are accepted.
func (va *ViperAdapter) GetByteSize(key string) (ByteSize, error) {
	val := va.viper.Get(key)
	if val == nil {
		return 0, nil
	}
	var res ByteSize
	var err error
	switch v := val.(type) {
	case string:
		res, err = parseByteSize(v)
	case ByteSize:
		res = v
	case float32, float64:
		var f float64
		if f, err = cast.ToFloat64E(v); err == nil && f < 0 {
			err = fmt.Errorf("negative value is not allowed: %v", v)
		}
		res = ByteSize(f)
	default:
		var n int64
		if n, err = cast.ToInt64E(v); err == nil && n < 0 {
			err = fmt.Errorf("negative value is not allowed: %d", n)
		}
		res = ByteSize(n)
	}
	if err != nil {
		return 0, WrapKeyErr(key, err)
	}
	return res, nil
}

// UnmarshalKey decodes the value under the key into rawVal.
func (va *ViperAdapter) UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) error {
	viperOpts := make([]viper.DecoderConfigOption, 0, len(opts))
	for _, opt := range opts {
		viperOpts = append(viperOpts, viper.DecoderConfigOption(opt))
	}
	return WrapKeyErrIfNeeded(key, va.viper.UnmarshalKey(key, rawVal, viperOpts...))
}

// WrapKeyErr prefixes the error with the key.
func (va *ViperAdapter) WrapKeyErr(key string, err error) error {
	return WrapKeyErr(key, err)
}

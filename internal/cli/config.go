/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tollgate/tollgate/config"
	"github.com/tollgate/tollgate/httpserver"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/limits/store"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/ratelimit"
	"github.com/tollgate/tollgate/stats"
)

// envVarsPrefix is a prefix of environment variables overriding the configuration
// (e.g. TOLLGATE_SERVER_ADDRESS, TOLLGATE_STORE_TYPE).
const envVarsPrefix = "tollgate"

// AppConfig is the whole configuration of the gateway.
type AppConfig struct {
	Log       *log.Config
	Server    *httpserver.Config
	Gateway   *httpserver.GatewayConfig
	RateLimit *ratelimit.Config
	Resolver  *limits.Config
	Store     *store.Config
	Stats     *stats.Config
}

// NewAppConfig creates a new instance of the AppConfig.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Log:       log.NewConfig(),
		Server:    httpserver.NewConfig(),
		Gateway:   httpserver.NewGatewayConfig(),
		RateLimit: ratelimit.NewConfig(),
		Resolver:  limits.NewConfig(),
		Store:     store.NewConfig(),
		Stats:     stats.NewConfig(),
	}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

// Set sets configuration values from config.DataProvider.
func (c *AppConfig) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}

// loadAppConfig loads the configuration from the file (if path is not empty) and environment variables.
func loadAppConfig(path string) (*AppConfig, error) {
	cfg := NewAppConfig()
	loader := config.NewDefaultLoader(envVarsPrefix)
	if path == "" {
		if err := loader.LoadFromReader(bytes.NewReader(nil), config.DataTypeYAML, cfg); err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		return cfg, nil
	}
	if err := loader.LoadFromFile(path, configDataType(path), cfg); err != nil {
		return nil, fmt.Errorf("load configuration from %s: %w", path, err)
	}
	return cfg, nil
}

func configDataType(path string) config.DataType {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return config.DataTypeJSON
	}
	return config.DataTypeYAML
}

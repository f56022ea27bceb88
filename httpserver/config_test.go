/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tollgate/tollgate/config"
	"github.com/tollgate/tollgate/httpserver/middleware"
)

func loadTestConfigs(t *testing.T, data string, cfgs ...config.Config) error {
	t.Helper()
	return config.NewLoader(config.NewViperAdapter()).LoadFromReader(strings.NewReader(data), config.DataTypeYAML, cfgs[0], cfgs[1:]...)
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := NewConfig()
		require.NoError(t, loadTestConfigs(t, "", cfg))
		require.Equal(t, NewDefaultConfig(), cfg)
	})

	t.Run("all parameters", func(t *testing.T) {
		cfg := NewConfig()
		require.NoError(t, loadTestConfigs(t, `
server:
  address: "127.0.0.1:8443"
  timeouts:
    write: 2m
    read: 30s
    readHeader: 5s
    idle: 3m
    shutdown: 20s
  log:
    requestStart: true
    requestHeaders: [X-Identity-ID, X-Identity-Class]
    excludedEndpoints: [/healthz, /metrics]
    secretQueryParams: [api_key]
    addRequestInfo: true
    slowRequestThreshold: 500ms
  tls:
    enabled: true
    cert: /etc/tollgate/tls.crt
    key: /etc/tollgate/tls.key
`, cfg))

		want := NewDefaultConfig()
		want.Address = "127.0.0.1:8443"
		want.Timeouts = TimeoutsConfig{
			Write:      config.TimeDuration(2 * time.Minute),
			Read:       config.TimeDuration(30 * time.Second),
			ReadHeader: config.TimeDuration(5 * time.Second),
			Idle:       config.TimeDuration(3 * time.Minute),
			Shutdown:   config.TimeDuration(20 * time.Second),
		}
		want.Log = LogConfig{
			RequestStart:           true,
			RequestHeaders:         []string{"X-Identity-ID", "X-Identity-Class"},
			ExcludedEndpoints:      []string{"/healthz", "/metrics"},
			SecretQueryParams:      []string{"api_key"},
			AddRequestInfoToLogger: true,
			SlowRequestThreshold:   config.TimeDuration(500 * time.Millisecond),
		}
		want.TLS = TLSConfig{Enabled: true, Certificate: "/etc/tollgate/tls.crt", Key: "/etc/tollgate/tls.key"}
		require.Equal(t, want, cfg)
	})

	t.Run("custom key prefix", func(t *testing.T) {
		cfg := NewConfig(WithKeyPrefix("admin.server"))
		require.NoError(t, loadTestConfigs(t, "admin:\n  server:\n    address: \":9090\"\n", cfg))
		require.Equal(t, ":9090", cfg.Address)
		require.Equal(t, "server", (&Config{}).KeyPrefix())
	})

	t.Run("encoding", func(t *testing.T) {
		var fromYAML, fromJSON Config
		require.NoError(t, yaml.Unmarshal([]byte("address: \":8080\"\ntimeouts:\n  shutdown: 10s\n"), &fromYAML))
		require.NoError(t, json.Unmarshal([]byte(`{"address": ":8080", "timeouts": {"shutdown": "10s"}}`), &fromJSON))
		require.Equal(t, fromYAML, fromJSON)
		require.Equal(t, config.TimeDuration(10*time.Second), fromJSON.Timeouts.Shutdown)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			data    string
			wantErr string
		}{
			{
				name:    "no address",
				data:    "server:\n  address: \"\"\n",
				wantErr: "server.address: either address or unixSocketPath should be set",
			},
			{
				name:    "tls without key",
				data:    "server:\n  tls:\n    enabled: true\n    cert: /etc/tollgate/tls.crt\n",
				wantErr: "server.tls.key: both cert and key should be set",
			},
			{
				name:    "negative timeout",
				data:    "server:\n  timeouts:\n    idle: -1s\n",
				wantErr: "server.timeouts.idle: should not be negative",
			},
			{
				name:    "bad duration",
				data:    "server:\n  log:\n    slowRequestThreshold: soon\n",
				wantErr: "server.log.slowRequestThreshold: ",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				require.ErrorContains(t, loadTestConfigs(t, tt.data, NewConfig()), tt.wantErr)
			})
		}
	})
}

func TestGatewayConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := NewGatewayConfig()
		require.NoError(t, loadTestConfigs(t, "gateway:\n  upstream: http://127.0.0.1:9090\n", cfg))
		want := NewDefaultGatewayConfig()
		want.Upstream = "http://127.0.0.1:9090"
		require.Equal(t, want, cfg)
		require.Equal(t, middleware.AdmissionOpts{
			IdentityHeader:    middleware.DefaultIdentityHeader,
			ClassHeader:       middleware.DefaultClassHeader,
			ExcludedEndpoints: middleware.DefaultAdmissionExcludedEndpoints,
		}, cfg.Admission.AdmissionOpts())
	})

	t.Run("admission parameters", func(t *testing.T) {
		cfg := NewGatewayConfig()
		serverCfg := NewConfig()
		require.NoError(t, loadTestConfigs(t, `
server:
  address: ":8888"
gateway:
  upstream: https://api.internal
  errorDomain: Billing
  debugRoutes: true
  admission:
    identityHeader: X-Client-ID
    classHeader: X-Client-Plan
    trustForwardedFor: true
    dryRun: true
    excludedEndpoints: [/healthz]
`, cfg, serverCfg))
		require.Equal(t, ":8888", serverCfg.Address)
		require.Equal(t, "Billing", cfg.ErrorDomain)
		require.True(t, cfg.DebugRoutes)
		require.Equal(t, AdmissionConfig{
			IdentityHeader:    "X-Client-ID",
			ClassHeader:       "X-Client-Plan",
			TrustForwardedFor: true,
			DryRun:            true,
			ExcludedEndpoints: []string{"/healthz"},
		}, cfg.Admission)
	})

	t.Run("errors", func(t *testing.T) {
		err := loadTestConfigs(t, "gateway:\n  upstream: ftp://files\n", NewGatewayConfig())
		require.EqualError(t, err, `gateway.upstream: scheme should be http or https, got "ftp"`)

		err = loadTestConfigs(t, "gateway:\n  upstream: http://\n", NewGatewayConfig())
		require.EqualError(t, err, "gateway.upstream: host is missing")

		err = loadTestConfigs(t, "gateway:\n  admission:\n    identityHeader: \"\"\n", NewGatewayConfig())
		require.EqualError(t, err, "gateway.admission.identityHeader: cannot be empty")
	})
}

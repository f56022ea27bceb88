/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tollgate/tollgate/config"
)

func loadConfig(t *testing.T, data string, dataType config.DataType, cfg *Config) error {
	t.Helper()
	return config.NewDefaultLoader("").LoadFromReader(strings.NewReader(data), dataType, cfg)
}

func TestConfig_Set(t *testing.T) {
	fileOutputCfg := func(level Level) *Config {
		cfg := NewDefaultConfig()
		cfg.Level = level
		cfg.Format = FormatText
		cfg.Output = OutputFile
		cfg.File.Path = "/var/log/tollgate-{{pid}}.log"
		cfg.File.Rotation.MaxSize = 100 * 1024 * 1024
		cfg.File.Rotation.MaxBackups = 3
		cfg.File.Rotation.MaxAgeDays = 7
		cfg.File.Rotation.Compress = true
		cfg.AddCaller = true
		cfg.Error.NoVerbose = true
		return cfg
	}

	tests := []struct {
		name     string
		dataType config.DataType
		data     string
		wantCfg  *Config
	}{
		{
			name:     "defaults",
			dataType: config.DataTypeYAML,
			wantCfg:  NewDefaultConfig(),
		},
		{
			name:     "yaml",
			dataType: config.DataTypeYAML,
			data: `
log:
  level: WARN
  format: text
  output: file
  file:
    path: /var/log/tollgate-{{pid}}.log
    rotation: {compress: true, maxSize: 100M, maxBackups: 3, maxAgeDays: 7}
  addCaller: true
  error: {noVerbose: true}
`,
			wantCfg: fileOutputCfg(LevelWarn),
		},
		{
			name:     "json",
			dataType: config.DataTypeJSON,
			data: `{"log": {
				"level": "debug", "format": "text", "output": "file", "addCaller": true,
				"file": {"path": "/var/log/tollgate-{{pid}}.log",
					"rotation": {"compress": true, "maxSize": "100M", "maxBackups": 3, "maxAgeDays": 7}},
				"error": {"noVerbose": true}
			}}`,
			wantCfg: fileOutputCfg(LevelDebug),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			require.NoError(t, loadConfig(t, tt.data, tt.dataType, cfg))
			require.Equal(t, tt.wantCfg, cfg)
		})
	}
}

func TestConfig_Unmarshal(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, yaml.Unmarshal([]byte("level: error\nfile: {rotation: {maxSize: 10M}}\n"), cfg))
		require.Equal(t, LevelError, cfg.Level)
		require.EqualValues(t, 10*1024*1024, cfg.File.Rotation.MaxSize)
		require.Equal(t, DefaultFileRotationMaxBackups, cfg.File.Rotation.MaxBackups)
	})

	t.Run("json", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, json.Unmarshal([]byte(`{"output": "stderr"}`), cfg))
		require.Equal(t, OutputStderr, cfg.Output)
		require.Equal(t, FormatJSON, cfg.Format)
	})
}

func TestConfig_KeyPrefix(t *testing.T) {
	cfg := NewConfig(WithKeyPrefix("admission.log"))
	require.NoError(t, loadConfig(t, "admission:\n  log:\n    level: debug\n", config.DataTypeYAML, cfg))
	want := NewDefaultConfig(WithKeyPrefix("admission.log"))
	want.Level = LevelDebug
	require.Equal(t, want, cfg)

	require.Equal(t, cfgDefaultKeyPrefix, (&Config{}).KeyPrefix())
}

func TestConfig_SetErrors(t *testing.T) {
	tests := []struct {
		data    string
		wantErr string
	}{
		{
			data:    "log: {level: trace}",
			wantErr: `log.level: unknown value "trace", should be one of [error warn info debug]`,
		},
		{
			data:    "log: {format: xml}",
			wantErr: `log.format: unknown value "xml", should be one of [json text]`,
		},
		{
			data:    "log: {output: syslog}",
			wantErr: `log.output: unknown value "syslog", should be one of [stdout stderr file]`,
		},
		{
			data:    "log: {output: file}",
			wantErr: `log.file.path: cannot be empty when "file" output is used`,
		},
		{
			data:    "log: {file: {rotation: {maxSize: 512K}}}",
			wantErr: "log.file.rotation.maxSize: should be >= 1M",
		},
		{
			data:    "log: {file: {rotation: {maxBackups: 0}}}",
			wantErr: "log.file.rotation.maxBackups: should be >= 1",
		},
		{
			data:    "log: {file: {rotation: {maxAgeDays: -1}}}",
			wantErr: "log.file.rotation.maxAgeDays: should be >= 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.wantErr, func(t *testing.T) {
			require.EqualError(t, loadConfig(t, tt.data, config.DataTypeYAML, NewConfig()), tt.wantErr)
		})
	}
}

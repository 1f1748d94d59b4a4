/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-taskkit/config"
)

func TestConfigSet(t *testing.T) {
	cfgData := bytes.NewBuffer([]byte(`
log:
  level: debug
  format: text
  output: file
  nocolor: true
  file:
    path: /var/log/taskkit.log
    rotation:
      compress: true
      maxSizeMB: 100
      maxBackups: 3
      maxAgeDays: 7
  addCaller: true
`))

	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(cfgData, config.DataTypeYAML, cfg)
	require.NoError(t, err)

	require.Equal(t, LevelDebug, cfg.Level)
	require.Equal(t, FormatText, cfg.Format)
	require.Equal(t, OutputFile, cfg.Output)
	require.True(t, cfg.NoColor)
	require.Equal(t, "/var/log/taskkit.log", cfg.File.Path)
	require.True(t, cfg.File.Rotation.Compress)
	require.Equal(t, 100, cfg.File.Rotation.MaxSizeMB)
	require.Equal(t, 3, cfg.File.Rotation.MaxBackups)
	require.Equal(t, 7, cfg.File.Rotation.MaxAgeDays)
	require.True(t, cfg.AddCaller)
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(
		bytes.NewBuffer([]byte("{}")), config.DataTypeYAML, cfg)
	require.NoError(t, err)

	require.Equal(t, LevelInfo, cfg.Level)
	require.Equal(t, FormatJSON, cfg.Format)
	require.Equal(t, OutputStdout, cfg.Output)
	require.Equal(t, DefaultFileRotationMaxSizeMB, cfg.File.Rotation.MaxSizeMB)
	require.Equal(t, DefaultFileRotationMaxBackups, cfg.File.Rotation.MaxBackups)
}

func TestConfigSetErrors(t *testing.T) {
	tests := []struct {
		name    string
		yamlCfg string
		wantErr string
	}{
		{
			name:    "unknown level",
			yamlCfg: "log:\n  level: verbose\n",
			wantErr: `log.level: unknown value "verbose"`,
		},
		{
			name:    "unknown output",
			yamlCfg: "log:\n  output: syslog\n",
			wantErr: `log.output: unknown value "syslog"`,
		},
		{
			name:    "file output without path",
			yamlCfg: "log:\n  output: file\n",
			wantErr: `log.file.path: cannot be empty`,
		},
		{
			name:    "too small rotation max size",
			yamlCfg: "log:\n  file:\n    rotation:\n      maxSizeMB: 0\n",
			wantErr: `log.file.rotation.maxSizeMB: should be >= 1`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewDefaultLoader("").LoadFromReader(
				bytes.NewBuffer([]byte(tt.yamlCfg)), config.DataTypeYAML, cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigYAMLUnmarshal(t *testing.T) {
	yamlCfg := []byte(`
level: warn
format: text
output: stderr
`)
	cfg := NewDefaultConfig()
	require.NoError(t, yaml.Unmarshal(yamlCfg, cfg))
	require.Equal(t, LevelWarn, cfg.Level)
	require.Equal(t, FormatText, cfg.Format)
	require.Equal(t, OutputStderr, cfg.Output)
}

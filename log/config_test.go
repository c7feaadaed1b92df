/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/config"
)

func loadLogConfigFromYAML(t *testing.T, yamlData string) (*Config, error) {
	t.Helper()
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewReader([]byte(yamlData)), config.DataTypeYAML, cfg)
	return cfg, err
}

func TestConfigSet(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadLogConfigFromYAML(t, `log: {}`)
		require.NoError(t, err)
		require.Equal(t, LevelInfo, cfg.Level)
		require.Equal(t, FormatJSON, cfg.Format)
		require.Equal(t, OutputStdout, cfg.Output)
		require.Equal(t, config.ByteSize(DefaultFileRotationMaxSizeBytes), cfg.File.Rotation.MaxSize)
		require.Equal(t, DefaultFileRotationMaxBackups, cfg.File.Rotation.MaxBackups)
	})

	t.Run("full config", func(t *testing.T) {
		cfg, err := loadLogConfigFromYAML(t, `
log:
  level: warn
  format: text
  output: file
  nocolor: true
  addCaller: true
  file:
    path: /var/log/app.log
    rotation:
      compress: true
      maxSize: 100MB
      maxBackups: 5
`)
		require.NoError(t, err)
		require.Equal(t, LevelWarn, cfg.Level)
		require.Equal(t, FormatText, cfg.Format)
		require.Equal(t, OutputFile, cfg.Output)
		require.True(t, cfg.NoColor)
		require.True(t, cfg.AddCaller)
		require.Equal(t, "/var/log/app.log", cfg.File.Path)
		require.True(t, cfg.File.Rotation.Compress)
		require.Equal(t, config.ByteSize(100*1024*1024), cfg.File.Rotation.MaxSize)
		require.Equal(t, 5, cfg.File.Rotation.MaxBackups)
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := loadLogConfigFromYAML(t, `
log:
  level: trace
`)
		require.ErrorContains(t, err, `unknown value "trace"`)
	})

	t.Run("file output requires path", func(t *testing.T) {
		_, err := loadLogConfigFromYAML(t, `
log:
  output: file
`)
		require.ErrorContains(t, err, "cannot be empty")
	})

	t.Run("rotation max size too small", func(t *testing.T) {
		_, err := loadLogConfigFromYAML(t, `
log:
  file:
    rotation:
      maxSize: 1KB
`)
		require.ErrorContains(t, err, "should be >=")
	})
}

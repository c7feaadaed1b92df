/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testServiceConfig struct {
	Name      string
	Timeout   time.Duration
	BodyLimit ByteSize
	Verbose   bool

	keyPrefix string
}

func (c *testServiceConfig) KeyPrefix() string {
	return c.keyPrefix
}

func (c *testServiceConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("timeout", "30s")
	dp.SetDefault("bodyLimit", "1MB")
}

func (c *testServiceConfig) Set(dp DataProvider) error {
	var err error
	if c.Name, err = dp.GetString("name"); err != nil {
		return err
	}
	if c.Timeout, err = dp.GetDuration("timeout"); err != nil {
		return err
	}
	if c.BodyLimit, err = dp.GetByteSize("bodyLimit"); err != nil {
		return err
	}
	if c.Verbose, err = dp.GetBool("verbose"); err != nil {
		return err
	}
	return nil
}

func TestLoaderLoadFromReader(t *testing.T) {
	t.Run("yaml, key prefix", func(t *testing.T) {
		cfgData := `
myservice:
  name: test-service
  timeout: 5s
  verbose: true
`
		cfg := &testServiceConfig{keyPrefix: "myservice"}
		err := NewDefaultLoader("").LoadFromReader(bytes.NewReader([]byte(cfgData)), DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, "test-service", cfg.Name)
		require.Equal(t, 5*time.Second, cfg.Timeout)
		require.Equal(t, ByteSize(1024*1024), cfg.BodyLimit) // default
		require.True(t, cfg.Verbose)
	})

	t.Run("json, no key prefix", func(t *testing.T) {
		cfgData := `{"name": "test-service", "bodyLimit": "2MB"}`
		cfg := &testServiceConfig{}
		err := NewDefaultLoader("").LoadFromReader(bytes.NewReader([]byte(cfgData)), DataTypeJSON, cfg)
		require.NoError(t, err)
		require.Equal(t, "test-service", cfg.Name)
		require.Equal(t, 30*time.Second, cfg.Timeout) // default
		require.Equal(t, ByteSize(2*1024*1024), cfg.BodyLimit)
	})

	t.Run("unknown value in set", func(t *testing.T) {
		va := NewViperAdapter()
		require.NoError(t, va.SetFromReader(bytes.NewReader([]byte(`format: csv`)), DataTypeYAML))
		_, err := va.GetStringFromSet("format", []string{"json", "text"}, true)
		require.ErrorContains(t, err, `unknown value "csv"`)
	})
}

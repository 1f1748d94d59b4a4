/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"time"

	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Workers  int
	Interval time.Duration
	Name     string
}

func (c *testConfig) KeyPrefix() string {
	return "test"
}

func (c *testConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("workers", 4)
	dp.SetDefault("interval", "5s")
}

func (c *testConfig) Set(dp DataProvider) error {
	var err error
	if c.Workers, err = dp.GetInt("workers"); err != nil {
		return err
	}
	if c.Interval, err = dp.GetDuration("interval"); err != nil {
		return err
	}
	if c.Name, err = dp.GetString("name"); err != nil {
		return err
	}
	return nil
}

func TestLoaderLoadFromReader(t *testing.T) {
	cfgData := bytes.NewBuffer([]byte(`
test:
  workers: 8
  name: primary
`))

	cfg := &testConfig{}
	err := NewDefaultLoader("").LoadFromReader(cfgData, DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, 5*time.Second, cfg.Interval) // default value is used
	require.Equal(t, "primary", cfg.Name)
}

func TestLoaderLoadFromReaderError(t *testing.T) {
	cfgData := bytes.NewBuffer([]byte(`
test:
  workers: not-a-number
`))

	cfg := &testConfig{}
	err := NewDefaultLoader("").LoadFromReader(cfgData, DataTypeYAML, cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "test.workers:")
}

func TestKeyPrefixedDataProvider(t *testing.T) {
	va := NewViperAdapter()
	va.Set("queue.maxConcurrency", 16)

	dp := NewKeyPrefixedDataProvider(va, "queue")
	v, err := dp.GetInt("maxConcurrency")
	require.NoError(t, err)
	require.Equal(t, 16, v)

	require.True(t, dp.IsSet("maxConcurrency"))
	require.False(t, dp.IsSet("missing"))
}

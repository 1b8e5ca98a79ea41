/*
Copyright 2026 The Kvgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package servenv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("kvgate", pflag.ContinueOnError)
	RegisterFlags(fs, cfg)
	return fs
}

func TestDefaults(t *testing.T) {
	var cfg Config
	fs := newFlags(&cfg)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, LoadConfig(fs, ""))

	assert.Equal(t, 10*time.Minute, cfg.CacheExpiration)
	assert.Equal(t, time.Duration(0), cfg.CacheRefresh)
	assert.Equal(t, 10*time.Second, cfg.CacheCheckInterval)
	assert.Equal(t, 2*time.Second, cfg.ConnectLockTimeout)
	assert.Equal(t, "static", cfg.Locator)
	assert.Equal(t, "mysql", cfg.StoreDriver)

	th := cfg.ThrottleConfig()
	assert.NoError(t, th.Validate())
	assert.Equal(t, 5, th.DelayThreshold)
	assert.Equal(t, 10, th.DNRThreshold)
	assert.Equal(t, 200*time.Millisecond, th.Delay)
	assert.Equal(t, time.Second, th.ErrorCredit)
	assert.Equal(t, 10000, th.LimiterCapacity)
	assert.Equal(t, 4, th.PoolSize)

	cc := cfg.CacheConfig()
	assert.NoError(t, cc.Validate())
	assert.Equal(t, "tables", cc.Name)
}

func TestConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache-expiration: 5m
cache-refresh: 1m
error-delay-threshold: 8
locator: etcd
locator-endpoints:
  - etcd1:2379
  - etcd2:2379
`), 0o644))
	t.Setenv("KVGATE_ERROR_DELAY_THRESHOLD", "9")
	t.Setenv("KVGATE_STORE_DRIVER", "sqlite")

	var cfg Config
	fs := newFlags(&cfg)
	require.NoError(t, fs.Parse([]string{"--cache-refresh=2m"}))
	require.NoError(t, LoadConfig(fs, path))

	assert.Equal(t, 5*time.Minute, cfg.CacheExpiration, "from file")
	assert.Equal(t, 2*time.Minute, cfg.CacheRefresh, "flag wins over file")
	assert.Equal(t, 9, cfg.ErrorDelayThreshold, "env wins over file")
	assert.Equal(t, "sqlite", cfg.StoreDriver, "from env")
	assert.Equal(t, "etcd", cfg.Locator)
	assert.Equal(t, []string{"etcd1:2379", "etcd2:2379"}, cfg.LocatorEndpoints)
}

func TestLoadConfigErrors(t *testing.T) {
	var cfg Config
	fs := newFlags(&cfg)
	require.NoError(t, fs.Parse(nil))
	assert.Error(t, LoadConfig(fs, filepath.Join(t.TempDir(), "missing.yaml")))

	t.Setenv("KVGATE_CACHE_EXPIRATION", "soon")
	assert.ErrorContains(t, LoadConfig(fs, ""), "cache-expiration")
}

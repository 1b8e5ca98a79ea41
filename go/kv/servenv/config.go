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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kvgate.io/kvgate/go/cache/timedcache"
	"kvgate.io/kvgate/go/kv/throttle"
	"kvgate.io/kvgate/go/kv/utils"
)

// EnvPrefix prefixes the environment variables that can set flags, e.g.
// KVGATE_CACHE_EXPIRATION for --cache-expiration.
const EnvPrefix = "KVGATE"

// Config is the process configuration of kvgate.
type Config struct {
	Port         int
	LameduckTime time.Duration
	ShutdownFile string
	ShutdownPoll time.Duration

	CacheExpiration    time.Duration
	CacheRefresh       time.Duration
	CacheCheckInterval time.Duration
	CacheLoadTimeout   time.Duration
	CacheKeysFile      string
	CacheWarmupMaxAge  time.Duration
	CacheWarmupBudget  time.Duration

	ConnectLockTimeout time.Duration

	ErrorDelayThreshold  int
	ErrorDelay           time.Duration
	ErrorDNRThreshold    int
	ErrorCredit          time.Duration
	ErrorLimiterCapacity int
	ErrorLimiterIdle     time.Duration
	ErrorDelayPoolSize   int
	StatsInterval        time.Duration

	Locator          string
	LocatorURL       string
	LocatorEndpoints []string
	LocatorPrefix    string
	LocatorFile      string

	StoreDriver      string
	StoreUser        string
	StorePassword    string
	StoreDatabase    string
	StorePoll        time.Duration
	StoreMaxConns    int
	StoreDialTimeout time.Duration

	SingleCluster      string
	SingleClusterHints []string
}

// RegisterFlags installs the kvgate flags on fs, storing into cfg.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	th := throttle.DefaultConfig()

	utils.SetFlagIntVar(fs, &cfg.Port, "port", 15000, "port for the debug HTTP server")
	utils.SetFlagDurationVar(fs, &cfg.LameduckTime, "lameduck-period", 5*time.Second, "how long to keep serving after a shutdown request")
	utils.SetFlagStringVar(fs, &cfg.ShutdownFile, "shutdown-file", "", "shut down when this file appears")
	utils.SetFlagDurationVar(fs, &cfg.ShutdownPoll, "shutdown-poll-interval", 5*time.Second, "how often to check for the shutdown file when file events are unavailable")

	utils.SetFlagDurationVar(fs, &cfg.CacheExpiration, "cache-expiration", 10*time.Minute, "drop tables not used for this long; 0 keeps them forever")
	utils.SetFlagDurationVar(fs, &cfg.CacheRefresh, "cache-refresh", 0, "reload cached tables older than this; 0 disables refresh")
	utils.SetFlagDurationVar(fs, &cfg.CacheCheckInterval, "cache-check-interval", timedcache.DefaultCheckInterval, "period of the cache expiry and refresh sweep")
	utils.SetFlagDurationVar(fs, &cfg.CacheLoadTimeout, "cache-load-timeout", timedcache.DefaultLoadTimeout, "bound on a table load shared by concurrent misses")
	utils.SetFlagStringVar(fs, &cfg.CacheKeysFile, "cache-keys-file", "", "file the cached table keys are saved to on shutdown and warmed up from on start")
	utils.SetFlagDurationVar(fs, &cfg.CacheWarmupMaxAge, "cache-warmup-max-age", time.Hour, "ignore a cache keys file older than this")
	utils.SetFlagDurationVar(fs, &cfg.CacheWarmupBudget, "cache-warmup-budget", 30*time.Second, "time allowed for cache warm-up")

	utils.SetFlagDurationVar(fs, &cfg.ConnectLockTimeout, "connect-lock-timeout", 2*time.Second, "how long to wait for another request connecting the same cluster")

	utils.SetFlagIntVar(fs, &cfg.ErrorDelayThreshold, "error-delay-threshold", th.DelayThreshold, "errors per second per client before responses are delayed")
	utils.SetFlagDurationVar(fs, &cfg.ErrorDelay, "error-delay", th.Delay, "how long delayed error responses are held")
	utils.SetFlagIntVar(fs, &cfg.ErrorDNRThreshold, "error-dnr-threshold", th.DNRThreshold, "errors per second per client before responses are dropped")
	utils.SetFlagDurationVar(fs, &cfg.ErrorCredit, "error-credit", th.ErrorCredit, "burst allowance, in seconds of errors at the delay threshold")
	utils.SetFlagIntVar(fs, &cfg.ErrorLimiterCapacity, "error-limiter-capacity", th.LimiterCapacity, "maximum number of clients tracked by the error throttle")
	utils.SetFlagDurationVar(fs, &cfg.ErrorLimiterIdle, "error-limiter-idle", th.LimiterIdle, "forget a client after this long without errors")
	utils.SetFlagIntVar(fs, &cfg.ErrorDelayPoolSize, "error-delay-pool-size", th.PoolSize, "workers sending delayed error responses")
	utils.SetFlagDurationVar(fs, &cfg.StatsInterval, "stats-interval", th.StatsInterval, "throttle stats reporting period")

	utils.SetFlagStringVar(fs, &cfg.Locator, "locator", "static", "location service: static, http, etcd or consul")
	utils.SetFlagStringVar(fs, &cfg.LocatorURL, "locator-url", "", "base URL of the HTTP location service")
	utils.SetFlagStringSliceVar(fs, &cfg.LocatorEndpoints, "locator-endpoints", nil, "etcd endpoints, or the Consul agent address")
	utils.SetFlagStringVar(fs, &cfg.LocatorPrefix, "locator-prefix", "kvgate/locations", "key prefix of table locations in etcd or Consul")
	utils.SetFlagStringVar(fs, &cfg.LocatorFile, "locator-file", "", "JSON file of table locations for the static locator")

	utils.SetFlagStringVar(fs, &cfg.StoreDriver, "store-driver", "mysql", "backend database driver: mysql or sqlite")
	utils.SetFlagStringVar(fs, &cfg.StoreUser, "store-user", "kvgate", "backend database user")
	utils.SetFlagStringVar(fs, &cfg.StorePassword, "store-password", "", "backend database password")
	utils.SetFlagStringVar(fs, &cfg.StoreDatabase, "store-database", "", "backend database name; defaults to the cluster name")
	utils.SetFlagDurationVar(fs, &cfg.StorePoll, "store-metadata-poll", 10*time.Second, "how often backends are checked for table metadata changes")
	utils.SetFlagIntVar(fs, &cfg.StoreMaxConns, "store-max-conns", 16, "connection pool size per backend cluster")
	utils.SetFlagDurationVar(fs, &cfg.StoreDialTimeout, "store-dial-timeout", 5*time.Second, "backend connect timeout")

	utils.SetFlagStringVar(fs, &cfg.SingleCluster, "single-cluster", "", "serve every table from this cluster, bypassing the location service")
	utils.SetFlagStringSliceVar(fs, &cfg.SingleClusterHints, "single-cluster-hints", nil, "connection hints of --single-cluster")
}

// LoadConfig fills every flag of fs that was not set on the command line
// from the KVGATE_* environment or from configFile, in that order.
func LoadConfig(fs *pflag.FlagSet, configFile string) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	var errs []string
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		val := v.GetString(f.Name)
		if f.Value.Type() == "stringSlice" {
			val = strings.Join(v.GetStringSlice(f.Name), ",")
		}
		if err := fs.Set(f.Name, val); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f.Name, err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CacheConfig returns the table cache parameters.
func (c *Config) CacheConfig() timedcache.Config {
	return timedcache.Config{
		Name:          "tables",
		Expiration:    c.CacheExpiration,
		Refresh:       c.CacheRefresh,
		CheckInterval: c.CacheCheckInterval,
		LoadTimeout:   c.CacheLoadTimeout,
	}
}

// ThrottleConfig returns the error throttle parameters.
func (c *Config) ThrottleConfig() throttle.Config {
	return throttle.Config{
		DelayThreshold:  c.ErrorDelayThreshold,
		Delay:           c.ErrorDelay,
		DNRThreshold:    c.ErrorDNRThreshold,
		ErrorCredit:     c.ErrorCredit,
		LimiterCapacity: c.ErrorLimiterCapacity,
		LimiterIdle:     c.ErrorLimiterIdle,
		PoolSize:        c.ErrorDelayPoolSize,
		StatsInterval:   c.StatsInterval,
	}
}

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

package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"kvgate.io/kvgate/go/kv/kvstats"
	"kvgate.io/kvgate/go/kv/log"
	"kvgate.io/kvgate/go/kv/registry"
	"kvgate.io/kvgate/go/kv/resolver"
	"kvgate.io/kvgate/go/kv/servenv"
	"kvgate.io/kvgate/go/kv/store/sqlstore"
	"kvgate.io/kvgate/go/kv/throttle"
	"kvgate.io/kvgate/go/kv/utils"
)

var (
	cfg        servenv.Config
	configFile string

	Main = &cobra.Command{
		Use:   "kvgate",
		Short: "kvgate resolves tables to backend clusters and throttles misbehaving clients.",
		Example: `kvgate \
	--locator etcd \
	--locator-endpoints etcd1:2379,etcd2:2379 \
	--store-user kvgate \
	--cache-expiration 10m \
	--error-delay-threshold 5 \
	--error-dnr-threshold 10 \
	--port 15000`,
		Args:    cobra.NoArgs,
		PreRunE: preRun,
		RunE:    run,
	}
)

func init() {
	fs := Main.Flags()
	fs.SetNormalizeFunc(utils.NormalizeUnderscoresToDashes)
	servenv.RegisterFlags(fs, &cfg)
	log.RegisterFlags(fs)
	utils.SetFlagStringVar(fs, &configFile, "config", "", "YAML, JSON or TOML file with flag values")
	fs.AddGoFlagSet(flag.CommandLine)
}

func preRun(cmd *cobra.Command, args []string) error {
	if err := servenv.LoadConfig(cmd.Flags(), configFile); err != nil {
		return err
	}
	return log.Init(cmd.Flags())
}

func run(cmd *cobra.Command, args []string) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	connector := sqlstore.NewConnector(sqlstore.Config{
		Driver:               cfg.StoreDriver,
		User:                 cfg.StoreUser,
		Password:             cfg.StorePassword,
		Database:             cfg.StoreDatabase,
		ConnectTimeout:       cfg.StoreDialTimeout,
		MetadataPollInterval: cfg.StorePoll,
		MaxOpenConns:         cfg.StoreMaxConns,
	})
	reg := registry.New(connector, cfg.ConnectLockTimeout)
	reg.OnConnect(kvstats.RegisterClusterOnConnect(promReg))
	promReg.MustRegister(kvstats.NewRegistryCollector(reg))

	sink, err := kvstats.NewThrottleSink(promReg)
	if err != nil {
		return err
	}
	th, err := throttle.New(cfg.ThrottleConfig(), throttle.WithStatsSink(kvstats.MultiSink{sink, throttle.LogSink{}}))
	if err != nil {
		return err
	}
	if err := kvstats.RegisterThrottleGauges(promReg, th); err != nil {
		th.Close()
		return err
	}

	res, flushAll, err := buildResolver(cmd.Context(), reg, promReg)
	if err != nil {
		th.Close()
		reg.Close()
		return err
	}

	router := servenv.NewDebugRouter(servenv.DebugHandlers{
		Health:   healthFunc(reg),
		Flush:    res.Flush,
		FlushAll: flushAll,
		Gatherer: promReg,
	})
	registerResolveRoute(router, res, th)

	servenv.OnClose(func() {
		th.Close()
		if cr, ok := res.(*resolver.CachingResolver); ok && cfg.CacheKeysFile != "" {
			if err := cr.SaveKeys(cfg.CacheKeysFile); err != nil {
				log.Warningf("saving cache keys to %s: %v", cfg.CacheKeysFile, err)
			}
		}
		res.Close()
		if err := reg.Close(); err != nil {
			log.Warningf("closing cluster connections: %v", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	if cfg.ShutdownFile != "" {
		w := servenv.NewShutdownWatcher(cfg.ShutdownFile, cfg.ShutdownPoll)
		w.Start()
		defer w.Stop()
		var cancel context.CancelFunc
		ctx, cancel = w.Context(ctx)
		defer cancel()
	}

	return servenv.Run(ctx, cfg.Port, router, cfg.LameduckTime)
}

func healthFunc(reg *registry.Registry) servenv.HealthFunc {
	return func(ctx context.Context) (string, []string, bool) {
		status, reasons := reg.CheckHealth(ctx)
		return status.String(), reasons, status != registry.Red
	}
}

// buildResolver returns the resolver selected by the configuration and,
// for the caching resolver, a function flushing every cached table.
func buildResolver(ctx context.Context, reg *registry.Registry, promReg prometheus.Registerer) (resolver.Resolver, func(), error) {
	if cfg.SingleCluster != "" {
		log.Infof("serving every table from cluster %s", cfg.SingleCluster)
		return resolver.NewPassThrough(reg, cfg.SingleCluster, cfg.SingleClusterHints), nil, nil
	}

	loc, err := buildLocator(&cfg)
	if err != nil {
		return nil, nil, err
	}
	cr, err := resolver.NewCaching(loc, reg, cfg.CacheConfig())
	if err != nil {
		return nil, nil, err
	}
	promReg.MustRegister(kvstats.NewCacheCollector("tables", cr.Stats, cr.Len))

	if cfg.CacheKeysFile != "" {
		if _, err := cr.WarmUp(ctx, cfg.CacheKeysFile, cfg.CacheWarmupMaxAge, cfg.CacheWarmupBudget); err != nil {
			log.Warningf("cache warm-up from %s: %v", cfg.CacheKeysFile, err)
		}
	}
	return cr, cr.FlushAll, nil
}

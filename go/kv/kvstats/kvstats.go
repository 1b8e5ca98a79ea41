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

// Package kvstats exports kvgate's internal counters to Prometheus.
package kvstats

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kvgate.io/kvgate/go/cache/timedcache"
	"kvgate.io/kvgate/go/kv/log"
	"kvgate.io/kvgate/go/kv/store"
	"kvgate.io/kvgate/go/kv/throttle"
)

// Namespace prefixes every kvgate metric.
const Namespace = "kvgate"

// healthTimeout bounds the node-state query made on each scrape.
const healthTimeout = 2 * time.Second

// ThrottleSink is a throttle.StatsSink publishing to Prometheus.
type ThrottleSink struct {
	delayed    prometheus.Counter
	dropped    prometheus.Counter
	delayedIPs prometheus.Gauge
	droppedIPs prometheus.Gauge
}

var _ throttle.StatsSink = (*ThrottleSink)(nil)

// NewThrottleSink creates the throttle metrics and registers them with reg.
func NewThrottleSink(reg prometheus.Registerer) (*ThrottleSink, error) {
	s := &ThrottleSink{
		delayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "throttle", Name: "delayed_responses_total",
			Help: "Error responses delayed by the throttle.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "throttle", Name: "dropped_responses_total",
			Help: "Error responses dropped by the throttle.",
		}),
		delayedIPs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "throttle", Name: "delayed_clients",
			Help: "Distinct clients with delayed responses in the last interval.",
		}),
		droppedIPs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "throttle", Name: "dropped_clients",
			Help: "Distinct clients with dropped responses in the last interval.",
		}),
	}
	for _, c := range []prometheus.Collector{s.delayed, s.dropped, s.delayedIPs, s.droppedIPs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ReportThrottleStats implements throttle.StatsSink.
func (s *ThrottleSink) ReportThrottleStats(st throttle.ThrottleStats) {
	s.delayed.Add(float64(st.Delayed))
	s.dropped.Add(float64(st.Dropped))
	s.delayedIPs.Set(float64(st.DelayedIPs))
	s.droppedIPs.Set(float64(st.DroppedIPs))
}

// MultiSink fans stats out to several sinks.
type MultiSink []throttle.StatsSink

// ReportThrottleStats implements throttle.StatsSink.
func (m MultiSink) ReportThrottleStats(st throttle.ThrottleStats) {
	for _, s := range m {
		s.ReportThrottleStats(st)
	}
}

// RegisterThrottleGauges exports the live state of th.
func RegisterThrottleGauges(reg prometheus.Registerer, th *throttle.Throttle) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "throttle", Name: "pending_responses",
			Help: "Delayed responses waiting to be sent.",
		}, func() float64 { return float64(th.Pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "throttle", Name: "tracked_clients",
			Help: "Clients with a live error limiter.",
		}, func() float64 { return float64(th.Tracked()) }),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

type cacheCollector struct {
	stats func() timedcache.Stats
	size  func() int

	hits, misses, evictions, refreshes, entries *prometheus.Desc
}

// NewCacheCollector returns a collector for a timed cache. name becomes
// the "cache" label.
func NewCacheCollector(name string, stats func() timedcache.Stats, size func() int) prometheus.Collector {
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "cache", metric),
			help,
			nil,
			prometheus.Labels{"cache": name},
		)
	}
	return &cacheCollector{
		stats:     stats,
		size:      size,
		hits:      desc("hits_total", "Cache lookups served from the cache."),
		misses:    desc("misses_total", "Cache lookups that invoked the loader."),
		evictions: desc("evictions_total", "Entries removed by expiry or failed refresh."),
		refreshes: desc("refreshes_total", "Entries refreshed in the background."),
		entries:   desc("entries", "Entries currently cached."),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.refreshes
	ch <- c.entries
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(st.Evictions))
	ch <- prometheus.MustNewConstMetric(c.refreshes, prometheus.CounterValue, float64(st.Refreshes))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(c.size()))
}

// ClusterLister is the view of the connection registry exported as
// metrics.
type ClusterLister interface {
	Clusters() []string
	Unreachable() []string
}

type registryCollector struct {
	clusters ClusterLister
	desc     *prometheus.Desc
}

// NewRegistryCollector returns a collector counting connected and
// unreachable clusters.
func NewRegistryCollector(clusters ClusterLister) prometheus.Collector {
	return &registryCollector{
		clusters: clusters,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "registry", "clusters"),
			"Backend clusters by connection state.",
			[]string{"state"},
			nil,
		),
	}
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(len(c.clusters.Clusters())), "connected")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(len(c.clusters.Unreachable())), "unreachable")
}

type nodeStateCollector struct {
	cluster string
	handle  store.Handle
	desc    *prometheus.Desc
}

// NewNodeStateCollector returns a collector reporting the active and
// inactive node counts of one cluster.
func NewNodeStateCollector(cluster string, h store.Handle) prometheus.Collector {
	return &nodeStateCollector{
		cluster: cluster,
		handle:  h,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "cluster", "nodes"),
			"Backend nodes by state.",
			[]string{"state"},
			prometheus.Labels{"cluster": cluster},
		),
	}
}

func (c *nodeStateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *nodeStateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	nodes, err := c.handle.HealthMetrics(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	var active, inactive int
	for _, n := range nodes {
		if n.Active {
			active++
		} else {
			inactive++
		}
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(active), "active")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(inactive), "inactive")
}

// RegisterClusterOnConnect returns a connect hook that registers a node
// state collector for each newly connected cluster.
func RegisterClusterOnConnect(reg prometheus.Registerer) func(cluster string, h store.Handle) {
	return func(cluster string, h store.Handle) {
		if err := reg.Register(NewNodeStateCollector(cluster, h)); err != nil {
			log.Warningf("cannot export node states of cluster %s: %v", cluster, err)
		}
	}
}

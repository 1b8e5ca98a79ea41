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

package throttle

import (
	"sync"
	"sync/atomic"
	"time"

	"kvgate.io/kvgate/go/kv/log"
)

// ThrottleStats summarizes one reporting interval.
type ThrottleStats struct {
	// Delayed and Dropped count the responses delayed and dropped.
	Delayed int64
	Dropped int64
	// DelayedIPs and DroppedIPs count the distinct clients affected.
	DelayedIPs int
	DroppedIPs int
}

// StatsSink receives the stats of each reporting interval.
type StatsSink interface {
	ReportThrottleStats(ThrottleStats)
}

// LogSink writes throttle stats to the log when anything was throttled.
type LogSink struct{}

// ReportThrottleStats implements StatsSink.
func (LogSink) ReportThrottleStats(s ThrottleStats) {
	if s.Delayed == 0 && s.Dropped == 0 {
		return
	}
	log.InfoS("error throttle stats",
		"delayed", s.Delayed, "delayed_ips", s.DelayedIPs,
		"dropped", s.Dropped, "dropped_ips", s.DroppedIPs)
}

type statsCollector struct {
	delayed atomic.Int64
	dropped atomic.Int64

	mu         sync.Mutex
	delayedIPs map[string]struct{}
	droppedIPs map[string]struct{}
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		delayedIPs: make(map[string]struct{}),
		droppedIPs: make(map[string]struct{}),
	}
}

func (s *statsCollector) recordDelayed(ip string) {
	s.delayed.Add(1)
	s.mu.Lock()
	s.delayedIPs[ip] = struct{}{}
	s.mu.Unlock()
}

func (s *statsCollector) recordDropped(ip string) {
	s.dropped.Add(1)
	s.mu.Lock()
	s.droppedIPs[ip] = struct{}{}
	s.mu.Unlock()
}

// snapshot returns the stats gathered since the previous snapshot and
// resets them.
func (s *statsCollector) snapshot() ThrottleStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := ThrottleStats{
		Delayed:    s.delayed.Swap(0),
		Dropped:    s.dropped.Swap(0),
		DelayedIPs: len(s.delayedIPs),
		DroppedIPs: len(s.droppedIPs),
	}
	s.delayedIPs = make(map[string]struct{})
	s.droppedIPs = make(map[string]struct{})
	return st
}

// firstReportDelay returns the wait until one second before the next
// minute boundary.
func firstReportDelay(now time.Time) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute - time.Second)
	if !next.After(now) {
		next = next.Add(time.Minute)
	}
	return next.Sub(now)
}

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

// Package throttle slows down clients that keep causing errors. Each
// client IP gets an error budget; a client over budget has its error
// responses delayed, and one far over budget gets no response at all.
package throttle

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"kvgate.io/kvgate/go/kv/log"
	"kvgate.io/kvgate/go/pools/workqueue"
)

// maxPendingDelayed caps the delayed responses in flight. Past it, errors
// are answered right away.
const maxPendingDelayed = 500

// Outcome is what to do with an error response.
type Outcome int

const (
	// RespondNormally sends the response now.
	RespondNormally Outcome = iota
	// ResponseDelayed means the throttle took the response and will send
	// it after the configured delay.
	ResponseDelayed
	// DoNotRespond means the response must be dropped.
	DoNotRespond
)

func (o Outcome) String() string {
	switch o {
	case RespondNormally:
		return "RespondNormally"
	case ResponseDelayed:
		return "ResponseDelayed"
	case DoNotRespond:
		return "DoNotRespond"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Throttle classifies error responses per client.
type Throttle struct {
	cfg        Config
	dnrPercent float64
	now        func() time.Time
	sink       StatsSink

	limitersMu sync.Mutex
	limiters   *expirable.LRU[string, *limiter]

	pool    *workqueue.Queue
	pending atomic.Int64

	// schedMu orders scheduling against Close.
	schedMu sync.RWMutex
	closed  bool
	// stopped is set once Close starts; a stopped throttle tracks nothing.
	stopped atomic.Bool
	timers  sync.WaitGroup

	stats *statsCollector

	stop         chan struct{}
	reporterDone chan struct{}
}

// Option customizes a Throttle.
type Option func(*Throttle)

// WithClock replaces time.Now as the throttle's clock.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// WithStatsSink sets where interval stats are reported. Without a sink no
// reporter runs.
func WithStatsSink(sink StatsSink) Option {
	return func(t *Throttle) { t.sink = sink }
}

// New validates cfg and starts a Throttle.
func New(cfg Config, opts ...Option) (*Throttle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Throttle{
		cfg:        cfg,
		dnrPercent: cfg.dnrPercent(),
		now:        time.Now,
		limiters:   expirable.NewLRU[string, *limiter](cfg.LimiterCapacity, nil, cfg.LimiterIdle),
		stats:      newStatsCollector(),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	pool, err := workqueue.New(cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	t.pool = pool

	if t.sink != nil && cfg.StatsInterval > 0 {
		t.reporterDone = make(chan struct{})
		go t.runReporter(firstReportDelay(t.now()))
	}
	return t, nil
}

// limiterFor returns the limiter of ip, creating it on first use. Each
// use restarts the idle lifetime.
func (t *Throttle) limiterFor(ip string, now time.Time) *limiter {
	key := "ip:" + ip
	t.limitersMu.Lock()
	defer t.limitersMu.Unlock()
	l, ok := t.limiters.Get(key)
	if !ok {
		l = newLimiter(t.cfg.DelayThreshold, t.cfg.ErrorCredit, now)
	}
	t.limiters.Add(key, l)
	return l
}

// Classify records an error for clientIP and decides how to answer it.
// flagged marks an error that should be delayed even within budget. When
// the outcome is ResponseDelayed the throttle calls respond later; for
// the other outcomes respond is never called.
func (t *Throttle) Classify(clientIP string, flagged bool, respond func()) Outcome {
	if clientIP == "" || clientIP == UnknownClientIP || t.stopped.Load() {
		return RespondNormally
	}

	now := t.now()
	l := t.limiterFor(clientIP, now)
	l.consumeOne(now)

	if l.hasCapacity(now) && !flagged {
		return RespondNormally
	}
	if rate := l.currentRate(now); rate > t.dnrPercent {
		t.stats.recordDropped(clientIP)
		log.V(2).Infof("dropping error response to %s (error rate %.0f%%)", clientIP, rate)
		return DoNotRespond
	}
	if t.pending.Load() > maxPendingDelayed {
		return RespondNormally
	}
	if !t.schedule(respond) {
		return RespondNormally
	}
	t.stats.recordDelayed(clientIP)
	return ResponseDelayed
}

// schedule hands respond to the pool after the configured delay.
func (t *Throttle) schedule(respond func()) bool {
	t.schedMu.RLock()
	if t.closed {
		t.schedMu.RUnlock()
		return false
	}
	t.timers.Add(1)
	t.schedMu.RUnlock()

	t.pending.Add(1)
	time.AfterFunc(t.cfg.Delay, func() {
		defer t.timers.Done()
		err := t.pool.Submit(func() {
			defer t.pending.Add(-1)
			respond()
		})
		if err != nil {
			// The pool is gone; answer inline rather than lose the response.
			t.pending.Add(-1)
			respond()
		}
	})
	return true
}

// Pending returns the number of delayed responses not yet sent.
func (t *Throttle) Pending() int64 {
	return t.pending.Load()
}

// Tracked returns the number of clients with a live limiter.
func (t *Throttle) Tracked() int {
	return t.limiters.Len()
}

// Snapshot returns the stats since the previous snapshot and resets them.
func (t *Throttle) Snapshot() ThrottleStats {
	return t.stats.snapshot()
}

func (t *Throttle) report() {
	t.sink.ReportThrottleStats(t.stats.snapshot())
}

func (t *Throttle) runReporter(initial time.Duration) {
	defer close(t.reporterDone)

	wait := time.NewTimer(initial)
	defer wait.Stop()
	select {
	case <-t.stop:
		return
	case <-wait.C:
	}
	t.report()

	tick := time.NewTicker(t.cfg.StatsInterval)
	defer tick.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tick.C:
			t.report()
		}
	}
}

// Close sends every delayed response, stops the pool and the reporter,
// forgets every tracked client and emits a final report. Later errors are
// answered normally.
func (t *Throttle) Close() {
	t.schedMu.Lock()
	if t.closed {
		t.schedMu.Unlock()
		return
	}
	t.closed = true
	t.stopped.Store(true)
	t.schedMu.Unlock()

	// The LRU's expiry goroutine cannot be stopped; release what it holds.
	t.limiters.Purge()

	t.timers.Wait()
	t.pool.Shutdown(true)

	close(t.stop)
	if t.reporterDone != nil {
		<-t.reporterDone
		t.report()
	}
}

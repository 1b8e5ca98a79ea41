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

// Package timedcache provides a keyed cache whose entries expire after a
// period without use and can be refreshed in the background. A single
// sweep goroutine drives both expiry and refresh.
package timedcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/log"
	"kvgate.io/kvgate/go/timer"
)

const (
	shardCount = 32

	// DefaultCheckInterval is the sweep period used when none is set.
	DefaultCheckInterval = 10 * time.Second

	// DefaultLoadTimeout bounds a shared miss load when none is set.
	DefaultLoadTimeout = 30 * time.Second
)

// Loader fetches the value for a key on a miss or a scheduled refresh.
type Loader[K ~string, V any] func(ctx context.Context, key K) (V, error)

// Config holds the timing parameters of a Cache.
type Config struct {
	// Name identifies the cache in logs.
	Name string
	// Expiration removes entries that have not been used for this long.
	// Zero disables expiry.
	Expiration time.Duration
	// Refresh reloads entries whose value is older than this. Zero
	// disables refresh.
	Refresh time.Duration
	// CheckInterval is the sweep period.
	CheckInterval time.Duration
	// LoadTimeout bounds a miss load. The load is shared by every caller
	// missing on the key, so it does not inherit any caller's cancellation.
	LoadTimeout time.Duration
}

// Validate checks that 0 <= Refresh < Expiration whenever either is set.
func (cfg Config) Validate() error {
	if cfg.Refresh == 0 && cfg.Expiration == 0 {
		return nil
	}
	if cfg.Refresh < 0 || cfg.Refresh >= cfg.Expiration {
		return kverrors.Errorf(kverrors.InvalidArgument, "cache %s: refresh (%v) must be >= 0 and less than expiration (%v)", cfg.Name, cfg.Refresh, cfg.Expiration)
	}
	return nil
}

// Stats are the cumulative counters of a Cache.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Refreshes int64
}

type entry[V any] struct {
	value       V
	lastUsed    atomic.Int64
	lastRefresh time.Time
}

type shard[K ~string, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]
}

// Cache is a concurrent map from K to V with time-based expiry and
// refresh. Values implementing Initialized() bool are only stored when it
// returns true; values implementing Close() are closed when the cache is.
type Cache[K ~string, V any] struct {
	cfg  Config
	load Loader[K, V]
	now  func() time.Time

	shards [shardCount]shard[K, V]
	group  singleflight.Group

	sweeper *timer.Timer
	active  atomic.Bool

	hits, misses, evictions, refreshes atomic.Int64
}

// Option customizes a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the cache's clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache and starts its sweep.
func New[K ~string, V any](cfg Config, load Loader[K, V], opts ...Option) (*Cache[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[K, V]{
		cfg:     cfg,
		load:    load,
		now:     o.now,
		sweeper: timer.NewTimer(cfg.CheckInterval),
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[K]*entry[V])
	}
	c.active.Store(true)
	c.sweeper.Start(c.sweep)
	return c, nil
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	return &c.shards[xxhash.Sum64String(string(key))%shardCount]
}

func isInitialized(v any) bool {
	if i, ok := v.(interface{ Initialized() bool }); ok {
		return i.Initialized()
	}
	return true
}

// Get returns the cached value for key without loading or touching it.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// GetOrLoad returns the cached value for key, loading it on a miss.
// Concurrent misses for the same key share one loader call.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	var zero V
	if !c.active.Load() {
		return zero, kverrors.Errorf(kverrors.FailedPrecondition, "cache %s is inactive", c.cfg.Name)
	}

	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	if ok {
		e.lastUsed.Store(c.now().UnixNano())
	}
	s.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return e.value, nil
	}

	c.misses.Add(1)
	ch := c.group.DoChan(string(key), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LoadTimeout)
		defer cancel()
		v, err := c.load(lctx, key)
		if err != nil {
			return v, err
		}
		if isInitialized(v) && c.active.Load() {
			c.insert(key, v)
		}
		return v, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, kverrors.Errorf(kverrors.Unavailable, "cache %s: loading %v: %w", c.cfg.Name, key, ctx.Err())
	}
}

func (c *Cache[K, V]) insert(key K, v V) {
	now := c.now()
	e := &entry[V]{value: v, lastRefresh: now}
	e.lastUsed.Store(now.UnixNano())

	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Flush removes key from the cache.
func (c *Cache[K, V]) Flush(key K) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// FlushIf removes every entry for which pred returns true and reports how
// many were removed.
func (c *Cache[K, V]) FlushIf(pred func(K, V) bool) int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if pred(k, e.value) {
				delete(s.entries, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		clear(s.entries)
		s.mu.Unlock()
	}
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Keys returns the cached keys in no particular order.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.Len())
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for k := range s.entries {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	return keys
}

// Stats returns the cumulative counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Refreshes: c.refreshes.Load(),
	}
}

// Close deactivates the cache, stops the sweep and closes every remaining
// value that implements Close().
func (c *Cache[K, V]) Close() {
	if !c.active.CompareAndSwap(true, false) {
		return
	}
	c.sweeper.Stop()

	var values []V
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			values = append(values, e.value)
		}
		clear(s.entries)
		s.mu.Unlock()
	}
	for _, v := range values {
		if cl, ok := any(v).(interface{ Close() }); ok {
			cl.Close()
		}
	}
}

// sweep expires idle entries and refreshes stale ones.
func (c *Cache[K, V]) sweep() {
	now := c.now()
	var stale []K
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if c.cfg.Expiration > 0 && now.Sub(time.Unix(0, e.lastUsed.Load())) >= c.cfg.Expiration {
				delete(s.entries, k)
				c.evictions.Add(1)
				continue
			}
			if c.cfg.Refresh > 0 && now.Sub(e.lastRefresh) >= c.cfg.Refresh {
				stale = append(stale, k)
			}
		}
		s.mu.Unlock()
	}

	for _, key := range stale {
		if !c.active.Load() {
			return
		}
		c.refresh(key)
	}
}

func (c *Cache[K, V]) refresh(key K) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CheckInterval)
	defer cancel()

	v, err := c.load(ctx, key)
	s := c.shardFor(key)
	switch {
	case err != nil && kverrors.Code(err) == kverrors.Unavailable:
		log.Warningf("cache %s: refresh of %v failed, keeping stale entry: %v", c.cfg.Name, key, err)
		return
	case err != nil:
		log.Infof("cache %s: refresh of %v failed, removing entry: %v", c.cfg.Name, key, err)
		c.Flush(key)
		c.evictions.Add(1)
		return
	case !isInitialized(v):
		c.Flush(key)
		c.evictions.Add(1)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		ne := &entry[V]{value: v, lastRefresh: c.now()}
		ne.lastUsed.Store(e.lastUsed.Load())
		s.entries[key] = ne
		c.refreshes.Add(1)
	}
}

// String implements fmt.Stringer.
func (c *Cache[K, V]) String() string {
	return fmt.Sprintf("timedcache(%s, expiration=%v, refresh=%v)", c.cfg.Name, c.cfg.Expiration, c.cfg.Refresh)
}

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

package resolver

import (
	"context"
	"time"

	"kvgate.io/kvgate/go/cache/timedcache"
	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
	"kvgate.io/kvgate/go/kv/log"
	"kvgate.io/kvgate/go/kv/registry"
)

// CachingResolver looks tables up through a Locator, connects through a
// Registry and caches the result. Entries of a cluster are dropped when
// the cluster reports a metadata change.
type CachingResolver struct {
	locator  locator.Locator
	registry *registry.Registry
	cache    *timedcache.Cache[string, *TableEntry]
}

var _ Resolver = (*CachingResolver)(nil)

// NewCaching returns a CachingResolver whose cache is configured by cfg.
func NewCaching(loc locator.Locator, reg *registry.Registry, cfg timedcache.Config, opts ...timedcache.Option) (*CachingResolver, error) {
	r := &CachingResolver{
		locator:  loc,
		registry: reg,
	}
	if cfg.Name == "" {
		cfg.Name = "tables"
	}
	cache, err := timedcache.New(cfg, r.load, opts...)
	if err != nil {
		return nil, err
	}
	r.cache = cache
	reg.AddMetadataListener(r.invalidateCluster)
	return r, nil
}

// Resolve implements Resolver.
func (r *CachingResolver) Resolve(ctx context.Context, namespace, table string) (*TableEntry, error) {
	key, err := CacheKey(namespace, table)
	if err != nil {
		return nil, err
	}
	return r.cache.GetOrLoad(ctx, key)
}

func (r *CachingResolver) load(ctx context.Context, key string) (*TableEntry, error) {
	namespace, table := ParseCacheKey(key)
	return r.fetch(ctx, namespace, table)
}

// fetch resolves a table without going through the cache.
func (r *CachingResolver) fetch(ctx context.Context, namespace, table string) (*TableEntry, error) {
	loc, err := r.locator.Locate(ctx, namespace, ExtractTableID(table))
	switch {
	case err != nil && kverrors.Code(err) == kverrors.Unavailable:
		return nil, kverrors.Wrapf(err, "locating %s", table)
	case err != nil:
		return nil, kverrors.Errorf(kverrors.NotFound, "locating %s: %w", table, err)
	case loc == nil:
		return nil, kverrors.Errorf(kverrors.NotFound, "no location for table %s", table)
	}

	switch loc.Status {
	case locator.StatusOK:
	case locator.StatusUnavailable:
		return nil, kverrors.Errorf(kverrors.Unavailable, "location service cannot place table %s right now", table)
	default:
		return nil, kverrors.Errorf(kverrors.NotFound, "table %s not found (%s)", table, loc.Status)
	}

	h, err := r.registry.EnsureConnected(ctx, loc.ClusterName, loc.Hints)
	if err != nil {
		return nil, err
	}
	t, err := h.GetTable(ctx, namespace, table, true)
	if err != nil {
		return nil, kverrors.Errorf(kverrors.Unavailable, "cluster %s: reading table %s: %w", loc.ClusterName, table, err)
	}
	if t == nil {
		return nil, kverrors.Errorf(kverrors.NotFound, "table %s does not exist on cluster %s", table, loc.ClusterName)
	}

	return &TableEntry{
		Table:       t,
		Handle:      h,
		ClusterName: loc.ClusterName,
		Limits:      loc.Limits,
		MultiRegion: loc.MultiRegion,
		initialized: loc.Initialized,
	}, nil
}

func (r *CachingResolver) invalidateCluster(cluster string) {
	n := r.cache.FlushIf(func(_ string, e *TableEntry) bool {
		return e.ClusterName == cluster
	})
	log.Infof("flushed %d cached tables of cluster %s", n, cluster)
}

// Flush implements Resolver.
func (r *CachingResolver) Flush(namespace, table string) error {
	key, err := CacheKey(namespace, table)
	if err != nil {
		return err
	}
	r.cache.Flush(key)
	return nil
}

// FlushAll drops every cached table.
func (r *CachingResolver) FlushAll() {
	r.cache.Clear()
}

// Len returns the number of cached tables.
func (r *CachingResolver) Len() int { return r.cache.Len() }

// Stats returns the cache counters.
func (r *CachingResolver) Stats() timedcache.Stats { return r.cache.Stats() }

// SaveKeys persists the cached table keys to path.
func (r *CachingResolver) SaveKeys(path string) error {
	return r.cache.SaveKeys(path)
}

// WarmUp resolves the tables listed in path.
func (r *CachingResolver) WarmUp(ctx context.Context, path string, maxAge, budget time.Duration) (int, error) {
	return r.cache.WarmUp(ctx, path, maxAge, budget)
}

// Close implements Resolver.
func (r *CachingResolver) Close() {
	r.cache.Close()
}

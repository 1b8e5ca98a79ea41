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

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/registry"
)

// PassThroughResolver serves every table from one fixed cluster and reads
// table metadata afresh on each call.
type PassThroughResolver struct {
	registry *registry.Registry
	cluster  string
	hints    []string
	useCache bool
}

var _ Resolver = (*PassThroughResolver)(nil)

// PassThroughOption customizes a PassThroughResolver.
type PassThroughOption func(*PassThroughResolver)

// UseCache lets the backend handle answer from its own table cache. It is
// meant for tests.
func UseCache() PassThroughOption {
	return func(r *PassThroughResolver) { r.useCache = true }
}

// NewPassThrough returns a resolver bound to cluster.
func NewPassThrough(reg *registry.Registry, cluster string, hints []string, opts ...PassThroughOption) *PassThroughResolver {
	r := &PassThroughResolver{
		registry: reg,
		cluster:  cluster,
		hints:    hints,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve implements Resolver.
func (r *PassThroughResolver) Resolve(ctx context.Context, namespace, table string) (*TableEntry, error) {
	if _, err := CacheKey(namespace, table); err != nil {
		return nil, err
	}
	h, err := r.registry.EnsureConnected(ctx, r.cluster, r.hints)
	if err != nil {
		return nil, err
	}
	t, err := h.GetTable(ctx, namespace, table, !r.useCache)
	if err != nil {
		return nil, kverrors.Errorf(kverrors.Unavailable, "cluster %s: reading table %s: %w", r.cluster, table, err)
	}
	if t == nil {
		return nil, kverrors.Errorf(kverrors.NotFound, "table %s does not exist on cluster %s", table, r.cluster)
	}
	return &TableEntry{
		Table:       t,
		Handle:      h,
		ClusterName: r.cluster,
		initialized: true,
	}, nil
}

// Flush implements Resolver. Nothing is cached, so it only validates the
// name.
func (r *PassThroughResolver) Flush(namespace, table string) error {
	_, err := CacheKey(namespace, table)
	return err
}

// Close implements Resolver.
func (r *PassThroughResolver) Close() {}

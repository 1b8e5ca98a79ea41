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

// Package resolver turns a (namespace, table) pair into the backend table
// and connection that serve it.
package resolver

import (
	"context"
	"strings"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
	"kvgate.io/kvgate/go/kv/store"
)

// TableEntry is a resolved table together with the handle of the cluster
// serving it.
type TableEntry struct {
	Table       *store.Table
	Handle      store.Handle
	ClusterName string
	Limits      *locator.TableLimits
	MultiRegion bool

	initialized bool
}

// Initialized reports whether the table is fully provisioned. Entries that
// are not are handed out but never cached.
func (e *TableEntry) Initialized() bool { return e.initialized }

// Resolver resolves tables to entries.
type Resolver interface {
	Resolve(ctx context.Context, namespace, table string) (*TableEntry, error)
	// Flush drops any cached state for the table.
	Flush(namespace, table string) error
	Close()
}

// CacheKey returns the lower-cased "namespace:table" key of a table, or
// just the table when there is no namespace.
func CacheKey(namespace, table string) (string, error) {
	if table == "" {
		return "", kverrors.New(kverrors.InvalidArgument, "table name must not be empty")
	}
	if namespace == "" {
		return strings.ToLower(table), nil
	}
	return strings.ToLower(namespace) + ":" + strings.ToLower(table), nil
}

// ParseCacheKey splits a key built by CacheKey.
func ParseCacheKey(key string) (namespace, table string) {
	if ns, t, ok := strings.Cut(key, ":"); ok {
		return ns, t
	}
	return "", key
}

// ExtractTableID returns the last dot-separated segment of a table name.
func ExtractTableID(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

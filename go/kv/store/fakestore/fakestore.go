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

// Package fakestore provides an in-memory store.Connector for tests.
package fakestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kvgate.io/kvgate/go/kv/store"
)

// Cluster is the in-memory state of one fake backend cluster. Handles
// connected to it share this state, so tests mutate the cluster and observe
// the effect through every handle.
type Cluster struct {
	name string

	mu     sync.Mutex
	tables map[string]*store.Table
	nodes  []store.NodeState
	// healthErr is returned by HealthMetrics when set.
	healthErr error
	handles   []*Handle
}

func tableKey(namespace, name string) string {
	return namespace + ":" + name
}

// PutTable adds or replaces a table.
func (c *Cluster) PutTable(namespace, name, id string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[tableKey(namespace, name)] = &store.Table{Namespace: namespace, Name: name, ID: id, Version: version}
}

// DropTable removes a table.
func (c *Cluster) DropTable(namespace, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, tableKey(namespace, name))
}

// SetNodes replaces the node states reported by HealthMetrics.
func (c *Cluster) SetNodes(nodes ...store.NodeState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append([]store.NodeState(nil), nodes...)
}

// SetHealthError makes HealthMetrics fail with err.
func (c *Cluster) SetHealthError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthErr = err
}

// FireMetadataChange invokes the metadata callbacks of every open handle.
func (c *Cluster) FireMetadataChange() {
	c.mu.Lock()
	handles := append([]*Handle(nil), c.handles...)
	c.mu.Unlock()
	for _, h := range handles {
		h.fire()
	}
}

// Connector is a store.Connector over a set of fake clusters.
type Connector struct {
	mu       sync.Mutex
	clusters map[string]*Cluster
	failures map[string]error

	// ConnectDelay is slept by every Connect call, to widen race windows.
	ConnectDelay time.Duration

	connects atomic.Int64
	closes   atomic.Int64
}

// NewConnector returns an empty Connector.
func NewConnector() *Connector {
	return &Connector{
		clusters: make(map[string]*Cluster),
		failures: make(map[string]error),
	}
}

// AddCluster creates a cluster with one active node.
func (fc *Connector) AddCluster(name string) *Cluster {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	c := &Cluster{
		name:   name,
		tables: make(map[string]*store.Table),
		nodes:  []store.NodeState{{Name: name + "-n1", Active: true}},
	}
	fc.clusters[name] = c
	return c
}

// FailConnect makes Connect to name fail with err; a nil err clears it.
func (fc *Connector) FailConnect(name string, err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err == nil {
		delete(fc.failures, name)
		return
	}
	fc.failures[name] = err
}

// Connects returns how many handles Connect created.
func (fc *Connector) Connects() int64 { return fc.connects.Load() }

// Closes returns how many handles were closed.
func (fc *Connector) Closes() int64 { return fc.closes.Load() }

// Connect implements store.Connector.
func (fc *Connector) Connect(ctx context.Context, clusterName string, hints []string) (store.Handle, error) {
	if fc.ConnectDelay > 0 {
		select {
		case <-time.After(fc.ConnectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	fc.mu.Lock()
	c, ok := fc.clusters[clusterName]
	err := fc.failures[clusterName]
	fc.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no such cluster %q", clusterName)
	}

	h := &Handle{cluster: c, owner: fc}
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()
	fc.connects.Add(1)
	return h, nil
}

// Handle is a store.Handle connected to a fake Cluster.
type Handle struct {
	cluster *Cluster
	owner   *Connector

	mu        sync.Mutex
	callbacks []func()
	closed    bool

	// BypassCalls counts GetTable calls made with bypassCache set.
	BypassCalls atomic.Int64
	// GetTableCalls counts every GetTable call.
	GetTableCalls atomic.Int64
}

var _ store.Handle = (*Handle)(nil)

// ErrClosed is returned by a closed Handle.
var ErrClosed = errors.New("fakestore: handle closed")

// ClusterName implements store.Handle.
func (h *Handle) ClusterName() string { return h.cluster.name }

// GetTable implements store.Handle.
func (h *Handle) GetTable(ctx context.Context, namespace, name string, bypassCache bool) (*store.Table, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	h.GetTableCalls.Add(1)
	if bypassCache {
		h.BypassCalls.Add(1)
	}
	h.cluster.mu.Lock()
	defer h.cluster.mu.Unlock()
	t, ok := h.cluster.tables[tableKey(namespace, name)]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// RegisterMetadataCallback implements store.Handle.
func (h *Handle) RegisterMetadataCallback(cb func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

// HealthMetrics implements store.Handle.
func (h *Handle) HealthMetrics(ctx context.Context) ([]store.NodeState, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	h.cluster.mu.Lock()
	defer h.cluster.mu.Unlock()
	if h.cluster.healthErr != nil {
		return nil, h.cluster.healthErr
	}
	return append([]store.NodeState(nil), h.cluster.nodes...), nil
}

// Close implements store.Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.owner.closes.Add(1)
	return nil
}

// IsClosed reports whether Close was called.
func (h *Handle) IsClosed() bool { return h.isClosed() }

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) fire() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	callbacks := append([]func(){}, h.callbacks...)
	h.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

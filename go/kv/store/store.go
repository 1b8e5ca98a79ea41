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

// Package store defines the contract kvgate uses to talk to a backend
// key-value store cluster. The storage engine itself lives elsewhere; this
// package only describes the handle the connection registry keeps per
// cluster and the table metadata the resolver reads through it.
package store

import (
	"context"
	"fmt"
)

// Connector establishes connections to backend clusters.
type Connector interface {
	// Connect opens a handle to the named cluster. hints are the
	// location-service supplied addresses of the cluster's nodes. Connect
	// returns an error if no usable connection could be made.
	Connect(ctx context.Context, clusterName string, hints []string) (Handle, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, clusterName string, hints []string) (Handle, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, clusterName string, hints []string) (Handle, error) {
	return f(ctx, clusterName, hints)
}

// Handle is a live connection to one backend cluster.
type Handle interface {
	// ClusterName returns the name of the cluster this handle is connected to.
	ClusterName() string

	// GetTable returns the metadata of namespace.name, or (nil, nil) if the
	// table does not exist. When bypassCache is set, the handle must not
	// answer from any metadata it keeps locally.
	GetTable(ctx context.Context, namespace, name string, bypassCache bool) (*Table, error)

	// RegisterMetadataCallback registers cb to be called whenever the
	// cluster's table metadata changes. Callbacks run on a goroutine owned
	// by the handle and must not block.
	RegisterMetadataCallback(cb func())

	// HealthMetrics returns the state of every node of the cluster as seen
	// by this handle.
	HealthMetrics(ctx context.Context) ([]NodeState, error)

	// Close releases the handle. Callbacks are not called after Close.
	Close() error
}

// Table is the metadata of a table stored in a backend cluster.
type Table struct {
	Namespace string
	Name      string
	// ID is the cluster-assigned identifier of the table.
	ID string
	// Version is the schema version of the table.
	Version int64
}

// FullName returns the namespace-qualified name of the table.
func (t *Table) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + ":" + t.Name
}

func (t *Table) String() string {
	return fmt.Sprintf("%s(id=%s, v%d)", t.FullName(), t.ID, t.Version)
}

// NodeState describes one node of a backend cluster.
type NodeState struct {
	Name   string
	Active bool
}

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

// Package sqlstore implements store.Connector over database/sql. Each
// backend cluster is a database that exposes its table catalog in kv_tables
// and its node membership in kv_nodes (see Schema). MySQL is reached through
// go-sql-driver/mysql using the location hints as server addresses; any
// other registered driver (sqlite in tests) takes the hints as DSNs.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"kvgate.io/kvgate/go/kv/log"
	"kvgate.io/kvgate/go/kv/store"
	"kvgate.io/kvgate/go/timer"
)

// Schema holds the statements that create the catalog tables a backend
// database must expose.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS kv_tables (
	namespace VARCHAR(128) NOT NULL,
	name VARCHAR(256) NOT NULL,
	table_id VARCHAR(64) NOT NULL,
	schema_version BIGINT NOT NULL,
	PRIMARY KEY (namespace, name)
)`,
	`CREATE TABLE IF NOT EXISTS kv_nodes (
	node_name VARCHAR(128) NOT NULL PRIMARY KEY,
	active BOOLEAN NOT NULL
)`,
}

const (
	getTableQuery   = "SELECT table_id, schema_version FROM kv_tables WHERE namespace = ? AND name = ?"
	maxVersionQuery = "SELECT COALESCE(MAX(schema_version), 0) FROM kv_tables"
	nodesQuery      = "SELECT node_name, active FROM kv_nodes ORDER BY node_name"
)

// Config configures a Connector.
type Config struct {
	// Driver is the database/sql driver name, "mysql" by default.
	Driver string
	// User, Password and Database are used to build MySQL DSNs. When
	// Database is empty the cluster name is used.
	User     string
	Password string
	Database string
	// ConnectTimeout bounds the dial of each hint.
	ConnectTimeout time.Duration
	// MetadataPollInterval is how often a handle checks the catalog for
	// schema changes. Zero disables polling.
	MetadataPollInterval time.Duration
	// MaxOpenConns caps the connections of each handle's pool.
	MaxOpenConns int
}

// Connector is a store.Connector backed by database/sql.
type Connector struct {
	cfg Config
}

var _ store.Connector = (*Connector)(nil)

// NewConnector returns a Connector for cfg.
func NewConnector(cfg Config) *Connector {
	if cfg.Driver == "" {
		cfg.Driver = "mysql"
	}
	return &Connector{cfg: cfg}
}

// dsn builds the data source name for one hint.
func (c *Connector) dsn(clusterName, hint string) string {
	if c.cfg.Driver != "mysql" {
		return hint
	}
	mc := mysql.NewConfig()
	mc.User = c.cfg.User
	mc.Passwd = c.cfg.Password
	mc.Net = "tcp"
	mc.Addr = hint
	mc.DBName = c.cfg.Database
	if mc.DBName == "" {
		mc.DBName = clusterName
	}
	mc.Timeout = c.cfg.ConnectTimeout
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Connect implements store.Connector. Hints are tried in order; the first
// one that answers a ping wins.
func (c *Connector) Connect(ctx context.Context, clusterName string, hints []string) (store.Handle, error) {
	if len(hints) == 0 {
		return nil, fmt.Errorf("cluster %s: no location hints", clusterName)
	}

	var errs []error
	for _, hint := range hints {
		db, err := sql.Open(c.cfg.Driver, c.dsn(clusterName, hint))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hint, err))
			continue
		}
		if c.cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(c.cfg.MaxOpenConns)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			errs = append(errs, fmt.Errorf("%s: %w", hint, err))
			continue
		}
		log.Infof("connected to cluster %s via %s", clusterName, hint)
		return newHandle(clusterName, db, c.cfg.MetadataPollInterval), nil
	}
	return nil, fmt.Errorf("cluster %s: %w", clusterName, errors.Join(errs...))
}

// Handle is a store.Handle over a *sql.DB.
type Handle struct {
	name string
	db   *sql.DB
	poll *timer.Timer

	mu          sync.Mutex
	tables      map[string]*store.Table
	callbacks   []func()
	lastVersion int64
	polled      bool
	closed      bool
}

var _ store.Handle = (*Handle)(nil)

func newHandle(name string, db *sql.DB, pollInterval time.Duration) *Handle {
	h := &Handle{
		name:   name,
		db:     db,
		tables: make(map[string]*store.Table),
		poll:   timer.NewTimer(pollInterval),
	}
	if pollInterval > 0 {
		h.poll.Start(h.checkMetadata)
	}
	return h
}

// ClusterName implements store.Handle.
func (h *Handle) ClusterName() string { return h.name }

// GetTable implements store.Handle.
func (h *Handle) GetTable(ctx context.Context, namespace, name string, bypassCache bool) (*store.Table, error) {
	key := namespace + ":" + name
	if !bypassCache {
		h.mu.Lock()
		t, ok := h.tables[key]
		h.mu.Unlock()
		if ok {
			cp := *t
			return &cp, nil
		}
	}

	t := &store.Table{Namespace: namespace, Name: name}
	err := h.db.QueryRowContext(ctx, getTableQuery, namespace, name).Scan(&t.ID, &t.Version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cluster %s: get table %s: %w", h.name, key, err)
	}

	h.mu.Lock()
	h.tables[key] = t
	h.mu.Unlock()
	cp := *t
	return &cp, nil
}

// RegisterMetadataCallback implements store.Handle.
func (h *Handle) RegisterMetadataCallback(cb func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

// checkMetadata compares the highest schema version in the catalog with
// the one seen on the previous poll, and fires the metadata callbacks when
// it moved.
func (h *Handle) checkMetadata() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var version int64
	if err := h.db.QueryRowContext(ctx, maxVersionQuery).Scan(&version); err != nil {
		log.Warningf("cluster %s: metadata poll failed: %v", h.name, err)
		return
	}

	h.mu.Lock()
	changed := h.polled && version != h.lastVersion
	h.polled = true
	h.lastVersion = version
	var callbacks []func()
	if changed && !h.closed {
		clear(h.tables)
		callbacks = append(callbacks, h.callbacks...)
	}
	h.mu.Unlock()

	if changed {
		log.Infof("cluster %s: table metadata changed (schema version %d)", h.name, version)
	}
	for _, cb := range callbacks {
		cb()
	}
}

// HealthMetrics implements store.Handle.
func (h *Handle) HealthMetrics(ctx context.Context) ([]store.NodeState, error) {
	rows, err := h.db.QueryContext(ctx, nodesQuery)
	if err != nil {
		return nil, fmt.Errorf("cluster %s: read nodes: %w", h.name, err)
	}
	defer rows.Close()

	var nodes []store.NodeState
	for rows.Next() {
		var n store.NodeState
		if err := rows.Scan(&n.Name, &n.Active); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Close implements store.Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.poll.Stop()
	return h.db.Close()
}

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

package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) string {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range Schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	_, err = db.Exec("INSERT INTO kv_tables (namespace, name, table_id, schema_version) VALUES ('app', 'users', 'app.users.17', 1), ('_', 'events', 'x.events.4', 1)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO kv_nodes (node_name, active) VALUES ('n1', 1), ('n2', 0)")
	require.NoError(t, err)
	return dsn
}

func connect(t *testing.T, dsn string) *Handle {
	t.Helper()
	c := NewConnector(Config{Driver: "sqlite"})
	h, err := c.Connect(context.Background(), "c1", []string{dsn})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h.(*Handle)
}

func TestGetTable(t *testing.T) {
	ctx := context.Background()
	h := connect(t, newTestDB(t))
	assert.Equal(t, "c1", h.ClusterName())

	tbl, err := h.GetTable(ctx, "app", "users", true)
	require.NoError(t, err)
	require.NotNil(t, tbl)
	assert.Equal(t, "app.users.17", tbl.ID)
	assert.EqualValues(t, 1, tbl.Version)

	tbl, err = h.GetTable(ctx, "app", "missing", true)
	require.NoError(t, err)
	assert.Nil(t, tbl)
}

func TestGetTableLocalCache(t *testing.T) {
	ctx := context.Background()
	h := connect(t, newTestDB(t))

	tbl, err := h.GetTable(ctx, "app", "users", false)
	require.NoError(t, err)
	require.NotNil(t, tbl)

	_, err = h.db.Exec("UPDATE kv_tables SET table_id = 'app.users.18' WHERE name = 'users'")
	require.NoError(t, err)

	tbl, err = h.GetTable(ctx, "app", "users", false)
	require.NoError(t, err)
	assert.Equal(t, "app.users.17", tbl.ID)

	tbl, err = h.GetTable(ctx, "app", "users", true)
	require.NoError(t, err)
	assert.Equal(t, "app.users.18", tbl.ID)
}

func TestMetadataCallback(t *testing.T) {
	ctx := context.Background()
	h := connect(t, newTestDB(t))

	var fired atomic.Int32
	h.RegisterMetadataCallback(func() { fired.Add(1) })

	// The first poll only records the version.
	h.checkMetadata()
	assert.EqualValues(t, 0, fired.Load())
	h.checkMetadata()
	assert.EqualValues(t, 0, fired.Load())

	_, err := h.GetTable(ctx, "app", "users", false)
	require.NoError(t, err)
	_, err = h.db.Exec("UPDATE kv_tables SET table_id = 'app.users.18', schema_version = 2 WHERE name = 'users'")
	require.NoError(t, err)

	h.checkMetadata()
	assert.EqualValues(t, 1, fired.Load())

	// The local cache was dropped along with the change.
	tbl, err := h.GetTable(ctx, "app", "users", false)
	require.NoError(t, err)
	assert.Equal(t, "app.users.18", tbl.ID)
}

func TestHealthMetrics(t *testing.T) {
	h := connect(t, newTestDB(t))
	nodes, err := h.HealthMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "n1", nodes[0].Name)
	assert.True(t, nodes[0].Active)
	assert.Equal(t, "n2", nodes[1].Name)
	assert.False(t, nodes[1].Active)
}

func TestConnectErrors(t *testing.T) {
	c := NewConnector(Config{Driver: "sqlite"})
	_, err := c.Connect(context.Background(), "c1", nil)
	assert.ErrorContains(t, err, "no location hints")

	_, err = c.Connect(context.Background(), "c1", []string{"file:" + filepath.Join(t.TempDir(), "nodir", "x.db") + "?mode=ro"})
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	c := NewConnector(Config{User: "kv", Password: "secret"})
	assert.Equal(t, "kv:secret@tcp(db1:3306)/c1?parseTime=true", c.dsn("c1", "db1:3306"))

	c = NewConnector(Config{User: "kv", Database: "catalog"})
	assert.Equal(t, "kv@tcp(db1:3306)/catalog?parseTime=true", c.dsn("c1", "db1:3306"))
}

func TestCloseIdempotent(t *testing.T) {
	c := NewConnector(Config{Driver: "sqlite", MetadataPollInterval: 10 * time.Millisecond})
	h, err := c.Connect(context.Background(), "c1", []string{newTestDB(t)})
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

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

package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
	"kvgate.io/kvgate/go/kv/resolver"
	"kvgate.io/kvgate/go/kv/servenv"
	"kvgate.io/kvgate/go/kv/store"
	"kvgate.io/kvgate/go/kv/throttle"
)

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"app/users": {"cluster": "c1", "hints": ["db1:3306"], "initialized": true},
		"_/global": {"cluster": "c2", "initialized": true},
		"app/pending": {"status": "unavailable"}
	}`), 0o644))

	s, err := loadStatic(path)
	require.NoError(t, err)

	ctx := context.Background()
	loc, err := s.Locate(ctx, "app", "users")
	require.NoError(t, err)
	assert.Equal(t, locator.StatusOK, loc.Status)
	assert.Equal(t, "c1", loc.ClusterName)
	assert.Equal(t, []string{"db1:3306"}, loc.Hints)

	loc, err = s.Locate(ctx, "", "global")
	require.NoError(t, err)
	assert.Equal(t, "c2", loc.ClusterName)

	loc, err = s.Locate(ctx, "app", "pending")
	require.NoError(t, err)
	assert.Equal(t, locator.StatusUnavailable, loc.Status)

	loc, err = s.Locate(ctx, "app", "missing")
	require.NoError(t, err)
	assert.Equal(t, locator.StatusNotFound, loc.Status)
}

func TestLoadStaticErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `[`},
		{"bad key", `{"users": {"cluster": "c1"}}`},
		{"empty table", `{"app/": {"cluster": "c1"}}`},
		{"bad location", `{"app/users": {"hints": 7}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "f.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := loadStatic(path)
			assert.Error(t, err)
		})
	}

	_, err := loadStatic(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestBuildLocator(t *testing.T) {
	loc, err := buildLocator(&servenv.Config{Locator: "static"})
	require.NoError(t, err)
	assert.IsType(t, &locator.Static{}, loc)

	_, err = buildLocator(&servenv.Config{Locator: "http", LocatorURL: "http://locations:8080"})
	assert.NoError(t, err)

	_, err = buildLocator(&servenv.Config{Locator: "http", LocatorURL: "::bad"})
	assert.Equal(t, kverrors.InvalidArgument, kverrors.Code(err))

	_, err = buildLocator(&servenv.Config{Locator: "zookeeper"})
	assert.Equal(t, kverrors.InvalidArgument, kverrors.Code(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code kverrors.ErrorCode
		want int
	}{
		{kverrors.InvalidArgument, http.StatusBadRequest},
		{kverrors.NotFound, http.StatusNotFound},
		{kverrors.ResourceExhausted, http.StatusTooManyRequests},
		{kverrors.Unavailable, http.StatusServiceUnavailable},
		{kverrors.FailedPrecondition, http.StatusServiceUnavailable},
		{kverrors.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatus(kverrors.New(tt.code, "x")))
		})
	}
}

type stubResolver struct {
	entries map[string]*resolver.TableEntry
}

func (s *stubResolver) Resolve(_ context.Context, namespace, table string) (*resolver.TableEntry, error) {
	key, err := resolver.CacheKey(namespace, table)
	if err != nil {
		return nil, err
	}
	if e, ok := s.entries[key]; ok {
		return e, nil
	}
	return nil, kverrors.Errorf(kverrors.NotFound, "table %s not found", key)
}

func (s *stubResolver) Flush(namespace, table string) error { return nil }
func (s *stubResolver) Close()                              {}

func newResolveRouter(t *testing.T, entries map[string]*resolver.TableEntry) *mux.Router {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := throttle.DefaultConfig()
	cfg.DelayThreshold = 1
	cfg.DNRThreshold = 3
	cfg.ErrorCredit = 0
	cfg.Delay = 10 * time.Millisecond
	th, err := throttle.New(cfg, throttle.WithClock(func() time.Time { return start }))
	require.NoError(t, err)
	t.Cleanup(th.Close)

	r := mux.NewRouter()
	registerResolveRoute(r, &stubResolver{entries: entries}, th)
	return r
}

func TestResolveRoute(t *testing.T) {
	key, err := resolver.CacheKey("app", "users")
	require.NoError(t, err)
	r := newResolveRouter(t, map[string]*resolver.TableEntry{
		key: {
			Table:       &store.Table{Namespace: "app", Name: "users", ID: "42", Version: 3},
			ClusterName: "c1",
			Limits:      &locator.TableLimits{ReadUnits: 100},
		},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tables/app/users", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got resolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "app:users", got.Table)
	assert.Equal(t, "c1", got.Cluster)
	assert.Equal(t, "42", got.TableID)
	assert.EqualValues(t, 3, got.Version)
	assert.EqualValues(t, 100, got.Limits.ReadUnits)
}

func TestResolveRouteThrottlesErrors(t *testing.T) {
	r := newResolveRouter(t, nil)
	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/tables/_/missing", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		r.ServeHTTP(rec, req)
		return rec
	}

	// Within budget.
	assert.Equal(t, http.StatusNotFound, get().Code)

	// Over budget: answered after the delay.
	for i := 0; i < 2; i++ {
		start := time.Now()
		assert.Equal(t, http.StatusNotFound, get().Code)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	}

	// Past the drop threshold: the handler aborts without a response.
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() { get() })
}

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

package servenv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvgate.io/kvgate/go/kv/kverrors"
)

func TestHealthEndpoint(t *testing.T) {
	serving := true
	r := NewDebugRouter(DebugHandlers{
		Health: func(context.Context) (string, []string, bool) {
			if serving {
				return "YELLOW", []string{"cluster c1: 1 of 2 nodes inactive"}, true
			}
			return "RED", []string{"cluster c1 is unreachable"}, false
		},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "YELLOW", resp.Status)
	assert.Equal(t, InstanceID(), resp.Instance)
	assert.Len(t, resp.Reasons, 1)

	serving = false
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFlushEndpoint(t *testing.T) {
	var flushed []string
	all := 0
	r := NewDebugRouter(DebugHandlers{
		Flush: func(namespace, table string) error {
			if table == "bad" {
				return kverrors.New(kverrors.InvalidArgument, "bad table")
			}
			flushed = append(flushed, namespace+":"+table)
			return nil
		},
		FlushAll: func() { all++ },
	})

	tests := []struct {
		target string
		want   int
	}{
		{"/debug/cache/flush?namespace=app&table=users", http.StatusNoContent},
		{"/debug/cache/flush", http.StatusNoContent},
		{"/debug/cache/flush?table=bad", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.target, nil))
		assert.Equal(t, tt.want, rec.Code, tt.target)
	}
	assert.Equal(t, []string{"app:users"}, flushed)
	assert.Equal(t, 1, all)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "kvgate_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	r := NewDebugRouter(DebugHandlers{Gatherer: reg})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kvgate_test_total 1")
}

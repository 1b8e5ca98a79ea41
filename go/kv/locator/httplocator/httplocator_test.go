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

package httplocator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestLocate(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/locations/app/users":
			w.Write([]byte(`{"status":"ok","cluster":"c1","hints":["db1:3306"],"initialized":true}`))
		case "/v1/locations/_/events":
			w.Write([]byte(`{"status":"unavailable"}`))
		case "/v1/locations/app/bad":
			w.WriteHeader(http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	})
	l, err := New(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	ctx := context.Background()

	loc, err := l.Locate(ctx, "app", "users")
	require.NoError(t, err)
	assert.Equal(t, &locator.Location{Status: locator.StatusOK, ClusterName: "c1", Hints: []string{"db1:3306"}, Initialized: true}, loc)

	loc, err = l.Locate(ctx, "", "events")
	require.NoError(t, err)
	assert.Equal(t, locator.StatusUnavailable, loc.Status)

	_, err = l.Locate(ctx, "app", "missing")
	assert.Equal(t, kverrors.NotFound, kverrors.Code(err))

	_, err = l.Locate(ctx, "app", "bad")
	assert.Equal(t, kverrors.Internal, kverrors.Code(err))
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	l, err := New(Config{BaseURL: srv.URL, TripAfter: 3, OpenTimeout: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	for range 3 {
		_, err := l.Locate(ctx, "app", "users")
		assert.Equal(t, kverrors.Unavailable, kverrors.Code(err))
	}
	assert.Equal(t, gobreaker.StateOpen, l.State())

	_, err = l.Locate(ctx, "app", "users")
	assert.Equal(t, kverrors.Unavailable, kverrors.Code(err))
	assert.True(t, kverrors.IsRetryable(err))
	assert.EqualValues(t, 3, hits.Load())
}

func TestCallerCancellationDoesNotTrip(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	l, err := New(Config{BaseURL: srv.URL, TripAfter: 2, OpenTimeout: time.Hour})
	require.NoError(t, err)

	for range 3 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := l.Locate(ctx, "app", "users")
		cancel()
		assert.Equal(t, kverrors.Unavailable, kverrors.Code(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	for range 3 {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := l.Locate(ctx, "app", "users")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, l.State())
}

func TestNotFoundDoesNotTrip(t *testing.T) {
	srv := newServer(t, http.NotFound)
	l, err := New(Config{BaseURL: srv.URL, TripAfter: 2})
	require.NoError(t, err)

	for range 5 {
		_, err := l.Locate(context.Background(), "app", "users")
		assert.Equal(t, kverrors.NotFound, kverrors.Code(err))
	}
	assert.Equal(t, gobreaker.StateClosed, l.State())
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	l, err := New(Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = l.Locate(context.Background(), "app", "users")
	assert.Equal(t, kverrors.Unavailable, kverrors.Code(err))
}

func TestNewValidatesURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "/relative"} {
		_, err := New(Config{BaseURL: u})
		assert.Equal(t, kverrors.InvalidArgument, kverrors.Code(err), u)
	}
}

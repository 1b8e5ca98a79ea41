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

package consullocator

import (
	"context"
	"errors"
	"testing"

	consul "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvgate.io/kvgate/go/kv/kverrors"
)

type fakeKV struct {
	data map[string]string
	err  error
	ctxs int
}

func (f *fakeKV) Get(key string, q *consul.QueryOptions) (*consul.KVPair, *consul.QueryMeta, error) {
	if q.Context() != nil {
		f.ctxs++
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, &consul.QueryMeta{}, nil
	}
	return &consul.KVPair{Key: key, Value: []byte(v)}, &consul.QueryMeta{}, nil
}

func TestLocate(t *testing.T) {
	kv := &fakeKV{data: map[string]string{
		"kvgate/app/users": `{"cluster":"c1","hints":["db1:3306"],"limits":{"read_units":10},"initialized":true}`,
		"kvgate/_/events":  `{"status":"unavailable"}`,
	}}
	l := NewWithKV(kv, "/kvgate/")
	ctx := context.Background()

	loc, err := l.Locate(ctx, "app", "users")
	require.NoError(t, err)
	assert.Equal(t, "c1", loc.ClusterName)
	require.NotNil(t, loc.Limits)
	assert.EqualValues(t, 10, loc.Limits.ReadUnits)

	loc, err = l.Locate(ctx, "", "events")
	require.NoError(t, err)
	assert.EqualValues(t, "unavailable", loc.Status)

	_, err = l.Locate(ctx, "app", "missing")
	assert.Equal(t, kverrors.NotFound, kverrors.Code(err))
	assert.Equal(t, 3, kv.ctxs)
}

func TestLocateStoreError(t *testing.T) {
	l := NewWithKV(&fakeKV{err: errors.New("connection refused")}, "kvgate")
	_, err := l.Locate(context.Background(), "app", "users")
	assert.Equal(t, kverrors.Unavailable, kverrors.Code(err))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "app/users", NewWithKV(nil, "").Key("app", "users"))
	assert.Equal(t, "a/b/_/users", NewWithKV(nil, "a/b").Key("", "users"))
}

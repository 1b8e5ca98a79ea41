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

package etcdlocator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
)

type fakeKV struct {
	clientv3.KV
	data map[string]string
	err  error
	keys []string
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	resp := &clientv3.GetResponse{}
	if v, ok := f.data[key]; ok {
		resp.Kvs = []*mvccpb.KeyValue{{Key: []byte(key), Value: []byte(v)}}
	}
	return resp, nil
}

func TestLocate(t *testing.T) {
	kv := &fakeKV{data: map[string]string{
		"/kvgate/locations/app/users": `{"status":"ok","cluster":"c1","hints":["db1:3306"],"multi_region":true,"initialized":true}`,
		"/kvgate/locations/_/events":  `{"status":"not_found"}`,
		"/kvgate/locations/app/junk":  `not json`,
	}}
	l := NewWithKV(kv, "kvgate/locations")
	ctx := context.Background()

	loc, err := l.Locate(ctx, "app", "users")
	require.NoError(t, err)
	assert.Equal(t, "c1", loc.ClusterName)
	assert.True(t, loc.MultiRegion)

	loc, err = l.Locate(ctx, "", "events")
	require.NoError(t, err)
	assert.Equal(t, locator.StatusNotFound, loc.Status)

	_, err = l.Locate(ctx, "app", "missing")
	assert.Equal(t, kverrors.NotFound, kverrors.Code(err))

	_, err = l.Locate(ctx, "app", "junk")
	assert.Equal(t, kverrors.Internal, kverrors.Code(err))

	assert.Equal(t, []string{
		"/kvgate/locations/app/users",
		"/kvgate/locations/_/events",
		"/kvgate/locations/app/missing",
		"/kvgate/locations/app/junk",
	}, kv.keys)
	assert.NoError(t, l.Close())
}

func TestLocateStoreError(t *testing.T) {
	l := NewWithKV(&fakeKV{err: errors.New("etcdserver: request timed out")}, "p")
	_, err := l.Locate(context.Background(), "app", "users")
	assert.Equal(t, kverrors.Unavailable, kverrors.Code(err))
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := New(Config{})
	assert.Equal(t, kverrors.InvalidArgument, kverrors.Code(err))
}

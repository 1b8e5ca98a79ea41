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

// Package consullocator implements locator.Locator over the Consul KV
// store. The location of a table is stored as JSON under
// {prefix}/{namespace}/{table}.
package consullocator

import (
	"context"
	"path"
	"strings"
	"time"

	consul "github.com/hashicorp/consul/api"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
)

// KVClient is the subset of the Consul KV API the locator reads through.
type KVClient interface {
	Get(key string, q *consul.QueryOptions) (*consul.KVPair, *consul.QueryMeta, error)
}

// Config configures a Locator.
type Config struct {
	// Address of the Consul agent. Empty uses the client default.
	Address string
	Prefix  string
	Token   string
	// MaxAge lets the agent answer from its cache when set.
	MaxAge time.Duration
}

// Locator is a locator.Locator backed by Consul KV.
type Locator struct {
	kv     KVClient
	prefix string
	qopts  consul.QueryOptions
}

var _ locator.Locator = (*Locator)(nil)

// New returns a Locator talking to the Consul agent in cfg.
func New(cfg Config) (*Locator, error) {
	ccfg := consul.DefaultConfig()
	if cfg.Address != "" {
		ccfg.Address = cfg.Address
	}
	ccfg.Token = cfg.Token
	client, err := consul.NewClient(ccfg)
	if err != nil {
		return nil, kverrors.Errorf(kverrors.InvalidArgument, "consul locator: %w", err)
	}
	l := NewWithKV(client.KV(), cfg.Prefix)
	if cfg.MaxAge > 0 {
		l.qopts.UseCache = true
		l.qopts.MaxAge = cfg.MaxAge
	}
	return l, nil
}

// NewWithKV returns a Locator reading through kv.
func NewWithKV(kv KVClient, prefix string) *Locator {
	return &Locator{
		kv:     kv,
		prefix: strings.Trim(prefix, "/"),
		qopts:  consul.QueryOptions{RequireConsistent: false, AllowStale: true},
	}
}

// Key returns the Consul key holding the location of a table. Consul
// keys carry no leading slash.
func (l *Locator) Key(namespace, tableID string) string {
	return strings.TrimPrefix(path.Join(l.prefix, locator.PathElement(namespace), tableID), "/")
}

// Locate implements locator.Locator.
func (l *Locator) Locate(ctx context.Context, namespace, tableID string) (*locator.Location, error) {
	key := l.Key(namespace, tableID)
	qopts := l.qopts
	pair, _, err := l.kv.Get(key, qopts.WithContext(ctx))
	if err != nil {
		return nil, kverrors.Errorf(kverrors.Unavailable, "consul locator: get %s: %w", key, err)
	}
	if pair == nil {
		return nil, kverrors.Errorf(kverrors.NotFound, "consul locator: no location at %s", key)
	}
	return locator.Decode(pair.Value)
}

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

// Package etcdlocator implements locator.Locator over an etcd v3 key
// space. The location of a table is stored as JSON under
// {prefix}/{namespace}/{table}.
package etcdlocator

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"path"
	"time"

	"go.etcd.io/etcd/client/pkg/v3/tlsutil"
	clientv3 "go.etcd.io/etcd/client/v3"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/locator"
)

// Config configures a Locator.
type Config struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration

	// TLS is enabled when both CertPath and KeyPath are set.
	CertPath string
	KeyPath  string
	CAPath   string
}

// Locator is a locator.Locator backed by etcd.
type Locator struct {
	kv     clientv3.KV
	cli    *clientv3.Client
	prefix string
}

var _ locator.Locator = (*Locator)(nil)

func newTLSConfig(certPath, keyPath, caPath string) (*tls.Config, error) {
	if certPath == "" || keyPath == "" {
		return nil, nil
	}
	cert, err := tlsutil.NewCert(certPath, keyPath, nil)
	if err != nil {
		return nil, err
	}
	var cp *x509.CertPool
	if caPath != "" {
		if cp, err = tlsutil.NewCertPool([]string{caPath}); err != nil {
			return nil, err
		}
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		RootCAs:      cp,
		Certificates: []tls.Certificate{*cert},
	}, nil
}

// New dials etcd and returns a Locator that owns the client.
func New(cfg Config) (*Locator, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, kverrors.New(kverrors.InvalidArgument, "etcd locator: no endpoints")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	tlscfg, err := newTLSConfig(cfg.CertPath, cfg.KeyPath, cfg.CAPath)
	if err != nil {
		return nil, kverrors.Errorf(kverrors.InvalidArgument, "etcd locator: %w", err)
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		TLS:         tlscfg,
	})
	if err != nil {
		return nil, kverrors.Errorf(kverrors.Unavailable, "etcd locator: %w", err)
	}
	l := NewWithKV(cli, cfg.Prefix)
	l.cli = cli
	return l, nil
}

// NewWithKV returns a Locator reading through kv.
func NewWithKV(kv clientv3.KV, prefix string) *Locator {
	return &Locator{kv: kv, prefix: prefix}
}

// Key returns the etcd key holding the location of a table.
func (l *Locator) Key(namespace, tableID string) string {
	return path.Join("/", l.prefix, locator.PathElement(namespace), tableID)
}

// Locate implements locator.Locator.
func (l *Locator) Locate(ctx context.Context, namespace, tableID string) (*locator.Location, error) {
	key := l.Key(namespace, tableID)
	resp, err := l.kv.Get(ctx, key)
	if err != nil {
		return nil, kverrors.Errorf(kverrors.Unavailable, "etcd locator: get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, kverrors.Errorf(kverrors.NotFound, "etcd locator: no location at %s", key)
	}
	return locator.Decode(resp.Kvs[0].Value)
}

// Close releases the etcd client if the Locator created it.
func (l *Locator) Close() error {
	if l.cli == nil {
		return nil
	}
	return l.cli.Close()
}

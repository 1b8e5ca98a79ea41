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

// Package registry keeps one backend connection per cluster. Connections
// are created on first use under a per-cluster lock whose wait is bounded,
// so a cluster that is slow to connect does not hold up every request
// addressed to it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/log"
	"kvgate.io/kvgate/go/kv/store"
)

// DefaultLockTimeout bounds the wait for a cluster's connect lock.
const DefaultLockTimeout = 2 * time.Second

// Registry maps cluster names to connected store handles.
type Registry struct {
	connector   store.Connector
	lockTimeout time.Duration

	// connected holds a store.Handle per cluster name.
	connected sync.Map
	// locks holds a *semaphore.Weighted per cluster name.
	locks sync.Map
	// unreachable holds the last connect error per cluster name.
	unreachable sync.Map

	mu        sync.RWMutex
	listeners []func(cluster string)
	onConnect []func(cluster string, h store.Handle)

	closed atomic.Bool
}

// New returns a Registry that connects through connector. A lockTimeout of
// zero uses DefaultLockTimeout.
func New(connector store.Connector, lockTimeout time.Duration) *Registry {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Registry{
		connector:   connector,
		lockTimeout: lockTimeout,
	}
}

// AddMetadataListener registers fn to be called with the cluster name
// whenever a connected cluster reports a table metadata change.
func (r *Registry) AddMetadataListener(fn func(cluster string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// OnConnect registers fn to be called after a new cluster handle is
// installed.
func (r *Registry) OnConnect(fn func(cluster string, h store.Handle)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = append(r.onConnect, fn)
}

func (r *Registry) lockFor(clusterName string) *semaphore.Weighted {
	if l, ok := r.locks.Load(clusterName); ok {
		return l.(*semaphore.Weighted)
	}
	l, _ := r.locks.LoadOrStore(clusterName, semaphore.NewWeighted(1))
	return l.(*semaphore.Weighted)
}

// EnsureConnected returns the handle for clusterName, connecting with
// hints if there is none yet. Only one caller connects a given cluster at
// a time; others wait up to the lock timeout and then fail with a
// retryable ResourceExhausted error. A failed connect marks the cluster
// unreachable and returns NotFound wrapping the cause, unless ctx ended
// first: that is the caller's failure, reported as Unavailable.
func (r *Registry) EnsureConnected(ctx context.Context, clusterName string, hints []string) (store.Handle, error) {
	if h, ok := r.connected.Load(clusterName); ok {
		return h.(store.Handle), nil
	}
	if r.closed.Load() {
		return nil, kverrors.New(kverrors.FailedPrecondition, "connection registry is closed")
	}

	lock := r.lockFor(clusterName)
	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	err := lock.Acquire(lockCtx, 1)
	cancel()
	if err == nil {
		defer lock.Release(1)
	}

	// Someone else may have connected while we waited.
	if h, ok := r.connected.Load(clusterName); ok {
		return h.(store.Handle), nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, kverrors.Errorf(kverrors.Unavailable, "cluster %s: %w", clusterName, ctxErr)
		}
		return nil, kverrors.Errorf(kverrors.ResourceExhausted, "cluster %s is busy: connect in progress", clusterName)
	}

	return r.connect(ctx, clusterName, hints)
}

// connect must be called with the cluster's lock held.
func (r *Registry) connect(ctx context.Context, clusterName string, hints []string) (store.Handle, error) {
	start := time.Now()
	h, err := r.connector.Connect(ctx, clusterName, hints)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, kverrors.Errorf(kverrors.Unavailable, "connecting to cluster %s: %w", clusterName, ctxErr)
		}
		r.unreachable.Store(clusterName, err)
		log.Warningf("unable to connect to cluster %s (hints %v): %v", clusterName, hints, err)
		return nil, kverrors.Errorf(kverrors.NotFound, "unable to connect to cluster %s: %w", clusterName, err)
	}

	if actual, loaded := r.connected.LoadOrStore(clusterName, h); loaded {
		log.Infof("cluster %s already connected, closing duplicate handle", clusterName)
		if err := h.Close(); err != nil {
			log.Warningf("closing duplicate handle for cluster %s: %v", clusterName, err)
		}
		return actual.(store.Handle), nil
	}
	// Close may have emptied the map before the store above.
	if r.closed.Load() {
		if r.connected.CompareAndDelete(clusterName, h) {
			if err := h.Close(); err != nil {
				log.Warningf("closing handle for cluster %s: %v", clusterName, err)
			}
		}
		return nil, kverrors.New(kverrors.FailedPrecondition, "connection registry is closed")
	}
	r.unreachable.Delete(clusterName)
	log.Infof("connected to cluster %s in %v", clusterName, time.Since(start))

	h.RegisterMetadataCallback(func() {
		r.notifyMetadataChange(clusterName)
	})

	r.mu.RLock()
	hooks := append([]func(string, store.Handle){}, r.onConnect...)
	r.mu.RUnlock()
	for _, hook := range hooks {
		hook(clusterName, h)
	}
	return h, nil
}

func (r *Registry) notifyMetadataChange(clusterName string) {
	log.Infof("table metadata changed on cluster %s", clusterName)
	r.mu.RLock()
	listeners := append([]func(string){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(clusterName)
	}
}

// GetByName returns the handle for clusterName, or nil if it is not
// connected.
func (r *Registry) GetByName(clusterName string) store.Handle {
	if h, ok := r.connected.Load(clusterName); ok {
		return h.(store.Handle)
	}
	return nil
}

// Clusters returns the names of the connected clusters, sorted.
func (r *Registry) Clusters() []string {
	var names []string
	r.connected.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Unreachable returns the names of the clusters whose last connect
// attempt failed, sorted.
func (r *Registry) Unreachable() []string {
	var names []string
	r.unreachable.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Close closes every connected handle. Later connects fail.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	r.connected.Range(func(k, _ any) bool {
		v, ok := r.connected.LoadAndDelete(k)
		if !ok {
			return true
		}
		if err := v.(store.Handle).Close(); err != nil {
			errs = append(errs, fmt.Errorf("cluster %s: %w", k, err))
		}
		return true
	})
	return errors.Join(errs...)
}

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

// Package servenv holds the process environment of kvgate: configuration,
// lifecycle hooks, the debug HTTP server and the shutdown-file watcher.
package servenv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"kvgate.io/kvgate/go/kv/log"
)

var instanceID = uuid.NewString()

// InstanceID identifies this process in logs and on the health endpoint.
func InstanceID() string { return instanceID }

type hooks struct {
	mu    sync.Mutex
	funcs []func()
}

func (h *hooks) Add(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, f)
}

// Fire runs every hook in parallel and waits for them.
func (h *hooks) Fire() {
	h.mu.Lock()
	funcs := append([]func(){}, h.funcs...)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, f := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	wg.Wait()
}

var (
	onRunHooks   hooks
	onTermHooks  hooks
	onCloseHooks hooks
)

// OnRun registers f to be run when Run starts.
func OnRun(f func()) { onRunHooks.Add(f) }

// OnTerm registers f to be run when shutdown begins, before the lameduck
// period. All hooks are run in parallel.
func OnTerm(f func()) { onTermHooks.Add(f) }

// OnClose registers f to be run at the end of the process lifecycle, after
// the lameduck period. All hooks are run in parallel.
func OnClose(f func()) { onCloseHooks.Add(f) }

// Run serves handler on port until ctx is done, then enters lameduck mode
// for the given period and shuts down.
func Run(ctx context.Context, port int, handler http.Handler, lameduck time.Duration) error {
	onRunHooks.Fire()

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		err := srv.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()
	log.Infof("kvgate %s serving on %v", instanceID, l.Addr())

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		onCloseHooks.Fire()
		return err
	}

	log.Info("Entering lameduck mode")
	onTermHooks.Fire()
	time.Sleep(lameduck)

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	onCloseHooks.Fire()
	return err
}

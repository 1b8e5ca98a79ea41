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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kvgate.io/kvgate/go/kv/log"
)

// ShutdownWatcher reports when a shutdown file appears. It listens for file
// events on the file's directory and also polls, so it works where file
// events are unavailable.
type ShutdownWatcher struct {
	path string
	poll time.Duration

	done     chan struct{}
	once     sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewShutdownWatcher returns a watcher for path, polling every poll.
func NewShutdownWatcher(path string, poll time.Duration) *ShutdownWatcher {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &ShutdownWatcher{
		path: path,
		poll: poll,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
}

// Done is closed once the shutdown file exists.
func (w *ShutdownWatcher) Done() <-chan struct{} { return w.done }

func (w *ShutdownWatcher) exists() bool {
	_, err := os.Stat(w.path)
	return err == nil
}

func (w *ShutdownWatcher) trigger() {
	w.once.Do(func() {
		log.Infof("shutdown file %s found", w.path)
		close(w.done)
	})
}

// Start begins watching. It returns immediately.
func (w *ShutdownWatcher) Start() {
	if w.exists() {
		w.trigger()
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(filepath.Dir(w.path)); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		log.Warningf("cannot watch %s, polling only: %v", filepath.Dir(w.path), err)
		watcher = nil
	}

	w.wg.Add(1)
	go w.run(watcher)
}

func (w *ShutdownWatcher) run(watcher *fsnotify.Watcher) {
	defer w.wg.Done()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}
	tick := time.NewTicker(w.poll)
	defer tick.Stop()

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(w.path) && ev.Has(fsnotify.Create|fsnotify.Write) && w.exists() {
				w.trigger()
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warningf("watching %s: %v", w.path, err)
		case <-tick.C:
			if w.exists() {
				w.trigger()
				return
			}
		}
	}
}

// Stop ends the watch without triggering.
func (w *ShutdownWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// Context returns a context canceled when parent is done or the shutdown
// file appears.
func (w *ShutdownWatcher) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-w.done:
			cancel(errShutdownFile)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

var errShutdownFile = errors.New("shutdown file present")

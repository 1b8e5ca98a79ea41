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

// Package workqueue provides a fixed-size pool of workers consuming a FIFO
// queue of tasks. Submitting wakes a sleeping worker only when the busy
// workers are not expected to keep up, which keeps lock hand-offs rare
// under steady load.
package workqueue

import (
	"errors"
	"runtime/debug"
	"sync"

	"github.com/gammazero/deque"

	"kvgate.io/kvgate/go/kv/kverrors"
	"kvgate.io/kvgate/go/kv/log"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("work queue is closed")

// Task is a unit of work.
type Task func()

// Queue is a pool of workers over a FIFO of tasks.
type Queue struct {
	mu sync.Mutex
	// work is signaled when a task is queued or the queue shuts down.
	work *sync.Cond
	// drained is broadcast when a worker takes the last queued task.
	drained *sync.Cond

	tasks    deque.Deque[Task]
	size     int
	active   int
	lastSize int
	running  bool

	wg sync.WaitGroup
}

// New starts a Queue with size workers.
func New(size int) (*Queue, error) {
	if size <= 0 {
		return nil, kverrors.Errorf(kverrors.InvalidArgument, "work queue size must be positive, got %d", size)
	}
	q := &Queue{size: size, running: true}
	q.work = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)

	q.wg.Add(size)
	for range size {
		go q.worker()
	}
	return q, nil
}

// Submit queues task for execution.
func (q *Queue) Submit(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return ErrClosed
	}

	q.tasks.PushBack(task)
	n := q.tasks.Len()
	if (q.active == 0 || n > q.lastSize) && q.active < n && q.active < q.size {
		q.work.Signal()
	}
	q.lastSize = n
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for q.running && q.tasks.Len() == 0 {
			q.work.Wait()
		}
		if q.tasks.Len() == 0 {
			return
		}

		task := q.tasks.PopFront()
		q.lastSize = q.tasks.Len()
		if q.lastSize == 0 {
			q.drained.Broadcast()
		}
		q.active++
		q.mu.Unlock()

		q.run(task)

		q.mu.Lock()
		q.active--
	}
}

func (q *Queue) run(task Task) {
	defer func() {
		if x := recover(); x != nil {
			log.Errorf("work queue task panicked: %v\n%s", x, debug.Stack())
		}
	}()
	task()
}

// Shutdown stops the queue and waits for the workers to exit. A graceful
// shutdown first lets the workers take every queued task; otherwise queued
// tasks are dropped. Tasks already running always complete.
func (q *Queue) Shutdown(graceful bool) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	if graceful {
		for q.tasks.Len() > 0 {
			q.work.Broadcast()
			q.drained.Wait()
		}
	}
	q.running = false
	q.tasks.Clear()
	q.lastSize = 0
	q.work.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
}

// Pending returns the number of queued tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Active returns the number of workers running a task.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Size returns the number of workers.
func (q *Queue) Size() int { return q.size }

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

package workqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kvgate.io/kvgate/go/kv/kverrors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewValidatesSize(t *testing.T) {
	_, err := New(0)
	assert.Equal(t, kverrors.InvalidArgument, kverrors.Code(err))
}

func TestRunsEveryTask(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)
	defer q.Shutdown(false)

	const n = 1000
	var done sync.WaitGroup
	var count atomic.Int32
	done.Add(n)
	for range n {
		require.NoError(t, q.Submit(func() {
			defer done.Done()
			count.Add(1)
		}))
	}
	done.Wait()
	assert.EqualValues(t, n, count.Load())
}

func TestFIFOWithOneWorker(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	for i := range 20 {
		require.NoError(t, q.Submit(func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		}))
	}
	q.Shutdown(true)

	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestGracefulShutdownDrains(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)

	var count atomic.Int32
	for range 50 {
		require.NoError(t, q.Submit(func() {
			time.Sleep(time.Millisecond)
			count.Add(1)
		}))
	}
	q.Shutdown(true)
	assert.EqualValues(t, 50, count.Load())
	assert.Equal(t, ErrClosed, q.Submit(func() {}))

	// A second shutdown is a no-op.
	q.Shutdown(true)
}

func TestHardShutdownDropsQueued(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, q.Submit(func() {
		close(started)
		<-release
		ran.Add(1)
	}))
	<-started
	for range 10 {
		require.NoError(t, q.Submit(func() { ran.Add(1) }))
	}
	assert.Equal(t, 10, q.Pending())
	assert.Equal(t, 1, q.Active())

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	q.Shutdown(false)

	// The running task completed; the queued ones never ran.
	assert.EqualValues(t, 1, ran.Load())
	assert.Equal(t, 0, q.Pending())
}

func TestNoWakeWhileBusyWorkerKeepsUp(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)
	defer q.Shutdown(false)
	// Let every worker park on the condition variable.
	time.Sleep(10 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, q.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// One busy worker and one queued task: nobody else is woken.
	require.NoError(t, q.Submit(func() {}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, q.Active())
	assert.Equal(t, 1, q.Pending())

	// The queue grew past what the busy worker can take: wake one.
	blocked := make(chan struct{})
	require.NoError(t, q.Submit(func() { <-blocked }))
	assert.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, time.Millisecond)

	close(release)
	close(blocked)
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	defer q.Shutdown(false)

	require.NoError(t, q.Submit(func() { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, q.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

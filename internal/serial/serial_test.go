// Copyright (c) 2026 The Xconn Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serial

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectingPool struct{ calls int32 }

func (p *rejectingPool) Submit(func()) error {
	atomic.AddInt32(&p.calls, 1)
	return errors.New("overload")
}

func TestMultiThreadedOrderAndExclusion(t *testing.T) {
	pool, err := ants.NewPool(8, ants.WithNonblocking(true))
	require.NoError(t, err)
	defer pool.Release()

	q := New(pool, nil)
	const n = 2000
	var (
		active  int32
		overlap int32
		mu      sync.Mutex
		order   []int
		wg      sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		q.PerformMultiThreaded(func() {
			defer wg.Done()
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
		})
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
	require.Len(t, order, n)
	for i, v := range order {
		require.Equal(t, i, v)
	}
	assert.Eventually(t, func() bool { return !q.IsRunning() }, time.Second, time.Millisecond)
	assert.Zero(t, q.Len())
}

func TestNonThreadedRunsInline(t *testing.T) {
	q := New(nil, nil)
	var ran []string
	q.PerformNonThreaded(func() {
		ran = append(ran, "outer")
		// A task performed from inside a running task waits its turn.
		q.PerformNonThreaded(func() { ran = append(ran, "inner") })
		ran = append(ran, "outer-end")
	})
	assert.Equal(t, []string{"outer", "outer-end", "inner"}, ran)
	assert.False(t, q.IsRunning())
}

func TestRejectedSubmitFallsBackToGoroutine(t *testing.T) {
	pool := &rejectingPool{}
	q := New(pool, nil)
	done := make(chan struct{})
	q.PerformMultiThreaded(func() { close(done) })
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not run")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&pool.calls))
}

func TestPanicDoesNotStallQueue(t *testing.T) {
	q := New(nil, nil)
	var second bool
	q.PerformNonThreaded(func() { panic("boom") })
	q.PerformNonThreaded(func() { second = true })
	assert.True(t, second)
}

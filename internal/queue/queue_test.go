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

package queue_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xconn-dev/xconn/internal/queue"
)

func TestLockFreeQueue_FIFO(t *testing.T) {
	q := queue.NewLockFreeQueue()
	require.True(t, q.IsEmpty())
	require.Nil(t, q.Dequeue())

	for i := 0; i < 10; i++ {
		task := queue.GetTask()
		task.Param = i
		q.Enqueue(task)
	}
	assert.EqualValues(t, 10, q.Length())
	for i := 0; i < 10; i++ {
		task := q.Dequeue()
		require.NotNil(t, task)
		assert.Equal(t, i, task.Param)
		queue.PutTask(task)
	}
	assert.True(t, q.IsEmpty())
}

func TestLockFreeQueue_Concurrent(t *testing.T) {
	const (
		producers = 4
		taskNum   = 10000
	)
	q := queue.NewLockFreeQueue()
	var (
		wg      sync.WaitGroup
		counter int32
		sum     int64
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= taskNum; i++ {
				q.Enqueue(&queue.Task{Param: i})
			}
		}()
	}
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.LoadInt32(&counter) < producers*taskNum {
				if task := q.Dequeue(); task != nil {
					atomic.AddInt32(&counter, 1)
					atomic.AddInt64(&sum, int64(task.Param.(int)))
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, producers*taskNum, counter)
	assert.EqualValues(t, producers*taskNum*(taskNum+1)/2, sum)
	assert.True(t, q.IsEmpty())
}

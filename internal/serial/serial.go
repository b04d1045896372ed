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

// Package serial runs the callbacks of one connection one after another,
// either inline on the calling goroutine or on a worker pool.
package serial

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/xconn-dev/xconn/pkg/logging"
)

// Submitter hands a function to a worker pool, *ants.Pool satisfies it.
type Submitter interface {
	Submit(task func()) error
}

// TaskQueue serializes tasks, at most one task of a queue runs at any time
// and tasks run in the order they were performed.
type TaskQueue struct {
	mu      sync.Mutex
	tasks   *queue.Queue
	running bool
	pool    Submitter
	logger  logging.Logger
}

// New creates a TaskQueue submitting its drains to pool,
// a nil pool makes every drain run on its own goroutine.
func New(pool Submitter, logger logging.Logger) *TaskQueue {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &TaskQueue{tasks: queue.New(), pool: pool, logger: logger}
}

// PerformNonThreaded runs task on the calling goroutine when the queue is idle,
// together with anything queued while it ran. A busy queue just takes the task,
// the goroutine currently draining will run it.
func (q *TaskQueue) PerformNonThreaded(task func()) {
	q.mu.Lock()
	q.tasks.Add(task)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	q.drain()
}

// PerformMultiThreaded queues task and, if the queue was idle, schedules a drain on the pool.
func (q *TaskQueue) PerformMultiThreaded(task func()) {
	q.mu.Lock()
	q.tasks.Add(task)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	if q.pool != nil {
		err := q.pool.Submit(q.drain)
		if err == nil {
			return
		}
		q.logger.Debugf("worker pool rejected task, falling back to a goroutine: %v", err)
	}
	go q.drain()
}

// Len returns the number of tasks waiting to run.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Length()
}

// IsRunning reports whether a goroutine is draining the queue.
func (q *TaskQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *TaskQueue) drain() {
	for {
		q.mu.Lock()
		if q.tasks.Length() == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.tasks.Remove().(func())
		q.mu.Unlock()
		q.run(task)
	}
}

func (q *TaskQueue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorf("panic in serialized task: %v", r)
		}
	}()
	task()
}

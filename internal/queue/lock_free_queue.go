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

package queue

import "sync/atomic"

// lockFreeQueue is the non-blocking concurrent queue of Maged M. Michael and
// Michael L. Scott (1996): https://dl.acm.org/doi/10.1145/248052.248106
// It is safe for multiple producers and consumers.
type lockFreeQueue struct {
	head   atomic.Pointer[node]
	tail   atomic.Pointer[node]
	length atomic.Int32
}

type node struct {
	task *Task
	next atomic.Pointer[node]
}

// NewLockFreeQueue instantiates and returns a lockFreeQueue.
func NewLockFreeQueue() AsyncTaskQueue {
	q := new(lockFreeQueue)
	sentinel := new(node)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Enqueue puts task at the tail of the queue.
func (q *lockFreeQueue) Enqueue(task *Task) {
	n := &node{task: task}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// tail is falling behind, help it forward.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)
			return
		}
	}
}

// Dequeue removes and returns the task at the head of the queue, nil if the queue is empty.
func (q *lockFreeQueue) Dequeue() *Task {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return nil
			}
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		// Read the task before the CAS, another dequeue may recycle next afterwards.
		task := next.task
		if q.head.CompareAndSwap(head, next) {
			next.task = nil
			q.length.Add(-1)
			return task
		}
	}
}

// IsEmpty indicates whether this queue is empty or not.
func (q *lockFreeQueue) IsEmpty() bool {
	return q.length.Load() == 0
}

// Length returns the number of tasks in the queue.
func (q *lockFreeQueue) Length() int32 {
	return q.length.Load()
}

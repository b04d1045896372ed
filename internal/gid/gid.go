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

// Package gid identifies the calling goroutine and keeps goroutine-scoped marks.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

var (
	prefix   = []byte("goroutine ")
	stackBuf = sync.Pool{New: func() any { b := make([]byte, 64); return &b }}
)

// Current returns the id of the calling goroutine, as printed in its stack trace.
func Current() uint64 {
	bp := stackBuf.Get().(*[]byte)
	defer stackBuf.Put(bp)
	b := *bp
	b = bytes.TrimPrefix(b[:runtime.Stack(b, false)], prefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		panic("gid: cannot parse goroutine id from " + strconv.Quote(string(b)))
	}
	return id
}

// Marks records goroutines inside a marked section, the zero value is ready to use.
// Marking nests.
type Marks struct {
	n  atomic.Int32
	mu sync.Mutex
	m  map[uint64]int
}

// Enter marks the calling goroutine until the returned function is called.
func (s *Marks) Enter() (leave func()) {
	id := Current()
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[uint64]int)
	}
	s.m[id]++
	s.mu.Unlock()
	s.n.Add(1)
	return func() {
		s.n.Add(-1)
		s.mu.Lock()
		if s.m[id]--; s.m[id] == 0 {
			delete(s.m, id)
		}
		s.mu.Unlock()
	}
}

// Marked reports whether the calling goroutine is inside a marked section.
func (s *Marks) Marked() bool {
	if s.n.Load() == 0 {
		return false
	}
	id := Current()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[id] > 0
}

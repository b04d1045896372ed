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

// Package byteslice pools byte slices in power-of-two size classes from 64 bytes to 64 MiB.
// Larger requests are allocated and dropped on Put.
package byteslice

import (
	"math/bits"
	"sync"
)

const (
	minShift = 6
	maxShift = 26
	classes  = maxShift - minShift + 1
)

// Pool keeps one sync.Pool per size class.
type Pool struct {
	classes [classes]sync.Pool
}

var builtinPool Pool

// Get returns a slice of length size from the built-in pool, see Pool.Get.
func Get(size int) []byte {
	return builtinPool.Get(size)
}

// Put hands buf back to the built-in pool.
func Put(buf []byte) {
	builtinPool.Put(buf)
}

// SizeClass returns the capacity of the slices Get(size) hands out.
func SizeClass(size int) int {
	if size <= 0 {
		return 0
	}
	if shift := shiftOf(size); shift <= maxShift {
		return 1 << shift
	}
	return size
}

func shiftOf(size int) int {
	shift := bits.Len(uint(size - 1))
	if shift < minShift {
		shift = minShift
	}
	return shift
}

// Get returns a slice of length size with the capacity of its size class, nil for a
// non-positive size. Its content is whatever the previous user left there.
func (p *Pool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	shift := shiftOf(size)
	if shift > maxShift {
		return make([]byte, size)
	}
	if bp, ok := p.classes[shift-minShift].Get().(*[]byte); ok {
		return (*bp)[:size]
	}
	return make([]byte, size, 1<<shift)
}

// Put hands buf back. A slice whose capacity is not a size class goes to the class
// below it, the caller must not touch buf afterwards.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	if c < 1<<minShift {
		return
	}
	shift := bits.Len(uint(c)) - 1
	if shift > maxShift {
		return
	}
	buf = buf[: 1<<shift : 1<<shift]
	p.classes[shift-minShift].Put(&buf)
}

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

// Package bytebuffer hands out pooled valyala/bytebufferpool buffers.
package bytebuffer

import "github.com/valyala/bytebufferpool"

// ByteBuffer is the alias of bytebufferpool.ByteBuffer.
type ByteBuffer = bytebufferpool.ByteBuffer

var pool bytebufferpool.Pool

// Get returns an empty buffer.
func Get() *ByteBuffer {
	return pool.Get()
}

// Put resets b and returns it to the pool. Nil is ignored.
func Put(b *ByteBuffer) {
	if b != nil {
		pool.Put(b)
	}
}

// Detach returns a copy of the content of b and puts b back, for bytes that outlive the buffer.
func Detach(b *ByteBuffer) []byte {
	if b == nil {
		return nil
	}
	out := append([]byte(nil), b.B...)
	Put(b)
	return out
}

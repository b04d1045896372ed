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

// Package linkedlist implements a list of immutable byte chunks. Chunks are linked in
// as they are handed over, never copied, and only ever re-sliced from the front.
package linkedlist

import "io"

// compactAt is the number of popped slots after which the list moves its live chunks down.
const compactAt = 32

// Buffer is a list of chunks, the zero value is an empty list ready to use.
type Buffer struct {
	chunks [][]byte // the live chunks are chunks[head:]
	head   int
	bytes  int
	peek   [][]byte
}

// Read reads data from the Buffer.
func (llb *Buffer) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if llb.IsEmpty() {
		return 0, io.EOF
	}
	for n < len(p) && !llb.IsEmpty() {
		m := copy(p[n:], llb.chunks[llb.head])
		n += m
		llb.advance(m)
	}
	return n, nil
}

// PushFront links p in front of the list, p is taken over by the Buffer.
func (llb *Buffer) PushFront(p []byte) {
	llb.PushFrontAll([][]byte{p})
}

// PushBack links p at the tail of the list, p is taken over by the Buffer.
func (llb *Buffer) PushBack(p []byte) {
	if len(p) == 0 {
		return
	}
	llb.chunks = append(llb.chunks, p)
	llb.bytes += len(p)
}

// PushFrontAll links bs in front of the list keeping their order.
func (llb *Buffer) PushFrontAll(bs [][]byte) {
	n, size := 0, 0
	for _, b := range bs {
		if len(b) > 0 {
			n++
			size += len(b)
		}
	}
	if n == 0 {
		return
	}
	if llb.head < n {
		live := llb.chunks[llb.head:]
		grown := make([][]byte, n+len(live), 2*n+len(live))
		copy(grown[n:], live)
		llb.chunks, llb.head = grown, n
	}
	for i := len(bs) - 1; i >= 0; i-- {
		if len(bs[i]) > 0 {
			llb.head--
			llb.chunks[llb.head] = bs[i]
		}
	}
	llb.bytes += size
}

// PushBackAll links bs at the tail of the list keeping their order.
func (llb *Buffer) PushBackAll(bs [][]byte) {
	for _, b := range bs {
		llb.PushBack(b)
	}
}

// Front returns the first chunk without removing it, nil if the list is empty.
func (llb *Buffer) Front() []byte {
	if llb.IsEmpty() {
		return nil
	}
	return llb.chunks[llb.head]
}

// PopFront removes and returns the first chunk, nil if the list is empty.
func (llb *Buffer) PopFront() []byte {
	if llb.IsEmpty() {
		return nil
	}
	c := llb.chunks[llb.head]
	llb.chunks[llb.head] = nil
	llb.head++
	llb.bytes -= len(c)
	llb.compact()
	return c
}

// Peek returns the leading chunks holding at least maxBytes bytes, all of them for a
// non-positive maxBytes. The chunks stay in the list and the returned slice is reused
// by the next call to Peek.
func (llb *Buffer) Peek(maxBytes int) [][]byte {
	llb.peek = llb.peek[:0]
	cum := 0
	for _, c := range llb.chunks[llb.head:] {
		llb.peek = append(llb.peek, c)
		if cum += len(c); maxBytes > 0 && cum >= maxBytes {
			break
		}
	}
	return llb.peek
}

// Chunks returns all chunks in a newly allocated slice, the chunks stay in the list.
func (llb *Buffer) Chunks() [][]byte {
	return append(make([][]byte, 0, llb.Len()), llb.chunks[llb.head:]...)
}

// Discard drops the first n bytes, or all of them if fewer are buffered.
func (llb *Buffer) Discard(n int) (discarded int, err error) {
	if n <= 0 {
		return 0, nil
	}
	if n > llb.bytes {
		n = llb.bytes
	}
	llb.advance(n)
	return n, nil
}

// advance drops n buffered bytes, n must not exceed Buffered.
func (llb *Buffer) advance(n int) {
	for n > 0 {
		c := llb.chunks[llb.head]
		if n < len(c) {
			llb.chunks[llb.head] = c[n:]
			llb.bytes -= n
			return
		}
		n -= len(c)
		llb.PopFront()
	}
}

// Drain detaches and returns all chunks, leaving the list empty.
func (llb *Buffer) Drain() [][]byte {
	if llb.IsEmpty() {
		return nil
	}
	bs := llb.Chunks()
	llb.Reset()
	return bs
}

// WriteTo implements io.WriterTo, a short write leaves the rest in the list.
func (llb *Buffer) WriteTo(w io.Writer) (n int64, err error) {
	for !llb.IsEmpty() {
		c := llb.chunks[llb.head]
		m, err := w.Write(c)
		if m < 0 || m > len(c) {
			panic("linkedlist: invalid Write count")
		}
		n += int64(m)
		llb.advance(m)
		if err != nil {
			return n, err
		}
		if m < len(c) {
			return n, io.ErrShortWrite
		}
	}
	return n, nil
}

// Len returns the number of chunks.
func (llb *Buffer) Len() int {
	return len(llb.chunks) - llb.head
}

// Buffered returns the number of bytes in the list.
func (llb *Buffer) Buffered() int {
	return llb.bytes
}

// IsEmpty reports whether the list holds no chunk.
func (llb *Buffer) IsEmpty() bool {
	return llb.head == len(llb.chunks)
}

// Reset removes all chunks.
func (llb *Buffer) Reset() {
	for i := range llb.chunks {
		llb.chunks[i] = nil
	}
	llb.chunks, llb.head, llb.bytes = llb.chunks[:0], 0, 0
	llb.peek = llb.peek[:0]
}

func (llb *Buffer) compact() {
	switch {
	case llb.IsEmpty():
		llb.chunks, llb.head = llb.chunks[:0], 0
	case llb.head >= compactAt && 2*llb.head >= len(llb.chunks):
		n := copy(llb.chunks, llb.chunks[llb.head:])
		for i := n; i < len(llb.chunks); i++ {
			llb.chunks[i] = nil
		}
		llb.chunks, llb.head = llb.chunks[:n], 0
	}
}

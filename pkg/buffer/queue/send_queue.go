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

import (
	"io"

	"github.com/xconn-dev/xconn/pkg/buffer/linkedlist"
	bbPool "github.com/xconn-dev/xconn/pkg/pool/bytebuffer"
)

// SendQueue holds the bytes waiting to be handed down the handler chain or written to a socket.
//
// A write mark diverts subsequent appends into a rewriteable side buffer: after
// ResetToWriteMark the next appends overwrite the marked region from its start, which is
// how a length field is filled in once the body behind it is known. RemoveWriteMark
// releases the side buffer into the queue.
type SendQueue struct {
	list linkedlist.Buffer
	mark *rewriteBuffer
}

// Append adds chunks at the tail, or into the side buffer while a write mark is set.
// The chunks are taken over by the queue unless a mark is set, in which case they are copied.
func (q *SendQueue) Append(chunks ...[]byte) {
	if q.mark != nil {
		for _, c := range chunks {
			q.mark.write(c)
		}
		return
	}
	q.list.PushBackAll(chunks)
}

// Drain detaches and returns every chunk not held back by a write mark.
func (q *SendQueue) Drain() [][]byte {
	return q.list.Drain()
}

// Restore pushes chunks back in front of the queue.
func (q *SendQueue) Restore(chunks [][]byte) {
	q.list.PushFrontAll(chunks)
}

// Len returns the number of bytes queued, including the marked ones.
func (q *SendQueue) Len() int {
	n := q.list.Buffered()
	if q.mark != nil {
		n += q.mark.len()
	}
	return n
}

// IsEmpty reports whether nothing is queued outside a write mark.
func (q *SendQueue) IsEmpty() bool {
	return q.list.IsEmpty()
}

// WriteTo writes the queued chunks to w in order. A chunk that w takes only partially is
// re-sliced and stays in front, WriteTo then returns without an error, expecting to be called
// again once w can take more. written lists the chunks that have been completely written,
// a chunk that needed several calls is reported once, by its last piece.
func (q *SendQueue) WriteTo(w io.Writer) (written [][]byte, n int64, err error) {
	for c := q.list.Front(); c != nil; c = q.list.Front() {
		var m int
		m, err = w.Write(c)
		if m < 0 || m > len(c) {
			panic("SendQueue.WriteTo: invalid Write count")
		}
		n += int64(m)
		if m == len(c) {
			q.list.PopFront()
			written = append(written, c)
			if err == nil {
				continue
			}
		} else if m > 0 {
			_, _ = q.list.Discard(m)
		}
		return
	}
	return
}

// MarkWritePosition sets a write mark. A mark that is already set is released first.
func (q *SendQueue) MarkWritePosition() {
	q.RemoveWriteMark()
	q.mark = &rewriteBuffer{buf: bbPool.Get()}
}

// ResetToWriteMark moves the write position back to the mark. It returns false if no mark is set.
func (q *SendQueue) ResetToWriteMark() bool {
	if q.mark == nil {
		return false
	}
	q.mark.pos = 0
	return true
}

// RemoveWriteMark releases the marked bytes into the queue and drops the mark.
func (q *SendQueue) RemoveWriteMark() {
	if q.mark == nil {
		return
	}
	m := q.mark
	q.mark = nil
	if m.len() == 0 {
		bbPool.Put(m.buf)
		return
	}
	q.list.PushBack(bbPool.Detach(m.buf))
}

// IsWriteMarked reports whether a write mark is set.
func (q *SendQueue) IsWriteMarked() bool {
	return q.mark != nil
}

// Reset drops all queued bytes and the mark.
func (q *SendQueue) Reset() {
	q.list.Reset()
	if q.mark != nil {
		bbPool.Put(q.mark.buf)
		q.mark = nil
	}
}

type rewriteBuffer struct {
	buf *bbPool.ByteBuffer
	pos int
}

func (r *rewriteBuffer) len() int {
	return r.buf.Len()
}

// write copies p at the write position, overwriting what is there and growing the buffer as needed.
func (r *rewriteBuffer) write(p []byte) {
	end := r.pos + len(p)
	if grow := end - len(r.buf.B); grow > 0 {
		r.buf.B = append(r.buf.B, make([]byte, grow)...)
	}
	copy(r.buf.B[r.pos:end], p)
	r.pos = end
}

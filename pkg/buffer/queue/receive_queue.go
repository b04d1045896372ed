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

// Package queue provides the receive and send queues of a connection.
//
// Both queues hold immutable chunks in FIFO order and are not safe for concurrent use,
// the connection guards them.
package queue

import (
	"github.com/xconn-dev/xconn/pkg/buffer/linkedlist"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/parser"
)

// ReceiveQueue holds the bytes received but not yet read by the application.
type ReceiveQueue struct {
	list    linkedlist.Buffer
	version uint64

	index        *parser.Index
	indexVersion uint64

	marked bool
	mark   [][]byte
}

// Append adds chunks at the tail. Appending does not invalidate a cached delimiter search.
func (q *ReceiveQueue) Append(chunks ...[]byte) {
	q.list.PushBackAll(chunks)
}

// Drain detaches and returns the whole content.
func (q *ReceiveQueue) Drain() [][]byte {
	chunks := q.list.Drain()
	if len(chunks) > 0 {
		q.extracted(chunks)
	}
	return chunks
}

// Restore pushes chunks back in front of the queue, e.g. after a partial extraction.
func (q *ReceiveQueue) Restore(chunks [][]byte) {
	if parser.Size(chunks) == 0 {
		return
	}
	q.list.PushFrontAll(chunks)
	q.version++
	q.index = nil
}

// Available returns the number of queued bytes.
func (q *ReceiveQueue) Available() int {
	return q.list.Buffered()
}

// FirstChunkSize returns the size of the first queued chunk.
func (q *ReceiveQueue) FirstChunkSize() int {
	return len(q.list.Front())
}

// IsEmpty reports whether nothing is queued.
func (q *ReceiveQueue) IsEmpty() bool {
	return q.list.IsEmpty()
}

// Version changes whenever bytes are taken out of or put back into the queue.
func (q *ReceiveQueue) Version() uint64 {
	return q.version
}

// ExtractByLength removes and returns exactly n bytes.
func (q *ReceiveQueue) ExtractByLength(n int) ([][]byte, error) {
	if n < 0 {
		return nil, errorx.ErrNegativeSize
	}
	if q.list.Buffered() < n {
		return nil, errorx.ErrBufferUnderflow
	}
	head, _, err := parser.ExtractByLength(q.list.Peek(n), n)
	if err != nil {
		return nil, err
	}
	head = append([][]byte(nil), head...)
	_, _ = q.list.Discard(n)
	q.extracted(head)
	return head, nil
}

// PeekByLength returns the first n bytes without removing them.
func (q *ReceiveQueue) PeekByLength(n int) ([][]byte, error) {
	if n < 0 {
		return nil, errorx.ErrNegativeSize
	}
	if q.list.Buffered() < n {
		return nil, errorx.ErrBufferUnderflow
	}
	head, _, err := parser.ExtractByLength(q.list.Peek(n), n)
	if err != nil {
		return nil, err
	}
	return append([][]byte(nil), head...), nil
}

// ExtractByDelimiter removes and returns the bytes in front of delimiter, the delimiter is
// consumed as well. If the delimiter is not queued yet, the queue is left unmodified and
// errorx.ErrBufferUnderflow is returned, the search progress is kept for the next call.
// A positive maxLength caps the frame size, exceeding it fails with errorx.ErrFrameTooLarge.
func (q *ReceiveQueue) ExtractByDelimiter(delimiter []byte, maxLength int) ([][]byte, error) {
	chunks, ix, err := q.find(delimiter, maxLength)
	if err != nil {
		return nil, err
	}
	consumed, _, err := parser.ExtractByLength(chunks, ix.ScannedBytes())
	if err != nil {
		return nil, err
	}
	head, _, _ := parser.ExtractByLength(consumed, ix.FrameLength())
	_, _ = q.list.Discard(ix.ScannedBytes())
	q.extracted(consumed)
	return head, nil
}

// PeekByDelimiter is like ExtractByDelimiter without removing anything.
func (q *ReceiveQueue) PeekByDelimiter(delimiter []byte, maxLength int) ([][]byte, error) {
	chunks, ix, err := q.find(delimiter, maxLength)
	if err != nil {
		return nil, err
	}
	head, _, err := parser.ExtractByLength(chunks, ix.FrameLength())
	return head, err
}

// IndexOf returns the number of bytes in front of delimiter.
func (q *ReceiveQueue) IndexOf(delimiter []byte, maxLength int) (int, error) {
	_, ix, err := q.find(delimiter, maxLength)
	if err != nil {
		return -1, err
	}
	return ix.FrameLength(), nil
}

func (q *ReceiveQueue) find(delimiter []byte, maxLength int) ([][]byte, *parser.Index, error) {
	var prev *parser.Index
	if q.index != nil && q.indexVersion == q.version {
		prev = q.index
	}
	chunks := q.list.Chunks()
	ix, err := parser.FindMax(chunks, delimiter, maxLength, prev)
	if ix != nil {
		q.index, q.indexVersion = ix, q.version
	}
	if err != nil {
		return nil, nil, err
	}
	if !ix.Found() {
		return nil, nil, errorx.ErrBufferUnderflow
	}
	return chunks, ix, nil
}

// MarkReadPosition sets a read mark, bytes read from now on can be pushed back with ResetToReadMark.
// Setting a mark while one is set drops the old one.
func (q *ReceiveQueue) MarkReadPosition() {
	q.marked, q.mark = true, nil
}

// ResetToReadMark pushes everything read since the mark back in front of the queue, the mark stays set.
func (q *ReceiveQueue) ResetToReadMark() error {
	if !q.marked {
		return errorx.ErrReadMarkNotSet
	}
	mark := q.mark
	q.mark = nil
	q.Restore(mark)
	return nil
}

// RemoveReadMark drops the read mark.
func (q *ReceiveQueue) RemoveReadMark() {
	q.marked, q.mark = false, nil
}

// IsReadMarked reports whether a read mark is set.
func (q *ReceiveQueue) IsReadMarked() bool {
	return q.marked
}

func (q *ReceiveQueue) extracted(chunks [][]byte) {
	q.version++
	q.index = nil
	if q.marked {
		q.mark = append(q.mark, chunks...)
	}
}

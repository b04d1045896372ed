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

// Package parser scans sequences of byte chunks for length- or delimiter-framed records.
//
// A delimiter search that does not find its delimiter yields an Index describing how far
// it got. Handing that Index back to the next search makes it resume where the previous
// one stopped instead of rescanning bytes it has already seen, so a record that trickles in
// over many reads costs O(n) in total.
package parser

import (
	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

// Index is the state of one delimiter search.
//
// An Index is only meaningful for the chunk sequence it was produced from, optionally
// extended by chunks appended at its tail. Removing or replacing any chunk invalidates it.
type Index struct {
	delimiter []byte
	prefix    []int

	found         bool
	scannedChunks int // chunks scanned completely
	scannedBytes  int // including the delimiter once found
	matched       int // length of the partial delimiter match at the trailing edge
}

func newIndex(delimiter []byte) *Index {
	d := make([]byte, len(delimiter))
	copy(d, delimiter)
	return &Index{delimiter: d, prefix: prefixFunction(d)}
}

// Delimiter returns the delimiter being searched for.
func (ix *Index) Delimiter() []byte {
	return ix.delimiter
}

// Found reports whether the delimiter has been found.
func (ix *Index) Found() bool {
	return ix.found
}

// ScannedBytes returns the number of bytes scanned so far, the delimiter included once found.
func (ix *Index) ScannedBytes() int {
	return ix.scannedBytes
}

// PartialMatch returns how many leading delimiter bytes the scanned data ends with.
func (ix *Index) PartialMatch() int {
	return ix.matched
}

// FrameLength returns the number of bytes in front of the delimiter, or -1 if it has not been found.
func (ix *Index) FrameLength() int {
	if !ix.found {
		return -1
	}
	return ix.scannedBytes - len(ix.delimiter)
}

// Matches reports whether the Index belongs to a search for delimiter.
func (ix *Index) Matches(delimiter []byte) bool {
	if ix == nil || len(ix.delimiter) != len(delimiter) {
		return false
	}
	for i := range delimiter {
		if ix.delimiter[i] != delimiter[i] {
			return false
		}
	}
	return true
}

func (ix *Index) clone() *Index {
	c := *ix
	return &c
}

// Find searches chunks for delimiter. If prev stems from an earlier search for the same
// delimiter over a prefix of chunks, the search resumes from where prev stopped, prev
// itself is left unchanged.
func Find(chunks [][]byte, delimiter []byte, prev *Index) (*Index, error) {
	if len(delimiter) == 0 {
		return nil, errorx.ErrEmptyDelimiter
	}
	var ix *Index
	if prev.Matches(delimiter) && prev.scannedChunks <= len(chunks) {
		if prev.found {
			return prev, nil
		}
		ix = prev.clone()
	} else {
		ix = newIndex(delimiter)
	}
	ix.scan(chunks)
	return ix, nil
}

// FindMax is like Find but fails with errorx.ErrFrameTooLarge once more than maxLength bytes
// are known to precede the delimiter. A non-positive maxLength means no limit.
func FindMax(chunks [][]byte, delimiter []byte, maxLength int, prev *Index) (*Index, error) {
	ix, err := Find(chunks, delimiter, prev)
	if err != nil {
		return nil, err
	}
	if maxLength <= 0 {
		return ix, nil
	}
	if ix.found {
		if ix.FrameLength() > maxLength {
			return ix, errorx.ErrFrameTooLarge
		}
	} else if ix.scannedBytes-ix.matched > maxLength {
		return ix, errorx.ErrFrameTooLarge
	}
	return ix, nil
}

func (ix *Index) scan(chunks [][]byte) {
	d := ix.delimiter
	for i := ix.scannedChunks; i < len(chunks); i++ {
		c := chunks[i]
		for j, b := range c {
			for ix.matched > 0 && b != d[ix.matched] {
				ix.matched = ix.prefix[ix.matched-1]
			}
			if b == d[ix.matched] {
				ix.matched++
			}
			if ix.matched == len(d) {
				ix.found = true
				ix.scannedBytes += j + 1
				ix.matched = 0
				return
			}
		}
		ix.scannedBytes += len(c)
		ix.scannedChunks++
	}
}

// prefixFunction returns, for every prefix d[:i+1], the length of its longest proper
// prefix that is also a suffix, which is where a partial match falls back to on mismatch.
func prefixFunction(d []byte) []int {
	pi := make([]int, len(d))
	for i, k := 1, 0; i < len(d); i++ {
		for k > 0 && d[i] != d[k] {
			k = pi[k-1]
		}
		if d[i] == d[k] {
			k++
		}
		pi[i] = k
	}
	return pi
}

// Size returns the total number of bytes held by chunks.
func Size(chunks [][]byte) (n int) {
	for _, c := range chunks {
		n += len(c)
	}
	return
}

// ExtractByLength splits chunks into the first n bytes and the rest, the chunk at the
// boundary is split without copying. It fails with errorx.ErrBufferUnderflow if chunks
// hold fewer than n bytes, in which case chunks are returned untouched as rest.
func ExtractByLength(chunks [][]byte, n int) (head, rest [][]byte, err error) {
	if n < 0 {
		return nil, chunks, errorx.ErrNegativeSize
	}
	if Size(chunks) < n {
		return nil, chunks, errorx.ErrBufferUnderflow
	}
	remaining := n
	for i, c := range chunks {
		if remaining == 0 {
			rest = append(rest, chunks[i:]...)
			break
		}
		if len(c) <= remaining {
			head = append(head, c)
			remaining -= len(c)
			continue
		}
		head = append(head, c[:remaining:remaining])
		rest = append(rest, c[remaining:])
		rest = append(rest, chunks[i+1:]...)
		remaining = 0
		break
	}
	return
}

// ExtractByDelimiter splits chunks at a found Index: head holds the bytes in front of the
// delimiter, rest the bytes behind it, the delimiter itself is dropped.
func ExtractByDelimiter(chunks [][]byte, ix *Index) (head, rest [][]byte, err error) {
	if ix == nil || !ix.found {
		return nil, chunks, errorx.ErrBufferUnderflow
	}
	head, rest, err = ExtractByLength(chunks, ix.FrameLength())
	if err != nil {
		return nil, chunks, err
	}
	_, rest, err = ExtractByLength(rest, len(ix.delimiter))
	return
}

// Flatten joins chunks into a single slice. A single chunk is returned as is.
func Flatten(chunks [][]byte) []byte {
	switch len(chunks) {
	case 0:
		return []byte{}
	case 1:
		return chunks[0]
	}
	out := make([]byte, 0, Size(chunks))
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

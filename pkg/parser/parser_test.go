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

package parser

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

func chunksOf(parts ...string) [][]byte {
	bs := make([][]byte, 0, len(parts))
	for _, p := range parts {
		bs = append(bs, []byte(p))
	}
	return bs
}

func TestFindAndExtract(t *testing.T) {
	tests := []struct {
		name      string
		delimiter string
		input     [][]byte
		found     bool
		head      string
		rest      string
	}{
		{"single chunk", "\n\r", chunksOf("t\n\r"), true, "t", ""},
		{"delimiter in second chunk", "\n\r", chunksOf("t", "\n\r"), true, "t", ""},
		{"delimiter split over chunks", "\n\r", chunksOf("t", "\n", "\r"), true, "t", ""},
		{"false start in one chunk", "\n\r", chunksOf("t\ne\n\rzw\n\r"), true, "t\ne", "zw\n\r"},
		{"false start across chunks", "\n\r", chunksOf("t\ne\n", "\rzw\n\r"), true, "t\ne", "zw\n\r"},
		{"missing", "\n\r", chunksOf("t\ne\n", "zw\n"), false, "", ""},
		{"long delimiter", "\n\r.\n\r", chunksOf("tzT\n", "\r.\n", "\rop"), true, "tzT", "op"},
		{"overlapping prefix", "aab", chunksOf("aa", "ab", "c"), true, "a", "c"},
		{"empty frame", "\r\n", chunksOf("\r\nrest"), true, "", "rest"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ix, err := Find(tc.input, []byte(tc.delimiter), nil)
			require.NoError(t, err)
			require.Equal(t, tc.found, ix.Found())
			head, rest, err := ExtractByDelimiter(tc.input, ix)
			if !tc.found {
				assert.ErrorIs(t, err, errorx.ErrBufferUnderflow)
				assert.Equal(t, tc.input, rest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.head, string(Flatten(head)))
			assert.Equal(t, tc.rest, string(Flatten(rest)))
		})
	}
}

// splits returns every way to cut data into pieces at the positions selected by mask.
func splits(data []byte) [][][]byte {
	var all [][][]byte
	n := len(data)
	for mask := 0; mask < 1<<(n-1); mask++ {
		var parts [][]byte
		start := 0
		for i := 1; i < n; i++ {
			if mask&(1<<(i-1)) != 0 {
				parts = append(parts, data[start:i])
				start = i
			}
		}
		parts = append(parts, data[start:])
		all = append(all, parts)
	}
	return all
}

func TestDelimiterRoundTripAtEverySplit(t *testing.T) {
	for _, tc := range []struct{ payload, delimiter string }{
		{"t\n\re", "\r\n"},
		{"t\ne", "\n\r"},
		{"HELO", "\n"},
		{"abaab", "aba\x00"},
	} {
		data := []byte(tc.payload + tc.delimiter)
		for _, parts := range splits(data) {
			ix, err := Find(parts, []byte(tc.delimiter), nil)
			require.NoError(t, err)
			require.True(t, ix.Found(), "parts %q", parts)
			head, rest, err := ExtractByDelimiter(parts, ix)
			require.NoError(t, err)
			assert.Equal(t, tc.payload, string(Flatten(head)), "parts %q", parts)
			assert.Zero(t, Size(rest))
		}
	}
}

func TestResumableScan(t *testing.T) {
	delimiter := []byte("\r\n.\r\n")
	stream := []byte("some text\r\n.\r without end\r\n.")

	// one shot over the complete stream
	oneShot, err := Find([][]byte{stream}, delimiter, nil)
	require.NoError(t, err)
	require.False(t, oneShot.Found())

	// the same bytes trickling in one at a time, retrying after every chunk
	var (
		chunks [][]byte
		ix     *Index
	)
	for i := range stream {
		chunks = append(chunks, stream[i:i+1])
		for retry := 0; retry < 3; retry++ {
			ix, err = Find(chunks, delimiter, ix)
			require.NoError(t, err)
			require.False(t, ix.Found())
		}
	}
	assert.Equal(t, oneShot.ScannedBytes(), ix.ScannedBytes())
	assert.Equal(t, oneShot.PartialMatch(), ix.PartialMatch())
	assert.Equal(t, len(stream), Size(chunks), "no byte lost or duplicated")

	chunks = append(chunks, []byte("\r\nnext"))
	ix, err = Find(chunks, delimiter, ix)
	require.NoError(t, err)
	require.True(t, ix.Found())
	head, rest, err := ExtractByDelimiter(chunks, ix)
	require.NoError(t, err)
	assert.Equal(t, "some text\r\n.\r without end", string(Flatten(head)))
	assert.Equal(t, "next", string(Flatten(rest)))
}

func TestFindDoesNotModifyPrevious(t *testing.T) {
	chunks := chunksOf("abc")
	prev, err := Find(chunks, []byte("\n"), nil)
	require.NoError(t, err)
	scanned := prev.ScannedBytes()

	chunks = append(chunks, []byte("de\n"))
	next, err := Find(chunks, []byte("\n"), prev)
	require.NoError(t, err)
	assert.True(t, next.Found())
	assert.False(t, prev.Found())
	assert.Equal(t, scanned, prev.ScannedBytes())

	// a different delimiter starts over
	other, err := Find(chunks, []byte("c"), prev)
	require.NoError(t, err)
	assert.True(t, other.Found())
	assert.Equal(t, 2, other.FrameLength())
}

func TestExtractByLength(t *testing.T) {
	original := []byte("0123456789abcdef")
	for _, parts := range [][][]byte{
		{original},
		chunksOf("0123", "4567", "89ab", "cdef"),
		chunksOf("0", "123456789abcde", "f"),
	} {
		for n := 0; n <= len(original); n++ {
			head, rest, err := ExtractByLength(parts, n)
			require.NoError(t, err)
			assert.Equal(t, original[:n], Flatten(head))
			assert.Equal(t, string(original[n:]), string(Flatten(rest)))
		}
		_, rest, err := ExtractByLength(parts, len(original)+1)
		assert.ErrorIs(t, err, errorx.ErrBufferUnderflow)
		assert.Equal(t, parts, rest)
	}
	head, _, err := ExtractByLength(chunksOf("abcdef"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, cap(head[0]), "a split chunk must not reach into the rest")

	_, _, err = ExtractByLength(nil, -1)
	assert.ErrorIs(t, err, errorx.ErrNegativeSize)
}

func TestFindMax(t *testing.T) {
	delimiter := []byte("\n")

	// the delimiter arrives after the cap has been passed
	chunks := chunksOf("abcdef")
	_, err := FindMax(chunks, delimiter, 5, nil)
	assert.ErrorIs(t, err, errorx.ErrFrameTooLarge)

	chunks = append(chunks, []byte("\n"))
	_, err = FindMax(chunks, delimiter, 5, nil)
	assert.ErrorIs(t, err, errorx.ErrFrameTooLarge)

	// within the cap
	ix, err := FindMax(chunksOf("abcde"), delimiter, 5, nil)
	require.NoError(t, err)
	assert.False(t, ix.Found())
	ix, err = FindMax(chunksOf("abcde\n"), delimiter, 5, nil)
	require.NoError(t, err)
	assert.True(t, ix.Found())

	// a trailing partial match does not count against the cap
	ix, err = FindMax(chunksOf("abcde\r"), []byte("\r\n"), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.PartialMatch())

	_, err = Find(chunks, nil, nil)
	assert.ErrorIs(t, err, errorx.ErrEmptyDelimiter)
}

func TestFlatten(t *testing.T) {
	single := []byte("x")
	assert.Same(t, &single[0], &Flatten([][]byte{single})[0])
	assert.True(t, bytes.Equal([]byte("xyz"), Flatten(chunksOf("x", "yz"))))
	assert.NotNil(t, Flatten(nil))
}

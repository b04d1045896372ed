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

//go:build linux || freebsd || dragonfly || darwin

package xconn

import (
	"encoding/binary"
	"math"

	"github.com/xconn-dev/xconn/pkg/charset"
	"github.com/xconn-dev/xconn/pkg/parser"
)

// Available returns the number of received bytes not read yet.
func (c *Connection) Available() int {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.recv.Available()
}

func (c *Connection) readLength(n int) ([]byte, error) {
	c.rmu.Lock()
	chunks, err := c.recv.ExtractByLength(n)
	c.rmu.Unlock()
	if err != nil {
		return nil, err
	}
	return parser.Flatten(chunks), nil
}

// ReadByte reads one byte.
func (c *Connection) ReadByte() (byte, error) {
	b, err := c.readLength(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt16 reads a big-endian int16.
func (c *Connection) ReadInt16() (int16, error) {
	b, err := c.readLength(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

// ReadInt32 reads a big-endian int32.
func (c *Connection) ReadInt32() (int32, error) {
	b, err := c.readLength(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ReadInt64 reads a big-endian int64.
func (c *Connection) ReadInt64() (int64, error) {
	b, err := c.readLength(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadFloat64 reads a big-endian IEEE 754 double.
func (c *Connection) ReadFloat64() (float64, error) {
	b, err := c.readLength(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// ReadBytesByLength reads exactly n bytes.
func (c *Connection) ReadBytesByLength(n int) ([]byte, error) {
	return c.readLength(n)
}

// ReadBuffersByLength reads exactly n bytes as the chunks they were received in,
// the chunks must not be modified.
func (c *Connection) ReadBuffersByLength(n int) ([][]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.recv.ExtractByLength(n)
}

// ReadBuffersByDelimiter reads the bytes in front of delimiter as received chunks and
// consumes the delimiter.
func (c *Connection) ReadBuffersByDelimiter(delimiter string) ([][]byte, error) {
	return c.ReadBuffersByDelimiterMax(delimiter, 0)
}

// ReadBuffersByDelimiterMax is ReadBuffersByDelimiter failing with errors.ErrFrameTooLarge
// once more than maxLength bytes precede the delimiter. A non-positive maxLength means no limit.
func (c *Connection) ReadBuffersByDelimiterMax(delimiter string, maxLength int) ([][]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.recv.ExtractByDelimiter([]byte(delimiter), maxLength)
}

// ReadBytesByDelimiter reads the bytes in front of delimiter and consumes the delimiter.
func (c *Connection) ReadBytesByDelimiter(delimiter string) ([]byte, error) {
	return c.ReadBytesByDelimiterMax(delimiter, 0)
}

// ReadBytesByDelimiterMax is ReadBytesByDelimiter with a limit, see ReadBuffersByDelimiterMax.
func (c *Connection) ReadBytesByDelimiterMax(delimiter string, maxLength int) ([]byte, error) {
	chunks, err := c.ReadBuffersByDelimiterMax(delimiter, maxLength)
	if err != nil {
		return nil, err
	}
	return parser.Flatten(chunks), nil
}

// ReadStringByLength reads n bytes and decodes them with the default encoding.
func (c *Connection) ReadStringByLength(n int) (string, error) {
	b, err := c.readLength(n)
	if err != nil {
		return "", err
	}
	return c.encoding.Load().Decode(b)
}

// ReadStringByDelimiter reads up to delimiter and decodes with the default encoding,
// the delimiter is encoded with it as well.
func (c *Connection) ReadStringByDelimiter(delimiter string) (string, error) {
	return c.ReadStringByDelimiterMax(delimiter, 0)
}

// ReadStringByDelimiterMax is ReadStringByDelimiter with a limit, see ReadBuffersByDelimiterMax.
func (c *Connection) ReadStringByDelimiterMax(delimiter string, maxLength int) (string, error) {
	cs := c.encoding.Load()
	return c.readStringByDelimiter(cs, delimiter, maxLength)
}

// ReadStringByDelimiterWithEncoding reads up to delimiter using the named encoding.
func (c *Connection) ReadStringByDelimiterWithEncoding(delimiter, encoding string) (string, error) {
	cs, err := charset.Lookup(encoding)
	if err != nil {
		return "", err
	}
	return c.readStringByDelimiter(cs, delimiter, 0)
}

func (c *Connection) readStringByDelimiter(cs *charset.Charset, delimiter string, maxLength int) (string, error) {
	delim, err := cs.Encode(delimiter)
	if err != nil {
		return "", err
	}
	c.rmu.Lock()
	chunks, err := c.recv.ExtractByDelimiter(delim, maxLength)
	c.rmu.Unlock()
	if err != nil {
		return "", err
	}
	return cs.Decode(parser.Flatten(chunks))
}

// PeekBytesByLength returns the first n bytes without consuming them.
func (c *Connection) PeekBytesByLength(n int) ([]byte, error) {
	c.rmu.Lock()
	chunks, err := c.recv.PeekByLength(n)
	c.rmu.Unlock()
	if err != nil {
		return nil, err
	}
	return parser.Flatten(chunks), nil
}

// PeekBytesByDelimiter returns the bytes in front of delimiter without consuming anything.
func (c *Connection) PeekBytesByDelimiter(delimiter string) ([]byte, error) {
	c.rmu.Lock()
	chunks, err := c.recv.PeekByDelimiter([]byte(delimiter), 0)
	c.rmu.Unlock()
	if err != nil {
		return nil, err
	}
	return parser.Flatten(chunks), nil
}

// IndexOf returns the number of bytes in front of delimiter.
func (c *Connection) IndexOf(delimiter string) (int, error) {
	return c.IndexOfMax(delimiter, 0)
}

// IndexOfMax is IndexOf with a limit, see ReadBuffersByDelimiterMax.
func (c *Connection) IndexOfMax(delimiter string, maxLength int) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.recv.IndexOf([]byte(delimiter), maxLength)
}

// readAvailable moves up to len(p) received bytes into p.
func (c *Connection) readAvailable(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	n := c.recv.Available()
	if n > len(p) {
		n = len(p)
	}
	if n == 0 && len(p) > 0 {
		n = 1 // the extraction below reports the underflow
	}
	chunks, err := c.recv.ExtractByLength(n)
	if err != nil {
		return 0, err
	}
	m := 0
	for _, chunk := range chunks {
		m += copy(p[m:], chunk)
	}
	return m, nil
}

// MarkReadPosition sets a read mark, see ResetToReadMark.
func (c *Connection) MarkReadPosition() {
	c.rmu.Lock()
	c.recv.MarkReadPosition()
	c.rmu.Unlock()
}

// ResetToReadMark puts the bytes read since the mark back.
func (c *Connection) ResetToReadMark() error {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.recv.ResetToReadMark()
}

// RemoveReadMark drops the read mark.
func (c *Connection) RemoveReadMark() {
	c.rmu.Lock()
	c.recv.RemoveReadMark()
	c.rmu.Unlock()
}

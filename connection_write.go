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
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	bbPool "github.com/xconn-dev/xconn/pkg/pool/bytebuffer"
)

// Autoflush reports whether every write is flushed right away.
func (c *Connection) Autoflush() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.autoflush
}

// SetAutoflush turns autoflush on or off, it is on by default.
func (c *Connection) SetAutoflush(on bool) {
	c.wmu.Lock()
	c.autoflush = on
	c.wmu.Unlock()
}

// FlushMode returns the flush mode.
func (c *Connection) FlushMode() FlushMode {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.flushMode
}

// SetFlushMode sets the flush mode.
func (c *Connection) SetFlushMode(mode FlushMode) {
	c.wmu.Lock()
	c.flushMode = mode
	c.wmu.Unlock()
}

// PendingWriteSize returns the number of bytes written but not handed to the socket yet.
func (c *Connection) PendingWriteSize() int {
	c.wmu.Lock()
	n := c.send.Len()
	c.wmu.Unlock()
	return n + c.chain.pendingWriteSize()
}

// enqueue takes over chunks and flushes them with autoflush on.
func (c *Connection) enqueue(chunks ...[]byte) error {
	c.wmu.Lock()
	if c.gone.Load() {
		c.wmu.Unlock()
		return errorx.ErrConnectionClosed
	}
	c.send.Append(chunks...)
	autoflush := c.autoflush
	c.wmu.Unlock()
	if autoflush {
		return c.Flush()
	}
	return nil
}

// Write queues a copy of p.
func (c *Connection) Write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)
	if err := c.enqueue(b); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteBuffers queues bufs without copying them, they must not be modified afterwards.
func (c *Connection) WriteBuffers(bufs ...[]byte) (int, error) {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	if err := c.enqueue(bufs...); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteByte queues one byte.
func (c *Connection) WriteByte(b byte) error {
	return c.enqueue([]byte{b})
}

// WriteInt16 queues a big-endian int16.
func (c *Connection) WriteInt16(v int16) error {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return c.enqueue(b)
}

// WriteInt32 queues a big-endian int32.
func (c *Connection) WriteInt32(v int32) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return c.enqueue(b)
}

// WriteInt64 queues a big-endian int64.
func (c *Connection) WriteInt64(v int64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return c.enqueue(b)
}

// WriteFloat64 queues a big-endian IEEE 754 double.
func (c *Connection) WriteFloat64(v float64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return c.enqueue(b)
}

// WriteString queues s encoded with the default encoding.
func (c *Connection) WriteString(s string) (int, error) {
	return c.writeString(c.encoding.Load(), s)
}

// WriteStringWithEncoding queues s encoded with the named encoding.
func (c *Connection) WriteStringWithEncoding(s, encoding string) (int, error) {
	cs, err := charset.Lookup(encoding)
	if err != nil {
		return 0, err
	}
	return c.writeString(cs, s)
}

// WriteStrings queues the concatenation of ss in a single chunk, e.g. a line and its delimiter.
func (c *Connection) WriteStrings(ss ...string) (int, error) {
	buf := bbPool.Get()
	for _, s := range ss {
		_, _ = buf.WriteString(s)
	}
	return c.writeString(c.encoding.Load(), string(bbPool.Detach(buf)))
}

func (c *Connection) writeString(cs *charset.Charset, s string) (int, error) {
	b, err := cs.Encode(s)
	if err != nil {
		return 0, err
	}
	if err = c.enqueue(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// MarkWritePosition sets a write mark: the bytes written from now on are held back and can be
// overwritten from the mark on after ResetToWriteMark, until RemoveWriteMark releases them.
// Write marks need autoflush off.
func (c *Connection) MarkWritePosition() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.autoflush {
		return errorx.ErrAutoflushEnabled
	}
	c.send.MarkWritePosition()
	return nil
}

// ResetToWriteMark moves the write position back to the mark.
func (c *Connection) ResetToWriteMark() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if !c.send.ResetToWriteMark() {
		return errorx.ErrWriteMarkNotSet
	}
	return nil
}

// RemoveWriteMark releases the marked bytes.
func (c *Connection) RemoveWriteMark() {
	c.wmu.Lock()
	c.send.RemoveWriteMark()
	c.wmu.Unlock()
}

// Flush hands the queued data to the socket. In FlushModeSync it returns once the socket
// took every chunk or writing it failed, except inside a Nonthreaded callback, where
// waiting for the dispatcher would never end.
func (c *Connection) Flush() error {
	return c.flush(true)
}

func (c *Connection) flush(wait bool) error {
	c.fmu.Lock()
	c.wmu.Lock()
	chunks := c.send.Drain()
	if len(chunks) > 0 && c.gone.Load() {
		c.send.Restore(chunks)
		c.wmu.Unlock()
		c.fmu.Unlock()
		return errorx.ErrConnectionClosed
	}
	c.enqueued += uint64(len(chunks))
	target := c.enqueued
	sync := c.flushMode == FlushModeSync
	c.wmu.Unlock()

	if len(chunks) > 0 {
		if err := c.chain.write(chunks); err != nil {
			c.wmu.Lock()
			c.enqueued -= uint64(len(chunks))
			c.wmu.Unlock()
			c.fmu.Unlock()
			return err
		}
	}
	err := c.chain.flush()
	c.fmu.Unlock()
	if err != nil {
		return err
	}
	if !wait || !sync || c.eng.inline.Marked() {
		return nil
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	for c.confirmed < target && c.writeErr == nil && !c.gone.Load() {
		c.wcond.Wait()
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	if c.confirmed < target {
		return errorx.ErrConnectionClosed
	}
	return nil
}

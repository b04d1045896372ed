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
	"errors"
	"sync/atomic"
	"time"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

// DefaultReadTimeout is the read timeout of a new BlockingConnection.
const DefaultReadTimeout = time.Minute

// BlockingConnection wraps a Connection so that reads wait for the data instead of failing
// with errors.ErrBufferUnderflow. A read that is not served within the read timeout fails
// with errors.ErrReadTimeout and consumes nothing.
type BlockingConnection struct {
	*Connection
	notify      chan struct{}
	readTimeout atomic.Int64
}

// blockingHandler wakes the readers of a BlockingConnection.
type blockingHandler struct {
	bc *BlockingConnection
}

func (h blockingHandler) OnData(*Connection) error {
	h.bc.signal()
	return errorx.ErrBufferUnderflow
}

func (h blockingHandler) OnDisconnect(*Connection) {
	h.bc.signal()
}

func (blockingHandler) ExecutionMode() ExecutionMode {
	return Nonthreaded
}

// NewBlockingConnection takes over c, the handler of c is replaced.
func NewBlockingConnection(c *Connection) *BlockingConnection {
	bc := &BlockingConnection{Connection: c, notify: make(chan struct{}, 1)}
	bc.readTimeout.Store(int64(DefaultReadTimeout))
	c.SetHandler(blockingHandler{bc})
	return bc
}

func (bc *BlockingConnection) signal() {
	select {
	case bc.notify <- struct{}{}:
	default:
	}
}

// ReadTimeout returns the read timeout.
func (bc *BlockingConnection) ReadTimeout() time.Duration {
	return time.Duration(bc.readTimeout.Load())
}

// SetReadTimeout sets the read timeout.
func (bc *BlockingConnection) SetReadTimeout(d time.Duration) {
	bc.readTimeout.Store(int64(d))
}

// await retries read until it stops reporting an underflow.
func (bc *BlockingConnection) await(read func() error) error {
	timer := time.NewTimer(bc.ReadTimeout())
	defer timer.Stop()
	for {
		err := read()
		if !errors.Is(err, errorx.ErrBufferUnderflow) {
			return err
		}
		select {
		case <-bc.Done():
			// The last chunks may have arrived together with the close.
			if err = read(); errors.Is(err, errorx.ErrBufferUnderflow) {
				return errorx.ErrConnectionClosed
			}
			return err
		default:
		}
		select {
		case <-bc.notify:
		case <-bc.Done():
		case <-timer.C:
			if err = read(); errors.Is(err, errorx.ErrBufferUnderflow) {
				return errorx.ErrReadTimeout
			}
			return err
		}
	}
}

// Read reads at least one byte into p, it implements io.Reader.
func (bc *BlockingConnection) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	err = bc.await(func() (e error) {
		n, e = bc.readAvailable(p)
		return
	})
	return
}

// ReadByte waits for one byte.
func (bc *BlockingConnection) ReadByte() (b byte, err error) {
	err = bc.await(func() (e error) {
		b, e = bc.Connection.ReadByte()
		return
	})
	return
}

// ReadInt32 waits for a big-endian int32.
func (bc *BlockingConnection) ReadInt32() (v int32, err error) {
	err = bc.await(func() (e error) {
		v, e = bc.Connection.ReadInt32()
		return
	})
	return
}

// ReadInt64 waits for a big-endian int64.
func (bc *BlockingConnection) ReadInt64() (v int64, err error) {
	err = bc.await(func() (e error) {
		v, e = bc.Connection.ReadInt64()
		return
	})
	return
}

// ReadBytesByLength waits for n bytes.
func (bc *BlockingConnection) ReadBytesByLength(n int) (b []byte, err error) {
	err = bc.await(func() (e error) {
		b, e = bc.Connection.ReadBytesByLength(n)
		return
	})
	return
}

// ReadBytesByDelimiter waits for the bytes in front of delimiter.
func (bc *BlockingConnection) ReadBytesByDelimiter(delimiter string) (b []byte, err error) {
	err = bc.await(func() (e error) {
		b, e = bc.Connection.ReadBytesByDelimiter(delimiter)
		return
	})
	return
}

// ReadStringByLength waits for n bytes and decodes them.
func (bc *BlockingConnection) ReadStringByLength(n int) (s string, err error) {
	err = bc.await(func() (e error) {
		s, e = bc.Connection.ReadStringByLength(n)
		return
	})
	return
}

// ReadStringByDelimiter waits for the string in front of delimiter.
func (bc *BlockingConnection) ReadStringByDelimiter(delimiter string) (s string, err error) {
	err = bc.await(func() (e error) {
		s, e = bc.Connection.ReadStringByDelimiter(delimiter)
		return
	})
	return
}

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

package tlsengine

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/xconn-dev/xconn/pkg/buffer/linkedlist"
)

type memAddr string

func (a memAddr) Network() string { return "memory" }

func (a memAddr) String() string { return string(a) }

// memConn is the transport of the tls.Conn inside an engine: records written by the
// engine's caller become readable, records written by tls.Conn pile up until wrapped.
// It shares the engine's mutex so the engine can tell when crypto/tls is idle.
type memConn struct {
	mu       *sync.Mutex
	cond     *sync.Cond
	inbound  linkedlist.Buffer
	outbound linkedlist.Buffer
	waiting  bool
	closed   bool
}

func newMemConn(mu *sync.Mutex, cond *sync.Cond) *memConn {
	return &memConn{mu: mu, cond: cond}
}

// Read blocks until inbound bytes arrive or the conn is closed.
func (c *memConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inbound.IsEmpty() && !c.closed {
		c.waiting = true
		c.cond.Broadcast()
		c.cond.Wait()
	}
	c.waiting = false
	if c.inbound.IsEmpty() {
		return 0, io.EOF
	}
	return c.inbound.Read(p)
}

// Write never blocks.
func (c *memConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	b := make([]byte, len(p))
	copy(b, p)
	c.outbound.PushBack(b)
	c.cond.Broadcast()
	return len(p), nil
}

// feed must be called with mu held.
func (c *memConn) feed(p []byte) {
	if len(p) == 0 {
		return
	}
	b := make([]byte, len(p))
	copy(b, p)
	c.inbound.PushBack(b)
	c.cond.Broadcast()
}

// idle must be called with mu held, it reports that crypto/tls is blocked
// waiting for input that is not there.
func (c *memConn) idle() bool {
	return c.waiting && c.inbound.IsEmpty()
}

func (c *memConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

func (c *memConn) LocalAddr() net.Addr { return memAddr("local") }

func (c *memConn) RemoteAddr() net.Addr { return memAddr("remote") }

func (c *memConn) SetDeadline(time.Time) error { return nil }

func (c *memConn) SetReadDeadline(time.Time) error { return nil }

func (c *memConn) SetWriteDeadline(time.Time) error { return nil }

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
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xconn-dev/xconn/internal/serial"
	"github.com/xconn-dev/xconn/pkg/buffer/queue"
	"github.com/xconn-dev/xconn/pkg/charset"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
)

// Connection is a non-blocking TCP connection. Reads never wait: a read that cannot be served
// from the bytes received so far fails with errors.ErrBufferUnderflow and leaves them untouched.
// Writes are queued and handed to the socket on Flush, or right away with autoflush.
type Connection struct {
	id       string
	eng      *engine
	logger   logging.Logger
	chain    ioHandler
	sock     *socketHandler
	tls      *tlsHandler
	isClient bool

	caps        atomic.Pointer[handlerCaps]
	tasks       *serial.TaskQueue
	dataPending atomic.Bool
	suspended   atomic.Bool
	connected   atomic.Bool
	gone        atomic.Bool
	done        chan struct{}

	rmu  sync.Mutex
	recv queue.ReceiveQueue

	fmu       sync.Mutex // serializes flushes
	wmu       sync.Mutex
	wcond     *sync.Cond
	send      queue.SendQueue
	autoflush bool
	flushMode FlushMode
	enqueued  uint64
	confirmed uint64
	writeErr  error

	encoding   atomic.Pointer[charset.Charset]
	attachment atomic.Value
}

type attachment struct{ v any }

func newConnection(eng *engine, chain ioHandler, sock *socketHandler, th *tlsHandler, caps *handlerCaps, isClient bool) *Connection {
	c := &Connection{
		id:        eng.nextID(),
		eng:       eng,
		logger:    eng.logger,
		chain:     chain,
		sock:      sock,
		tls:       th,
		isClient:  isClient,
		tasks:     serial.New(eng.workers, eng.logger),
		done:      make(chan struct{}),
		autoflush: true,
		flushMode: eng.opts.FlushMode,
	}
	c.wcond = sync.NewCond(&c.wmu)
	c.caps.Store(caps)
	c.encoding.Store(eng.charset)
	if th != nil {
		th.reclaim = c.reclaimReceived
		th.execute = sock.d.execute
	}
	return c
}

// ID returns the identifier of the connection, unique within its server or client.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection %s (%v->%v)", c.id, c.LocalAddr(), c.RemoteAddr())
}

// LocalAddr returns the local network address.
func (c *Connection) LocalAddr() net.Addr {
	return c.sock.local
}

// RemoteAddr returns the remote network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.sock.remote
}

// IsServerSide reports whether the connection has been accepted by a Server.
func (c *Connection) IsServerSide() bool {
	return !c.isClient
}

// Dispatcher returns the name of the dispatcher the connection is registered with.
func (c *Connection) Dispatcher() string {
	return c.sock.d.name
}

// IsOpen reports whether the connection is open and no close has been requested.
func (c *Connection) IsOpen() bool {
	return c.chain.isOpen()
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Handler returns the handler currently attached.
func (c *Connection) Handler() Handler {
	return c.caps.Load().handler
}

// SetHandler replaces the handler, the data loop of the old handler stops.
func (c *Connection) SetHandler(h Handler) {
	caps := introspect(h).forConnection()
	c.caps.Store(caps)
	c.scheduleData()
}

// Attachment returns the value set by SetAttachment.
func (c *Connection) Attachment() any {
	if a, ok := c.attachment.Load().(attachment); ok {
		return a.v
	}
	return nil
}

// SetAttachment attaches an arbitrary value to the connection.
func (c *Connection) SetAttachment(v any) {
	c.attachment.Store(attachment{v})
}

// Encoding returns the name of the default text encoding.
func (c *Connection) Encoding() string {
	return c.encoding.Load().Name()
}

// SetEncoding sets the default text encoding of string reads and writes.
func (c *Connection) SetEncoding(name string) error {
	cs, err := charset.Lookup(name)
	if err != nil {
		return err
	}
	c.encoding.Store(cs)
	return nil
}

// SetOption sets a socket option by name, e.g. "TCP_NODELAY".
func (c *Connection) SetOption(name string, value any) error {
	return c.chain.setOption(name, value)
}

// Option returns the value of a socket option.
func (c *Connection) Option(name string) (any, error) {
	return c.chain.option(name)
}

// SuspendReceiving stops reading from the socket until ResumeReceiving.
func (c *Connection) SuspendReceiving() error {
	c.suspended.Store(true)
	return c.chain.suspendRead()
}

// ResumeReceiving resumes reading and delivers the data received before.
func (c *Connection) ResumeReceiving() error {
	c.suspended.Store(false)
	if err := c.chain.resumeRead(); err != nil {
		return err
	}
	c.scheduleData()
	return nil
}

// IsReceivingSuspended reports whether receiving is suspended.
func (c *Connection) IsReceivingSuspended() bool {
	return c.suspended.Load()
}

// SetIdleTimeout sets the time the connection may stay without receiving data, zero disables it.
func (c *Connection) SetIdleTimeout(d time.Duration) {
	c.sock.setIdleTimeout(d)
	c.eng.watchdog.adjust(d)
}

// IdleTimeout returns the idle timeout.
func (c *Connection) IdleTimeout() time.Duration {
	d, _ := c.sock.timeouts()
	return d
}

// RemainingIdleTime returns the time until the idle timeout expires, -1 if it is disabled.
func (c *Connection) RemainingIdleTime() time.Duration {
	d, _ := c.sock.remaining(time.Now())
	return d
}

// SetConnectionTimeout sets the maximum lifetime of the connection counted from now,
// zero disables it.
func (c *Connection) SetConnectionTimeout(d time.Duration) {
	c.sock.setConnectionTimeout(d)
	c.eng.watchdog.adjust(d)
}

// ConnectionTimeout returns the connection timeout.
func (c *Connection) ConnectionTimeout() time.Duration {
	_, d := c.sock.timeouts()
	return d
}

// RemainingConnectionTime returns the time until the connection timeout expires, -1 if it is disabled.
func (c *Connection) RemainingConnectionTime() time.Duration {
	_, d := c.sock.remaining(time.Now())
	return d
}

// BytesReceived returns the number of bytes read from the socket.
func (c *Connection) BytesReceived() int64 {
	return c.sock.bytesReceived.Load()
}

// BytesSent returns the number of bytes written to the socket.
func (c *Connection) BytesSent() int64 {
	return c.sock.bytesSent.Load()
}

// ActivateSecuredMode upgrades a connection of a server or client configured with
// WithTLSActivatable to TLS. The data written so far is flushed in plain, every byte
// received but not read yet is taken as the start of the handshake. Activating an
// upgraded connection is a no-op.
func (c *Connection) ActivateSecuredMode() error {
	if c.tls == nil {
		return errorx.ErrNoTLSConfig
	}
	if c.tls.currentMode() != tlsOff {
		return nil
	}
	if err := c.Flush(); err != nil {
		return err
	}
	return c.tls.activate()
}

// IsSecure reports whether the TLS handshake has completed.
func (c *Connection) IsSecure() bool {
	return c.tls != nil && c.tls.isSecure()
}

// WaitSecured waits until the TLS handshake has completed.
func (c *Connection) WaitSecured(ctx context.Context) error {
	if c.tls == nil {
		return errorx.ErrNoTLSConfig
	}
	select {
	case <-c.tls.securedDone:
		return nil
	case <-c.done:
		return errorx.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TLSConnectionState returns the negotiated TLS parameters, empty before the handshake completed.
func (c *Connection) TLSConnectionState() tls.ConnectionState {
	if c.tls == nil {
		return tls.ConnectionState{}
	}
	return c.tls.connectionState()
}

// Close flushes the queued data and closes the connection once it has been written.
func (c *Connection) Close() error {
	if err := c.flush(false); err != nil && !errors.Is(err, errorx.ErrConnectionClosed) {
		c.logger.Debugf("flush on close of %s failed: %v", c, err)
	}
	return c.chain.close(false)
}

// CloseImmediately closes the connection and discards the data not written yet.
func (c *Connection) CloseImmediately() error {
	return c.chain.close(true)
}

func (c *Connection) reclaimReceived() [][]byte {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	return c.recv.Drain()
}

// perform runs a callback the way the execution mode of caps asks for.
func (c *Connection) perform(caps *handlerCaps, fn func()) {
	if caps.mode == Nonthreaded {
		c.tasks.PerformNonThreaded(func() {
			defer c.eng.inline.Enter()()
			fn()
		})
		return
	}
	c.tasks.PerformMultiThreaded(fn)
}

func (c *Connection) scheduleData() {
	caps := c.caps.Load()
	if caps.data == nil || !c.dataPending.CompareAndSwap(false, true) {
		return
	}
	c.perform(caps, c.dataLoop)
}

// dataLoop calls OnData while data is available and the handler consumes some of it.
func (c *Connection) dataLoop() {
	c.dataPending.Store(false)
	caps := c.caps.Load()
	for caps.data != nil && !c.suspended.Load() {
		if c.tls != nil && c.tls.currentMode() == tlsPending {
			// the bytes queued now belong to the handshake
			return
		}
		c.rmu.Lock()
		available, version := c.recv.Available(), c.recv.Version()
		c.rmu.Unlock()
		if available == 0 {
			return
		}
		if err := c.callOnData(caps); err != nil {
			if errors.Is(err, errorx.ErrBufferUnderflow) {
				return
			}
			c.logger.Debugf("closing %s, OnData returned: %v", c, err)
			_ = c.Close()
			return
		}
		c.rmu.Lock()
		consumed := c.recv.Version() != version
		c.rmu.Unlock()
		if !consumed || c.caps.Load() != caps {
			return
		}
	}
}

func (c *Connection) callOnData(caps *handlerCaps) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in OnData: %v", r)
		}
	}()
	return caps.data.OnData(c)
}

// recovered closes the connection if the callback panicked.
func (c *Connection) recovered(callback string) {
	if r := recover(); r != nil {
		c.logger.Errorf("panic in %s of %s: %v", callback, c, r)
		_ = c.Close()
	}
}

func (c *Connection) onConnect() {
	c.connected.Store(true)
	caps := c.caps.Load()
	if caps.connect == nil {
		return
	}
	c.perform(caps, func() {
		defer c.recovered("OnConnect")
		if err := caps.connect.OnConnect(c); err != nil {
			c.logger.Debugf("closing %s, OnConnect returned: %v", c, err)
			_ = c.Close()
		}
	})
}

func (c *Connection) onData(chunks [][]byte, _ int) {
	c.rmu.Lock()
	c.recv.Append(chunks...)
	c.rmu.Unlock()
	c.scheduleData()
}

func (c *Connection) onWritten([]byte) {
	c.wmu.Lock()
	c.confirmed++
	c.wcond.Broadcast()
	c.wmu.Unlock()
}

func (c *Connection) onWriteException(err error, _ []byte) {
	c.wmu.Lock()
	c.confirmed++
	if c.writeErr == nil {
		c.writeErr = err
	}
	c.wcond.Broadcast()
	c.wmu.Unlock()
	c.logger.Debugf("write to %s failed: %v", c, err)
}

func (c *Connection) onDisconnect() {
	if !c.gone.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.wmu.Lock()
	c.wcond.Broadcast()
	c.wmu.Unlock()
	c.eng.untrack(c)

	caps := c.caps.Load()
	if !c.connected.Load() || caps.disconnect == nil {
		return
	}
	c.perform(caps, func() {
		defer c.recovered("OnDisconnect")
		caps.disconnect.OnDisconnect(c)
	})
}

func (c *Connection) onIdleTimeout() {
	c.eng.watchdog.idleTimeouts.Add(1)
	c.onTimeout("OnIdleTimeout", errorx.ErrIdleTimeout, func(caps *handlerCaps) bool {
		return caps.idleTimeout != nil && caps.idleTimeout.OnIdleTimeout(c)
	})
}

func (c *Connection) onConnectionTimeout() {
	c.eng.watchdog.connectionTimeouts.Add(1)
	c.onTimeout("OnConnectionTimeout", errorx.ErrConnectionTimeout, func(caps *handlerCaps) bool {
		return caps.connectionTimeout != nil && caps.connectionTimeout.OnConnectionTimeout(c)
	})
}

// onTimeout asks the handler whether to keep the connection, no handler means no.
func (c *Connection) onTimeout(callback string, cause error, keep func(*handlerCaps) bool) {
	caps := c.caps.Load()
	if !c.connected.Load() {
		c.logger.Debugf("closing %s: %v", c, cause)
		_ = c.Close()
		return
	}
	c.perform(caps, func() {
		defer c.recovered(callback)
		if !keep(caps) {
			c.logger.Debugf("closing %s: %v", c, cause)
			_ = c.Close()
		}
	})
}

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
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/xconn-dev/xconn/pkg/buffer/linkedlist"
	bsPool "github.com/xconn-dev/xconn/pkg/pool/byteslice"
)

// maxPlaintext is the largest plaintext a single TLS record carries.
const maxPlaintext = 16 << 10

// stdEngine runs a tls.Conn on its own goroutine over a memConn. The goroutine only
// ever blocks in memConn.Read, so the work it does on a batch of input is bounded and
// the caller can wait for it to settle; that wait is what the delegated task does.
type stdEngine struct {
	mu   sync.Mutex
	cond *sync.Cond

	conn    *memConn
	tlsConn *tls.Conn
	cancel  context.CancelFunc

	started         bool
	exited          bool
	handshakeDone   bool
	finishedPending bool
	handshakeErr    error
	readErr         error
	plain           linkedlist.Buffer

	closeOutbound bool
	outboundDone  bool
}

// NewServerEngine returns an Engine playing the server role with config.
func NewServerEngine(config *tls.Config) Engine {
	e := newEngine()
	e.tlsConn = tls.Server(e.conn, config)
	return e
}

// NewClientEngine returns an Engine playing the client role with config.
func NewClientEngine(config *tls.Config) Engine {
	e := newEngine()
	e.tlsConn = tls.Client(e.conn, config)
	return e
}

func newEngine() *stdEngine {
	e := new(stdEngine)
	e.cond = sync.NewCond(&e.mu)
	e.conn = newMemConn(&e.mu, e.cond)
	return e
}

func (e *stdEngine) BeginHandshake() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn.closed {
		return net.ErrClosed
	}
	e.startLocked()
	return nil
}

func (e *stdEngine) startLocked() {
	if e.started {
		return
	}
	e.started = true
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)
}

func (e *stdEngine) run(ctx context.Context) {
	err := e.tlsConn.HandshakeContext(ctx)
	e.mu.Lock()
	if err != nil {
		e.handshakeErr = err
		e.exited = true
		e.cond.Broadcast()
		e.mu.Unlock()
		return
	}
	e.handshakeDone, e.finishedPending = true, true
	e.cond.Broadcast()
	e.mu.Unlock()

	buf := bsPool.Get(maxPlaintext)
	defer bsPool.Put(buf)
	for {
		n, err := e.tlsConn.Read(buf)
		e.mu.Lock()
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			e.plain.PushBack(b)
		}
		if err != nil {
			e.readErr = err
			e.exited = true
		}
		e.cond.Broadcast()
		e.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// settledLocked reports whether the tls goroutine has nothing left to do with its input.
func (e *stdEngine) settledLocked() bool {
	return e.exited || e.conn.idle() || e.conn.closed
}

func (e *stdEngine) waitSettledLocked() {
	for e.started && !e.settledLocked() {
		e.cond.Wait()
	}
}

func (e *stdEngine) handshakeStatusLocked() HandshakeStatus {
	if !e.started || e.handshakeErr != nil {
		return NotHandshaking
	}
	if !e.conn.outbound.IsEmpty() {
		return NeedWrap
	}
	if e.handshakeDone {
		if e.finishedPending {
			return NeedWrap
		}
		return NotHandshaking
	}
	if e.settledLocked() {
		return NeedUnwrap
	}
	return NeedTask
}

// resultStatusLocked is handshakeStatusLocked plus the one-time Finished report.
func (e *stdEngine) resultStatusLocked() HandshakeStatus {
	if e.handshakeDone && e.finishedPending && e.conn.outbound.IsEmpty() {
		e.finishedPending = false
		return Finished
	}
	return e.handshakeStatusLocked()
}

func (e *stdEngine) HandshakeStatus() HandshakeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handshakeStatusLocked()
}

func (e *stdEngine) DelegatedTask() func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handshakeStatusLocked() != NeedTask {
		return nil
	}
	return func() {
		e.mu.Lock()
		e.waitSettledLocked()
		e.mu.Unlock()
	}
}

func (e *stdEngine) Wrap(src, dst []byte) (res Result, err error) {
	e.mu.Lock()
	if e.handshakeErr != nil && e.conn.outbound.IsEmpty() {
		e.mu.Unlock()
		return Result{Status: StatusClosed}, e.handshakeErr
	}
	e.startLocked()
	canWrite := e.handshakeDone && !e.closeOutbound && len(src) > 0
	e.mu.Unlock()

	if canWrite {
		// tls.Conn.Write lands in memConn.Write which takes mu, so mu must not be held here.
		res.Consumed, err = e.tlsConn.Write(src)
		if err != nil {
			return
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	res.Produced, _ = e.conn.outbound.Read(dst)
	switch {
	case !e.conn.outbound.IsEmpty():
		res.Status = StatusBufferOverflow
	case e.closeOutbound:
		e.outboundDone = true
		res.Status = StatusClosed
	}
	res.HandshakeStatus = e.resultStatusLocked()
	return
}

func (e *stdEngine) Unwrap(src, dst []byte) (res Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handshakeErr != nil {
		return Result{Status: StatusClosed}, e.handshakeErr
	}
	e.startLocked()
	e.conn.feed(src)
	res.Consumed = len(src)
	if e.handshakeDone {
		e.waitSettledLocked()
	}
	res.Produced, _ = e.plain.Read(dst)
	switch {
	case !e.plain.IsEmpty():
		res.Status = StatusBufferOverflow
	case res.Produced > 0:
	case e.readErr != nil:
		if !errors.Is(e.readErr, io.EOF) && !e.conn.closed {
			return res, e.readErr
		}
		res.Status = StatusClosed
	case e.handshakeErr != nil:
		return res, e.handshakeErr
	case e.handshakeDone:
		res.Status = StatusBufferUnderflow
	}
	res.HandshakeStatus = e.resultStatusLocked()
	return
}

func (e *stdEngine) CloseOutbound() {
	e.mu.Lock()
	if e.closeOutbound {
		e.mu.Unlock()
		return
	}
	e.closeOutbound = true
	done := e.handshakeDone && e.handshakeErr == nil
	e.mu.Unlock()
	if done {
		_ = e.tlsConn.CloseWrite()
	}
}

func (e *stdEngine) IsOutboundDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outboundDone
}

func (e *stdEngine) IsInboundDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readErr != nil || e.conn.closed
}

// ConnectionState is empty until the handshake has completed.
func (e *stdEngine) ConnectionState() tls.ConnectionState {
	e.mu.Lock()
	done := e.handshakeDone
	e.mu.Unlock()
	if !done {
		return tls.ConnectionState{}
	}
	return e.tlsConn.ConnectionState()
}

func (e *stdEngine) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return e.conn.Close()
}

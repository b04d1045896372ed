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
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	equeue "github.com/eapache/queue"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
	"github.com/xconn-dev/xconn/pkg/parser"
	bsPool "github.com/xconn-dev/xconn/pkg/pool/byteslice"
	"github.com/xconn-dev/xconn/pkg/tlsengine"
)

type tlsMode int32

const (
	tlsOff tlsMode = iota
	tlsPending
	tlsEstablished
)

func (m tlsMode) String() string {
	switch m {
	case tlsPending:
		return "PENDING"
	case tlsEstablished:
		return "ESTABLISHED"
	}
	return "OFF"
}

const (
	wrapBufferSize   = 16*1024 + 512
	unwrapBufferSize = 16 * 1024
)

// plainWrite is a plaintext chunk handed to the tls node and the number of records
// still on their way to the socket for it.
type plainWrite struct {
	chunk       []byte
	outstanding int
	reported    bool
}

// sentRecord is a chunk the tls node wrote to its successor. A record without an owner is
// either a handshake record or, with plain set, a chunk written in plain mode.
type sentRecord struct {
	owner *plainWrite
	chunk []byte
	plain bool
}

// tlsOutcome collects what has to go up or down the chain once the node lock is released.
type tlsOutcome struct {
	flush    bool
	connect  bool
	secured  bool
	data     [][]byte
	size     int
	written  [][]byte
	failed   []failedWrite
	shutdown bool  // close logically
	err      error // close immediately
}

// tlsHandler is the transport-security node. It starts OFF (plain pass-through) or
// ESTABLISHED, and an activatable node is upgraded OFF -> PENDING -> ESTABLISHED.
type tlsHandler struct {
	successor ioHandler
	prev      ioCallback
	logger    logging.Logger
	config    *tls.Config
	client    bool
	secured   bool // started in secured mode

	// reclaim takes back the bytes read as plaintext when the node gets activated.
	reclaim func() [][]byte
	// execute runs a function on the dispatcher goroutine.
	execute func(func()) error

	mu          sync.Mutex
	mode        tlsMode
	engine      tlsengine.Engine
	handshaken  bool
	connected   bool
	closing     bool
	closed      bool
	inbound     []byte   // records not consumed by the engine yet
	pendingIn   [][]byte // input received while PENDING
	outPlain    [][]byte // plaintext waiting to be wrapped
	records     *equeue.Queue
	unwrapSize  int
	wrapSize    int
	securedDone chan struct{}
}

func newTLSHandler(successor ioHandler, config *tls.Config, client, activatable bool, logger logging.Logger) *tlsHandler {
	t := &tlsHandler{
		successor:   successor,
		logger:      logger,
		config:      config,
		client:      client,
		secured:     config != nil && !activatable,
		records:     equeue.New(),
		unwrapSize:  unwrapBufferSize,
		wrapSize:    wrapBufferSize,
		securedDone: make(chan struct{}),
	}
	if t.secured {
		t.mode = tlsEstablished
	}
	return t
}

func (t *tlsHandler) init(cb ioCallback) {
	t.prev = cb
	t.successor.init(t)
}

func (t *tlsHandler) setPreviousCallback(cb ioCallback) {
	t.prev = cb
}

func (t *tlsHandler) currentMode() tlsMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// isSecure reports whether the handshake has completed.
func (t *tlsHandler) isSecure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handshaken
}

func (t *tlsHandler) connectionState() tls.ConnectionState {
	t.mu.Lock()
	eng := t.engine
	t.mu.Unlock()
	if eng == nil {
		return tls.ConnectionState{}
	}
	return eng.ConnectionState()
}

func (t *tlsHandler) newEngine() tlsengine.Engine {
	if t.client {
		return tlsengine.NewClientEngine(t.config)
	}
	return tlsengine.NewServerEngine(t.config)
}

// activate moves an OFF node to PENDING and finishes the upgrade on the dispatcher goroutine.
// The caller has flushed the plaintext written before.
func (t *tlsHandler) activate() error {
	t.mu.Lock()
	if t.mode != tlsOff {
		t.mu.Unlock()
		return nil
	}
	if t.config == nil {
		t.mu.Unlock()
		return errorx.ErrNoTLSConfig
	}
	if t.closed || t.closing {
		t.mu.Unlock()
		return errorx.ErrConnectionClosed
	}
	t.mode = tlsPending
	t.mu.Unlock()
	return t.execute(t.establish)
}

func (t *tlsHandler) establish() {
	reclaimed := t.reclaim()
	t.mu.Lock()
	if t.mode != tlsPending || t.closed {
		t.mu.Unlock()
		return
	}
	t.mode = tlsEstablished
	in := append(reclaimed, t.pendingIn...)
	t.pendingIn = nil
	var o tlsOutcome
	if err := t.startLocked(&o); err == nil {
		t.unwrapLocked(in, &o)
	}
	t.releasePlainLocked(&o)
	t.mu.Unlock()
	t.emit(&o)
}

func (t *tlsHandler) startLocked(o *tlsOutcome) error {
	t.engine = t.newEngine()
	if err := t.engine.BeginHandshake(); err != nil {
		o.err = err
		return err
	}
	t.handshakeLocked(o)
	return o.err
}

// handshakeLocked runs delegated tasks and sends handshake records until the engine
// waits for the peer or is done.
func (t *tlsHandler) handshakeLocked(o *tlsOutcome) {
	for o.err == nil {
		switch t.engine.HandshakeStatus() {
		case tlsengine.NeedTask:
			for task := t.engine.DelegatedTask(); task != nil; task = t.engine.DelegatedTask() {
				task()
			}
		case tlsengine.NeedWrap:
			recs, err := t.wrapLocked(nil, o)
			if err != nil {
				o.err = err
				return
			}
			t.sendLocked(recs, nil, o)
		case tlsengine.NotHandshaking:
			if t.handshaken {
				return
			}
			// A failed handshake leaves its alert behind and reports the error on the next wrap.
			recs, err := t.wrapLocked(nil, o)
			t.sendLocked(recs, nil, o)
			if err == nil {
				_, err = t.wrapLocked(nil, o)
			}
			if err == nil {
				err = errors.New("tls handshake failed")
			}
			o.err = err
			return
		default:
			return
		}
	}
}

// wrapLocked turns src into records.
func (t *tlsHandler) wrapLocked(src []byte, o *tlsOutcome) (recs [][]byte, err error) {
	buf := bsPool.Get(t.wrapSize)
	defer func() { bsPool.Put(buf) }()
	for {
		var res tlsengine.Result
		if res, err = t.engine.Wrap(src, buf); err != nil {
			return recs, fmt.Errorf("tls wrap: %w", err)
		}
		src = src[res.Consumed:]
		if res.Produced > 0 {
			recs = append(recs, clone(buf[:res.Produced]))
		}
		if res.HandshakeStatus == tlsengine.Finished {
			t.finishedLocked(o)
		}
		switch res.Status {
		case tlsengine.StatusBufferOverflow:
			if res.Produced == 0 {
				t.wrapSize *= 2
				bsPool.Put(buf)
				buf = bsPool.Get(t.wrapSize)
			}
			continue
		case tlsengine.StatusClosed:
			if len(src) > 0 {
				err = errorx.ErrTLSClosed
			}
			return
		}
		if len(src) == 0 {
			return
		}
	}
}

// unwrapLocked feeds records to the engine, the plaintext goes to o.data.
func (t *tlsHandler) unwrapLocked(chunks [][]byte, o *tlsOutcome) {
	src := t.inbound
	if len(chunks) > 0 {
		src = append(src, parser.Flatten(chunks)...)
	}
	t.inbound = nil
	buf := bsPool.Get(t.unwrapSize)
	defer func() { bsPool.Put(buf) }()
	for o.err == nil {
		handshaken := t.handshaken
		res, err := t.engine.Unwrap(src, buf)
		if err != nil {
			o.err = fmt.Errorf("tls unwrap: %w", err)
			return
		}
		src = src[res.Consumed:]
		if res.Produced > 0 {
			o.data = append(o.data, clone(buf[:res.Produced]))
			o.size += res.Produced
		}
		if res.HandshakeStatus == tlsengine.Finished {
			t.finishedLocked(o)
		}
		if res.Status == tlsengine.StatusBufferOverflow {
			if res.Produced == 0 {
				t.unwrapSize *= 2
				bsPool.Put(buf)
				buf = bsPool.Get(t.unwrapSize)
			}
			continue
		}
		t.handshakeLocked(o)
		switch {
		case res.Status == tlsengine.StatusClosed:
			o.shutdown = true
			return
		case !handshaken && t.handshaken:
			// records behind the peer's last handshake flight were decrypted while it finished
			continue
		case res.Status == tlsengine.StatusBufferUnderflow, len(src) == 0 && res.Produced == 0:
			if len(src) > 0 {
				t.inbound = clone(src)
			}
			return
		}
	}
}

// finishedLocked marks the handshake as completed.
func (t *tlsHandler) finishedLocked(o *tlsOutcome) {
	if t.handshaken {
		return
	}
	t.handshaken = true
	o.secured = true
	if t.secured && !t.connected {
		t.connected = true
		o.connect = true
	}
	t.logger.Debugf("tls handshake finished, %s", tlsVersionName(t.engine.ConnectionState().Version))
}

// releasePlainLocked wraps the plaintext written while the handshake was running, once
// the handshake records of o are queued.
func (t *tlsHandler) releasePlainLocked(o *tlsOutcome) {
	if o.secured && o.err == nil && !t.closed {
		t.wrapPlainLocked(o)
	}
}

// wrapPlainLocked wraps the plaintext queued by write.
func (t *tlsHandler) wrapPlainLocked(o *tlsOutcome) {
	for len(t.outPlain) > 0 && o.err == nil {
		c := t.outPlain[0]
		t.outPlain[0] = nil
		t.outPlain = t.outPlain[1:]
		if len(c) == 0 {
			o.written = append(o.written, c)
			continue
		}
		owner := &plainWrite{chunk: c}
		recs, err := t.wrapLocked(c, o)
		if err != nil {
			o.err = err
			o.failed = append(o.failed, failedWrite{err, c})
			return
		}
		t.sendLocked(recs, owner, o)
	}
}

// sendLocked writes recs to the successor inside the node lock, which keeps the records in order.
func (t *tlsHandler) sendLocked(recs [][]byte, owner *plainWrite, o *tlsOutcome) {
	if len(recs) == 0 {
		if owner != nil {
			o.written = append(o.written, owner.chunk)
		}
		return
	}
	if err := t.successor.write(recs); err != nil {
		if owner != nil {
			o.failed = append(o.failed, failedWrite{err, owner.chunk})
		}
		return
	}
	if owner != nil {
		owner.outstanding = len(recs)
	}
	for range recs {
		t.records.Add(&sentRecord{owner: owner})
	}
	o.flush = true
}

// emit delivers an outcome, no lock may be held.
func (t *tlsHandler) emit(o *tlsOutcome) {
	for _, c := range o.written {
		t.prev.onWritten(c)
	}
	for _, f := range o.failed {
		t.prev.onWriteException(f.err, f.chunk)
	}
	if o.secured {
		close(t.securedDone)
	}
	if o.err != nil {
		t.logger.Warnf("closing tls connection: %v", o.err)
		if o.flush {
			_ = t.successor.flush()
		}
		_ = t.successor.close(true)
		return
	}
	if o.flush {
		if err := t.successor.flush(); err != nil {
			return
		}
	}
	if o.connect {
		t.prev.onConnect()
	}
	if o.size > 0 {
		t.prev.onData(o.data, o.size)
	}
	if o.shutdown {
		_ = t.close(false)
	}
}

func (t *tlsHandler) write(chunks [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.closing {
		return errorx.ErrConnectionClosed
	}
	if t.mode == tlsOff {
		if err := t.successor.write(chunks); err != nil {
			return err
		}
		for _, c := range chunks {
			t.records.Add(&sentRecord{chunk: c, plain: true})
		}
		return nil
	}
	t.outPlain = append(t.outPlain, chunks...)
	return nil
}

func (t *tlsHandler) flush() error {
	t.mu.Lock()
	var o tlsOutcome
	if t.mode == tlsEstablished && t.handshaken && !t.closed {
		t.wrapPlainLocked(&o)
	}
	t.mu.Unlock()
	t.emit(&o)
	if o.err != nil {
		return o.err
	}
	return t.successor.flush()
}

func (t *tlsHandler) close(immediate bool) error {
	if immediate {
		return t.successor.close(true)
	}
	t.mu.Lock()
	if t.closing || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	var o tlsOutcome
	if t.mode == tlsEstablished && t.handshaken {
		t.wrapPlainLocked(&o)
		if o.err == nil {
			t.engine.CloseOutbound()
			if recs, err := t.wrapLocked(nil, &o); err != nil {
				o.err = err
			} else {
				t.sendLocked(recs, nil, &o)
			}
		}
	}
	t.mu.Unlock()
	t.emit(&o)
	if o.err != nil {
		return o.err
	}
	return t.successor.close(false)
}

func (t *tlsHandler) isOpen() bool {
	t.mu.Lock()
	closing := t.closing || t.closed
	t.mu.Unlock()
	return !closing && t.successor.isOpen()
}

func (t *tlsHandler) pendingWriteSize() int {
	t.mu.Lock()
	n := parser.Size(t.outPlain)
	t.mu.Unlock()
	return n + t.successor.pendingWriteSize()
}

func (t *tlsHandler) suspendRead() error { return t.successor.suspendRead() }

func (t *tlsHandler) resumeRead() error { return t.successor.resumeRead() }

func (t *tlsHandler) setOption(name string, value any) error {
	return t.successor.setOption(name, value)
}

func (t *tlsHandler) option(name string) (any, error) {
	return t.successor.option(name)
}

func (t *tlsHandler) onConnect() {
	t.mu.Lock()
	if !t.secured {
		t.connected = true
		t.mu.Unlock()
		t.prev.onConnect()
		return
	}
	var o tlsOutcome
	_ = t.startLocked(&o)
	t.releasePlainLocked(&o)
	t.mu.Unlock()
	t.emit(&o)
}

func (t *tlsHandler) onData(chunks [][]byte, size int) {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return
	case t.mode == tlsOff:
		t.mu.Unlock()
		t.prev.onData(chunks, size)
		return
	case t.mode == tlsPending:
		t.pendingIn = append(t.pendingIn, chunks...)
		t.mu.Unlock()
		return
	}
	var o tlsOutcome
	t.unwrapLocked(chunks, &o)
	t.releasePlainLocked(&o)
	t.mu.Unlock()
	t.emit(&o)
}

func (t *tlsHandler) onWritten([]byte) {
	t.mu.Lock()
	report, ok := t.confirmLocked(nil)
	t.mu.Unlock()
	if ok {
		t.prev.onWritten(report)
	}
}

func (t *tlsHandler) onWriteException(err error, _ []byte) {
	t.mu.Lock()
	report, ok := t.confirmLocked(err)
	t.mu.Unlock()
	if ok {
		t.prev.onWriteException(err, report)
	}
}

// confirmLocked pops the record the successor reported on and returns the chunk to
// report upward, if there is one.
func (t *tlsHandler) confirmLocked(err error) ([]byte, bool) {
	if t.records.Length() == 0 {
		return nil, false
	}
	r := t.records.Remove().(*sentRecord)
	if r.owner == nil {
		return r.chunk, r.plain
	}
	if r.owner.reported {
		return nil, false
	}
	r.owner.outstanding--
	if err != nil || r.owner.outstanding == 0 {
		r.owner.reported = true
		return r.owner.chunk, true
	}
	return nil, false
}

func (t *tlsHandler) onDisconnect() {
	t.mu.Lock()
	t.closed = true
	var failed [][]byte
	for t.records.Length() > 0 {
		r := t.records.Remove().(*sentRecord)
		switch {
		case r.owner == nil:
			if r.plain {
				failed = append(failed, r.chunk)
			}
		case !r.owner.reported:
			r.owner.reported = true
			failed = append(failed, r.owner.chunk)
		}
	}
	failed = append(failed, t.outPlain...)
	t.outPlain, t.pendingIn, t.inbound = nil, nil, nil
	eng := t.engine
	t.mu.Unlock()

	if eng != nil {
		if err := eng.Close(); err != nil {
			t.logger.Debugf("failed to close tls engine: %v", err)
		}
	}
	for _, c := range failed {
		t.prev.onWriteException(errorx.ErrConnectionClosed, c)
	}
	t.prev.onDisconnect()
}

func (t *tlsHandler) onIdleTimeout() { t.prev.onIdleTimeout() }

func (t *tlsHandler) onConnectionTimeout() { t.prev.onConnectionTimeout() }

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	}
	return fmt.Sprintf("0x%04X", v)
}

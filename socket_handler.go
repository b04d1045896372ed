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
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	equeue "github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/xconn-dev/xconn/internal/netpoll"
	"github.com/xconn-dev/xconn/internal/socket"
	"github.com/xconn-dev/xconn/pkg/buffer/queue"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
	bsPool "github.com/xconn-dev/xconn/pkg/pool/byteslice"
)

const defaultReadHint = 64 * 1024

// fdWriter writes to a non-blocking descriptor, a full socket is reported as (0, nil).
type fdWriter int

func (fd fdWriter) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(int(fd), p)
		switch err {
		case nil:
			if n < 0 {
				n = 0
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		default:
			return 0, os.NewSyscallError("write", err)
		}
	}
}

// socketHandler is the bottom node of the chain, it owns the descriptor.
type socketHandler struct {
	fd     int
	d      *dispatcher
	logger logging.Logger
	local  net.Addr
	remote net.Addr
	hint   int // read size with preallocation disabled
	cb     ioCallback

	mu         sync.Mutex
	open       bool
	registered bool
	closing    bool // logical close waiting for the send queue to drain
	suspended  bool
	interest   netpoll.Interest
	sendQueue  queue.SendQueue
	originals  *equeue.Queue // chunks handed to write, parallel to sendQueue

	idleTimeout  time.Duration
	idleDeadline time.Time
	idleNotified bool
	connTimeout  time.Duration
	connDeadline time.Time
	connNotified bool

	// confirmMu is taken before mu and keeps write confirmations in order
	// when flush and onWritable race.
	confirmMu sync.Mutex

	bytesReceived atomic.Int64
	bytesSent     atomic.Int64
}

func newSocketHandler(d *dispatcher, fd int, remote net.Addr) *socketHandler {
	sh := &socketHandler{
		fd:        fd,
		d:         d,
		logger:    d.logger,
		local:     socket.LocalAddr(fd),
		remote:    remote,
		hint:      defaultReadHint,
		open:      true,
		interest:  netpoll.InterestNone,
		originals: equeue.New(),
	}
	if sh.remote == nil {
		sh.remote = socket.RemoteAddr(fd)
	}
	if n, err := socket.GetRecvBuffer(fd); err == nil && n > 0 {
		sh.hint = n
	}
	return sh
}

func (sh *socketHandler) String() string {
	return fmt.Sprintf("socket(fd=%d, %v->%v)", sh.fd, sh.local, sh.remote)
}

func (sh *socketHandler) init(cb ioCallback) {
	sh.mu.Lock()
	sh.cb = cb
	sh.mu.Unlock()
}

func (sh *socketHandler) setPreviousCallback(cb ioCallback) {
	sh.init(cb)
}

func (sh *socketHandler) callback() ioCallback {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.cb
}

// attach registers the descriptor with its dispatcher, it runs on the dispatcher goroutine.
func (sh *socketHandler) attach() error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.open {
		return errorx.ErrConnectionClosed
	}
	interest := sh.desiredInterestLocked()
	if err := sh.d.register(sh, interest); err != nil {
		return err
	}
	sh.registered, sh.interest = true, interest
	return nil
}

func (sh *socketHandler) onRegistered() {
	sh.callback().onConnect()
}

func (sh *socketHandler) desiredInterestLocked() netpoll.Interest {
	if !sh.open {
		return netpoll.InterestNone
	}
	pending := !sh.sendQueue.IsEmpty()
	if sh.suspended || sh.closing {
		if pending {
			return netpoll.InterestWrite
		}
		return netpoll.InterestNone
	}
	if pending {
		return netpoll.InterestReadWrite
	}
	return netpoll.InterestRead
}

func (sh *socketHandler) updateInterestLocked() {
	interest := sh.desiredInterestLocked()
	if !sh.registered || interest == sh.interest {
		return
	}
	if err := sh.d.updateInterest(sh, interest); err != nil {
		sh.logger.Warnf("failed to update interest of %s to %s: %v", sh, interest, err)
		return
	}
	sh.interest = interest
}

func (sh *socketHandler) onReadable(hangup bool) {
	sh.mu.Lock()
	if !sh.open || sh.closing || (sh.suspended && !hangup) {
		sh.mu.Unlock()
		return
	}
	chunks, size, eof, err := sh.readLocked()
	if size > 0 && sh.idleTimeout > 0 {
		sh.idleDeadline = time.Now().Add(sh.idleTimeout)
		sh.idleNotified = false
	}
	cb := sh.cb
	sh.mu.Unlock()

	if size > 0 {
		sh.bytesReceived.Add(int64(size))
		sh.d.bytesReceived.Add(uint64(size))
		cb.onData(chunks, size)
	}
	switch {
	case err != nil:
		sh.logger.Debugf("failed to read from %s: %v", sh, err)
		sh.closeWithError(err)
	case eof:
		_ = sh.close(false)
	}
}

// readLocked reads until the socket has nothing more or the retry cap is reached.
func (sh *socketHandler) readLocked() (chunks [][]byte, size int, eof bool, err error) {
	retries := sh.d.pool.readRetries()
	for i := 0; i < retries; i++ {
		buf, fromArena := sh.d.readBuffer(sh.hint)
		n, e := unix.Read(sh.fd, buf)
		if e != nil || n <= 0 {
			if !fromArena {
				bsPool.Put(buf)
			}
			switch {
			case e == unix.EINTR:
				i--
				continue
			case e == unix.EAGAIN:
			case e != nil:
				err = os.NewSyscallError("read", e)
			default:
				eof = true
			}
			return
		}
		var chunk []byte
		if fromArena {
			chunk = sh.d.takeArena(n)
		} else {
			chunk = make([]byte, n)
			copy(chunk, buf)
			bsPool.Put(buf)
		}
		chunks = append(chunks, chunk)
		size += n
		if n < len(buf) {
			return
		}
	}
	return
}

func (sh *socketHandler) onWritable() {
	_ = sh.flush()
}

func (sh *socketHandler) write(chunks [][]byte) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.open || sh.closing {
		return errorx.ErrConnectionClosed
	}
	for _, c := range chunks {
		sh.originals.Add(c)
	}
	sh.sendQueue.Append(chunks...)
	return nil
}

// flush must not be called from a write confirmation.
func (sh *socketHandler) flush() error {
	sh.confirmMu.Lock()
	sh.mu.Lock()
	if !sh.open {
		sh.mu.Unlock()
		sh.confirmMu.Unlock()
		return errorx.ErrConnectionClosed
	}
	confirmed, err := sh.writeLocked()
	drained := sh.sendQueue.IsEmpty()
	if err == nil {
		sh.updateInterestLocked()
	}
	closeNow := err == nil && sh.closing && drained
	cb := sh.cb
	sh.mu.Unlock()
	for _, c := range confirmed {
		cb.onWritten(c)
	}
	sh.confirmMu.Unlock()

	if err != nil {
		sh.closeWithError(err)
		return err
	}
	if closeNow {
		return sh.close(true)
	}
	return nil
}

// writeLocked writes as much of the send queue as the socket takes and returns the
// originally written chunks that went out completely.
func (sh *socketHandler) writeLocked() (confirmed [][]byte, err error) {
	if sh.sendQueue.IsEmpty() {
		return sh.popOriginalsLocked(0), nil
	}
	written, n, err := sh.sendQueue.WriteTo(fdWriter(sh.fd))
	if n > 0 {
		sh.bytesSent.Add(n)
		sh.d.bytesSent.Add(uint64(n))
	}
	return sh.popOriginalsLocked(len(written)), err
}

// popOriginalsLocked pops k non-empty originals, the empty chunks in between never reach
// the send queue and are confirmed along with their neighbours.
func (sh *socketHandler) popOriginalsLocked(k int) (chunks [][]byte) {
	for sh.originals.Length() > 0 {
		c := sh.originals.Peek().([]byte)
		if len(c) > 0 {
			if k == 0 {
				break
			}
			k--
		}
		sh.originals.Remove()
		chunks = append(chunks, c)
	}
	return
}

func (sh *socketHandler) close(immediate bool) error {
	return sh.shutdown(immediate, errorx.ErrConnectionClosed)
}

func (sh *socketHandler) closeWithError(err error) {
	_ = sh.shutdown(true, err)
}

func (sh *socketHandler) shutdown(immediate bool, cause error) error {
	sh.mu.Lock()
	if !sh.open {
		sh.mu.Unlock()
		return nil
	}
	if !immediate && !sh.sendQueue.IsEmpty() {
		sh.closing = true
		sh.updateInterestLocked()
		sh.mu.Unlock()
		return sh.flush()
	}
	sh.open = false
	var dropped [][]byte
	for sh.originals.Length() > 0 {
		dropped = append(dropped, sh.originals.Remove().([]byte))
	}
	sh.sendQueue.Reset()
	registered := sh.registered
	sh.registered = false
	cb := sh.cb
	sh.mu.Unlock()

	if registered {
		if err := sh.d.deregister(sh); err != nil {
			sh.logger.Warnf("failed to deregister %s: %v", sh, err)
		}
	}
	if err := unix.Close(sh.fd); err != nil {
		sh.logger.Warnf("failed to close %s: %v", sh, os.NewSyscallError("close", err))
	}
	sh.confirmMu.Lock()
	for _, c := range dropped {
		cb.onWriteException(cause, c)
	}
	sh.confirmMu.Unlock()
	cb.onDisconnect()
	return nil
}

func (sh *socketHandler) isOpen() bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.open && !sh.closing
}

func (sh *socketHandler) pendingWriteSize() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.sendQueue.Len()
}

func (sh *socketHandler) suspendRead() error {
	return sh.setSuspended(true)
}

func (sh *socketHandler) resumeRead() error {
	return sh.setSuspended(false)
}

func (sh *socketHandler) setSuspended(suspended bool) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.open {
		return errorx.ErrConnectionClosed
	}
	sh.suspended = suspended
	sh.updateInterestLocked()
	return nil
}

func (sh *socketHandler) isSuspended() bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.suspended
}

func (sh *socketHandler) setOption(name string, value any) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.open {
		return errorx.ErrConnectionClosed
	}
	return socket.SetOption(sh.fd, name, value)
}

func (sh *socketHandler) option(name string) (any, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.open {
		return nil, errorx.ErrConnectionClosed
	}
	return socket.GetOption(sh.fd, name)
}

func (sh *socketHandler) setIdleTimeout(d time.Duration) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.idleTimeout, sh.idleNotified = d, false
	if d > 0 {
		sh.idleDeadline = time.Now().Add(d)
	} else {
		sh.idleDeadline = time.Time{}
	}
}

func (sh *socketHandler) setConnectionTimeout(d time.Duration) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.connTimeout, sh.connNotified = d, false
	if d > 0 {
		sh.connDeadline = time.Now().Add(d)
	} else {
		sh.connDeadline = time.Time{}
	}
}

func (sh *socketHandler) timeouts() (idle, conn time.Duration) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.idleTimeout, sh.connTimeout
}

// remaining returns the time left until the idle and the connection timeout expire,
// a disabled timeout reports -1.
func (sh *socketHandler) remaining(now time.Time) (idle, conn time.Duration) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	idle, conn = -1, -1
	if sh.idleTimeout > 0 {
		if idle = sh.idleDeadline.Sub(now); idle < 0 {
			idle = 0
		}
	}
	if sh.connTimeout > 0 {
		if conn = sh.connDeadline.Sub(now); conn < 0 {
			conn = 0
		}
	}
	return
}

// checkTimeouts runs on the watchdog goroutine. The first expiry of a kind notifies the
// callback and re-arms the deadline, an expiry that finds the previous one unanswered by
// new data or a new timeout closes the connection.
func (sh *socketHandler) checkTimeouts(now time.Time) {
	sh.mu.Lock()
	if !sh.open {
		sh.mu.Unlock()
		return
	}
	var idle, conn bool
	var forced error
	if sh.idleTimeout > 0 && !now.Before(sh.idleDeadline) {
		if sh.idleNotified {
			forced = errorx.ErrIdleTimeout
		} else {
			sh.idleNotified, idle = true, true
			sh.idleDeadline = now.Add(sh.idleTimeout)
		}
	}
	if sh.connTimeout > 0 && !now.Before(sh.connDeadline) {
		if sh.connNotified {
			forced = errorx.ErrConnectionTimeout
		} else {
			sh.connNotified, conn = true, true
			sh.connDeadline = now.Add(sh.connTimeout)
		}
	}
	cb := sh.cb
	sh.mu.Unlock()

	if forced != nil {
		sh.logger.Debugf("closing %s: %v", sh, forced)
		sh.closeWithError(forced)
		return
	}
	if idle {
		cb.onIdleTimeout()
	}
	if conn {
		cb.onConnectionTimeout()
	}
}

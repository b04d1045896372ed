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
	"sync"
	"time"

	"golang.org/x/time/rate"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

type failedWrite struct {
	err   error
	chunk []byte
}

// throttledWriteHandler holds outbound chunks back so that its successor sees at most
// bytesPerSecond bytes per second. It does not transform the chunks.
type throttledWriteHandler struct {
	successor ioHandler
	prev      ioCallback
	limiter   *rate.Limiter
	burst     int

	mu      sync.Mutex
	held    [][]byte
	size    int
	timer   *time.Timer
	closing bool
	closed  bool
}

func newThrottledWriteHandler(successor ioHandler, bytesPerSecond int) *throttledWriteHandler {
	return &throttledWriteHandler{
		successor: successor,
		limiter:   rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond),
		burst:     bytesPerSecond,
	}
}

func (t *throttledWriteHandler) init(cb ioCallback) {
	t.prev = cb
	t.successor.init(t)
}

func (t *throttledWriteHandler) setPreviousCallback(cb ioCallback) {
	t.prev = cb
}

func (t *throttledWriteHandler) write(chunks [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.closing {
		return errorx.ErrConnectionClosed
	}
	for _, c := range chunks {
		t.held = append(t.held, c)
		t.size += len(c)
	}
	return nil
}

// releaseLocked hands the chunks the limiter allows to the successor and arms the
// timer for the rest.
func (t *throttledWriteHandler) releaseLocked(now time.Time) (failed []failedWrite) {
	for len(t.held) > 0 {
		c := t.held[0]
		if n := len(c); n > 0 {
			if n > t.burst {
				n = t.burst
			}
			r := t.limiter.ReserveN(now, n)
			if delay := r.DelayFrom(now); delay > 0 {
				r.CancelAt(now)
				t.armLocked(delay)
				return
			}
		}
		t.held[0] = nil
		t.held = t.held[1:]
		t.size -= len(c)
		if err := t.successor.write([][]byte{c}); err != nil {
			failed = append(failed, failedWrite{err, c})
		}
	}
	return
}

func (t *throttledWriteHandler) armLocked(delay time.Duration) {
	if t.timer != nil {
		t.timer.Reset(delay)
		return
	}
	t.timer = time.AfterFunc(delay, func() {
		_ = t.flush()
	})
}

func (t *throttledWriteHandler) flush() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errorx.ErrConnectionClosed
	}
	failed := t.releaseLocked(time.Now())
	closeNow := t.closing && len(t.held) == 0
	t.mu.Unlock()

	for _, f := range failed {
		t.prev.onWriteException(f.err, f.chunk)
	}
	if err := t.successor.flush(); err != nil {
		return err
	}
	if closeNow {
		return t.successor.close(false)
	}
	return nil
}

func (t *throttledWriteHandler) close(immediate bool) error {
	if immediate {
		return t.successor.close(true)
	}
	t.mu.Lock()
	if len(t.held) > 0 {
		t.closing = true
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.successor.close(false)
}

func (t *throttledWriteHandler) isOpen() bool {
	t.mu.Lock()
	closing := t.closing || t.closed
	t.mu.Unlock()
	return !closing && t.successor.isOpen()
}

func (t *throttledWriteHandler) pendingWriteSize() int {
	t.mu.Lock()
	n := t.size
	t.mu.Unlock()
	return n + t.successor.pendingWriteSize()
}

func (t *throttledWriteHandler) suspendRead() error { return t.successor.suspendRead() }

func (t *throttledWriteHandler) resumeRead() error { return t.successor.resumeRead() }

func (t *throttledWriteHandler) setOption(name string, value any) error {
	return t.successor.setOption(name, value)
}

func (t *throttledWriteHandler) option(name string) (any, error) {
	return t.successor.option(name)
}

func (t *throttledWriteHandler) onConnect() { t.prev.onConnect() }

func (t *throttledWriteHandler) onData(chunks [][]byte, size int) { t.prev.onData(chunks, size) }

func (t *throttledWriteHandler) onWritten(chunk []byte) { t.prev.onWritten(chunk) }

func (t *throttledWriteHandler) onWriteException(err error, chunk []byte) {
	t.prev.onWriteException(err, chunk)
}

func (t *throttledWriteHandler) onDisconnect() {
	t.mu.Lock()
	t.closed = true
	held := t.held
	t.held, t.size = nil, 0
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	for _, c := range held {
		t.prev.onWriteException(errorx.ErrConnectionClosed, c)
	}
	t.prev.onDisconnect()
}

func (t *throttledWriteHandler) onIdleTimeout() { t.prev.onIdleTimeout() }

func (t *throttledWriteHandler) onConnectionTimeout() { t.prev.onConnectionTimeout() }

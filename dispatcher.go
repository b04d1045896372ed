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
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xconn-dev/xconn/internal/gid"
	"github.com/xconn-dev/xconn/internal/netpoll"
	"github.com/xconn-dev/xconn/internal/queue"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
	bsPool "github.com/xconn-dev/xconn/pkg/pool/byteslice"
)

// Dispatcher is the read-only view of a dispatcher handed to listeners.
type Dispatcher interface {
	Name() string
	NumConnections() int
	Stats() DispatcherStats
}

// DispatcherStats are the counters of one dispatcher.
type DispatcherStats struct {
	Name            string
	NumConnections  int
	HandledReads    uint64
	HandledWrites   uint64
	Registrations   uint64
	Deregistrations uint64
	BytesReceived   uint64
	BytesSent       uint64
}

// dispatcher owns one poller and the socket handlers registered with it.
// Socket events, registrations and secured-mode activation run on its goroutine.
type dispatcher struct {
	name   string
	pool   *dispatcherPool
	logger logging.Logger
	poller *netpoll.Poller

	guard    sync.Mutex // guards handlers and the poller registrations
	handlers map[int]*socketHandler

	arena []byte // read arena, touched by the dispatcher goroutine only

	closed atomic.Bool
	done   chan struct{}
	goid   atomic.Uint64 // goroutine running the loop

	handledReads    atomic.Uint64
	handledWrites   atomic.Uint64
	registrations   atomic.Uint64
	deregistrations atomic.Uint64
	bytesReceived   atomic.Uint64
	bytesSent       atomic.Uint64
}

func newDispatcher(pool *dispatcherPool, name string) (*dispatcher, error) {
	p, err := netpoll.OpenPoller()
	if err != nil {
		return nil, err
	}
	return &dispatcher{
		name:     name,
		pool:     pool,
		logger:   pool.logger,
		poller:   p,
		handlers: make(map[int]*socketHandler),
		done:     make(chan struct{}),
	}, nil
}

func (d *dispatcher) Name() string {
	return d.name
}

func (d *dispatcher) NumConnections() int {
	d.guard.Lock()
	defer d.guard.Unlock()
	return len(d.handlers)
}

func (d *dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Name:            d.name,
		NumConnections:  d.NumConnections(),
		HandledReads:    d.handledReads.Load(),
		HandledWrites:   d.handledWrites.Load(),
		Registrations:   d.registrations.Load(),
		Deregistrations: d.deregistrations.Load(),
		BytesReceived:   d.bytesReceived.Load(),
		BytesSent:       d.bytesSent.Load(),
	}
}

func (d *dispatcher) String() string {
	return d.name
}

func (d *dispatcher) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.done)
	d.goid.Store(gid.Current())

	d.logger.Debugf("dispatcher %s is running", d.name)
	err := d.poller.Polling(&d.guard, d.handleEvent)
	if err != nil && err != errorx.ErrDispatcherShutdown {
		d.logger.Errorf("dispatcher %s stopped with error: %v", d.name, err)
		return
	}
	d.logger.Debugf("dispatcher %s is exiting", d.name)
}

func (d *dispatcher) handleEvent(fd int, ev netpoll.Event) (err error) {
	d.guard.Lock()
	sh := d.handlers[fd]
	d.guard.Unlock()
	if sh == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("panic while handling events of %s on dispatcher %s: %v", sh, d.name, r)
			_ = sh.close(true)
		}
	}()
	if ev.Readable() {
		d.handledReads.Add(1)
		sh.onReadable(ev&netpoll.EventError != 0)
	}
	if ev.Writable() {
		d.handledWrites.Add(1)
		sh.onWritable()
	}
	return nil
}

// execute runs fn on the dispatcher goroutine.
func (d *dispatcher) execute(fn func()) error {
	if d.closed.Load() {
		return errorx.ErrDispatcherShutdown
	}
	return d.poller.Trigger(queue.HighPriority, func(any) error {
		fn()
		return nil
	}, nil)
}

// registerAsync registers sh from the dispatcher goroutine and then signals the connect,
// so that no event of sh can be handled before its connect went up the chain.
func (d *dispatcher) registerAsync(sh *socketHandler) <-chan error {
	errCh := make(chan error, 1)
	err := d.execute(func() {
		if err := sh.attach(); err != nil {
			errCh <- err
			sh.closeWithError(err)
			return
		}
		errCh <- nil
		sh.onRegistered()
	})
	if err != nil {
		errCh <- err
		sh.closeWithError(err)
	}
	return errCh
}

func (d *dispatcher) register(sh *socketHandler, interest netpoll.Interest) error {
	if d.closed.Load() {
		return errorx.ErrDispatcherShutdown
	}
	_ = d.poller.Wakeup()
	d.guard.Lock()
	defer d.guard.Unlock()
	if err := d.poller.Register(sh.fd, interest); err != nil {
		return fmt.Errorf("failed to register %s on dispatcher %s: %w", sh, d.name, err)
	}
	d.handlers[sh.fd] = sh
	d.registrations.Add(1)
	return nil
}

func (d *dispatcher) deregister(sh *socketHandler) error {
	_ = d.poller.Wakeup()
	d.guard.Lock()
	defer d.guard.Unlock()
	if d.handlers[sh.fd] != sh {
		return nil
	}
	delete(d.handlers, sh.fd)
	d.deregistrations.Add(1)
	return d.poller.Unregister(sh.fd)
}

func (d *dispatcher) updateInterest(sh *socketHandler, interest netpoll.Interest) error {
	_ = d.poller.Wakeup()
	d.guard.Lock()
	defer d.guard.Unlock()
	if d.handlers[sh.fd] != sh {
		return nil
	}
	return d.poller.Modify(sh.fd, interest)
}

// readBuffer returns the buffer the next read of sh goes to.
// With preallocation the buffer is the unused part of the arena.
func (d *dispatcher) readBuffer(hint int) (buf []byte, fromArena bool) {
	size, minSize, ok := d.pool.readBufferSizes()
	if !ok {
		return bsPool.Get(hint), false
	}
	if len(d.arena) < minSize {
		d.arena = make([]byte, size)
	}
	return d.arena, true
}

// takeArena cuts n read bytes off the arena, the returned chunk cannot grow into the rest.
func (d *dispatcher) takeArena(n int) []byte {
	chunk := d.arena[:n:n]
	d.arena = d.arena[n:]
	return chunk
}

func (d *dispatcher) snapshot() []*socketHandler {
	d.guard.Lock()
	defer d.guard.Unlock()
	handlers := make([]*socketHandler, 0, len(d.handlers))
	for _, sh := range d.handlers {
		handlers = append(handlers, sh)
	}
	return handlers
}

// checkTimeouts runs on the watchdog goroutine.
func (d *dispatcher) checkTimeouts(now time.Time) {
	for _, sh := range d.snapshot() {
		sh.checkTimeouts(now)
	}
}

// close stops the dispatcher and closes its connections, it must not be called
// from the dispatcher goroutine.
func (d *dispatcher) close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	err := d.poller.Trigger(queue.HighPriority, func(any) error {
		return errorx.ErrDispatcherShutdown
	}, nil)
	if err != nil {
		d.logger.Errorf("failed to stop dispatcher %s: %v", d.name, err)
	} else {
		<-d.done
	}
	for _, sh := range d.snapshot() {
		_ = sh.close(true)
	}
	if err = d.poller.Close(); err != nil {
		d.logger.Errorf("failed to close poller of dispatcher %s: %v", d.name, err)
	}
}

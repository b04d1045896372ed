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
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/xconn-dev/xconn/internal/gid"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
)

// DispatcherListener is notified when the dispatcher pool grows or shrinks.
type DispatcherListener interface {
	OnDispatcherAdded(d Dispatcher)
	OnDispatcherRemoved(d Dispatcher)
}

// dispatcherPool assigns new connections to its dispatchers round-robin.
type dispatcherPool struct {
	prefix string
	logger logging.Logger

	mu          sync.RWMutex
	dispatchers []*dispatcher
	listeners   []DispatcherListener
	seq         int
	closed      bool

	nextIndex atomic.Uint64

	preallocation  atomic.Bool
	preallocSize   atomic.Int64
	readBufMinSize atomic.Int64
	maxReadRetries atomic.Int64
}

func newDispatcherPool(prefix string, opts *Options, logger logging.Logger) *dispatcherPool {
	p := &dispatcherPool{prefix: prefix, logger: logger}
	p.preallocation.Store(!opts.DisableReadBufferPreallocation)
	p.preallocSize.Store(int64(opts.ReadBufferPreallocationSize))
	p.readBufMinSize.Store(int64(opts.ReadBufferMinSize))
	p.maxReadRetries.Store(int64(opts.MaxReadRetries))
	p.listeners = append(p.listeners, opts.DispatcherListeners...)
	return p
}

// next returns the dispatcher for a new connection.
func (p *dispatcherPool) next() (*dispatcher, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || len(p.dispatchers) == 0 {
		return nil, errorx.ErrDispatcherShutdown
	}
	i := p.nextIndex.Add(1) - 1
	return p.dispatchers[i%uint64(len(p.dispatchers))], nil
}

// resize grows or shrinks the pool to n dispatchers. Removed dispatchers close their
// connections, the connections of the remaining ones stay where they are.
func (p *dispatcherPool) resize(n int) error {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errorx.ErrDispatcherShutdown
	}
	var (
		added, removed []*dispatcher
		err            error
	)
	for len(p.dispatchers) < n {
		var d *dispatcher
		if d, err = newDispatcher(p, p.prefix+"-dispatcher-"+strconv.Itoa(p.seq)); err != nil {
			break
		}
		p.seq++
		p.dispatchers = append(p.dispatchers, d)
		added = append(added, d)
	}
	if len(p.dispatchers) > n {
		removed = append(removed, p.dispatchers[n:]...)
		p.dispatchers = p.dispatchers[:n:n]
	}
	listeners := append([]DispatcherListener(nil), p.listeners...)
	p.mu.Unlock()

	for _, d := range added {
		go d.run()
		for _, l := range listeners {
			l.OnDispatcherAdded(d)
		}
	}
	p.shutdown(removed, listeners)
	return err
}

func (p *dispatcherPool) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.dispatchers)
}

func (p *dispatcherPool) iterate(f func(d *dispatcher) bool) {
	p.mu.RLock()
	dispatchers := append([]*dispatcher(nil), p.dispatchers...)
	p.mu.RUnlock()
	for _, d := range dispatchers {
		if !f(d) {
			break
		}
	}
}

func (p *dispatcherPool) addListener(l DispatcherListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

func (p *dispatcherPool) setReadBufferPreallocationSize(size int) {
	if size <= 0 {
		p.preallocation.Store(false)
		return
	}
	p.preallocSize.Store(int64(size))
	p.preallocation.Store(true)
}

func (p *dispatcherPool) setReadBufferMinSize(size int) {
	if size > 0 {
		p.readBufMinSize.Store(int64(size))
	}
}

func (p *dispatcherPool) readBufferSizes() (size, minSize int, preallocated bool) {
	return int(p.preallocSize.Load()), int(p.readBufMinSize.Load()), p.preallocation.Load()
}

func (p *dispatcherPool) setMaxReadRetries(n int) {
	if n > 0 {
		p.maxReadRetries.Store(int64(n))
	}
}

func (p *dispatcherPool) readRetries() int {
	return int(p.maxReadRetries.Load())
}

func (p *dispatcherPool) numConnections() (n int) {
	p.iterate(func(d *dispatcher) bool {
		n += d.NumConnections()
		return true
	})
	return
}

func (p *dispatcherPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dispatchers := p.dispatchers
	p.dispatchers = nil
	listeners := append([]DispatcherListener(nil), p.listeners...)
	p.mu.Unlock()

	p.shutdown(dispatchers, listeners)
}

// shutdown closes ds and notifies listeners. A dispatcher cannot wait for its own loop
// to stop, so the one the caller runs on is closed in the background.
func (p *dispatcherPool) shutdown(ds []*dispatcher, listeners []DispatcherListener) {
	removed := func(d *dispatcher) {
		for _, l := range listeners {
			l.OnDispatcherRemoved(d)
		}
	}
	self := gid.Current()
	var (
		g       errgroup.Group
		stopped []*dispatcher
	)
	for _, d := range ds {
		d := d
		if d.goid.Load() == self {
			p.logger.Debugf("dispatcher %s is closed from its own loop", d.name)
			go func() {
				d.close()
				removed(d)
			}()
			continue
		}
		stopped = append(stopped, d)
		g.Go(func() error {
			d.close()
			return nil
		})
	}
	_ = g.Wait()
	for _, d := range stopped {
		removed(d)
	}
}

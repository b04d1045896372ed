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
	"sync/atomic"
	"time"

	"github.com/xconn-dev/xconn/pkg/logging"
)

const minWatchdogPeriod = 10 * time.Millisecond

// watchdog periodically asks every dispatcher to check the timeouts of its connections.
type watchdog struct {
	pool   *dispatcherPool
	logger logging.Logger

	mu     sync.Mutex
	period time.Duration
	reset  chan time.Duration

	idleTimeouts       atomic.Uint64
	connectionTimeouts atomic.Uint64

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func newWatchdog(pool *dispatcherPool, period time.Duration, logger logging.Logger) *watchdog {
	if period < minWatchdogPeriod {
		period = minWatchdogPeriod
	}
	return &watchdog{
		pool:   pool,
		logger: logger,
		period: period,
		reset:  make(chan time.Duration, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (w *watchdog) start() {
	go w.run()
}

// adjust lowers the period so that a timeout of d is detected with a delay of at most d/2.
func (w *watchdog) adjust(d time.Duration) {
	if d <= 0 {
		return
	}
	p := d / 2
	if p < minWatchdogPeriod {
		p = minWatchdogPeriod
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if p >= w.period {
		return
	}
	w.period = p
	select {
	case <-w.reset:
	default:
	}
	w.reset <- p
}

func (w *watchdog) currentPeriod() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.period
}

func (w *watchdog) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.currentPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case p := <-w.reset:
			w.logger.Debugf("watchdog period lowered to %v", p)
			ticker.Reset(p)
		case now := <-ticker.C:
			w.pool.iterate(func(d *dispatcher) bool {
				d.checkTimeouts(now)
				return true
			})
		}
	}
}

func (w *watchdog) close() {
	w.once.Do(func() {
		close(w.stop)
		<-w.done
	})
}

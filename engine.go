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
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/xconn-dev/xconn/internal/gid"
	"github.com/xconn-dev/xconn/internal/socket"
	"github.com/xconn-dev/xconn/pkg/charset"
	"github.com/xconn-dev/xconn/pkg/logging"
	"github.com/xconn-dev/xconn/pkg/pool/goroutine"
	"github.com/xconn-dev/xconn/pkg/tlsengine"
)

// engine is the context shared by every component of a server or a client.
type engine struct {
	opts      *Options
	logger    logging.Logger
	flusher   logging.Flusher
	pool      *dispatcherPool
	watchdog  *watchdog
	workers   *goroutine.Pool
	charset   *charset.Charset
	tlsConfig *tls.Config
	sessions  *tlsengine.SessionCache

	idPrefix string
	seq      atomic.Uint64

	numConns atomic.Int64
	total    atomic.Uint64

	// inline marks the goroutines running a Nonthreaded callback.
	inline gid.Marks

	once sync.Once
}

func newEngine(role string, options ...Option) (eng *engine, err error) {
	opts := loadOptions(options...)
	opts.normalize()

	cs, err := charset.Lookup(opts.Encoding)
	if err != nil {
		return nil, err
	}
	for name, value := range opts.SocketOptions {
		if err = socket.ValidateOption(name, value); err != nil {
			return nil, err
		}
	}

	logger, flusher := logging.GetDefaultLogger(), logging.Flusher(nil)
	if opts.Logger == nil {
		switch {
		case opts.LogPath != "":
			if logger, flusher, err = logging.CreateLoggerAsLocalFile(opts.LogPath, opts.LogLevel); err != nil {
				return nil, err
			}
		case opts.LogLevel != logging.DefaultLevel():
			if logger, flusher, err = logging.New(logging.Config{Level: opts.LogLevel}); err != nil {
				return nil, err
			}
		}
		opts.Logger = logger
	}

	workers, err := goroutine.New(opts.WorkerPoolSize, opts.Logger)
	if err != nil {
		return nil, err
	}

	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	eng = &engine{
		opts:      opts,
		logger:    opts.Logger,
		flusher:   flusher,
		workers:   workers,
		charset:   cs,
		tlsConfig: opts.TLSConfig,
		idPrefix:  prefix,
	}
	if role == "client" && opts.TLSConfig != nil {
		eng.sessions = tlsengine.NewSessionCache(opts.TLSSessionTTL)
	}
	eng.pool = newDispatcherPool(role+"-"+prefix[:6], opts, eng.logger)
	if err = eng.pool.resize(opts.NumDispatchers); err != nil {
		eng.close()
		return nil, err
	}
	eng.watchdog = newWatchdog(eng.pool, opts.WatchdogPeriod, eng.logger)
	eng.watchdog.adjust(opts.IdleTimeout)
	eng.watchdog.adjust(opts.ConnectionTimeout)
	eng.watchdog.start()
	return eng, nil
}

func (eng *engine) nextID() string {
	return eng.idPrefix + "-" + strconv.FormatUint(eng.seq.Add(1), 10)
}

// openConnection builds the chain for fd and registers it with the next dispatcher.
// The returned channel reports the outcome of the registration. fd is closed on failure.
func (eng *engine) openConnection(fd int, remote net.Addr, caps *handlerCaps, tlsConfig *tls.Config, isClient bool) (*Connection, <-chan error, error) {
	d, err := eng.pool.next()
	if err != nil {
		_ = unix.Close(fd)
		return nil, nil, err
	}
	for name, value := range eng.opts.SocketOptions {
		if err := socket.SetOption(fd, name, value); err != nil {
			eng.logger.Warnf("failed to set %s on fd %d: %v", name, fd, err)
		}
	}

	sh := newSocketHandler(d, fd, remote)
	sh.setIdleTimeout(eng.opts.IdleTimeout)
	sh.setConnectionTimeout(eng.opts.ConnectionTimeout)

	var chain ioHandler = sh
	if eng.opts.WriteRateLimit > 0 {
		chain = newThrottledWriteHandler(chain, eng.opts.WriteRateLimit)
	}
	var th *tlsHandler
	if tlsConfig != nil {
		th = newTLSHandler(chain, tlsConfig, isClient, eng.opts.TLSActivatable, eng.logger)
		chain = th
	}

	c := newConnection(eng, chain, sh, th, caps.forConnection(), isClient)
	chain.init(c)
	eng.numConns.Add(1)
	eng.total.Add(1)
	return c, d.registerAsync(sh), nil
}

func (eng *engine) untrack(*Connection) {
	eng.numConns.Add(-1)
}

func (eng *engine) close() {
	eng.once.Do(func() {
		if eng.watchdog != nil {
			eng.watchdog.close()
		}
		eng.pool.close()
		eng.workers.Release()
		if eng.sessions != nil {
			eng.sessions.Flush()
		}
		if eng.flusher != nil {
			_ = eng.flusher()
		}
	})
}

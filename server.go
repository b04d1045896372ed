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
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xconn-dev/xconn/internal/netpoll"
	"github.com/xconn-dev/xconn/internal/queue"
	"github.com/xconn-dev/xconn/internal/socket"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

const acceptBackoff = 50 * time.Millisecond

// ServerStats is a snapshot of the counters of a Server.
type ServerStats struct {
	Addr               net.Addr
	NumOpenConnections int
	TotalAccepted      uint64
	AcceptErrors       uint64
	IdleTimeouts       uint64
	ConnectionTimeouts uint64
	WorkerPoolRunning  int
	WorkerPoolCap      int
	Dispatchers        []DispatcherStats
}

// Server accepts TCP connections and hands them to its dispatchers.
type Server struct {
	eng     *engine
	caps    *handlerCaps
	fd      int
	addr    net.Addr
	network string
	poller  *netpoll.Poller

	serving atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
	once    sync.Once

	accepted     atomic.Uint64
	acceptErrors atomic.Uint64
}

// parseProtoAddr splits "tcp://host:port" into network and address, the network defaults to tcp.
func parseProtoAddr(addr string) (network, address string, err error) {
	network = "tcp"
	address = strings.ToLower(addr)
	if strings.Contains(address, "://") {
		pair := strings.SplitN(address, "://", 2)
		network = pair[0]
		address = pair[1]
	}
	if network == "" || address == "" {
		return "", "", errorx.ErrInvalidNetworkAddress
	}
	return
}

// NewServer binds addr, e.g. "tcp://127.0.0.1:9000" or ":9000", and prepares serving
// connections with handler. Connections are not accepted before Serve is called.
func NewServer(addr string, handler Handler, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, errorx.ErrNilHandler
	}
	options := loadOptions(opts...)
	network, address, err := parseProtoAddr(addr)
	if err != nil {
		return nil, err
	}

	var sockopts []socket.Option
	if options.ReuseAddr {
		sockopts = append(sockopts, socket.Option{Name: socket.SoReuseAddr, Value: true})
	}
	if options.ReusePort {
		sockopts = append(sockopts, socket.Option{Name: socket.SoReusePort, Value: true})
	}
	if options.ListenRecvBuffer > 0 {
		sockopts = append(sockopts, socket.Option{Name: socket.SoRcvBuf, Value: options.ListenRecvBuffer})
	}
	fd, netAddr, err := socket.TCPSocket(network, address, options.Backlog, sockopts...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		caps:    introspect(handler),
		fd:      fd,
		addr:    netAddr,
		network: network,
		done:    make(chan struct{}),
	}
	if s.poller, err = netpoll.OpenPoller(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err = s.poller.Register(fd, netpoll.InterestRead); err != nil {
		_ = s.poller.Close()
		_ = unix.Close(fd)
		return nil, err
	}
	if s.eng, err = newEngine("server", opts...); err != nil {
		_ = s.poller.Close()
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until Close is called, it then returns errors.ErrServerClosed.
func (s *Server) Serve() error {
	if s.closed.Load() || !s.serving.CompareAndSwap(false, true) {
		return errorx.ErrServerClosed
	}
	defer close(s.done)
	if s.caps.lifeCycle != nil {
		s.caps.lifeCycle.OnInit()
	}
	s.eng.logger.Infof("server is listening on %s://%s with %d dispatchers", s.network, s.addr, s.eng.pool.size())
	err := s.poller.Polling(nil, s.accept)
	if err == errorx.ErrDispatcherShutdown {
		return errorx.ErrServerClosed
	}
	return err
}

func (s *Server) accept(fd int, _ netpoll.Event) error {
	for {
		nfd, remote, err := socket.Accept(fd)
		switch err {
		case nil:
		case unix.EAGAIN:
			return nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EMFILE, unix.ENFILE:
			s.acceptErrors.Add(1)
			s.eng.logger.Errorf("accept on %s: %v, backing off", s.addr, err)
			time.Sleep(acceptBackoff)
			return nil
		default:
			s.acceptErrors.Add(1)
			s.eng.logger.Errorf("accept on %s: %v", s.addr, err)
			return nil
		}

		if _, _, err = s.eng.openConnection(nfd, remote, s.caps, s.eng.tlsConfig, false); err != nil {
			s.acceptErrors.Add(1)
			s.eng.logger.Warnf("failed to open connection from %v: %v", remote, err)
			continue
		}
		s.accepted.Add(1)
	}
}

// Close stops accepting, closes every connection and releases the server.
func (s *Server) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		if s.serving.Load() {
			err := s.poller.Trigger(queue.HighPriority, func(any) error {
				return errorx.ErrDispatcherShutdown
			}, nil)
			if err == nil {
				<-s.done
			} else {
				s.eng.logger.Errorf("failed to stop accepting on %s: %v", s.addr, err)
			}
		}
		_ = s.poller.Close()
		_ = unix.Close(s.fd)
		s.eng.close()
		if s.caps.lifeCycle != nil {
			s.caps.lifeCycle.OnDestroy()
		}
	})
	return nil
}

// NumOpenConnections returns the number of open connections.
func (s *Server) NumOpenConnections() int {
	return int(s.eng.numConns.Load())
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() ServerStats {
	st := ServerStats{
		Addr:               s.addr,
		NumOpenConnections: s.NumOpenConnections(),
		TotalAccepted:      s.accepted.Load(),
		AcceptErrors:       s.acceptErrors.Load(),
		IdleTimeouts:       s.eng.watchdog.idleTimeouts.Load(),
		ConnectionTimeouts: s.eng.watchdog.connectionTimeouts.Load(),
		WorkerPoolRunning:  s.eng.workers.Running(),
		WorkerPoolCap:      s.eng.workers.Cap(),
	}
	s.eng.pool.iterate(func(d *dispatcher) bool {
		st.Dispatchers = append(st.Dispatchers, d.Stats())
		return true
	})
	return st
}

// DispatcherPoolSize returns the number of dispatchers.
func (s *Server) DispatcherPoolSize() int {
	return s.eng.pool.size()
}

// SetDispatcherPoolSize grows or shrinks the dispatcher pool, the connections of removed
// dispatchers are closed.
func (s *Server) SetDispatcherPoolSize(n int) error {
	return s.eng.pool.resize(n)
}

// AddDispatcherListener registers l for dispatcher pool changes.
func (s *Server) AddDispatcherListener(l DispatcherListener) {
	s.eng.pool.addListener(l)
}

// SetWorkerPoolSize changes the capacity of the worker pool running the callbacks.
func (s *Server) SetWorkerPoolSize(n int) {
	s.eng.workers.Tune(n)
}

// SetReadBufferPreallocationSize sets the size of the read arenas, a non-positive size disables them.
func (s *Server) SetReadBufferPreallocationSize(size int) {
	s.eng.pool.setReadBufferPreallocationSize(size)
}

// SetReadBufferMinSize sets the space below which a read arena is replaced.
func (s *Server) SetReadBufferMinSize(size int) {
	s.eng.pool.setReadBufferMinSize(size)
}

// SetMaxReadRetries caps the reads done for one readiness event.
func (s *Server) SetMaxReadRetries(n int) {
	s.eng.pool.setMaxReadRetries(n)
}

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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleServer struct {
	veto      bool
	notified  atomic.Int32
	remaining chan time.Duration
	gone      chan time.Time
}

func newIdleServer(veto bool) *idleServer {
	return &idleServer{veto: veto, remaining: make(chan time.Duration, 1), gone: make(chan time.Time, 1)}
}

func (s *idleServer) OnConnect(c *Connection) error {
	s.remaining <- c.RemainingIdleTime()
	return nil
}

func (s *idleServer) OnData(c *Connection) error {
	_, err := c.ReadBytesByLength(c.Available())
	return err
}

func (s *idleServer) OnIdleTimeout(*Connection) bool {
	s.notified.Add(1)
	return s.veto
}

func (s *idleServer) OnDisconnect(*Connection) {
	s.gone <- time.Now()
}

func TestIdleTimeoutVetoThenForcedClose(t *testing.T) {
	is := newIdleServer(true)
	s := startServer(t, is, WithIdleTimeout(200*time.Millisecond), WithWatchdogPeriod(20*time.Millisecond))
	start := time.Now()
	dial(t, s)

	remaining := <-is.remaining
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, 200*time.Millisecond)

	select {
	case at := <-is.gone:
		assert.GreaterOrEqual(t, at.Sub(start), 350*time.Millisecond)
	case <-time.After(waitFor):
		t.Fatal("idle connection was not closed")
	}
	assert.EqualValues(t, 1, is.notified.Load())
	assert.EqualValues(t, 1, s.Stats().IdleTimeouts)
}

func TestIdleTimeoutWithoutVeto(t *testing.T) {
	is := newIdleServer(false)
	s := startServer(t, is, WithIdleTimeout(150*time.Millisecond), WithWatchdogPeriod(20*time.Millisecond))
	conn, _ := dial(t, s)
	<-is.remaining

	start := time.Now()
	for i := 0; i < 6; i++ {
		_, err := conn.Write([]byte("tick"))
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}
	assert.Zero(t, is.notified.Load(), "received data resets the idle timeout")

	select {
	case at := <-is.gone:
		assert.GreaterOrEqual(t, at.Sub(start), 300*time.Millisecond)
	case <-time.After(waitFor):
		t.Fatal("idle connection was not closed")
	}
	assert.EqualValues(t, 1, is.notified.Load())
}

type lifetimeServer struct {
	conns chan *Connection
	gone  chan time.Time
}

func (s *lifetimeServer) OnConnect(c *Connection) error {
	s.conns <- c
	return nil
}

func (s *lifetimeServer) OnDisconnect(*Connection) {
	s.gone <- time.Now()
}

func TestConnectionTimeoutWithoutHandler(t *testing.T) {
	ls := &lifetimeServer{conns: make(chan *Connection, 1), gone: make(chan time.Time, 1)}
	s := startServer(t, ls, WithConnectionTimeout(150*time.Millisecond), WithWatchdogPeriod(time.Second))
	start := time.Now()
	dial(t, s)

	c := <-ls.conns
	assert.Equal(t, 150*time.Millisecond, c.ConnectionTimeout())
	assert.Zero(t, c.IdleTimeout())
	assert.Equal(t, time.Duration(-1), c.RemainingIdleTime())

	select {
	case at := <-ls.gone:
		elapsed := at.Sub(start)
		assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
		assert.Less(t, elapsed, 2*time.Second, "the watchdog period follows the shortest timeout")
	case <-time.After(waitFor):
		t.Fatal("connection timeout did not close the connection")
	}
	assert.EqualValues(t, 1, s.Stats().ConnectionTimeouts)
}

func TestSetTimeoutOnConnection(t *testing.T) {
	ls := &lifetimeServer{conns: make(chan *Connection, 1), gone: make(chan time.Time, 1)}
	s := startServer(t, ls)
	dial(t, s)

	c := <-ls.conns
	assert.Zero(t, c.ConnectionTimeout())
	start := time.Now()
	c.SetConnectionTimeout(100 * time.Millisecond)
	select {
	case at := <-ls.gone:
		assert.GreaterOrEqual(t, at.Sub(start), 100*time.Millisecond)
	case <-time.After(waitFor):
		t.Fatal("connection timeout set on the connection did not close it")
	}
}

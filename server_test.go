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
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
)

const waitFor = 5 * time.Second

func startServer(t *testing.T, handler Handler, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithNumDispatchers(2), WithLogLevel(logging.ErrorLevel)}, opts...)
	s, err := NewServer("tcp://127.0.0.1:0", handler, opts...)
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve() }()
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
		select {
		case err := <-served:
			assert.ErrorIs(t, err, errorx.ErrServerClosed)
		case <-time.After(waitFor):
			t.Error("Serve did not return after Close")
		}
	})
	return s
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*waitFor)))
	return conn, bufio.NewReader(conn)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func expectLine(t *testing.T, r *bufio.Reader, want string) {
	t.Helper()
	line, err := readLine(r)
	require.NoError(t, err)
	require.Equal(t, want, line)
}

type pingServer struct {
	connects    atomic.Int32
	disconnects atomic.Int32
	inits       atomic.Int32
	destroys    atomic.Int32
	gone        chan *Connection
}

func newPingServer() *pingServer {
	return &pingServer{gone: make(chan *Connection, 64)}
}

func (s *pingServer) OnInit()    { s.inits.Add(1) }
func (s *pingServer) OnDestroy() { s.destroys.Add(1) }

func (s *pingServer) OnConnect(c *Connection) error {
	s.connects.Add(1)
	_, err := c.WriteString("HELO\r\n")
	return err
}

func (s *pingServer) OnData(c *Connection) error {
	line, err := c.ReadStringByDelimiter("\r\n")
	if err != nil {
		return err
	}
	switch line {
	case "PING":
		_, err = c.WriteString("PONG\r\n")
	case "QUIT":
		if _, err = c.WriteString("BYE\r\n"); err != nil {
			return err
		}
		return c.Close()
	default:
		_, err = c.WriteString(line + "\r\n")
	}
	return err
}

func (s *pingServer) OnDisconnect(c *Connection) {
	s.disconnects.Add(1)
	s.gone <- c
}

func TestServerPingPong(t *testing.T) {
	ps := newPingServer()
	s := startServer(t, ps)
	conn, r := dial(t, s)

	expectLine(t, r, "HELO")
	_, err := conn.Write([]byte("PI"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write([]byte("NG\r\n"))
	require.NoError(t, err)
	expectLine(t, r, "PONG")

	_, err = conn.Write([]byte("hello\r\nQUIT\r\n"))
	require.NoError(t, err)
	expectLine(t, r, "hello")
	expectLine(t, r, "BYE")
	_, err = r.ReadByte()
	require.ErrorIs(t, err, io.EOF)

	select {
	case c := <-ps.gone:
		assert.False(t, c.IsOpen())
		assert.True(t, c.IsServerSide())
		assert.EqualValues(t, len("PING\r\nhello\r\nQUIT\r\n"), c.BytesReceived())
		assert.EqualValues(t, len("HELO\r\nPONG\r\nhello\r\nBYE\r\n"), c.BytesSent())
		select {
		case <-c.Done():
		default:
			t.Error("Done is not closed after OnDisconnect")
		}
	case <-time.After(waitFor):
		t.Fatal("OnDisconnect was not called")
	}
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, ps.connects.Load())
	assert.EqualValues(t, 1, ps.disconnects.Load())
	assert.EqualValues(t, 1, ps.inits.Load())
	require.Eventually(t, func() bool { return s.NumOpenConnections() == 0 }, waitFor, 10*time.Millisecond)
}

func TestServerLifeCycle(t *testing.T) {
	ps := newPingServer()
	s, err := NewServer("tcp://127.0.0.1:0", ps, WithNumDispatchers(1), WithLogLevel(logging.ErrorLevel))
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	conn, err := net.DialTimeout("tcp", s.Addr().String(), waitFor)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)
	expectLine(t, r, "HELO")

	require.NoError(t, s.Close())
	require.ErrorIs(t, <-served, errorx.ErrServerClosed)
	require.ErrorIs(t, s.Serve(), errorx.ErrServerClosed)
	assert.EqualValues(t, 1, ps.inits.Load())
	assert.EqualValues(t, 1, ps.destroys.Load())

	select {
	case <-ps.gone:
	case <-time.After(waitFor):
		t.Fatal("open connection was not closed with the server")
	}
	_, err = r.ReadByte()
	assert.Error(t, err)
	require.NoError(t, s.Close())
}

func TestServerConcurrentClients(t *testing.T) {
	ps := newPingServer()
	s := startServer(t, ps, WithNumDispatchers(4), WithWorkerPoolSize(16))

	const clients, rounds = 16, 100
	var g errgroup.Group
	for i := 0; i < clients; i++ {
		i := i
		g.Go(func() error {
			conn, err := net.DialTimeout("tcp", s.Addr().String(), waitFor)
			if err != nil {
				return err
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(2 * waitFor))
			r := bufio.NewReader(conn)
			if line, err := readLine(r); err != nil || line != "HELO" {
				return fmt.Errorf("client %d: greeting %q: %v", i, line, err)
			}
			for j := 0; j < rounds; j++ {
				msg := fmt.Sprintf("client-%d-%d", i, j)
				if _, err := conn.Write([]byte(msg + "\r\nPING\r\n")); err != nil {
					return err
				}
				for _, want := range []string{msg, "PONG"} {
					if line, err := readLine(r); err != nil || line != want {
						return fmt.Errorf("client %d: got %q want %q: %v", i, line, want, err)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stats := s.Stats()
	assert.EqualValues(t, clients, stats.TotalAccepted)
	assert.Len(t, stats.Dispatchers, 4)
	require.Eventually(t, func() bool { return s.NumOpenConnections() == 0 }, waitFor, 10*time.Millisecond)
	assert.EqualValues(t, clients, ps.disconnects.Load())
}

func TestServerNilHandler(t *testing.T) {
	_, err := NewServer("tcp://127.0.0.1:0", nil)
	assert.ErrorIs(t, err, errorx.ErrNilHandler)
}

func TestServerInvalidAddress(t *testing.T) {
	for _, addr := range []string{"", "tcp://", "://127.0.0.1:0"} {
		_, err := NewServer(addr, newPingServer())
		assert.ErrorIs(t, err, errorx.ErrInvalidNetworkAddress, addr)
	}
	_, err := NewServer("udp://127.0.0.1:0", newPingServer())
	assert.ErrorIs(t, err, errorx.ErrUnsupportedProtocol)
}

func TestServerInvalidSocketOptions(t *testing.T) {
	_, err := NewServer("tcp://127.0.0.1:0", newPingServer(),
		WithSocketOptions(map[string]any{"SO_NOPE": 1}))
	assert.ErrorIs(t, err, errorx.ErrUnsupportedOption)

	_, err = NewServer("tcp://127.0.0.1:0", newPingServer(),
		WithSocketOptions(map[string]any{"TCP_NODELAY": "yes"}))
	assert.ErrorIs(t, err, errorx.ErrInvalidOptionValue)

	_, err = NewServer("tcp://127.0.0.1:0", newPingServer(), WithEncoding("KLINGON"))
	assert.ErrorIs(t, err, errorx.ErrUnsupportedEncoding)
}

type serialServer struct {
	active  atomic.Int32
	overlap atomic.Bool
}

func (s *serialServer) OnData(c *Connection) error {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	line, err := c.ReadStringByDelimiter("\n")
	if err != nil {
		return err
	}
	time.Sleep(100 * time.Microsecond)
	_, err = c.WriteString(line + "\n")
	return err
}

func TestCallbacksAreSerialized(t *testing.T) {
	ss := &serialServer{}
	s := startServer(t, ss, WithWorkerPoolSize(8))
	conn, r := dial(t, s)

	const n = 300
	var batch bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&batch, "line-%d\n", i)
	}
	go func() { _, _ = conn.Write(batch.Bytes()) }()
	for i := 0; i < n; i++ {
		expectLine(t, r, fmt.Sprintf("line-%d", i))
	}
	assert.False(t, ss.overlap.Load())
}

type rawEcho struct{ mode ExecutionMode }

func (h rawEcho) OnData(c *Connection) error {
	b, err := c.ReadBytesByLength(c.Available())
	if err != nil {
		return err
	}
	_, err = c.WriteBuffers(b)
	return err
}

func (h rawEcho) ExecutionMode() ExecutionMode { return h.mode }

func TestEchoLargePayload(t *testing.T) {
	for _, mode := range []ExecutionMode{Multithreaded, Nonthreaded} {
		mode := mode
		t.Run(mode.String(), func(t *testing.T) {
			s := startServer(t, rawEcho{mode: mode})
			conn, _ := dial(t, s)

			payload := make([]byte, 4<<20)
			for i := range payload {
				payload[i] = byte(i % 251)
			}
			var g errgroup.Group
			g.Go(func() error {
				_, err := conn.Write(payload)
				return err
			})
			echoed := make([]byte, len(payload))
			_, err := io.ReadFull(conn, echoed)
			require.NoError(t, err)
			require.NoError(t, g.Wait())
			require.True(t, bytes.Equal(payload, echoed))
		})
	}
}

type blastServer struct {
	size   int
	result chan error
	left   chan int
}

func (s *blastServer) OnConnect(c *Connection) error {
	buf := make([]byte, s.size)
	for i := range buf {
		buf[i] = byte(i)
	}
	_, err := c.WriteBuffers(buf[:s.size/2], buf[s.size/2:])
	s.left <- c.PendingWriteSize()
	s.result <- err
	return err
}

func TestSyncFlushWaitsForTheSocket(t *testing.T) {
	bs := &blastServer{size: 32 << 20, result: make(chan error, 1), left: make(chan int, 1)}
	s := startServer(t, bs)
	conn, _ := dial(t, s)

	time.Sleep(50 * time.Millisecond)
	select {
	case <-bs.result:
		t.Fatal("sync flush returned before the peer read the data")
	default:
	}

	got := make([]byte, bs.size)
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	select {
	case err = <-bs.result:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("sync flush did not return")
	}
	assert.Zero(t, <-bs.left)
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d is %d", i, got[i])
		}
	}
}

// stallServer parks the first connection and, on BLAST from another one, sync-writes
// more to the parked connection than the kernel can buffer.
type stallServer struct {
	parked atomic.Pointer[Connection]
	size   int
}

func (s *stallServer) ExecutionMode() ExecutionMode { return Nonthreaded }

func (s *stallServer) OnConnect(c *Connection) error {
	s.parked.CompareAndSwap(nil, c)
	return nil
}

func (s *stallServer) OnData(c *Connection) error {
	line, err := c.ReadStringByDelimiter("\r\n")
	if err != nil {
		return err
	}
	if line == "BLAST" {
		if _, err = s.parked.Load().Write(make([]byte, s.size)); err != nil {
			return err
		}
	}
	_, err = c.WriteString("DONE\r\n")
	return err
}

func TestSyncFlushOfAnotherConnectionInNonthreadedCallback(t *testing.T) {
	ss := &stallServer{size: 32 << 20}
	s := startServer(t, ss)
	_, _ = dial(t, s)
	require.Eventually(t, func() bool { return ss.parked.Load() != nil }, waitFor, 10*time.Millisecond)

	conn, r := dial(t, s)
	_, err := conn.Write([]byte("BLAST\r\n"))
	require.NoError(t, err)
	expectLine(t, r, "DONE")
	assert.Positive(t, ss.parked.Load().PendingWriteSize())

	_, err = conn.Write([]byte("AGAIN\r\n"))
	require.NoError(t, err)
	expectLine(t, r, "DONE")
}

type markServer struct {
	errs chan error
}

func (s *markServer) OnConnect(c *Connection) error {
	s.errs <- c.MarkWritePosition()
	s.errs <- c.ResetToReadMark()
	c.SetAutoflush(false)
	s.errs <- c.ResetToWriteMark()
	return nil
}

// OnData answers every line with its length as a big-endian int32, followed by the line.
func (s *markServer) OnData(c *Connection) error {
	line, err := c.ReadStringByDelimiter("\n")
	if err != nil {
		return err
	}
	if err = c.MarkWritePosition(); err != nil {
		return err
	}
	if err = c.WriteInt32(0); err != nil {
		return err
	}
	n, err := c.WriteString(line)
	if err != nil {
		return err
	}
	if err = c.ResetToWriteMark(); err != nil {
		return err
	}
	if err = c.WriteInt32(int32(n)); err != nil {
		return err
	}
	c.RemoveWriteMark()
	return c.Flush()
}

func TestWriteMarkLengthPrefix(t *testing.T) {
	ms := &markServer{errs: make(chan error, 3)}
	s := startServer(t, ms)
	conn, _ := dial(t, s)

	assert.ErrorIs(t, <-ms.errs, errorx.ErrAutoflushEnabled)
	assert.ErrorIs(t, <-ms.errs, errorx.ErrReadMarkNotSet)
	assert.ErrorIs(t, <-ms.errs, errorx.ErrWriteMarkNotSet)

	for _, line := range []string{"a", "hello world", strings.Repeat("x", 70000)} {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		var size int32
		require.NoError(t, binary.Read(conn, binary.BigEndian, &size))
		require.EqualValues(t, len(line), size)
		got := make([]byte, size)
		_, err = io.ReadFull(conn, got)
		require.NoError(t, err)
		require.Equal(t, line, string(got))
	}
}

type frameServer struct {
	calls atomic.Int32
}

// OnData echoes int32 length prefixed frames, an incomplete frame is put back.
func (s *frameServer) OnData(c *Connection) error {
	s.calls.Add(1)
	c.MarkReadPosition()
	size, err := c.ReadInt32()
	if err != nil {
		return err
	}
	payload, err := c.ReadBytesByLength(int(size))
	if err != nil {
		if rerr := c.ResetToReadMark(); rerr != nil {
			return rerr
		}
		return err
	}
	c.RemoveReadMark()
	_, err = c.WriteStrings(string(payload), "\n")
	return err
}

func TestReadMarkResumesFrames(t *testing.T) {
	fs := &frameServer{}
	s := startServer(t, fs)
	conn, r := dial(t, s)

	frame := func(p string) []byte {
		b := make([]byte, 4+len(p))
		binary.BigEndian.PutUint32(b, uint32(len(p)))
		copy(b[4:], p)
		return b
	}
	f := frame("resumable frame")
	_, err := conn.Write(f[:2])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write(f[2:9])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write(append(f[9:], frame("second")...))
	require.NoError(t, err)

	expectLine(t, r, "resumable frame")
	expectLine(t, r, "second")
	assert.GreaterOrEqual(t, fs.calls.Load(), int32(3))
}

type suspendServer struct {
	conns chan *Connection
	lines chan string
}

func (s *suspendServer) OnConnect(c *Connection) error {
	s.conns <- c
	return nil
}

func (s *suspendServer) OnData(c *Connection) error {
	line, err := c.ReadStringByDelimiter("\n")
	if err != nil {
		return err
	}
	s.lines <- line
	return nil
}

func TestSuspendReceiving(t *testing.T) {
	ss := &suspendServer{conns: make(chan *Connection, 1), lines: make(chan string, 16)}
	s := startServer(t, ss)
	conn, _ := dial(t, s)
	c := <-ss.conns

	require.NoError(t, c.SuspendReceiving())
	assert.True(t, c.IsReceivingSuspended())
	_, err := conn.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)
	select {
	case line := <-ss.lines:
		t.Fatalf("received %q while suspended", line)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, c.ResumeReceiving())
	assert.False(t, c.IsReceivingSuspended())
	for _, want := range []string{"one", "two"} {
		select {
		case line := <-ss.lines:
			assert.Equal(t, want, line)
		case <-time.After(waitFor):
			t.Fatalf("%q was not received after resuming", want)
		}
	}
}

type scopedServer struct {
	created atomic.Int32
}

type counterHandler struct{ n int }

func (h *counterHandler) OnData(c *Connection) error {
	if _, err := c.ReadStringByDelimiter("\n"); err != nil {
		return err
	}
	h.n++
	_, err := c.WriteString(fmt.Sprintf("%d\n", h.n))
	return err
}

func (s *scopedServer) NewConnectionHandler() Handler {
	s.created.Add(1)
	return &counterHandler{}
}

func TestConnectionScopedHandlers(t *testing.T) {
	ss := &scopedServer{}
	s := startServer(t, ss)
	for i := 0; i < 3; i++ {
		conn, r := dial(t, s)
		for j := 1; j <= 3; j++ {
			_, err := conn.Write([]byte("inc\n"))
			require.NoError(t, err)
			expectLine(t, r, fmt.Sprint(j))
		}
	}
	assert.EqualValues(t, 3, ss.created.Load())
}

type failingServer struct {
	mu     sync.Mutex
	closed []string
}

func (s *failingServer) OnData(c *Connection) error {
	line, err := c.ReadStringByDelimiter("\n")
	if err != nil {
		return err
	}
	switch line {
	case "panic":
		panic("handler panic")
	case "fail":
		return io.ErrUnexpectedEOF
	}
	_, err = c.WriteString(line + "\n")
	return err
}

func (s *failingServer) OnDisconnect(c *Connection) {
	s.mu.Lock()
	s.closed = append(s.closed, c.ID())
	s.mu.Unlock()
}

func TestHandlerFailureClosesConnection(t *testing.T) {
	fs := &failingServer{}
	s := startServer(t, fs)
	for _, cmd := range []string{"panic", "fail"} {
		conn, r := dial(t, s)
		_, err := conn.Write([]byte("ok\n" + cmd + "\n"))
		require.NoError(t, err)
		expectLine(t, r, "ok")
		_, err = r.ReadByte()
		require.Error(t, err, cmd)
	}
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.closed) == 2
	}, waitFor, 10*time.Millisecond)
	fs.mu.Lock()
	assert.NotEqual(t, fs.closed[0], fs.closed[1])
	fs.mu.Unlock()
}

func TestClientDial(t *testing.T) {
	ps := newPingServer()
	s := startServer(t, ps)

	cli, err := NewClient(WithLogLevel(logging.ErrorLevel))
	require.NoError(t, err)
	defer cli.Close()

	lines := make(chan string, 8)
	c, err := cli.Dial(context.Background(), "tcp://"+s.Addr().String(), lineCollector(lines))
	require.NoError(t, err)
	assert.False(t, c.IsServerSide())
	assert.Equal(t, s.Addr().String(), c.RemoteAddr().String())
	assert.NotEmpty(t, c.ID())
	assert.NotEmpty(t, c.Dispatcher())

	assert.Equal(t, "HELO", waitLine(t, lines))
	_, err = c.WriteString("PING\r\n")
	require.NoError(t, err)
	assert.Equal(t, "PONG", waitLine(t, lines))
	assert.Equal(t, 1, cli.NumOpenConnections())

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("client connection was not closed")
	}
	_, err = c.WriteString("PING\r\n")
	assert.ErrorIs(t, err, errorx.ErrConnectionClosed)
	require.Eventually(t, func() bool { return cli.NumOpenConnections() == 0 }, waitFor, 10*time.Millisecond)
}

func TestConnectionOptions(t *testing.T) {
	s := startServer(t, newPingServer())
	cli, err := NewClient(WithLogLevel(logging.ErrorLevel), WithSocketOptions(map[string]any{"SO_KEEPALIVE": true}))
	require.NoError(t, err)
	defer cli.Close()

	c, err := cli.Dial(context.Background(), s.Addr().String(), nil)
	require.NoError(t, err)
	defer c.CloseImmediately()

	v, err := c.Option("SO_KEEPALIVE")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	require.NoError(t, c.SetOption("TCP_NODELAY", false))
	v, err = c.Option("TCP_NODELAY")
	require.NoError(t, err)
	assert.Equal(t, false, v)
	require.NoError(t, c.SetOption("TCP_NODELAY", true))
	v, err = c.Option("TCP_NODELAY")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	assert.ErrorIs(t, c.SetOption("SO_NOPE", 1), errorx.ErrUnsupportedOption)
	assert.ErrorIs(t, c.SetOption("SO_RCVBUF", "big"), errorx.ErrInvalidOptionValue)
	_, err = c.Option("SO_NOPE")
	assert.ErrorIs(t, err, errorx.ErrUnsupportedOption)

	assert.Equal(t, DefaultEncoding, c.Encoding())
	assert.ErrorIs(t, c.SetEncoding("KLINGON"), errorx.ErrUnsupportedEncoding)
	c.SetAttachment("session")
	assert.Equal(t, "session", c.Attachment())
}

type lineCollector chan string

func (l lineCollector) OnData(c *Connection) error {
	line, err := c.ReadStringByDelimiter("\r\n")
	if err != nil {
		return err
	}
	l <- line
	return nil
}

func waitLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line := <-lines:
		return line
	case <-time.After(waitFor):
		t.Fatal("no line received")
		return ""
	}
}

func TestBlockingConnection(t *testing.T) {
	s := startServer(t, newPingServer())
	cli, err := NewClient(WithLogLevel(logging.ErrorLevel))
	require.NoError(t, err)
	defer cli.Close()

	bc, err := cli.DialBlocking(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer bc.Close()
	assert.Equal(t, DefaultReadTimeout, bc.ReadTimeout())

	line, err := bc.ReadStringByDelimiter("\r\n")
	require.NoError(t, err)
	assert.Equal(t, "HELO", line)

	bc.SetReadTimeout(100 * time.Millisecond)
	start := time.Now()
	_, err = bc.ReadStringByDelimiter("\r\n")
	assert.ErrorIs(t, err, errorx.ErrReadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	bc.SetReadTimeout(waitFor)
	_, err = bc.WriteString("PING\r\n")
	require.NoError(t, err)
	b, err := bc.ReadBytesByLength(6)
	require.NoError(t, err)
	assert.Equal(t, "PONG\r\n", string(b))

	_, err = bc.WriteString("QUIT\r\n")
	require.NoError(t, err)
	line, err = bc.ReadStringByDelimiter("\r\n")
	require.NoError(t, err)
	assert.Equal(t, "BYE", line)
	_, err = bc.ReadByte()
	assert.ErrorIs(t, err, errorx.ErrConnectionClosed)
}

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

package tlsengine

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peer struct {
	eng      Engine
	finished bool
	plain    []byte
	closed   bool
}

func configs(t *testing.T, cache tls.ClientSessionCache) (*tls.Config, *tls.Config) {
	cert, pool, err := SelfSignedCertificate("localhost", "127.0.0.1")
	require.NoError(t, err)
	server := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	client := &tls.Config{RootCAs: pool, ServerName: "localhost", ClientSessionCache: cache, MinVersion: tls.VersionTLS12}
	return server, client
}

// transfer runs pending tasks of from, wraps src and feeds every produced byte to to.
func transfer(t *testing.T, from, to *peer, src []byte) bool {
	for task := from.eng.DelegatedTask(); task != nil; task = from.eng.DelegatedTask() {
		task()
	}
	var moved bool
	for {
		out := make([]byte, 512)
		res, err := from.eng.Wrap(src, out)
		require.NoError(t, err)
		src = src[res.Consumed:]
		if res.HandshakeStatus == Finished {
			from.finished = true
		}
		if res.Produced > 0 {
			moved = true
			receive(t, to, out[:res.Produced])
		}
		if res.Status != StatusBufferOverflow && len(src) == 0 {
			return moved
		}
	}
}

func receive(t *testing.T, to *peer, records []byte) {
	for {
		// A tiny buffer exercises the overflow path.
		dst := make([]byte, 3)
		res, err := to.eng.Unwrap(records, dst)
		require.NoError(t, err)
		records = records[res.Consumed:]
		to.plain = append(to.plain, dst[:res.Produced]...)
		if res.HandshakeStatus == Finished {
			to.finished = true
		}
		if res.Status == StatusClosed {
			to.closed = true
		}
		if res.Status != StatusBufferOverflow {
			return
		}
	}
}

func handshake(t *testing.T, client, server *peer) {
	require.NoError(t, client.eng.BeginHandshake())
	require.NoError(t, server.eng.BeginHandshake())
	for i := 0; i < 100 && !(client.finished && server.finished); i++ {
		transfer(t, client, server, nil)
		transfer(t, server, client, nil)
	}
	require.True(t, client.finished, "client handshake")
	require.True(t, server.finished, "server handshake")
}

func TestEngineHandshakeAndEcho(t *testing.T) {
	for name, version := range map[string]uint16{"TLS1.2": tls.VersionTLS12, "TLS1.3": tls.VersionTLS13} {
		version := version
		t.Run(name, func(t *testing.T) {
			serverCfg, clientCfg := configs(t, nil)
			serverCfg.MaxVersion, clientCfg.MaxVersion = version, version
			client := &peer{eng: NewClientEngine(clientCfg)}
			server := &peer{eng: NewServerEngine(serverCfg)}
			defer client.eng.Close() //nolint:errcheck
			defer server.eng.Close() //nolint:errcheck

			assert.Equal(t, NotHandshaking, client.eng.HandshakeStatus())
			handshake(t, client, server)
			assert.Equal(t, version, client.eng.ConnectionState().Version)
			assert.True(t, server.eng.ConnectionState().HandshakeComplete)

			transfer(t, client, server, []byte("hello over tls"))
			assert.Equal(t, "hello over tls", string(server.plain))
			transfer(t, server, client, []byte("and back"))
			// TLS 1.3 tickets may precede the data.
			transfer(t, client, server, nil)
			assert.Equal(t, "and back", string(client.plain))

			client.eng.CloseOutbound()
			transfer(t, client, server, nil)
			assert.True(t, client.eng.IsOutboundDone())
			assert.True(t, server.closed)
			assert.True(t, server.eng.IsInboundDone())
		})
	}
}

func TestEngineLargePayload(t *testing.T) {
	serverCfg, clientCfg := configs(t, nil)
	client := &peer{eng: NewClientEngine(clientCfg)}
	server := &peer{eng: NewServerEngine(serverCfg)}
	defer client.eng.Close() //nolint:errcheck
	defer server.eng.Close() //nolint:errcheck
	handshake(t, client, server)

	payload := make([]byte, 100<<10)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	transfer(t, client, server, payload)
	assert.Equal(t, payload, server.plain)
}

func TestEngineUnderflowOnPartialRecord(t *testing.T) {
	serverCfg, clientCfg := configs(t, nil)
	client := &peer{eng: NewClientEngine(clientCfg)}
	server := &peer{eng: NewServerEngine(serverCfg)}
	defer client.eng.Close() //nolint:errcheck
	defer server.eng.Close() //nolint:errcheck
	handshake(t, client, server)

	out := make([]byte, 1024)
	res, err := client.eng.Wrap([]byte("split"), out)
	require.NoError(t, err)
	require.Greater(t, res.Produced, 2)

	dst := make([]byte, 64)
	res2, err := server.eng.Unwrap(out[:2], dst)
	require.NoError(t, err)
	assert.Equal(t, StatusBufferUnderflow, res2.Status)
	assert.Equal(t, 2, res2.Consumed)

	res2, err = server.eng.Unwrap(out[2:res.Produced], dst)
	require.NoError(t, err)
	assert.Equal(t, "split", string(dst[:res2.Produced]))
}

func TestEngineHandshakeFailure(t *testing.T) {
	serverCfg, clientCfg := configs(t, nil)
	clientCfg.ServerName = "not-the-cert-host"
	client := NewClientEngine(clientCfg)
	server := NewServerEngine(serverCfg)
	defer client.Close() //nolint:errcheck
	defer server.Close() //nolint:errcheck

	var failed bool
	for i := 0; i < 100 && !failed; i++ {
		for _, pair := range [][2]Engine{{client, server}, {server, client}} {
			from, to := pair[0], pair[1]
			for task := from.DelegatedTask(); task != nil; task = from.DelegatedTask() {
				task()
			}
			out := make([]byte, 16<<10)
			res, err := from.Wrap(nil, out)
			if err != nil {
				failed = true
				break
			}
			if res.Produced > 0 {
				if _, err = to.Unwrap(out[:res.Produced], make([]byte, 1024)); err != nil {
					failed = true
					break
				}
			}
		}
	}
	assert.True(t, failed)
}

func TestSessionCache(t *testing.T) {
	c := NewSessionCache(50 * time.Millisecond)
	_, ok := c.Get("missing")
	assert.False(t, ok)

	cs := &tls.ClientSessionState{}
	c.Put("k", cs)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, cs, got)

	c.Put("k", nil)
	_, ok = c.Get("k")
	assert.False(t, ok)

	c.Put("k", cs)
	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)

	c.Put("a", cs)
	c.Flush()
	assert.Zero(t, c.Len())
}

func TestSessionCacheResumption(t *testing.T) {
	cache := NewSessionCache(time.Minute)
	serverCfg, clientCfg := configs(t, cache)

	first := &peer{eng: NewClientEngine(clientCfg)}
	server := &peer{eng: NewServerEngine(serverCfg)}
	handshake(t, first, server)
	require.Eventually(t, func() bool {
		transfer(t, server, first, nil)
		transfer(t, first, server, []byte("x"))
		return cache.Len() > 0
	}, 3*time.Second, 10*time.Millisecond)
	_ = first.eng.Close()
	_ = server.eng.Close()

	second := &peer{eng: NewClientEngine(clientCfg)}
	server2 := &peer{eng: NewServerEngine(serverCfg)}
	defer second.eng.Close()  //nolint:errcheck
	defer server2.eng.Close() //nolint:errcheck
	handshake(t, second, server2)
	assert.True(t, second.eng.ConnectionState().DidResume)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "BUFFER_OVERFLOW", StatusBufferOverflow.String())
	assert.Equal(t, "NEED_UNWRAP", NeedUnwrap.String())
	assert.Equal(t, "FINISHED", Finished.String())
}

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
	"context"
	"net"
	"sync/atomic"

	"github.com/xconn-dev/xconn/internal/socket"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

// Client dials connections served by its own dispatchers.
type Client struct {
	eng    *engine
	closed atomic.Bool
}

// NewClient creates a Client.
func NewClient(opts ...Option) (*Client, error) {
	eng, err := newEngine("client", opts...)
	if err != nil {
		return nil, err
	}
	return &Client{eng: eng}, nil
}

// Dial connects to addr, e.g. "tcp://127.0.0.1:9000", and serves the connection with handler,
// which may be nil. A Client configured with WithTLS starts the handshake right away.
func (cli *Client) Dial(ctx context.Context, addr string, handler Handler) (*Connection, error) {
	if cli.closed.Load() {
		return nil, errorx.ErrServerClosed
	}
	network, address, err := parseProtoAddr(addr)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	fd, err := socket.DupConn(nc)
	remote := nc.RemoteAddr()
	_ = nc.Close()
	if err != nil {
		return nil, err
	}

	tlsConfig := cli.eng.tlsConfig
	if tlsConfig != nil {
		tlsConfig = tlsConfig.Clone()
		if tlsConfig.ServerName == "" {
			if host, _, err := net.SplitHostPort(address); err == nil {
				tlsConfig.ServerName = host
			}
		}
		if tlsConfig.ClientSessionCache == nil {
			tlsConfig.ClientSessionCache = cli.eng.sessions
		}
	}

	c, registered, err := cli.eng.openConnection(fd, remote, introspect(handler), tlsConfig, true)
	if err != nil {
		return nil, err
	}
	select {
	case err = <-registered:
		if err != nil {
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		_ = c.CloseImmediately()
		return nil, ctx.Err()
	}
}

// DialBlocking dials like Dial and wraps the connection into a BlockingConnection.
func (cli *Client) DialBlocking(ctx context.Context, addr string) (*BlockingConnection, error) {
	c, err := cli.Dial(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	return NewBlockingConnection(c), nil
}

// NumOpenConnections returns the number of open connections.
func (cli *Client) NumOpenConnections() int {
	return int(cli.eng.numConns.Load())
}

// Close closes every connection of the client and releases it.
func (cli *Client) Close() error {
	if cli.closed.CompareAndSwap(false, true) {
		cli.eng.close()
	}
	return nil
}

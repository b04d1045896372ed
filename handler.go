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

// Handler is any value implementing one or more of the handler interfaces below.
// The framework looks the interfaces up once and only calls what is implemented.
type Handler = any

// ExecutionMode selects the goroutine running the callbacks of a handler.
type ExecutionMode int

const (
	// Multithreaded runs callbacks on the worker pool, serialized per connection.
	Multithreaded ExecutionMode = iota
	// Nonthreaded runs callbacks on the goroutine that produced the event, typically a dispatcher.
	// Such callbacks must not block.
	Nonthreaded
)

func (m ExecutionMode) String() string {
	if m == Nonthreaded {
		return "NONTHREADED"
	}
	return "MULTITHREADED"
}

type (
	// ConnectHandler is notified once a connection is established, secured ones after the handshake.
	// A returned error closes the connection.
	ConnectHandler interface {
		OnConnect(c *Connection) error
	}

	// DataHandler is called while received data is available.
	// Returning an error wrapping errors.ErrBufferUnderflow means that more data is needed,
	// any other error closes the connection.
	DataHandler interface {
		OnData(c *Connection) error
	}

	// DisconnectHandler is notified once the connection is closed.
	DisconnectHandler interface {
		OnDisconnect(c *Connection)
	}

	// IdleTimeoutHandler is notified when no data was received within the idle timeout.
	// Returning true keeps the connection open.
	IdleTimeoutHandler interface {
		OnIdleTimeout(c *Connection) bool
	}

	// ConnectionTimeoutHandler is notified when the connection timeout expires.
	// Returning true keeps the connection open.
	ConnectionTimeoutHandler interface {
		OnConnectionTimeout(c *Connection) bool
	}

	// LifeCycle is notified when the server starts and stops.
	LifeCycle interface {
		OnInit()
		OnDestroy()
	}

	// ConnectionScoped handlers hand every connection its own instance.
	ConnectionScoped interface {
		NewConnectionHandler() Handler
	}

	// ExecutionModer overrides the default Multithreaded execution mode.
	ExecutionModer interface {
		ExecutionMode() ExecutionMode
	}
)

// handlerCaps records which callbacks a handler implements.
type handlerCaps struct {
	handler           Handler
	connect           ConnectHandler
	data              DataHandler
	disconnect        DisconnectHandler
	idleTimeout       IdleTimeoutHandler
	connectionTimeout ConnectionTimeoutHandler
	lifeCycle         LifeCycle
	scoped            ConnectionScoped
	mode              ExecutionMode
}

func introspect(h Handler) *handlerCaps {
	caps := &handlerCaps{handler: h}
	if h == nil {
		return caps
	}
	caps.connect, _ = h.(ConnectHandler)
	caps.data, _ = h.(DataHandler)
	caps.disconnect, _ = h.(DisconnectHandler)
	caps.idleTimeout, _ = h.(IdleTimeoutHandler)
	caps.connectionTimeout, _ = h.(ConnectionTimeoutHandler)
	caps.lifeCycle, _ = h.(LifeCycle)
	caps.scoped, _ = h.(ConnectionScoped)
	if m, ok := h.(ExecutionModer); ok {
		caps.mode = m.ExecutionMode()
	}
	return caps
}

// forConnection returns the caps of the handler instance serving a new connection.
func (caps *handlerCaps) forConnection() *handlerCaps {
	if caps.scoped == nil {
		return caps
	}
	return introspect(caps.scoped.NewConnectionHandler())
}

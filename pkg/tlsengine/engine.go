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

// Package tlsengine defines a buffer to buffer transport-security engine, driven by
// Wrap and Unwrap calls the way a non-blocking reactor needs it, and implements it
// on top of crypto/tls.
package tlsengine

import "crypto/tls"

// Status is the outcome of a Wrap or Unwrap call.
type Status int

const (
	// StatusOK means the call made progress.
	StatusOK Status = iota
	// StatusBufferUnderflow means more inbound bytes are needed before plaintext can be produced.
	StatusBufferUnderflow
	// StatusBufferOverflow means dst was too small to take everything the engine has ready.
	StatusBufferOverflow
	// StatusClosed means the engine is closed in the direction of the call.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBufferUnderflow:
		return "BUFFER_UNDERFLOW"
	case StatusBufferOverflow:
		return "BUFFER_OVERFLOW"
	case StatusClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// HandshakeStatus tells the caller what the handshake needs next.
type HandshakeStatus int

const (
	// NotHandshaking means no handshake is in progress.
	NotHandshaking HandshakeStatus = iota
	// Finished is reported exactly once, by the call that completed the handshake.
	Finished
	// NeedTask means DelegatedTask has to be run before the engine can go on.
	NeedTask
	// NeedWrap means the engine has handshake bytes to send.
	NeedWrap
	// NeedUnwrap means the engine waits for bytes from the peer.
	NeedUnwrap
)

func (hs HandshakeStatus) String() string {
	switch hs {
	case NotHandshaking:
		return "NOT_HANDSHAKING"
	case Finished:
		return "FINISHED"
	case NeedTask:
		return "NEED_TASK"
	case NeedWrap:
		return "NEED_WRAP"
	case NeedUnwrap:
		return "NEED_UNWRAP"
	}
	return "UNKNOWN"
}

// Result reports what a Wrap or Unwrap call did.
type Result struct {
	Status          Status
	HandshakeStatus HandshakeStatus
	Consumed        int
	Produced        int
}

// Engine transforms plaintext into records (Wrap) and records into plaintext (Unwrap).
// It is not safe for concurrent Wrap or Unwrap calls.
type Engine interface {
	// BeginHandshake starts the handshake, it is a no-op once started.
	BeginHandshake() error
	// Wrap consumes plaintext from src and writes records to dst.
	Wrap(src, dst []byte) (Result, error)
	// Unwrap consumes records from src and writes plaintext to dst.
	Unwrap(src, dst []byte) (Result, error)
	// HandshakeStatus returns the current handshake status.
	HandshakeStatus() HandshakeStatus
	// DelegatedTask returns the pending task, nil if there is none.
	DelegatedTask() func()
	// CloseOutbound queues the closure alert, later Wrap calls flush it and report StatusClosed.
	CloseOutbound()
	// IsOutboundDone reports whether everything, closure alert included, was wrapped.
	IsOutboundDone() bool
	// IsInboundDone reports whether the peer closed its side.
	IsInboundDone() bool
	// ConnectionState returns the negotiated parameters.
	ConnectionState() tls.ConnectionState
	// Close releases the engine.
	Close() error
}

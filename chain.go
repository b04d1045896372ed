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

// ioHandler is a node of the chain between a Connection and its socket.
// Every node forwards to its successor, the socket node at the bottom owns the descriptor.
// write only queues and never calls back, a failing write takes none of the chunks.
// Callbacks are emitted from flush and from events, never while a node holds its own lock,
// and flush is never called from a write confirmation.
type ioHandler interface {
	init(cb ioCallback)
	write(chunks [][]byte) error
	flush() error
	close(immediate bool) error
	isOpen() bool
	pendingWriteSize() int
	suspendRead() error
	resumeRead() error
	setOption(name string, value any) error
	option(name string) (any, error)
	setPreviousCallback(cb ioCallback)
}

// ioCallback is the upward direction of the chain.
// Every chunk accepted by ioHandler.write is answered by exactly one onWritten or onWriteException.
type ioCallback interface {
	onConnect()
	onData(chunks [][]byte, size int)
	onWritten(chunk []byte)
	onWriteException(err error, chunk []byte)
	onDisconnect()
	onIdleTimeout()
	onConnectionTimeout()
}

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

// Package netpoll wraps the readiness multiplexer of the host (epoll or kqueue) together
// with a wakeup channel and an asynchronous task queue.
package netpoll

// Event is the portable readiness reported for a file descriptor.
type Event uint8

const (
	// EventRead reports that the descriptor is readable.
	EventRead Event = 1 << iota
	// EventWrite reports that the descriptor is writable.
	EventWrite
	// EventError reports a hang-up or an error condition on the descriptor.
	EventError
)

// Readable reports whether ev carries read readiness or an error, both of which are served by a read.
func (ev Event) Readable() bool {
	return ev&(EventRead|EventError) != 0
}

// Writable reports whether ev carries write readiness.
func (ev Event) Writable() bool {
	return ev&EventWrite != 0
}

// Interest is the set of readiness kinds a descriptor is registered for.
type Interest uint8

const (
	// InterestNone keeps the descriptor registered without asking for readiness.
	InterestNone Interest = 0
	// InterestRead asks for read readiness.
	InterestRead Interest = 1 << 0
	// InterestWrite asks for write readiness.
	InterestWrite Interest = 1 << 1
	// InterestReadWrite asks for both.
	InterestReadWrite = InterestRead | InterestWrite
)

// Has reports whether all bits of o are set in i.
func (i Interest) Has(o Interest) bool {
	return i&o == o
}

func (i Interest) String() string {
	switch i {
	case InterestNone:
		return "NONE"
	case InterestRead:
		return "READ"
	case InterestWrite:
		return "WRITE"
	case InterestReadWrite:
		return "READ|WRITE"
	}
	return "INVALID"
}

// EventHandler is invoked by Polling for every descriptor that became ready.
type EventHandler func(fd int, ev Event) error

const (
	// InitPollEventsCap represents the initial capacity of poller event-list.
	InitPollEventsCap = 128
	// MaxPollEventsCap is the maximum limitation of events that the poller can process.
	MaxPollEventsCap = 1024
	// MinPollEventsCap is the minimum limitation of events that the poller can process.
	MinPollEventsCap = 32
	// MaxAsyncTasksAtOneTime is the maximum amount of low-priority tasks run in one round.
	MaxAsyncTasksAtOneTime = 256
)

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

//go:build freebsd || dragonfly || darwin

package netpoll

import (
	"errors"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/xconn-dev/xconn/internal/queue"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
)

type eventList struct {
	size   int
	events []unix.Kevent_t
}

func newEventList(size int) *eventList {
	return &eventList{size, make([]unix.Kevent_t, size)}
}

func (el *eventList) expand() {
	if newSize := el.size << 1; newSize <= MaxPollEventsCap {
		el.size = newSize
		el.events = make([]unix.Kevent_t, newSize)
	}
}

func (el *eventList) shrink() {
	if newSize := el.size >> 1; newSize >= MinPollEventsCap {
		el.size = newSize
		el.events = make([]unix.Kevent_t, newSize)
	}
}

// Poller monitors file descriptors with kqueue and runs queued tasks between waits.
type Poller struct {
	fd                   int
	wakeupCall           int32
	asyncTaskQueue       queue.AsyncTaskQueue // queue with low priority
	urgentAsyncTaskQueue queue.AsyncTaskQueue // queue with high priority
}

// OpenPoller instantiates a poller.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.Kqueue(); err != nil {
		poller = nil
		err = os.NewSyscallError("kqueue", err)
		return
	}
	if _, err = unix.Kevent(poller.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = poller.Close()
		poller = nil
		err = os.NewSyscallError("kevent add|clear", err)
		return
	}
	poller.asyncTaskQueue = queue.NewLockFreeQueue()
	poller.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return
}

// Close closes the poller.
func (p *Poller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

var note = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

// Wakeup interrupts the blocking wait so that the poller passes its guard section.
func (p *Poller) Wakeup() error {
	if !atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		return nil
	}
	return p.notify()
}

func (p *Poller) notify() (err error) {
	for {
		if _, err = unix.Kevent(p.fd, note, nil, nil); err == unix.EINTR {
			continue
		}
		break
	}
	if err == unix.EAGAIN {
		err = nil
	}
	return os.NewSyscallError("kevent trigger", err)
}

// Trigger enqueues a task and wakes up the poller to run it on the polling goroutine.
//
// Low-priority tasks run at most MaxAsyncTasksAtOneTime per round, urgent ones are all drained.
func (p *Poller) Trigger(priority queue.EventPriority, fn queue.Func, param any) error {
	task := queue.GetTask()
	task.Exec, task.Param = fn, param
	if priority == queue.HighPriority {
		p.urgentAsyncTaskQueue.Enqueue(task)
	} else {
		p.asyncTaskQueue.Enqueue(task)
	}
	return p.Wakeup()
}

// Polling blocks the current goroutine, waiting for network-events.
//
// Before every blocking wait the poller passes an empty critical section of guard,
// so a goroutine holding guard can mutate the registrations without racing the wait.
// Polling returns when a callback or a task reports errors.ErrDispatcherShutdown.
func (p *Poller) Polling(guard sync.Locker, callback EventHandler) error {
	el := newEventList(InitPollEventsCap)

	var (
		ts       unix.Timespec
		tsp      *unix.Timespec
		doChores bool
	)
	for {
		if guard != nil {
			guard.Lock()
			guard.Unlock() //nolint:staticcheck
		}
		n, err := unix.Kevent(p.fd, nil, el.events, tsp)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			tsp = nil
			runtime.Gosched()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in kqueue: %v", os.NewSyscallError("kevent wait", err))
			return err
		}
		tsp = &ts

		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if ev.Filter == unix.EVFILT_USER { // poller is awakened to run tasks in queues.
				doChores = true
				continue
			}
			err = callback(int(ev.Ident), toEvent(ev))
			if errors.Is(err, errorx.ErrDispatcherShutdown) {
				return err
			} else if err != nil {
				logging.Warnf("error occurs in event-loop: %v", err)
			}
		}

		if doChores {
			doChores = false
			atomic.StoreInt32(&p.wakeupCall, 0)
			if err = p.runTasks(); err != nil {
				return err
			}
			if (!p.asyncTaskQueue.IsEmpty() || !p.urgentAsyncTaskQueue.IsEmpty()) && atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
				if err = p.notify(); err != nil {
					doChores = true
				}
			}
		}

		if n == el.size {
			el.expand()
		} else if n < el.size>>1 {
			el.shrink()
		}
	}
}

func (p *Poller) runTasks() error {
	task := p.urgentAsyncTaskQueue.Dequeue()
	for ; task != nil; task = p.urgentAsyncTaskQueue.Dequeue() {
		if err := runTask(task); err != nil {
			return err
		}
	}
	for i := 0; i < MaxAsyncTasksAtOneTime; i++ {
		if task = p.asyncTaskQueue.Dequeue(); task == nil {
			break
		}
		if err := runTask(task); err != nil {
			return err
		}
	}
	return nil
}

func toEvent(kev *unix.Kevent_t) (ev Event) {
	switch kev.Filter {
	case unix.EVFILT_READ:
		ev = EventRead
	case unix.EVFILT_WRITE:
		ev = EventWrite
	}
	if kev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
		ev |= EventError
	}
	return
}

func changes(fd int, interest Interest) []unix.Kevent_t {
	readFlags, writeFlags := uint16(unix.EV_ADD|unix.EV_DISABLE), uint16(unix.EV_ADD|unix.EV_DISABLE)
	if interest.Has(InterestRead) {
		readFlags = unix.EV_ADD | unix.EV_ENABLE
	}
	if interest.Has(InterestWrite) {
		writeFlags = unix.EV_ADD | unix.EV_ENABLE
	}
	return []unix.Kevent_t{
		{Ident: uint64(fd), Flags: readFlags, Filter: unix.EVFILT_READ},
		{Ident: uint64(fd), Flags: writeFlags, Filter: unix.EVFILT_WRITE},
	}
}

// Register adds fd to the poller with the given interest.
func (p *Poller) Register(fd int, interest Interest) error {
	_, err := unix.Kevent(p.fd, changes(fd, interest), nil, nil)
	return os.NewSyscallError("kevent add", err)
}

// Modify replaces the interest of a registered fd.
func (p *Poller) Modify(fd int, interest Interest) error {
	_, err := unix.Kevent(p.fd, changes(fd, interest), nil, nil)
	return os.NewSyscallError("kevent mod", err)
}

// Unregister removes fd from the poller.
func (p *Poller) Unregister(fd int) error {
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Flags: unix.EV_DELETE, Filter: unix.EVFILT_READ},
		{Ident: uint64(fd), Flags: unix.EV_DELETE, Filter: unix.EVFILT_WRITE},
	}, nil, nil)
	if err == unix.ENOENT {
		err = nil
	}
	return os.NewSyscallError("kevent delete", err)
}

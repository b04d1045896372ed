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

//go:build linux

package netpoll

import (
	"errors"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xconn-dev/xconn/internal/queue"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvents = unix.EPOLLOUT
	errEvents   = unix.EPOLLERR | unix.EPOLLHUP
)

type eventList struct {
	size   int
	events []unix.EpollEvent
}

func newEventList(size int) *eventList {
	return &eventList{size, make([]unix.EpollEvent, size)}
}

func (el *eventList) expand() {
	if newSize := el.size << 1; newSize <= MaxPollEventsCap {
		el.size = newSize
		el.events = make([]unix.EpollEvent, newSize)
	}
}

func (el *eventList) shrink() {
	if newSize := el.size >> 1; newSize >= MinPollEventsCap {
		el.size = newSize
		el.events = make([]unix.EpollEvent, newSize)
	}
}

// Poller monitors file descriptors with epoll and runs queued tasks between waits.
type Poller struct {
	fd                   int    // epoll fd
	efd                  int    // eventfd
	efdBuf               []byte // efd buffer to read an 8-byte integer
	wakeupCall           int32
	asyncTaskQueue       queue.AsyncTaskQueue // queue with low priority
	urgentAsyncTaskQueue queue.AsyncTaskQueue // queue with high priority
}

// OpenPoller instantiates a poller.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		poller = nil
		err = os.NewSyscallError("epoll_create1", err)
		return
	}
	if poller.efd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(poller.fd)
		poller = nil
		err = os.NewSyscallError("eventfd", err)
		return
	}
	poller.efdBuf = make([]byte, 8)
	if err = poller.Register(poller.efd, InterestRead); err != nil {
		_ = poller.Close()
		poller = nil
		return
	}
	poller.asyncTaskQueue = queue.NewLockFreeQueue()
	poller.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return
}

// Close closes the poller.
func (p *Poller) Close() error {
	_ = unix.Close(p.efd)
	return os.NewSyscallError("close", unix.Close(p.fd))
}

// Make the endianness of bytes compatible with more linux OSs under different processor-architectures,
// according to http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	u uint64 = 1
	b        = (*(*[8]byte)(unsafe.Pointer(&u)))[:]
)

// Wakeup interrupts the blocking wait so that the poller passes its guard section.
func (p *Poller) Wakeup() error {
	if !atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		return nil
	}
	return p.notify()
}

func (p *Poller) notify() (err error) {
	for {
		_, err = unix.Write(p.efd, b)
		if err == unix.EAGAIN {
			_, _ = unix.Read(p.efd, p.efdBuf)
			continue
		}
		break
	}
	return os.NewSyscallError("write", err)
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
	var doChores bool

	msec := -1
	for {
		if guard != nil {
			guard.Lock()
			guard.Unlock() //nolint:staticcheck
		}
		n, err := unix.EpollWait(p.fd, el.events, msec)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			msec = -1
			runtime.Gosched()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in epoll: %v", os.NewSyscallError("epoll_wait", err))
			return err
		}
		msec = 0

		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if fd := int(ev.Fd); fd == p.efd { // poller is awakened to run tasks in queues.
				_, _ = unix.Read(p.efd, p.efdBuf)
				doChores = true
			} else {
				err = callback(fd, toEvent(ev.Events))
				if errors.Is(err, errorx.ErrDispatcherShutdown) {
					return err
				} else if err != nil {
					logging.Warnf("error occurs in event-loop: %v", err)
				}
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
					logging.Errorf("failed to notify next round of event-loop for leftover tasks, %v", err)
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

func toEvent(events uint32) (ev Event) {
	if events&readEvents != 0 {
		ev |= EventRead
	}
	if events&writeEvents != 0 {
		ev |= EventWrite
	}
	if events&errEvents != 0 {
		ev |= EventError
	}
	return
}

func toEpollEvents(interest Interest) (events uint32) {
	if interest.Has(InterestRead) {
		events |= readEvents
	}
	if interest.Has(InterestWrite) {
		events |= writeEvents
	}
	return
}

// Register adds fd to the poller with the given interest.
func (p *Poller) Register(fd int, interest Interest) error {
	return os.NewSyscallError("epoll_ctl add",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(interest)}))
}

// Modify replaces the interest of a registered fd.
func (p *Poller) Modify(fd int, interest Interest) error {
	return os.NewSyscallError("epoll_ctl mod",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(interest)}))
}

// Unregister removes fd from the poller.
func (p *Poller) Unregister(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

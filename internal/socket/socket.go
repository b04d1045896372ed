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

// Package socket creates non-blocking listening and connected TCP sockets
// and reads or writes their options by name.
package socket

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// Option is a named socket option applied to a listener before it is bound,
// see SetOption for the names and value types.
type Option struct {
	Name  string
	Value any
}

// MaxListenerBacklog is the largest accept queue the host allows.
var MaxListenerBacklog = maxListenerBacklog()

// The kernels keep the backlog in 16 bits.
func clampBacklog(n int) int {
	switch {
	case n <= 0:
		return unix.SOMAXCONN
	case n > 1<<16-1:
		return 1<<16 - 1
	}
	return n
}

// TCPSocket creates a non-blocking TCP socket bound to addr and listening with the given backlog,
// a non-positive backlog selects MaxListenerBacklog.
func TCPSocket(proto, addr string, backlog int, opts ...Option) (int, net.Addr, error) {
	return tcpSocket(proto, addr, backlog, opts...)
}

// Accept takes one pending connection off the listening fd and switches it to non-blocking mode.
// It returns unix.EAGAIN untouched when nothing is pending.
func Accept(fd int) (int, net.Addr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	if err = prepare(nfd); err != nil {
		return -1, nil, err
	}
	return nfd, tcpAddrOf(sa), nil
}

// DupConn duplicates the descriptor behind c into a non-blocking fd owned by the caller,
// c itself is left open.
func DupConn(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, errors.New("socket: connection does not expose its descriptor")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	nfd := -1
	cerr := rc.Control(func(fd uintptr) {
		nfd, err = unix.Dup(int(fd))
	})
	if cerr != nil {
		return -1, cerr
	}
	if err != nil {
		return -1, os.NewSyscallError("dup", err)
	}
	if err = prepare(nfd); err != nil {
		return -1, err
	}
	return nfd, nil
}

// prepare makes a descriptor handed over by the kernel non-blocking and close-on-exec,
// it closes fd on failure.
func prepare(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return os.NewSyscallError("fcntl", err)
	}
	unix.CloseOnExec(fd)
	return nil
}

// LocalAddr returns the address fd is bound to.
func LocalAddr(fd int) net.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return tcpAddrOf(sa)
}

// RemoteAddr returns the address of the peer of fd.
func RemoteAddr(fd int) net.Addr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil
	}
	return tcpAddrOf(sa)
}

func tcpAddrOf(sa unix.Sockaddr) net.Addr {
	var ap netip.AddrPort
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ap = netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			ip = ip.WithZone(zoneName(int(sa.ZoneId)))
		}
		ap = netip.AddrPortFrom(ip, uint16(sa.Port))
	default:
		return nil
	}
	return net.TCPAddrFromAddrPort(ap)
}

func zoneName(index int) string {
	if ifi, err := net.InterfaceByIndex(index); err == nil {
		return ifi.Name
	}
	return strconv.Itoa(index)
}

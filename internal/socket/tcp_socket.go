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

package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

// tcpSockaddr resolves addr into the sockaddr to bind. An unspecified host binds
// the IPv6 wildcard, dual-stack unless proto asks for tcp6.
func tcpSockaddr(proto, addr string) (sa unix.Sockaddr, family int, v6only bool, err error) {
	switch proto {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, 0, false, errorx.ErrUnsupportedProtocol
	}
	tcpAddr, err := net.ResolveTCPAddr(proto, addr)
	if err != nil {
		return nil, 0, false, err
	}

	ip := tcpAddr.AddrPort().Addr()
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	port := tcpAddr.Port
	if ip.Is4() || (!ip.IsValid() && proto == "tcp4") {
		sa4 := &unix.SockaddrInet4{Port: port}
		if ip.IsValid() {
			sa4.Addr = ip.As4()
		}
		return sa4, unix.AF_INET, false, nil
	}

	sa6 := &unix.SockaddrInet6{Port: port}
	if ip.IsValid() {
		sa6.Addr = ip.As16()
	}
	if tcpAddr.Zone != "" {
		ifi, err := net.InterfaceByName(tcpAddr.Zone)
		if err != nil {
			return nil, 0, false, err
		}
		sa6.ZoneId = uint32(ifi.Index)
	}
	return sa6, unix.AF_INET6, proto == "tcp6", nil
}

func tcpSocket(proto, addr string, backlog int, opts ...Option) (fd int, netAddr net.Addr, err error) {
	sa, family, v6only, err := tcpSockaddr(proto, addr)
	if err != nil {
		return -1, nil, err
	}
	if fd, err = sysSocket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if family == unix.AF_INET6 {
		if err = setIPv6Only(fd, v6only); err != nil {
			return
		}
	}
	for _, o := range opts {
		if err = SetOption(fd, o.Name, o.Value); err != nil {
			return
		}
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		return
	}
	if backlog <= 0 || backlog > MaxListenerBacklog {
		backlog = MaxListenerBacklog
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, backlog)); err != nil {
		return
	}
	// the kernel picks the port of ":0" at bind time
	netAddr = LocalAddr(fd)
	return
}

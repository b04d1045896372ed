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
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

// Names of the socket options that can be read and written by name.
const (
	SoRcvBuf    = "SO_RCVBUF"
	SoSndBuf    = "SO_SNDBUF"
	SoReuseAddr = "SO_REUSEADDR"
	SoKeepAlive = "SO_KEEPALIVE"
	TCPNoDelay  = "TCP_NODELAY"
	SoLinger    = "SO_LINGER"
	SoReusePort = "SO_REUSEPORT"
)

type optionKind uint8

const (
	intOption optionKind = iota
	boolOption
)

type namedOption struct {
	kind  optionKind
	level int
	opt   int
}

var namedOptions = map[string]namedOption{
	SoRcvBuf:    {intOption, unix.SOL_SOCKET, unix.SO_RCVBUF},
	SoSndBuf:    {intOption, unix.SOL_SOCKET, unix.SO_SNDBUF},
	SoReuseAddr: {boolOption, unix.SOL_SOCKET, unix.SO_REUSEADDR},
	SoKeepAlive: {boolOption, unix.SOL_SOCKET, unix.SO_KEEPALIVE},
	TCPNoDelay:  {boolOption, unix.IPPROTO_TCP, unix.TCP_NODELAY},
	SoLinger:    {intOption, unix.SOL_SOCKET, unix.SO_LINGER},
	SoReusePort: {boolOption, unix.SOL_SOCKET, unix.SO_REUSEPORT},
}

// SupportedOptions returns the names accepted by SetOption and GetOption.
func SupportedOptions() []string {
	return []string{SoRcvBuf, SoSndBuf, SoReuseAddr, SoReusePort, SoKeepAlive, TCPNoDelay, SoLinger}
}

// ValidateOption checks name and the type of value without touching any socket.
func ValidateOption(name string, value any) error {
	o, ok := namedOptions[name]
	if !ok {
		return fmt.Errorf("%w: %s", errorx.ErrUnsupportedOption, name)
	}
	_, err := o.intValue(name, value)
	return err
}

func (o namedOption) intValue(name string, value any) (int, error) {
	switch o.kind {
	case boolOption:
		if b, ok := value.(bool); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
	case intOption:
		switch v := value.(type) {
		case int:
			return v, nil
		case int32:
			return int(v), nil
		case int64:
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("%w: %s=%v (%T)", errorx.ErrInvalidOptionValue, name, value, value)
}

// SetOption writes the socket option called name, bool options take a bool, the others an int.
// SO_LINGER takes seconds with a negative value switching it off.
func SetOption(fd int, name string, value any) error {
	o, ok := namedOptions[name]
	if !ok {
		return fmt.Errorf("%w: %s", errorx.ErrUnsupportedOption, name)
	}
	v, err := o.intValue(name, value)
	if err != nil {
		return err
	}
	if name == SoLinger {
		return setLinger(fd, v)
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, o.level, o.opt, v))
}

// GetOption reads the socket option called name, see SetOption for the value types.
func GetOption(fd int, name string) (any, error) {
	o, ok := namedOptions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errorx.ErrUnsupportedOption, name)
	}
	if name == SoLinger {
		return getLinger(fd)
	}
	v, err := unix.GetsockoptInt(fd, o.level, o.opt)
	if err != nil {
		return nil, os.NewSyscallError("getsockopt", err)
	}
	if o.kind == boolOption {
		return v != 0, nil
	}
	return v, nil
}

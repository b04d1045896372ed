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
	"crypto/tls"
	"runtime"
	"time"

	"github.com/xconn-dev/xconn/pkg/logging"
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// FlushMode selects whether Connection.Flush waits for the socket to take the written data.
type FlushMode int

const (
	// FlushModeSync makes Flush return once every flushed chunk was written to the socket or failed.
	FlushModeSync FlushMode = iota
	// FlushModeAsync makes Flush return as soon as the data is queued.
	FlushModeAsync
)

func (m FlushMode) String() string {
	if m == FlushModeAsync {
		return "ASYNC"
	}
	return "SYNC"
}

const (
	// DefaultReadBufferPreallocationSize is the size of the read arena of a dispatcher.
	DefaultReadBufferPreallocationSize = 64 * 1024

	// DefaultReadBufferMinSize is the minimum space left in a read arena before it is replaced.
	DefaultReadBufferMinSize = 64

	// DefaultMaxReadRetries caps the reads done for one readiness event.
	DefaultMaxReadRetries = 4

	// DefaultWatchdogPeriod is the period of the timeout scan.
	DefaultWatchdogPeriod = 5 * time.Second

	// DefaultEncoding is the text encoding of new connections.
	DefaultEncoding = "UTF-8"
)

// DefaultDispatcherPoolSize is the number of dispatchers of a server or client.
var DefaultDispatcherPoolSize = runtime.NumCPU() + 1

// Options are configurations for servers and clients.
type Options struct {
	// Logger is the customized logger for logging info, if it is not set,
	// then the default logger from pkg/logging is used.
	Logger logging.Logger

	// LogPath is the local path where logs will be written, this is the simplest way to set up logging,
	// xconn instantiates a default uber-go/zap logger with this given log path, you are also allowed to employ
	// you own logger during the lifetime by implementing the following logging.Logger interface.
	//
	// Note that this option can be overridden by the option Logger.
	LogPath string

	// LogLevel indicates the logging level, it should be used along with LogPath.
	LogLevel logging.Level

	// NumDispatchers is the number of dispatchers, DefaultDispatcherPoolSize by default.
	NumDispatchers int

	// WorkerPoolSize is the capacity of the worker pool running multi-threaded callbacks.
	WorkerPoolSize int

	// ReadBufferPreallocationSize is the size of the read arena of every dispatcher.
	ReadBufferPreallocationSize int

	// DisableReadBufferPreallocation makes every read use a pooled buffer that is copied out.
	DisableReadBufferPreallocation bool

	// ReadBufferMinSize is the space below which a read arena is replaced.
	ReadBufferMinSize int

	// MaxReadRetries caps the consecutive reads of one readiness event.
	MaxReadRetries int

	// Backlog is the accept queue length, the maximum of the host when zero.
	Backlog int

	// ListenRecvBuffer sets SO_RCVBUF on the listening socket, inherited by accepted sockets.
	ListenRecvBuffer int

	// ReuseAddr indicates whether to set up the SO_REUSEADDR socket option.
	ReuseAddr bool

	// ReusePort indicates whether to set up the SO_REUSEPORT socket option.
	ReusePort bool

	// SocketOptions are applied by name to every accepted or dialed socket.
	SocketOptions map[string]any

	// IdleTimeout is the default idle timeout of new connections, none when zero.
	IdleTimeout time.Duration

	// ConnectionTimeout is the default connection timeout of new connections, none when zero.
	ConnectionTimeout time.Duration

	// WatchdogPeriod is the initial period of the timeout scan.
	WatchdogPeriod time.Duration

	// TLSConfig enables transport security.
	TLSConfig *tls.Config

	// TLSActivatable starts connections in plaintext, Connection.ActivateSecuredMode upgrades them.
	TLSActivatable bool

	// TLSSessionTTL is how long a client keeps a session resumable.
	TLSSessionTTL time.Duration

	// WriteRateLimit throttles outbound bytes per second and connection, no limit when zero.
	WriteRateLimit int

	// FlushMode is the flush mode of new connections.
	FlushMode FlushMode

	// Encoding is the default text encoding of new connections.
	Encoding string

	// DispatcherListeners are notified when dispatchers are added or removed.
	DispatcherListeners []DispatcherListener
}

func (opts *Options) normalize() {
	if opts.NumDispatchers <= 0 {
		opts.NumDispatchers = DefaultDispatcherPoolSize
	}
	if opts.ReadBufferPreallocationSize <= 0 {
		opts.ReadBufferPreallocationSize = DefaultReadBufferPreallocationSize
	}
	if opts.ReadBufferMinSize <= 0 {
		opts.ReadBufferMinSize = DefaultReadBufferMinSize
	}
	if opts.MaxReadRetries <= 0 {
		opts.MaxReadRetries = DefaultMaxReadRetries
	}
	if opts.WatchdogPeriod <= 0 {
		opts.WatchdogPeriod = DefaultWatchdogPeriod
	}
	if opts.Encoding == "" {
		opts.Encoding = DefaultEncoding
	}
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithLogPath is an option to set up the local path of log file.
func WithLogPath(fileName string) Option {
	return func(opts *Options) {
		opts.LogPath = fileName
	}
}

// WithLogLevel is an option to set up the logging level.
func WithLogLevel(lvl logging.Level) Option {
	return func(opts *Options) {
		opts.LogLevel = lvl
	}
}

// WithNumDispatchers sets up the number of dispatchers.
func WithNumDispatchers(n int) Option {
	return func(opts *Options) {
		opts.NumDispatchers = n
	}
}

// WithWorkerPoolSize sets up the capacity of the worker pool.
func WithWorkerPoolSize(n int) Option {
	return func(opts *Options) {
		opts.WorkerPoolSize = n
	}
}

// WithReadBufferPreallocation sets up the read arena size, a non-positive size disables preallocation.
func WithReadBufferPreallocation(size int) Option {
	return func(opts *Options) {
		opts.ReadBufferPreallocationSize = size
		opts.DisableReadBufferPreallocation = size <= 0
	}
}

// WithReadBufferMinSize sets up the minimum space left in a read arena.
func WithReadBufferMinSize(size int) Option {
	return func(opts *Options) {
		opts.ReadBufferMinSize = size
	}
}

// WithMaxReadRetries sets up the read retry cap.
func WithMaxReadRetries(n int) Option {
	return func(opts *Options) {
		opts.MaxReadRetries = n
	}
}

// WithBacklog sets up the accept queue length.
func WithBacklog(backlog int) Option {
	return func(opts *Options) {
		opts.Backlog = backlog
	}
}

// WithListenRecvBuffer sets up SO_RCVBUF of the listening socket.
func WithListenRecvBuffer(size int) Option {
	return func(opts *Options) {
		opts.ListenRecvBuffer = size
	}
}

// WithReuseAddr sets up SO_REUSEADDR socket option.
func WithReuseAddr(reuseAddr bool) Option {
	return func(opts *Options) {
		opts.ReuseAddr = reuseAddr
	}
}

// WithReusePort sets up SO_REUSEPORT socket option.
func WithReusePort(reusePort bool) Option {
	return func(opts *Options) {
		opts.ReusePort = reusePort
	}
}

// WithSocketOptions sets up socket options by name, see Connection.SetOption.
func WithSocketOptions(options map[string]any) Option {
	return func(opts *Options) {
		opts.SocketOptions = options
	}
}

// WithIdleTimeout sets up the default idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.IdleTimeout = d
	}
}

// WithConnectionTimeout sets up the default connection timeout.
func WithConnectionTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.ConnectionTimeout = d
	}
}

// WithWatchdogPeriod sets up the initial period of the timeout scan.
func WithWatchdogPeriod(d time.Duration) Option {
	return func(opts *Options) {
		opts.WatchdogPeriod = d
	}
}

// WithTLS enables transport security with config.
func WithTLS(config *tls.Config) Option {
	return func(opts *Options) {
		opts.TLSConfig = config
	}
}

// WithTLSActivatable makes secured connections start in plaintext.
func WithTLSActivatable(activatable bool) Option {
	return func(opts *Options) {
		opts.TLSActivatable = activatable
	}
}

// WithTLSSessionTTL sets up how long client sessions stay resumable.
func WithTLSSessionTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TLSSessionTTL = ttl
	}
}

// WithWriteRateLimit throttles outbound bytes per second and connection.
func WithWriteRateLimit(bytesPerSecond int) Option {
	return func(opts *Options) {
		opts.WriteRateLimit = bytesPerSecond
	}
}

// WithFlushMode sets up the flush mode of new connections.
func WithFlushMode(mode FlushMode) Option {
	return func(opts *Options) {
		opts.FlushMode = mode
	}
}

// WithEncoding sets up the default text encoding of new connections.
func WithEncoding(name string) Option {
	return func(opts *Options) {
		opts.Encoding = name
	}
}

// WithDispatcherListener registers a listener for dispatcher pool changes.
func WithDispatcherListener(l DispatcherListener) Option {
	return func(opts *Options) {
		opts.DispatcherListeners = append(opts.DispatcherListeners, l)
	}
}

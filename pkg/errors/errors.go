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

// Package errors defines common errors for xconn.
package errors

import "errors"

var (
	// ErrBufferUnderflow occurs when the receive queue does not yet hold enough data to complete a read.
	// It is transient: the read may succeed once more data arrives.
	ErrBufferUnderflow = errors.New("xconn: insufficient data")
	// ErrFrameTooLarge occurs when a delimiter is not found within the configured maximum length.
	ErrFrameTooLarge = errors.New("xconn: frame exceeds the maximum read size")
	// ErrEmptyDelimiter occurs when searching for an empty delimiter.
	ErrEmptyDelimiter = errors.New("xconn: empty delimiter")
	// ErrConnectionClosed occurs when trying to operate on a closed connection.
	ErrConnectionClosed = errors.New("xconn: connection is closed")
	// ErrTLSClosed occurs when the TLS engine reports that it has been closed.
	ErrTLSClosed = errors.New("xconn: tls engine is closed")
	// ErrIdleTimeout occurs when a connection has been closed because of its idle timeout.
	ErrIdleTimeout = errors.New("xconn: idle timeout")
	// ErrConnectionTimeout occurs when a connection has been closed because of its connection timeout.
	ErrConnectionTimeout = errors.New("xconn: connection timeout")
	// ErrReadTimeout occurs when a blocking read does not complete within the read timeout.
	ErrReadTimeout = errors.New("xconn: read timeout")
	// ErrUnsupportedOption occurs when getting or setting a socket option that is not supported.
	ErrUnsupportedOption = errors.New("xconn: unsupported socket option")
	// ErrInvalidOptionValue occurs when a socket option value has the wrong type.
	ErrInvalidOptionValue = errors.New("xconn: invalid socket option value")
	// ErrNoTLSConfig occurs when activating secured mode without a TLS config.
	ErrNoTLSConfig = errors.New("xconn: no tls config")
	// ErrAutoflushEnabled occurs when setting a write mark while autoflush is on.
	ErrAutoflushEnabled = errors.New("xconn: write mark is not supported in autoflush mode")
	// ErrWriteMarkNotSet occurs when resetting to a write mark that does not exist.
	ErrWriteMarkNotSet = errors.New("xconn: write mark is not set")
	// ErrReadMarkNotSet occurs when resetting to a read mark that does not exist.
	ErrReadMarkNotSet = errors.New("xconn: read mark is not set")
	// ErrDispatcherShutdown occurs when a dispatcher is going to be shut down.
	ErrDispatcherShutdown = errors.New("xconn: dispatcher is going to be shutdown")
	// ErrServerClosed occurs when operating on a server that has been closed.
	ErrServerClosed = errors.New("xconn: server is closed")
	// ErrUnsupportedEncoding occurs when a text encoding name is unknown.
	ErrUnsupportedEncoding = errors.New("xconn: unsupported encoding")
	// ErrNegativeSize occurs when trying to pass a negative size.
	ErrNegativeSize = errors.New("xconn: negative size is not allowed")
	// ErrInvalidNetworkAddress occurs when the network address is invalid.
	ErrInvalidNetworkAddress = errors.New("xconn: invalid network address")
	// ErrUnsupportedProtocol occurs when trying to use a protocol other than tcp/tcp4/tcp6.
	ErrUnsupportedProtocol = errors.New("xconn: only tcp/tcp4/tcp6 are supported")
	// ErrNilHandler occurs when a nil handler is given where one is required.
	ErrNilHandler = errors.New("xconn: nil handler is not allowed")
)

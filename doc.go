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

/*
Package xconn is a non-blocking TCP connection framework built on epoll and kqueue.

A small pool of dispatchers, each owning one poller on a locked OS thread, multiplexes the
connections. Received bytes are queued per connection and handed to the application through
the handler interfaces it implements; reads never block, a read that needs more data fails
with errors.ErrBufferUnderflow and is retried when more data arrives. TLS can be switched on
for a whole server or client, or activated in place on an established plain connection.

Line based echo server built upon xconn:

	package main

	import (
		"log"

		"github.com/xconn-dev/xconn"
	)

	type echo struct{}

	func (echo) OnData(c *xconn.Connection) error {
		line, err := c.ReadStringByDelimiter("\r\n")
		if err != nil {
			return err
		}
		_, err = c.WriteStrings(line, "\r\n")
		return err
	}

	func main() {
		s, err := xconn.NewServer("tcp://:9000", echo{})
		if err != nil {
			log.Fatal(err)
		}
		log.Fatal(s.Serve())
	}
*/
package xconn

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

// Package goroutine provides the worker pool that runs application callbacks.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/xconn-dev/xconn/pkg/logging"
)

// DefaultSize is the capacity of a pool created with a non-positive size.
const DefaultSize = 1 << 18

// expiry is how long an idle worker lingers.
const expiry = 10 * time.Second

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// New creates a non-blocking pool: Submit fails instead of waiting when every worker is busy.
// Panics of tasks are logged to logger.
func New(size int, logger logging.Logger) (*Pool, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return ants.NewPool(size,
		ants.WithExpiryDuration(expiry),
		ants.WithNonblocking(true),
		ants.WithLogger(printf{logger}),
		ants.WithPanicHandler(func(v any) {
			logger.Errorf("worker recovered from a panic: %v", v)
		}))
}

// printf adapts a Logger to ants.Logger.
type printf struct{ logging.Logger }

func (l printf) Printf(format string, args ...any) {
	l.Warnf(format, args...)
}

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

package netpoll

import (
	"errors"

	"github.com/xconn-dev/xconn/internal/queue"
	errorx "github.com/xconn-dev/xconn/pkg/errors"
	"github.com/xconn-dev/xconn/pkg/logging"
)

func runTask(task *queue.Task) error {
	err := task.Exec(task.Param)
	queue.PutTask(task)
	if errors.Is(err, errorx.ErrDispatcherShutdown) {
		return err
	}
	if err != nil {
		logging.Warnf("error occurs in user-defined function, %v", err)
	}
	return nil
}

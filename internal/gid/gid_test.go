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

package gid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent(t *testing.T) {
	self := Current()
	assert.NotZero(t, self)
	assert.Equal(t, self, Current())

	other := make(chan uint64)
	go func() { other <- Current() }()
	assert.NotEqual(t, self, <-other)
}

func TestMarks(t *testing.T) {
	var marks Marks
	assert.False(t, marks.Marked())

	leave := marks.Enter()
	inner := marks.Enter()
	assert.True(t, marks.Marked())

	seen := make(chan bool)
	go func() { seen <- marks.Marked() }()
	assert.False(t, <-seen, "a mark belongs to the goroutine that set it")

	inner()
	assert.True(t, marks.Marked())
	leave()
	assert.False(t, marks.Marked())
}

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

package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"UTF-8", "utf8", "ISO-8859-1", "windows-1252", "Shift_JIS"} {
		cs, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotNil(t, cs)
	}
	_, err := Lookup("no-such-charset")
	assert.ErrorIs(t, err, errorx.ErrUnsupportedEncoding)
	assert.Panics(t, func() { MustLookup("no-such-charset") })
}

func TestEncodeDecode(t *testing.T) {
	latin1 := MustLookup("ISO-8859-1")
	b, err := latin1.Encode("grüße")
	require.NoError(t, err)
	assert.Equal(t, []byte{'g', 'r', 0xfc, 0xdf, 'e'}, b)
	s, err := latin1.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "grüße", s)

	utf := MustLookup(DefaultName)
	b, err = utf.Encode("grüße")
	require.NoError(t, err)
	assert.Equal(t, []byte("grüße"), b)
	s, err = utf.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "grüße", s)
}

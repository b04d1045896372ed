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

// Package charset maps text encoding names to golang.org/x/text encodings and converts
// between Go strings and encoded bytes.
package charset

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	errorx "github.com/xconn-dev/xconn/pkg/errors"
)

// DefaultName is the encoding used when none has been configured.
const DefaultName = "UTF-8"

// Charset is a named text encoding.
type Charset struct {
	name string
	enc  encoding.Encoding
	utf8 bool
}

var cache sync.Map // normalized name -> *Charset

// Lookup returns the Charset registered under name, IANA names are tried first,
// then the WHATWG labels.
func Lookup(name string) (*Charset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if cs, ok := cache.Load(key); ok {
		return cs.(*Charset), nil
	}
	var (
		enc encoding.Encoding
		err error
	)
	switch key {
	case "utf-8", "utf8":
		enc = unicode.UTF8
	default:
		enc, err = ianaindex.IANA.Encoding(key)
		if enc == nil || err != nil {
			enc, err = htmlindex.Get(key)
		}
	}
	if enc == nil || err != nil {
		return nil, fmt.Errorf("%w: %q", errorx.ErrUnsupportedEncoding, name)
	}
	cs := &Charset{name: name, enc: enc, utf8: enc == unicode.UTF8}
	actual, _ := cache.LoadOrStore(key, cs)
	return actual.(*Charset), nil
}

// MustLookup is like Lookup but panics if name is unknown.
func MustLookup(name string) *Charset {
	cs, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return cs
}

// Name returns the name the Charset has been looked up with.
func (cs *Charset) Name() string {
	return cs.name
}

// Encode converts s into the bytes of the encoding.
func (cs *Charset) Encode(s string) ([]byte, error) {
	if cs.utf8 && utf8.ValidString(s) {
		return []byte(s), nil
	}
	return cs.enc.NewEncoder().Bytes([]byte(s))
}

// Decode converts encoded bytes into a string.
func (cs *Charset) Decode(b []byte) (string, error) {
	if cs.utf8 && utf8.Valid(b) {
		return string(b), nil
	}
	out, err := cs.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

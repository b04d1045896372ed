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

package tlsengine

import (
	"crypto/tls"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long a cached client session stays resumable.
const DefaultSessionTTL = 10 * time.Minute

// SessionCache is a tls.ClientSessionCache whose entries expire.
type SessionCache struct {
	sessions *cache.Cache
	ttl      time.Duration
}

var _ tls.ClientSessionCache = (*SessionCache)(nil)

// NewSessionCache creates a SessionCache, a non-positive ttl selects DefaultSessionTTL.
func NewSessionCache(ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache{sessions: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Get implements tls.ClientSessionCache.
func (c *SessionCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	v, ok := c.sessions.Get(sessionKey)
	if !ok {
		return nil, false
	}
	return v.(*tls.ClientSessionState), true
}

// Put implements tls.ClientSessionCache, a nil state evicts the key.
func (c *SessionCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	if cs == nil {
		c.sessions.Delete(sessionKey)
		return
	}
	c.sessions.Set(sessionKey, cs, c.ttl)
}

// Len returns the number of cached sessions, expired ones that were not yet evicted included.
func (c *SessionCache) Len() int {
	return c.sessions.ItemCount()
}

// Flush drops every cached session.
func (c *SessionCache) Flush() {
	c.sessions.Flush()
}

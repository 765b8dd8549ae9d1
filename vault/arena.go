// Copyright 2026 Blink Labs Software
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

package vault

import (
	"sync"
)

// secret is a scoped buffer of decrypted key material. release zeroes it;
// the bytes must not be retained past release.
type secret struct {
	keyID string
	buf   []byte
	arena *arena
}

func (s *secret) bytes() []byte {
	return s.buf
}

func (s *secret) release() {
	if s == nil {
		return
	}
	s.arena.release(s)
}

// arena tracks every live secret so that locking the vault can wipe
// material still held by an operation
type arena struct {
	mu   sync.Mutex
	live map[*secret]struct{}
}

func newArena() *arena {
	return &arena{live: make(map[*secret]struct{})}
}

// adopt takes ownership of buf
func (a *arena) adopt(keyID string, buf []byte) *secret {
	s := &secret{keyID: keyID, buf: buf, arena: a}
	a.mu.Lock()
	a.live[s] = struct{}{}
	a.mu.Unlock()
	return s
}

func (a *arena) release(s *secret) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[s]; !ok {
		return
	}
	clear(s.buf)
	s.buf = nil
	delete(a.live, s)
}

// wipe zeroes every live secret and returns how many were outstanding
func (a *arena) wipe() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.live)
	for s := range a.live {
		clear(s.buf)
		s.buf = nil
		delete(a.live, s)
	}
	return n
}

func (a *arena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

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
	"time"

	"github.com/google/uuid"
)

// session is the single live authentication of an unlocked vault
type session struct {
	token           string
	level           SecurityLevel
	timeout         time.Duration
	authenticatedAt time.Time
	expiresAt       time.Time
	// mfaAt is the last successful MFA or hardware challenge
	mfaAt time.Time
}

func newSession(level SecurityLevel, timeout time.Duration, now time.Time, mfa bool) *session {
	s := &session{
		token:           uuid.NewString(),
		level:           level,
		timeout:         timeout,
		authenticatedAt: now,
		expiresAt:       now.Add(timeout),
	}
	if mfa {
		s.mfaAt = now
	}
	return s
}

func (s *session) expired(now time.Time) bool {
	return !now.Before(s.expiresAt)
}

// touch extends the session after a successful call, but only while more
// than half of the window remains
func (s *session) touch(now time.Time) bool {
	if s.expiresAt.Sub(now) <= s.timeout/2 {
		return false
	}
	s.expiresAt = now.Add(s.timeout)
	return true
}

// authenticatedWithin reports whether the password was verified in the
// last d
func (s *session) authenticatedWithin(now time.Time, d time.Duration) bool {
	return now.Sub(s.authenticatedAt) <= d
}

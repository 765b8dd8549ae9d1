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
	"fmt"
	"net/netip"
	"slices"
	"time"
)

// allowedFrom reports whether the caller address matches one of the
// allowed addresses or prefixes. An empty list allows any caller.
func allowedFrom(allowed []string, ip string) bool {
	if len(allowed) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, entry := range allowed {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(entry); err == nil && other == addr {
			return true
		}
	}
	return false
}

// checkAccess evaluates the static parts of a key policy. MFA is checked
// separately since it needs the vault secret.
func checkAccess(entry *KeyEntry, sess *session, opts RequestOptions, now time.Time) error {
	p := entry.Policy
	if p.RevokedAt != nil && !now.Before(*p.RevokedAt) {
		return keyError(entry.ID, ErrKeyRevoked)
	}
	if !allowedFrom(p.AllowedIPs, opts.IP) {
		return keyError(entry.ID, fmt.Errorf("%w: address %q", ErrAccessRestricted, opts.IP))
	}
	if len(p.AllowedDevices) > 0 && !slices.Contains(p.AllowedDevices, opts.DeviceID) {
		return keyError(entry.ID, fmt.Errorf("%w: device %q", ErrAccessRestricted, opts.DeviceID))
	}
	if p.TimeoutSeconds > 0 {
		window := time.Duration(p.TimeoutSeconds) * time.Second
		if !sess.authenticatedWithin(now, window) {
			return keyError(entry.ID, ErrAuthenticationExpired)
		}
	}
	return nil
}

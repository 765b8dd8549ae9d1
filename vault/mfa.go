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
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // RFC 6238 TOTP is defined over HMAC-SHA1
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	totpStep   = 30 * time.Second
	totpDigits = 6
	// accepted clock skew in steps either side of now
	totpSkew = 1
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateMFASecret returns a new base32 TOTP secret suitable for
// authenticator apps
func GenerateMFASecret() (string, error) {
	secret, err := randomBytes(20)
	if err != nil {
		return "", err
	}
	return totpEncoding.EncodeToString(secret), nil
}

// TOTPCode computes the code for secret at t
func TOTPCode(secret string, t time.Time) (string, error) {
	key, err := decodeMFASecret(secret)
	if err != nil {
		return "", err
	}
	return totpAt(key, uint64(t.Unix())/uint64(totpStep/time.Second)), nil //nolint:gosec // unix time is positive
}

func decodeMFASecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	key, err := totpEncoding.DecodeString(strings.TrimRight(normalized, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid mfa secret: %w", err)
	}
	return key, nil
}

func totpAt(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", totpDigits, code%1_000_000)
}

// verifyTOTP checks code against key allowing one step of skew
func verifyTOTP(key []byte, code string, now time.Time) bool {
	if len(code) != totpDigits {
		return false
	}
	counter := now.Unix() / int64(totpStep/time.Second)
	for delta := int64(-totpSkew); delta <= totpSkew; delta++ {
		c := counter + delta
		if c < 0 {
			continue
		}
		expected := totpAt(key, uint64(c))
		if hmac.Equal([]byte(expected), []byte(code)) {
			return true
		}
	}
	return false
}

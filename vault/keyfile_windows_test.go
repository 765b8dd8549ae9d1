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

//go:build windows

package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDACLGrantsBroadAccess(t *testing.T) {
	testDefs := []struct {
		sddl   string
		secure bool
	}{
		{sddl: "O:BAD:P(A;;GA;;;S-1-5-21-1-2-3-1001)", secure: true},
		{sddl: "D:P(A;;FA;;;SY)(A;;FA;;;BA)", secure: true},
		{sddl: "D:(D;;FA;;;WD)(A;;FA;;;SY)", secure: true},
		{sddl: "D:(A;;FR;;;WD)"},
		{sddl: "D:(A;;FR;;;BU)"},
		{sddl: "D:(A;;FR;;;S-1-5-11)"},
		{sddl: "O:BA"},
	}
	for _, testDef := range testDefs {
		err := daclGrantsBroadAccess("test.skey", testDef.sddl)
		if testDef.secure {
			assert.NoError(t, err, testDef.sddl)
		} else {
			assert.ErrorIs(t, err, ErrInsecureFileMode, testDef.sddl)
		}
	}
}

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
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/windows"
)

// groups that must not be granted access to a key file, keyed by SDDL
// abbreviation or SID string
var broadTrustees = map[string]string{
	"WD":           "Everyone",
	"S-1-1-0":      "Everyone",
	"BU":           "BUILTIN\\Users",
	"S-1-5-32-545": "BUILTIN\\Users",
	"AU":           "Authenticated Users",
	"S-1-5-11":     "Authenticated Users",
}

// NTFS refuses to replace a file held open, so the handle's path is stable
func checkOpenFilePermissions(f *os.File) error {
	sd, err := windows.GetNamedSecurityInfo(
		f.Name(),
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION,
	)
	if err != nil {
		return fmt.Errorf("failed to get security info for %q: %w", f.Name(), err)
	}
	sddl := sd.String()
	if sddl == "" {
		return fmt.Errorf("failed to read security descriptor for %q", f.Name())
	}
	return daclGrantsBroadAccess(f.Name(), sddl)
}

func daclGrantsBroadAccess(path string, sddl string) error {
	_, dacl, ok := strings.Cut(sddl, "D:")
	if !ok {
		return fmt.Errorf("key file %q has no DACL: %w", path, ErrInsecureFileMode)
	}
	if before, _, found := strings.Cut(dacl, "S:"); found {
		dacl = before
	}
	for {
		_, rest, ok := strings.Cut(dacl, "(")
		if !ok {
			return nil
		}
		ace, tail, ok := strings.Cut(rest, ")")
		if !ok {
			return nil
		}
		dacl = tail
		// type;flags;rights;object;inherit;trustee
		fields := strings.Split(ace, ";")
		if len(fields) < 6 || fields[0] != "A" {
			continue
		}
		if name, ok := broadTrustees[fields[5]]; ok {
			return fmt.Errorf("key file %q grants access to %s: %w", path, name, ErrInsecureFileMode)
		}
	}
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import "fmt"

const (
	// AppMajor defines the major version of this binary.
	AppMajor uint = 0

	// AppMinor defines the minor version of this binary.
	AppMinor uint = 3

	// AppPatch defines the application patch for this binary.
	AppPatch uint = 0
)

// Version returns the application version formatted as a semantic version
// string.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
}

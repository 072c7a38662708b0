// Copyright 2026 The ptbuild Authors.
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

package pagetables

import (
	"unsafe"

	"ptbuild.dev/ptbuild/pkg/aarch64"
)

// ptesFromBytes returns b as a slice of descriptors. b must be 8 byte
// aligned; physical memory is always page aligned at the base.
func ptesFromBytes(b []byte) PTEs {
	if len(b) < aarch64.PTESize {
		return nil
	}
	return unsafe.Slice((*PTE)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/aarch64.PTESize)
}

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

// Package aarch64 holds architecture definitions shared by the startup
// address-space builder: page granules, memory attributes and translation
// table base register layout.
package aarch64

import "fmt"

// Addr is a virtual or physical address.
type Addr uint64

// Supported translation granules.
const (
	// PageShift4K is the binary log of the 4K granule page size.
	PageShift4K = 12

	// PageShift64K is the binary log of the 64K granule page size.
	PageShift64K = 16

	// PageSize4K is the 4K granule page size.
	PageSize4K = 1 << PageShift4K

	// PageSize64K is the 64K granule page size.
	PageSize64K = 1 << PageShift64K

	// PTESize is the size of one translation table entry.
	PTESize = 8

	// OutputAddressMask covers bits [47:12] of a descriptor.
	OutputAddressMask = 0x0000fffffffff000

	// PhysicalAddressLimit is the first address past the 48-bit output
	// address space.
	PhysicalAddressLimit = 1 << 48
)

// ValidPageSize returns true iff size is a supported granule page size.
func ValidPageSize(size uint64) bool {
	return size == PageSize4K || size == PageSize64K
}

// RoundDown returns the address rounded down to the nearest multiple of
// size, which must be a power of two.
func (v Addr) RoundDown(size uint64) Addr {
	return v & ^Addr(size-1)
}

// RoundUp returns the address rounded up to the nearest multiple of size,
// which must be a power of two. ok is true iff rounding up did not wrap
// around.
func (v Addr) RoundUp(size uint64) (addr Addr, ok bool) {
	addr = Addr(v + Addr(size) - 1).RoundDown(size)
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into its page.
func (v Addr) PageOffset(size uint64) uint64 {
	return uint64(v & Addr(size-1))
}

// IsAligned returns true iff v is a multiple of size.
func (v Addr) IsAligned(size uint64) bool {
	return v.PageOffset(size) == 0
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range of Addr.
//
// Note: This function is usually used to get the end of an address range
// defined by its start address and length. Since the resulting end is
// exclusive, end == 0 is technically valid, and corresponds to a range that
// extends to the end of the address space, but ok will be false. This isn't
// expected to ever come up in practice.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

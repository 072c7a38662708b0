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

package aarch64

import "fmt"

// MemoryType specifies CPU memory access behavior. Its value is the
// AttrIndx a descriptor stores, i.e. the MAIR_EL1 slot that describes it.
type MemoryType uint8

const (
	// MemoryTypeWriteBack is Normal inner/outer write-back, read/write
	// allocate memory. It must be the zero value for MemoryType.
	MemoryTypeWriteBack MemoryType = iota

	// MemoryTypeNonCacheable is Normal inner/outer non-cacheable memory.
	MemoryTypeNonCacheable

	// MemoryTypeDevice is Device-nGnRE memory.
	MemoryTypeDevice

	// MemoryTypeStronglyOrdered is Device-nGnRnE memory.
	MemoryTypeStronglyOrdered

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// mairAttrs are the MAIR_EL1 attribute bytes, indexed by MemoryType.
var mairAttrs = [NumMemoryTypes]uint64{
	MemoryTypeWriteBack:       0xff,
	MemoryTypeNonCacheable:    0x44,
	MemoryTypeDevice:          0x04,
	MemoryTypeStronglyOrdered: 0x00,
}

// MAIR returns the MAIR_EL1 value that matches the attribute indexes used
// by descriptors.
func MAIR() uint64 {
	var v uint64
	for i, attr := range mairAttrs {
		v |= attr << (8 * i)
	}
	return v
}

// IsDevice returns true for the device memory types.
func (mt MemoryType) IsDevice() bool {
	return mt == MemoryTypeDevice || mt == MemoryTypeStronglyOrdered
}

// IsCacheable returns true iff accesses may be cached.
func (mt MemoryType) IsCacheable() bool {
	return mt == MemoryTypeWriteBack
}

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "WriteBack"
	case MemoryTypeNonCacheable:
		return "NonCacheable"
	case MemoryTypeDevice:
		return "Device"
	case MemoryTypeStronglyOrdered:
		return "StronglyOrdered"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "WB"
	case MemoryTypeNonCacheable:
		return "NC"
	case MemoryTypeDevice:
		return "DE"
	case MemoryTypeStronglyOrdered:
		return "SO"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}

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
	"fmt"

	"ptbuild.dev/ptbuild/pkg/aarch64"
)

// level describes one level of the walk below the per-CPU L0 table.
type level struct {
	// name is the architectural level name, e.g. "L2".
	name string

	// shift is the lowest virtual address bit indexed by this level.
	shift uint

	// bits is the number of index bits.
	bits uint
}

// index returns the table index for va.
func (l level) index(va uint64) int {
	return int((va >> l.shift) & (1<<l.bits - 1))
}

// span returns the number of bytes mapped by one entry.
func (l level) span() uint64 {
	return 1 << l.shift
}

// Granule describes the translation geometry of one page size.
//
// The two implementations are Granule4K and Granule64K.
type Granule interface {
	// PageSize returns the translation granule in bytes.
	PageSize() uint64

	// Depth returns the number of levels walked from the system root,
	// including the last level. The per-CPU L0 table adds one more.
	Depth() int

	// ContiguousEntries returns the number of leaf entries covered by one
	// contiguous hint.
	ContiguousEntries() int

	// KernelBase returns the first address mapped by the system root.
	KernelBase() uint64

	// StartupBase returns the first system address available for mapping.
	StartupBase() uint64

	// UserEnd returns the end of the identity range.
	UserEnd() uint64

	// RootSelfIndex returns the system root slot that points back at the
	// root.
	RootSelfIndex() int

	// MaxXferSlots returns the largest per-CPU L0 table the translation
	// control register can describe.
	MaxXferSlots() int

	// String returns a short name, e.g. "4K".
	String() string

	// levels returns the walked levels, root first.
	levels() []level

	// initStartup installs any extra recursive tables the system root needs.
	initStartup(as *AddressSpace) error
}

// Granule4K returns the 4K granule: L1 root, L2 and L3 below the per-CPU L0.
func Granule4K() Granule { return granule4K{} }

// Granule64K returns the 64K granule: L2 root and L3 below the per-CPU L0.
func Granule64K() Granule { return granule64K{} }

// GranuleForPageSize returns the granule with the given page size.
func GranuleForPageSize(size uint64) (Granule, error) {
	switch size {
	case aarch64.PageSize4K:
		return Granule4K(), nil
	case aarch64.PageSize64K:
		return Granule64K(), nil
	default:
		return nil, fmt.Errorf("unsupported page size %#x", size)
	}
}

var levels4K = []level{
	{name: "L1", shift: 30, bits: 9},
	{name: "L2", shift: 21, bits: 9},
	{name: "L3", shift: 12, bits: 9},
}

// 4K system root slots.
const (
	rootSelfIndex4K    = 511
	rootStartupIndex4K = 510
	l2SelfIndex4K      = 511
)

type granule4K struct{}

func (granule4K) PageSize() uint64 { return aarch64.PageSize4K }
func (granule4K) Depth() int { return len(levels4K) }
func (granule4K) ContiguousEntries() int { return 16 }
func (granule4K) KernelBase() uint64 { return 0xffffff8000000000 }
func (granule4K) StartupBase() uint64 { return 0xffffffff80000000 }
func (granule4K) UserEnd() uint64 { return 1 << 39 }
func (granule4K) RootSelfIndex() int { return rootSelfIndex4K }
func (granule4K) MaxXferSlots() int { return 512 }
func (granule4K) String() string { return "4K" }
func (granule4K) levels() []level { return levels4K }

// initStartup allocates the L2 table covering the startup base. Its last
// slot points back at the root, so the root's own entries appear as L3
// pages in the window below the root's self slot.
func (granule4K) initStartup(as *AddressSpace) error {
	l2, err := as.allocTable()
	if err != nil {
		return err
	}
	as.tables[as.root][rootStartupIndex4K] = l2
	as.tables[l2.Address(aarch64.PageSize4K)][l2SelfIndex4K] = as.rootPTE
	return nil
}

var levels64K = []level{
	{name: "L2", shift: 29, bits: 13},
	{name: "L3", shift: 16, bits: 13},
}

type granule64K struct{}

func (granule64K) PageSize() uint64 { return aarch64.PageSize64K }
func (granule64K) Depth() int { return len(levels64K) }
func (granule64K) ContiguousEntries() int { return 32 }
func (granule64K) KernelBase() uint64 { return 0xfffffc0000000000 }
func (granule64K) StartupBase() uint64 { return 0xffffffffc0000000 }
func (granule64K) UserEnd() uint64 { return 1 << 42 }
func (granule64K) RootSelfIndex() int { return 8191 }
func (granule64K) MaxXferSlots() int { return 64 }
func (granule64K) String() string { return "64K" }
func (granule64K) levels() []level { return levels64K }

// initStartup is a no-op: with three levels the root self slot alone
// exposes every last level table.
func (granule64K) initStartup(*AddressSpace) error { return nil }

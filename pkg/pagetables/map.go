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
	"slices"

	"ptbuild.dev/ptbuild/pkg/aarch64"
	"ptbuild.dev/ptbuild/pkg/log"
)

// maxDepth is the deepest walk below L0 of any granule.
const maxDepth = 3

// Map maps [pa, pa+size) at va with the given protection and returns the
// virtual address of pa.
//
// If va is Wildcard the address is taken from the free virtual address
// cursor. Otherwise va must have the same page offset as pa. Tables are
// allocated as needed; runs that are long enough and aligned in both
// address spaces are marked contiguous.
//
// Existing entries in the range are overwritten.
func (as *AddressSpace) Map(va, pa, size uint64, prot Prot) (uint64, error) {
	if !as.opts.Virtual {
		return pa, nil
	}
	if !as.initialized {
		return 0, newError(ErrNotInitialized, "map va=%#x pa=%#x", va, pa)
	}
	return as.mapRange(va, pa, size, prot)
}

func (as *AddressSpace) mapRange(va, pa, size uint64, prot Prot) (uint64, error) {
	ps := as.granule.PageSize()
	off := aarch64.Addr(pa).PageOffset(ps)
	pa -= off
	rounded, ok := aarch64.Addr(size).AddLength(off)
	if ok {
		rounded, ok = rounded.RoundUp(ps)
	}
	if !ok {
		return 0, newError(ErrOverflow, "map pa=%#x size=%#x", pa+off, size)
	}
	size = uint64(rounded)

	vaddr := va
	if va == Wildcard {
		vaddr = as.freeVirtual + off
	} else if aarch64.Addr(va).PageOffset(ps) != off {
		return 0, newError(ErrBadAlignment, "map va=%#x pa=%#x", va, pa+off)
	}
	start := vaddr - off
	end, ok := aarch64.Addr(start).AddLength(size)
	if !ok {
		return 0, newError(ErrOverflow, "map va=%#x size=%#x", vaddr, size)
	}
	if paEnd, ok := aarch64.Addr(pa).AddLength(size); !ok || uint64(paEnd) > aarch64.PhysicalAddressLimit {
		return 0, newError(ErrOverflow, "map pa=%#x size=%#x beyond the physical address limit", pa+off, size)
	}
	root, err := as.rootFor(start, uint64(end))
	if err != nil {
		return 0, err
	}
	if va == Wildcard {
		as.freeVirtual = uint64(end)
	}

	if err := as.install(root, start, uint64(end), MakePTE(pa, prot, as.encodeOpts())); err != nil {
		return 0, err
	}
	log.Debugf("Mapped [%#x, %#x) -> %#x %s", start, uint64(end), pa, prot)
	return vaddr, nil
}

// rootFor returns the root covering [start, end).
func (as *AddressSpace) rootFor(start, end uint64) (uint64, error) {
	g := as.granule
	switch {
	case start < g.UserEnd():
		// The last identity page is never mapped: end must stay below
		// UserEnd.
		if end >= g.UserEnd() {
			return 0, newError(ErrBadAddress, "range [%#x, %#x) reaches the identity limit %#x", start, end, g.UserEnd())
		}
		return as.ttbr0, nil
	case start >= g.StartupBase():
		return as.root, nil
	default:
		return 0, newError(ErrBadAddress, "address %#x is between the identity limit %#x and the startup base %#x", start, g.UserEnd(), g.StartupBase())
	}
}

// install writes leaf entries for [va, end) starting with pte, advancing
// the output address one page per entry.
func (as *AddressSpace) install(root, va, end uint64, pte PTE) error {
	g := as.granule
	ps := g.PageSize()
	run := uint64(g.ContiguousEntries())
	runSize := run * ps

	for va < end {
		table, idx, err := as.walk(root, va)
		if err != nil {
			return err
		}
		for idx < len(table) && va < end {
			n := uint64(1)
			if end-va >= runSize && (va|pte.Address(ps))&(runSize-1) == 0 {
				pte |= Contiguous
				n = run
			}
			for i := uint64(0); i < n; i++ {
				if as.opts.DetectOverlap && table[idx].IsPage() {
					as.reportOverlap(va, table[idx], pte)
				}
				table[idx] = pte
				idx++
				va += ps
				pte += PTE(ps)
			}
			pte &^= Contiguous
		}
	}
	return nil
}

// walk returns the last level table covering va and the index of va in
// it, allocating missing tables on the way.
func (as *AddressSpace) walk(root, va uint64) (PTEs, int, error) {
	levels := as.granule.levels()
	ps := as.granule.PageSize()

	var path [maxDepth]uint64
	pa := root
	for i, l := range levels[:len(levels)-1] {
		path[i] = pa
		table, _ := as.lookupTable(pa)
		e := &table[l.index(va)]
		if *e == 0 {
			pte, err := as.allocTable()
			if err != nil {
				return nil, 0, err
			}
			*e = pte
		}
		if !e.IsTable() {
			return nil, 0, newError(ErrBadAddress, "address %#x is covered by %s entry %v", va, l.name, *e)
		}
		next := e.Address(ps)
		if slices.Contains(path[:i+1], next) {
			return nil, 0, newError(ErrBadAddress, "address %#x is in the recursive window of table %#x", va, next)
		}
		if _, ok := as.lookupTable(next); !ok {
			return nil, 0, newError(ErrBadAddress, "%s entry for %#x points at %#x, which is not a table", l.name, va, next)
		}
		pa = next
	}
	table, _ := as.lookupTable(pa)
	return table, levels[len(levels)-1].index(va), nil
}

func (as *AddressSpace) reportOverlap(va uint64, old, pte PTE) {
	as.overlaps++
	as.overlap.Warningf("Mapping at %#x overwrites %v with %v", va, old, pte)
}

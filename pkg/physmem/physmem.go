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

// Package physmem provides the physical memory used while building the
// startup address space.
//
// Each RAM region is backed by an anonymous private mapping, so memory that
// has never been handed out reads as zero. Allocation is bump-free: nothing
// is ever returned to the pool, as the memory is folded into the system
// image once startup completes.
package physmem

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
	"ptbuild.dev/ptbuild/pkg/aarch64"
	"ptbuild.dev/ptbuild/pkg/log"
)

// NoAddr requests that Alloc pick the address.
const NoAddr = ^uint64(0)

// minAlign is the smallest alignment regions are trimmed to.
const minAlign = aarch64.PageSize4K

var (
	// ErrNoMemory is returned when no free range can satisfy a request.
	ErrNoMemory = errors.New("out of physical memory")

	// ErrOutOfRange is returned for addresses that are not backed by RAM.
	ErrOutOfRange = errors.New("address not backed by RAM")
)

// Region is a range of RAM.
type Region struct {
	// Base is the first physical address of the region.
	Base uint64

	// Size is the length of the region in bytes.
	Size uint64
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// region is a Region with its backing storage.
type region struct {
	Region
	data []byte
}

// extent is a free range [base, end).
type extent struct {
	base uint64
	end  uint64
}

func extentLess(a, b extent) bool {
	return a.base < b.base
}

// Stats summarises memory usage.
type Stats struct {
	// Total is the number of bytes of RAM.
	Total uint64

	// Free is the number of bytes not yet allocated.
	Free uint64
}

// Memory is the physical memory of the board.
//
// Memory is not safe for concurrent allocation. Bytes may be called
// concurrently once allocation is complete.
type Memory struct {
	// regions are sorted by base.
	regions []*region

	// free holds the free extents, ordered by base.
	free *btree.BTreeG[extent]

	total uint64
}

// New returns Memory covering the given RAM regions. Region bounds are
// trimmed inward to 4K boundaries.
func New(regions []Region) (*Memory, error) {
	m := &Memory{
		free: btree.NewG[extent](8, extentLess),
	}
	sorted := append([]Region(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	for _, r := range sorted {
		start, ok := aarch64.Addr(r.Base).RoundUp(minAlign)
		if !ok {
			m.Close()
			return nil, fmt.Errorf("region [%#x, +%#x) overflows", r.Base, r.Size)
		}
		end, ok := aarch64.Addr(r.Base).AddLength(r.Size)
		if !ok {
			m.Close()
			return nil, fmt.Errorf("region [%#x, +%#x) overflows", r.Base, r.Size)
		}
		end = end.RoundDown(minAlign)
		if end <= start {
			log.Warningf("Ignoring RAM region [%#x, +%#x): smaller than a page", r.Base, r.Size)
			continue
		}
		if n := len(m.regions); n > 0 && m.regions[n-1].End() > uint64(start) {
			err := fmt.Errorf("region [%#x, %#x) overlaps [%#x, %#x)", uint64(start), uint64(end), m.regions[n-1].Base, m.regions[n-1].End())
			m.Close()
			return nil, err
		}

		size := uint64(end - start)
		data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to mmap backing for region [%#x, %#x): %w", uint64(start), uint64(end), err)
		}
		m.regions = append(m.regions, &region{
			Region: Region{Base: uint64(start), Size: size},
			data:   data,
		})
		m.free.ReplaceOrInsert(extent{base: uint64(start), end: uint64(end)})
		m.total += size
		log.Debugf("RAM region [%#x, %#x)", uint64(start), uint64(end))
	}
	if len(m.regions) == 0 {
		return nil, fmt.Errorf("no usable RAM in %d regions", len(regions))
	}
	return m, nil
}

// Close releases the backing storage. The Memory must not be used after.
func (m *Memory) Close() error {
	var firstErr error
	for _, r := range m.regions {
		if err := unix.Munmap(r.data); err != nil && firstErr == nil {
			firstErr = err
		}
		r.data = nil
	}
	m.regions = nil
	m.free = nil
	return firstErr
}

// Regions returns the RAM regions in address order.
func (m *Memory) Regions() []Region {
	rs := make([]Region, 0, len(m.regions))
	for _, r := range m.regions {
		rs = append(rs, r.Region)
	}
	return rs
}

// Stats returns memory usage.
func (m *Memory) Stats() Stats {
	s := Stats{Total: m.total}
	m.free.Ascend(func(e extent) bool {
		s.Free += e.end - e.base
		return true
	})
	return s
}

// Calloc allocates size bytes aligned to align and clears them. It is the
// equivalent of the startup library's calloc_ram.
func (m *Memory) Calloc(size, align uint64) (uint64, error) {
	pa, err := m.Alloc(NoAddr, size, align)
	if err != nil {
		return 0, err
	}
	b, err := m.Bytes(pa, size)
	if err != nil {
		return 0, err
	}
	clear(b)
	return pa, nil
}

// Alloc reserves size bytes aligned to align. If addr is NoAddr the lowest
// suitable free range is used, otherwise exactly [addr, addr+size) is
// reserved. The memory is not cleared.
func (m *Memory) Alloc(addr, size, align uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("zero-sized allocation: %w", ErrNoMemory)
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, fmt.Errorf("alignment %#x is not a power of two", align)
	}
	if addr == NoAddr {
		return m.allocAny(size, align)
	}
	return m.allocAt(addr, size, align)
}

func (m *Memory) allocAny(size, align uint64) (uint64, error) {
	var (
		found bool
		from  extent
		pa    uint64
	)
	m.free.Ascend(func(e extent) bool {
		start, ok := aarch64.Addr(e.base).RoundUp(align)
		if !ok {
			return false
		}
		if end, ok := start.AddLength(size); ok && uint64(end) <= e.end {
			found, from, pa = true, e, uint64(start)
			return false
		}
		return true
	})
	if !found {
		return 0, fmt.Errorf("no free range of %#x bytes aligned to %#x: %w", size, align, ErrNoMemory)
	}
	m.carve(from, pa, pa+size)
	return pa, nil
}

func (m *Memory) allocAt(addr, size, align uint64) (uint64, error) {
	if addr&(align-1) != 0 {
		return 0, fmt.Errorf("address %#x is not aligned to %#x", addr, align)
	}
	end, ok := aarch64.Addr(addr).AddLength(size)
	if !ok {
		return 0, fmt.Errorf("range [%#x, +%#x) overflows", addr, size)
	}
	var (
		found bool
		from  extent
	)
	m.free.DescendLessOrEqual(extent{base: addr}, func(e extent) bool {
		found, from = true, e
		return false
	})
	if !found || uint64(end) > from.end {
		return 0, fmt.Errorf("range [%#x, %#x) is not free: %w", addr, uint64(end), ErrNoMemory)
	}
	m.carve(from, addr, uint64(end))
	return addr, nil
}

// carve removes [start, end) from the free extent e.
func (m *Memory) carve(e extent, start, end uint64) {
	m.free.Delete(e)
	if e.base < start {
		m.free.ReplaceOrInsert(extent{base: e.base, end: start})
	}
	if end < e.end {
		m.free.ReplaceOrInsert(extent{base: end, end: e.end})
	}
}

// Bytes returns the storage backing [pa, pa+size). The range must lie
// within a single RAM region.
func (m *Memory) Bytes(pa, size uint64) ([]byte, error) {
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].End() > pa
	})
	if i == len(m.regions) || pa < m.regions[i].Base {
		return nil, fmt.Errorf("physical address %#x: %w", pa, ErrOutOfRange)
	}
	r := m.regions[i]
	end, ok := aarch64.Addr(pa).AddLength(size)
	if !ok || uint64(end) > r.End() {
		return nil, fmt.Errorf("physical range [%#x, +%#x) crosses the end of RAM at %#x: %w", pa, size, r.End(), ErrOutOfRange)
	}
	off := pa - r.Base
	return r.data[off : off+size : off+size], nil
}

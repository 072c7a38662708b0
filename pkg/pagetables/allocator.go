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
	"ptbuild.dev/ptbuild/pkg/log"
)

// PhysicalMemory is the source of zeroed physical memory.
//
// *physmem.Memory implements this interface.
type PhysicalMemory interface {
	// Calloc returns the physical address of size zeroed bytes aligned to
	// align.
	Calloc(size, align uint64) (uint64, error)

	// Bytes returns the storage backing [pa, pa+size).
	Bytes(pa, size uint64) ([]byte, error)
}

// PTEs is a single translation table.
type PTEs []PTE

// allocRawTable allocates one zeroed table and adds it to the arena. It
// returns the table's physical address.
func (as *AddressSpace) allocRawTable() (uint64, error) {
	ps := as.granule.PageSize()
	pa, err := as.mem.Calloc(ps, ps)
	if err != nil {
		return 0, wrapError(ErrOutOfMemory, err, "failed to allocate %s table", as.granule)
	}
	table, err := as.viewPTEs(pa, ps)
	if err != nil {
		return 0, wrapError(ErrOutOfMemory, err, "table at %#x is not addressable", pa)
	}
	as.tables[pa] = table
	log.Debugf("Allocated %s table #%d at %#x", as.granule, len(as.tables), pa)
	return pa, nil
}

// allocTable allocates one zeroed table and returns a descriptor for it.
func (as *AddressSpace) allocTable() (PTE, error) {
	pa, err := as.allocRawTable()
	if err != nil {
		return 0, err
	}
	return MakePTE(pa, ProtRead|ProtWrite, as.encodeOpts()), nil
}

// lookupTable returns the table at pa. Only tables allocated by this
// address space are found.
func (as *AddressSpace) lookupTable(pa uint64) (PTEs, bool) {
	t, ok := as.tables[pa]
	return t, ok
}

// viewPTEs returns the memory at [pa, pa+size) as descriptors.
func (as *AddressSpace) viewPTEs(pa, size uint64) (PTEs, error) {
	b, err := as.mem.Bytes(pa, size)
	if err != nil {
		return nil, err
	}
	return ptesFromBytes(b), nil
}

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

// Package boot runs the startup sequence: it builds physical memory from a
// board description, initializes the address space and maps the image
// segments and devices into it.
package boot

import (
	"errors"
	"fmt"

	"github.com/mohae/deepcopy"
	"ptbuild.dev/ptbuild/pkg/aarch64"
	"ptbuild.dev/ptbuild/pkg/log"
	"ptbuild.dev/ptbuild/pkg/pagetables"
	"ptbuild.dev/ptbuild/pkg/physmem"
	"ptbuild.dev/ptbuild/ptbuild/board"
	"ptbuild.dev/ptbuild/ptbuild/config"
)

var errClosed = errors.New("handoff is closed")

// Segment is a mapped segment or device.
type Segment struct {
	Name string `json:"name"`

	// Requested is the virtual address asked for: "identity", "any" or an
	// address.
	Requested string `json:"requested"`

	// Virtual is the address Map returned. It carries the page offset of
	// Physical.
	Virtual  uint64          `json:"virtual"`
	Physical uint64          `json:"physical"`
	Size     uint64          `json:"size"`
	Prot     pagetables.Prot `json:"prot"`
}

// Handoff is the result of a build: what the kernel needs to take over the
// address space.
type Handoff struct {
	Board    string `json:"board"`
	PageSize uint64 `json:"page_size"`
	Virtual  bool   `json:"virtual"`

	// TTBR0 is the identity root. TTBR1 holds one value per CPU, each
	// pointing at that CPU's L0 table.
	TTBR0 uint64   `json:"ttbr0"`
	TTBR1 []uint64 `json:"ttbr1"`

	// L0Virtual is where the per-CPU L0 tables are mapped.
	L0Virtual uint64 `json:"l0_virtual"`

	Segments []Segment            `json:"segments"`
	Devices  []Segment            `json:"devices"`
	Mappings []pagetables.Mapping `json:"mappings"`
	Tables   int                  `json:"tables"`
	Memory   physmem.Stats        `json:"memory"`
	Overlaps int                  `json:"overlaps,omitempty"`

	as  *pagetables.AddressSpace
	mem *physmem.Memory
}

// Run builds the address space described by conf and b. The board is not
// modified. The returned Handoff must be closed.
func Run(conf *config.Config, b *board.Board) (*Handoff, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid board: %w", err)
	}
	opts, err := conf.AddressSpaceOptions()
	if err != nil {
		return nil, err
	}
	b = deepcopy.Copy(b).(*board.Board)
	applyDefaults(b, conf)

	mem, err := newMemory(b)
	if err != nil {
		return nil, err
	}
	h, err := build(mem, opts, b)
	if err != nil {
		mem.Close()
		return nil, err
	}
	return h, nil
}

func applyDefaults(b *board.Board, conf *config.Config) {
	if b.Name == "" {
		b.Name = conf.Board
	}
	for i := range b.Reserved {
		if b.Reserved[i].Name == "" {
			b.Reserved[i].Name = fmt.Sprintf("reserved%d", i)
		}
	}
}

// newMemory creates physical memory from the board RAM and removes the
// reserved regions and the segments' physical ranges from it.
func newMemory(b *board.Board) (*physmem.Memory, error) {
	regions := make([]physmem.Region, 0, len(b.RAM))
	for _, r := range b.RAM {
		regions = append(regions, physmem.Region{Base: uint64(r.Base), Size: uint64(r.Size)})
	}
	mem, err := physmem.New(regions)
	if err != nil {
		return nil, fmt.Errorf("creating physical memory: %w", err)
	}
	for _, r := range b.Reserved {
		reserve(mem, r.Name, uint64(r.Base), uint64(r.Size))
	}
	for _, s := range b.Segments {
		reserve(mem, s.Name, uint64(s.PhysicalAddr), uint64(s.Size))
	}
	st := mem.Stats()
	log.Infof("Physical memory: %#x bytes, %#x free", st.Total, st.Free)
	return mem, nil
}

// reserve removes the pages covering [base, base+size) from mem. Pages that
// are not RAM or already reserved are skipped.
func reserve(mem *physmem.Memory, name string, base, size uint64) {
	start := aarch64.Addr(base).RoundDown(aarch64.PageSize4K)
	end, ok := aarch64.Addr(base).AddLength(size)
	if !ok {
		return
	}
	if end, ok = end.RoundUp(aarch64.PageSize4K); !ok {
		return
	}
	reserved := uint64(0)
	for pa := start; pa < end; pa += aarch64.PageSize4K {
		if _, err := mem.Alloc(uint64(pa), aarch64.PageSize4K, aarch64.PageSize4K); err != nil {
			continue
		}
		reserved += aarch64.PageSize4K
	}
	log.Debugf("Reserved %#x bytes of [%v, %v) for %q", reserved, start, end, name)
}

func build(mem *physmem.Memory, opts pagetables.Options, b *board.Board) (*Handoff, error) {
	as, err := pagetables.New(mem, opts)
	if err != nil {
		return nil, err
	}
	if err := as.Init(); err != nil {
		return nil, fmt.Errorf("initializing address space: %w", err)
	}

	h := &Handoff{
		Board:     b.Name,
		PageSize:  opts.Granule.PageSize(),
		Virtual:   opts.Virtual,
		TTBR0:     as.TTBR0(),
		L0Virtual: as.L0Virtual(),
		as:        as,
		mem:       mem,
	}
	for cpu := 0; cpu < opts.NumCPU; cpu++ {
		h.TTBR1 = append(h.TTBR1, as.TTBR1(cpu))
	}

	for _, s := range b.Segments {
		seg, err := mapRegion(as, s.Name, s.VirtualAddr, uint64(s.PhysicalAddr), uint64(s.Size), pagetables.Prot(s.Prot))
		if err != nil {
			return nil, fmt.Errorf("mapping segment %q: %w", s.Name, err)
		}
		h.Segments = append(h.Segments, seg)
	}
	for _, d := range b.Devices {
		seg, err := mapRegion(as, d.Name, board.VirtualAddress{Mode: board.VirtualAny}, uint64(d.PhysicalAddr), uint64(d.Size), d.Prot())
		if err != nil {
			return nil, fmt.Errorf("mapping device %q: %w", d.Name, err)
		}
		h.Devices = append(h.Devices, seg)
	}

	h.Mappings = as.Mappings()
	h.Tables = as.TableCount()
	h.Memory = mem.Stats()
	h.Overlaps = as.Overlaps()
	return h, nil
}

func mapRegion(as *pagetables.AddressSpace, name string, va board.VirtualAddress, pa, size uint64, prot pagetables.Prot) (Segment, error) {
	got, err := as.Map(va.Resolve(pa), pa, size, prot)
	if err != nil {
		return Segment{}, err
	}
	log.Infof("Mapped %-16s %v [%#x, +%#x) at %#x", name, prot, pa, size, got)
	return Segment{
		Name:      name,
		Requested: va.String(),
		Virtual:   got,
		Physical:  pa,
		Size:      size,
		Prot:      prot,
	}, nil
}

// Lookup translates va through the built tables.
func (h *Handoff) Lookup(va uint64) (uint64, error) {
	if h.as == nil {
		return 0, errClosed
	}
	return h.as.Lookup(va)
}

// Close releases the physical memory backing the tables. The Handoff's
// exported fields stay valid.
func (h *Handoff) Close() error {
	if h.mem == nil {
		return nil
	}
	err := h.mem.Close()
	h.mem, h.as = nil, nil
	if err != nil {
		return fmt.Errorf("releasing physical memory: %w", err)
	}
	return nil
}

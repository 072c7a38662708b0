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

// Package pagetables builds the AArch64 stage 1 translation tables used
// while starting the system.
//
// An AddressSpace holds two hierarchies. The identity root (TTBR0) maps the
// low range with virtual equal to physical for the code that turns the MMU
// on. The system root maps the high half where the image and startup data
// live, and is reached through one small L0 table per CPU (TTBR1).
//
// The system root maps itself through a recursive slot, as the kernel
// expects to find it. This package never walks through that window: every
// table it allocates is kept in an arena indexed by physical address.
package pagetables

import (
	"fmt"
	"time"

	"ptbuild.dev/ptbuild/pkg/aarch64"
	"ptbuild.dev/ptbuild/pkg/log"
)

// Wildcard asks Map to pick the virtual address.
const Wildcard = ^uint64(0)

// Options configure an AddressSpace.
type Options struct {
	// Granule is the translation granule.
	Granule Granule

	// Virtual is false for builds without an MMU. Map then returns the
	// physical address and nothing is allocated.
	Virtual bool

	// NumCPU is the number of per-CPU L0 tables.
	NumCPU int

	// XferSlots is the number of entries in each L0 table. The last one maps
	// the kernel, the others are message passing slots. It must be a power
	// of two and at least 2.
	XferSlots int

	// Meltdown forces non-global mappings.
	Meltdown bool

	// DetectOverlap reports leaf entries overwritten by Map. Mappings are
	// overwritten regardless.
	DetectOverlap bool
}

// AddressSpace is the set of translation tables built during startup.
//
// It is not safe for concurrent mutation. Lookup and Mappings may be called
// concurrently once all Map calls have returned.
type AddressSpace struct {
	mem     PhysicalMemory
	granule Granule
	opts    Options

	// initCalled is set by the first Init, successful or not.
	initCalled bool

	// initialized is set once Init succeeds.
	initialized bool

	// ttbr0 is the physical address of the identity root.
	ttbr0 uint64

	// root is the physical address of the system root and rootPTE its
	// descriptor.
	root    uint64
	rootPTE PTE

	// l0Physical and l0Virtual locate the per-CPU L0 tables.
	l0Physical uint64
	l0Virtual  uint64

	// freeVirtual is the next address handed out for Wildcard requests.
	freeVirtual uint64

	// tables holds every table allocated, indexed by physical address.
	tables map[uint64]PTEs

	// overlap reports overwritten entries when DetectOverlap is set.
	overlap  log.Logger
	overlaps int
}

// New returns an uninitialized address space allocating from mem.
func New(mem PhysicalMemory, opts Options) (*AddressSpace, error) {
	if opts.Granule == nil {
		return nil, fmt.Errorf("no granule")
	}
	if opts.NumCPU < 1 {
		return nil, fmt.Errorf("invalid CPU count %d", opts.NumCPU)
	}
	if n := opts.XferSlots; n < 2 || n&(n-1) != 0 || n > opts.Granule.MaxXferSlots() {
		return nil, fmt.Errorf("invalid xfer slot count %d: must be a power of two in [2, %d]", n, opts.Granule.MaxXferSlots())
	}
	as := &AddressSpace{
		mem:     mem,
		granule: opts.Granule,
		opts:    opts,
		tables:  make(map[uint64]PTEs),
	}
	if opts.DetectOverlap {
		as.overlap = log.RateLimitedLogger(log.WithPrefix("overlap: ", log.Log()), time.Second)
	}
	return as, nil
}

// Init allocates the identity and system roots, wires the recursive slots
// and maps the per-CPU L0 tables. It must be called once before Map.
func (as *AddressSpace) Init() error {
	if as.initCalled {
		return newError(ErrAlreadyInitialized, "init")
	}
	as.initCalled = true
	if !as.opts.Virtual {
		as.initialized = true
		return nil
	}

	g := as.granule
	ttbr0, err := as.allocRawTable()
	if err != nil {
		return err
	}
	as.ttbr0 = ttbr0

	rootPTE, err := as.allocTable()
	if err != nil {
		return err
	}
	as.rootPTE = rootPTE
	as.root = rootPTE.Address(g.PageSize())
	as.tables[as.root][g.RootSelfIndex()] = rootPTE
	if err := g.initStartup(as); err != nil {
		return err
	}

	// The L0 block is the first wildcard mapping.
	as.freeVirtual = g.StartupBase()

	slots := uint64(as.opts.XferSlots)
	l0size, _ := aarch64.Addr(slots * aarch64.PTESize * uint64(as.opts.NumCPU)).RoundUp(g.PageSize())
	l0pa, err := as.mem.Calloc(uint64(l0size), g.PageSize())
	if err != nil {
		return wrapError(ErrOutOfMemory, err, "failed to allocate %d L0 tables", as.opts.NumCPU)
	}
	l0va, err := as.mapRange(Wildcard, l0pa, uint64(l0size), ProtRead|ProtWrite)
	if err != nil {
		return err
	}
	l0, err := as.viewPTEs(l0pa, uint64(l0size))
	if err != nil {
		return wrapError(ErrOutOfMemory, err, "L0 tables at %#x are not addressable", l0pa)
	}
	for cpu := uint64(0); cpu < uint64(as.opts.NumCPU); cpu++ {
		l0[cpu*slots+slots-1] = rootPTE
	}
	as.l0Physical = l0pa
	as.l0Virtual = l0va
	as.initialized = true

	log.Debugf("Initialized %s address space: ttbr0=%#x root=%#x L0=%#x@%#x", g, as.ttbr0, as.root, l0pa, l0va)
	return nil
}

func (as *AddressSpace) encodeOpts() EncodeOpts {
	return EncodeOpts{
		Multiprocessor: as.opts.NumCPU > 1,
		NonGlobal:      as.opts.Meltdown,
	}
}

// Granule returns the translation granule.
func (as *AddressSpace) Granule() Granule {
	return as.granule
}

// Options returns the options the address space was created with.
func (as *AddressSpace) Options() Options {
	return as.opts
}

// Initialized returns true once Init has succeeded.
func (as *AddressSpace) Initialized() bool {
	return as.initialized
}

// TTBR0 returns the identity root register value, with ASID 0.
func (as *AddressSpace) TTBR0() uint64 {
	return aarch64.TTBR(as.ttbr0, 0)
}

// TTBR1 returns the register value for the given CPU's L0 table.
//
// Precondition: cpu < NumCPU.
func (as *AddressSpace) TTBR1(cpu int) uint64 {
	if cpu < 0 || cpu >= as.opts.NumCPU {
		panic(fmt.Sprintf("cpu %d out of range [0, %d)", cpu, as.opts.NumCPU))
	}
	if !as.initialized || !as.opts.Virtual {
		return 0
	}
	return aarch64.TTBR(as.l0Physical+uint64(cpu*as.opts.XferSlots)*aarch64.PTESize, 0)
}

// SystemRoot returns the physical address of the system root.
func (as *AddressSpace) SystemRoot() uint64 {
	return as.root
}

// L0Virtual returns the system virtual address of the per-CPU L0 tables.
func (as *AddressSpace) L0Virtual() uint64 {
	return as.l0Virtual
}

// FreeVirtual returns the next address Map assigns for Wildcard.
func (as *AddressSpace) FreeVirtual() uint64 {
	return as.freeVirtual
}

// TableCount returns the number of translation tables allocated, not
// counting the L0 tables.
func (as *AddressSpace) TableCount() int {
	return len(as.tables)
}

// Overlaps returns the number of valid leaf entries overwritten by Map.
// It is only counted when DetectOverlap is set.
func (as *AddressSpace) Overlaps() int {
	return as.overlaps
}

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
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"ptbuild.dev/ptbuild/pkg/physmem"
)

const (
	ramBase = 0x80000000
	ramSize = 0x2000000
)

var granules = []Granule{Granule4K(), Granule64K()}

func defaultOptions(g Granule) Options {
	return Options{
		Granule:   g,
		Virtual:   true,
		NumCPU:    1,
		XferSlots: 2,
	}
}

// newAddressSpace returns an initialized address space backed by size
// bytes of RAM at ramBase.
func newAddressSpace(t *testing.T, opts Options, size uint64) (*AddressSpace, *physmem.Memory) {
	t.Helper()
	mem, err := physmem.New([]physmem.Region{{Base: ramBase, Size: size}})
	if err != nil {
		t.Fatalf("physmem.New failed: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	as, err := New(mem, opts)
	if err != nil {
		t.Fatalf("New(%+v) failed: %v", opts, err)
	}
	if err := as.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return as, mem
}

// leaf returns the last level entry for va without allocating.
func leaf(t *testing.T, as *AddressSpace, va uint64) PTE {
	t.Helper()
	pa, err := as.rootFor(va, va)
	if err != nil {
		t.Fatalf("rootFor(%#x) failed: %v", va, err)
	}
	levels := as.granule.levels()
	for _, l := range levels[:len(levels)-1] {
		table, _ := as.lookupTable(pa)
		e := table[l.index(va)]
		if !e.IsTable() {
			t.Fatalf("%s entry for %#x is %v, want a table", l.name, va, e)
		}
		pa = e.Address(as.granule.PageSize())
	}
	table, _ := as.lookupTable(pa)
	return table[levels[len(levels)-1].index(va)]
}

func checkLookup(t *testing.T, as *AddressSpace, va, want uint64) {
	t.Helper()
	got, err := as.Lookup(va)
	if err != nil {
		t.Errorf("Lookup(%#x) failed: %v", va, err)
	} else if got != want {
		t.Errorf("Lookup(%#x) = %#x, want %#x", va, got, want)
	}
}

func checkMappings(t *testing.T, as *AddressSpace, want []Mapping) {
	t.Helper()
	if diff := cmp.Diff(want, as.Mappings()); diff != "" {
		t.Errorf("Mappings() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewOptions(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Options)
	}{
		{name: "no granule", modify: func(o *Options) { o.Granule = nil }},
		{name: "no CPUs", modify: func(o *Options) { o.NumCPU = 0 }},
		{name: "one slot", modify: func(o *Options) { o.XferSlots = 1 }},
		{name: "odd slots", modify: func(o *Options) { o.XferSlots = 6 }},
		{name: "too many slots 4K", modify: func(o *Options) { o.XferSlots = 1024 }},
		{name: "too many slots 64K", modify: func(o *Options) { o.Granule = Granule64K(); o.XferSlots = 128 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opts := defaultOptions(Granule4K())
			tc.modify(&opts)
			if _, err := New(nil, opts); err == nil {
				t.Errorf("New(%+v) succeeded, want error", opts)
			}
		})
	}
}

func TestInit(t *testing.T) {
	for _, tc := range []struct {
		granule Granule
		tables  int
	}{
		// Identity root, system root, startup L2 and the L3 holding the L0
		// mapping.
		{granule: Granule4K(), tables: 4},
		// Identity root, system root and the L3 holding the L0 mapping.
		{granule: Granule64K(), tables: 3},
	} {
		t.Run(tc.granule.String(), func(t *testing.T) {
			g := tc.granule
			opts := defaultOptions(g)
			opts.NumCPU = 4
			as, mem := newAddressSpace(t, opts, ramSize)

			if got := as.TableCount(); got != tc.tables {
				t.Errorf("TableCount() = %d, want %d", got, tc.tables)
			}
			if got, want := as.TTBR0(), uint64(ramBase); got != want {
				t.Errorf("TTBR0() = %#x, want %#x", got, want)
			}
			if got, want := as.L0Virtual(), g.StartupBase(); got != want {
				t.Errorf("L0Virtual() = %#x, want %#x", got, want)
			}
			if got, want := as.FreeVirtual(), g.StartupBase()+g.PageSize(); got != want {
				t.Errorf("FreeVirtual() = %#x, want %#x", got, want)
			}

			root, _ := as.lookupTable(as.SystemRoot())
			if got := root[g.RootSelfIndex()]; got != as.rootPTE {
				t.Errorf("root self slot = %v, want %v", got, as.rootPTE)
			}
			if g.PageSize() == 0x1000 {
				l2 := root[rootStartupIndex4K]
				if !l2.IsTable() {
					t.Fatalf("root startup slot = %v, want a table", l2)
				}
				table, ok := as.lookupTable(l2.Address(g.PageSize()))
				if !ok {
					t.Fatalf("startup L2 %#x is not in the arena", l2.Address(g.PageSize()))
				}
				if got := table[l2SelfIndex4K]; got != as.rootPTE {
					t.Errorf("startup L2 self slot = %v, want %v", got, as.rootPTE)
				}
			}

			for cpu := 0; cpu < opts.NumCPU; cpu++ {
				ttbr1 := as.TTBR1(cpu)
				if cpu > 0 && ttbr1 != as.TTBR1(cpu-1)+uint64(opts.XferSlots)*8 {
					t.Errorf("TTBR1(%d) = %#x does not follow TTBR1(%d) = %#x", cpu, ttbr1, cpu-1, as.TTBR1(cpu-1))
				}
				b, err := mem.Bytes(ttbr1, uint64(opts.XferSlots)*8)
				if err != nil {
					t.Fatalf("Bytes(%#x) failed: %v", ttbr1, err)
				}
				want := PTEs{0, as.rootPTE}
				if diff := cmp.Diff(want, ptesFromBytes(b)); diff != "" {
					t.Errorf("L0 table of CPU %d mismatch (-want +got):\n%s", cpu, diff)
				}
			}
			checkLookup(t, as, as.L0Virtual(), as.TTBR1(0))
		})
	}
}

func TestDoubleInit(t *testing.T) {
	for _, g := range granules {
		t.Run(g.String(), func(t *testing.T) {
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			tables, free := as.TableCount(), as.FreeVirtual()
			if err := as.Init(); !errors.Is(err, ErrAlreadyInitialized) {
				t.Errorf("second Init returned %v, want %v", err, ErrAlreadyInitialized)
			}
			if as.TableCount() != tables || as.FreeVirtual() != free {
				t.Errorf("second Init changed the address space: tables %d -> %d, free %#x -> %#x", tables, as.TableCount(), free, as.FreeVirtual())
			}
		})
	}
}

func TestNotInitialized(t *testing.T) {
	as, err := New(nil, defaultOptions(Granule4K()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := as.Map(0x1000, 0x1000, 0x1000, ProtRead); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Map before Init returned %v, want %v", err, ErrNotInitialized)
	}
	if _, err := as.Lookup(0x1000); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Lookup before Init returned %v, want %v", err, ErrNotInitialized)
	}
	if ms := as.Mappings(); ms != nil {
		t.Errorf("Mappings before Init = %v, want nil", ms)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, g := range granules {
		t.Run(g.String(), func(t *testing.T) {
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			ps := g.PageSize()

			for _, tc := range []struct {
				va, pa, size uint64
				prot         Prot
			}{
				{va: 0x80400000, pa: 0x80400000, size: 0x23000, prot: ProtRead | ProtExec},
				{va: 0x1000000123, pa: 0x40000123, size: 0x3456, prot: ProtRead | ProtWrite | ProtUser},
				{va: g.StartupBase() + 0x200000, pa: 0x81000000, size: 0x100000, prot: ProtRead | ProtWrite | ProtExec},
				{va: Wildcard, pa: 0xfe201000, size: 0x1000, prot: ProtRead | ProtWrite | ProtDevice},
				{va: Wildcard, pa: 0xfe215040, size: 0x40, prot: ProtRead | ProtWrite | ProtDevice | ProtNoCache},
			} {
				got, err := as.Map(tc.va, tc.pa, tc.size, tc.prot)
				if err != nil {
					t.Fatalf("Map(%#x, %#x, %#x) failed: %v", tc.va, tc.pa, tc.size, err)
				}
				if tc.va != Wildcard && got != tc.va {
					t.Errorf("Map(%#x, %#x, %#x) = %#x, want %#x", tc.va, tc.pa, tc.size, got, tc.va)
				}
				if got&(ps-1) != tc.pa&(ps-1) {
					t.Errorf("Map(%#x, %#x, %#x) = %#x, page offset differs from physical address", tc.va, tc.pa, tc.size, got)
				}
				for off := uint64(0); off < tc.size; off += ps {
					checkLookup(t, as, got+off, tc.pa+off)
				}
				checkLookup(t, as, got+tc.size-1, tc.pa+tc.size-1)
			}
		})
	}
}

func TestAlignmentNormalization(t *testing.T) {
	for _, g := range granules {
		t.Run(g.String(), func(t *testing.T) {
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			free := as.FreeVirtual()

			va, err := as.Map(Wildcard, 0x1004, 8, ProtRead)
			if err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			if va&0xfff != 0x004 {
				t.Errorf("Map(Wildcard, 0x1004, 8) = %#x, want low bits 0x004", va)
			}
			if va != free+0x1004&(g.PageSize()-1) {
				t.Errorf("Map(Wildcard, 0x1004, 8) = %#x, want %#x", va, free+0x1004&(g.PageSize()-1))
			}
			if got, want := as.FreeVirtual(), free+g.PageSize(); got != want {
				t.Errorf("FreeVirtual() = %#x, want %#x", got, want)
			}
			checkLookup(t, as, va, 0x1004)
			checkLookup(t, as, va+4, 0x1008)
		})
	}
}

func TestBadAlignment(t *testing.T) {
	as, _ := newAddressSpace(t, defaultOptions(Granule4K()), ramSize)
	if _, err := as.Map(0x40000000, 0x1004, 0x10, ProtRead); !errors.Is(err, ErrBadAlignment) {
		t.Errorf("Map with mismatched offset returned %v, want %v", err, ErrBadAlignment)
	}
	va, err := as.Map(0x40000004, 0x1004, 0x10, ProtRead)
	if err != nil {
		t.Fatalf("Map with matching offset failed: %v", err)
	}
	if va != 0x40000004 {
		t.Errorf("Map(0x40000004, 0x1004) = %#x, want 0x40000004", va)
	}
	checkLookup(t, as, va, 0x1004)
}

func TestContiguousRun(t *testing.T) {
	for _, g := range granules {
		t.Run(g.String(), func(t *testing.T) {
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			ps := g.PageSize()
			run := uint64(g.ContiguousEntries())
			const va, pa = 0x80800000, 0x90000000

			if _, err := as.Map(va, pa, 2*run*ps, ProtRead|ProtWrite); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			for i := uint64(0); i < 2*run; i++ {
				v := va + i*ps
				if e := leaf(t, as, v); !e.IsContiguous() {
					t.Errorf("entry for %#x = %v, want contiguous", v, e)
				}
				checkLookup(t, as, v, pa+i*ps)
				checkLookup(t, as, v+ps-8, pa+i*ps+ps-8)
			}
		})
	}
}

func TestContiguousRunTail(t *testing.T) {
	for _, g := range granules {
		t.Run(g.String(), func(t *testing.T) {
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			ps := g.PageSize()
			run := uint64(g.ContiguousEntries())
			const va, pa = 0x80800000, 0x90000000

			if _, err := as.Map(va, pa, (run+1)*ps, ProtRead); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			for i := uint64(0); i <= run; i++ {
				v := va + i*ps
				if got, want := leaf(t, as, v).IsContiguous(), i < run; got != want {
					t.Errorf("entry %d for %#x: contiguous = %t, want %t", i, v, got, want)
				}
				checkLookup(t, as, v, pa+i*ps)
			}
		})
	}
}

func TestPartialRun(t *testing.T) {
	for _, g := range granules {
		ps := g.PageSize()
		run := uint64(g.ContiguousEntries())
		for _, tc := range []struct {
			name   string
			va, pa uint64
			size   uint64
		}{
			{name: "short", va: 0x80800000, pa: 0x90000000, size: (run - 1) * ps},
			{name: "misaligned physical", va: 0x80800000, pa: 0x90000000 + ps, size: 2 * run * ps},
			{name: "misaligned virtual", va: 0x80800000 + ps, pa: 0x90000000, size: 2 * run * ps},
		} {
			t.Run(fmt.Sprintf("%s/%s", g, tc.name), func(t *testing.T) {
				as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
				if _, err := as.Map(tc.va, tc.pa, tc.size, ProtRead|ProtWrite); err != nil {
					t.Fatalf("Map failed: %v", err)
				}
				for off := uint64(0); off < tc.size; off += ps {
					if e := leaf(t, as, tc.va+off); e.IsContiguous() {
						t.Errorf("entry for %#x = %v, want no contiguous hint", tc.va+off, e)
					}
					checkLookup(t, as, tc.va+off, tc.pa+off)
				}
			})
		}
	}
}

func TestDepth(t *testing.T) {
	for _, tc := range []struct {
		granule Granule
		// levels includes the per-CPU L0.
		levels int
		// tables is the number allocated by a mapping in an empty
		// identity range.
		tables int
	}{
		{granule: Granule4K(), levels: 4, tables: 2},
		{granule: Granule64K(), levels: 3, tables: 1},
	} {
		t.Run(tc.granule.String(), func(t *testing.T) {
			if got := tc.granule.Depth() + 1; got != tc.levels {
				t.Errorf("Depth()+1 = %d, want %d", got, tc.levels)
			}
			as, _ := newAddressSpace(t, defaultOptions(tc.granule), ramSize)
			before := as.TableCount()
			if _, err := as.Map(0x80000000, 0x80000000, 0x1000, ProtRead); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			if got := as.TableCount() - before; got != tc.tables {
				t.Errorf("Map allocated %d tables, want %d", got, tc.tables)
			}
			checkLookup(t, as, 0x80000000, 0x80000000)
		})
	}
}

func TestOutOfRange(t *testing.T) {
	for _, g := range granules {
		t.Run(g.String(), func(t *testing.T) {
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			ps := g.PageSize()

			for _, va := range []uint64{
				g.UserEnd(),
				g.StartupBase() - ps,
				g.KernelBase(),
				1 << 63,
			} {
				if _, err := as.Map(va, 0x80000000, ps, ProtRead); !errors.Is(err, ErrBadAddress) {
					t.Errorf("Map(%#x) returned %v, want %v", va, err, ErrBadAddress)
				}
				if _, err := as.Lookup(va); !errors.Is(err, ErrBadAddress) {
					t.Errorf("Lookup(%#x) returned %v, want %v", va, err, ErrBadAddress)
				}
			}

			// Ranges may not cross the end of the identity range.
			if _, err := as.Map(g.UserEnd()-ps, 0x80000000, 2*ps, ProtRead); !errors.Is(err, ErrBadAddress) {
				t.Errorf("Map across the identity limit returned %v, want %v", err, ErrBadAddress)
			}
			// The identity range ends one page early.
			if _, err := as.Map(g.UserEnd()-ps, 0x80000000, ps, ProtRead); !errors.Is(err, ErrBadAddress) {
				t.Errorf("Map of the last identity page returned %v, want %v", err, ErrBadAddress)
			}
			if _, err := as.Map(g.UserEnd()-2*ps, 0x80000000, ps, ProtRead); err != nil {
				t.Errorf("Map of the second to last identity page failed: %v", err)
			}
			checkLookup(t, as, g.UserEnd()-2*ps, 0x80000000)
		})
	}
}

func TestOverflow(t *testing.T) {
	for _, g := range granules {
		t.Run(g.String(), func(t *testing.T) {
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			ps := g.PageSize()
			free := as.FreeVirtual()

			for _, tc := range []struct {
				va, pa, size uint64
			}{
				{va: Wildcard, pa: 0x80000000, size: ^uint64(0)},
				{va: -ps, pa: 0x80000000, size: 2 * ps},
				{va: Wildcard, pa: 1<<48 - ps, size: 2 * ps},
			} {
				if _, err := as.Map(tc.va, tc.pa, tc.size, ProtRead); !errors.Is(err, ErrOverflow) {
					t.Errorf("Map(%#x, %#x, %#x) returned %v, want %v", tc.va, tc.pa, tc.size, err, ErrOverflow)
				}
			}
			if got := as.FreeVirtual(); got != free {
				t.Errorf("failed Map moved FreeVirtual from %#x to %#x", free, got)
			}
		})
	}
}

func TestRecursiveWindow(t *testing.T) {
	for _, tc := range []struct {
		granule Granule
		// mapped are addresses that walk through a recursive slot.
		mapped []uint64
		// wrapping are window pages whose end wraps past the top of the
		// address space.
		wrapping []uint64
		// tables are window addresses and the index of the table they
		// reach: 0 is the root, 1 the startup L2.
		tables map[uint64]int
	}{
		{
			granule:  Granule4K(),
			mapped:   []uint64{0xffffffffc0000000, 0xffffffffbfe00000, 0xffffffffffffe000},
			wrapping: []uint64{0xfffffffffffff000},
			tables: map[uint64]int{
				0xfffffffffffff000: 0,
				0xffffffffbffff000: 0,
				0xffffffffbfffe000: 1,
			},
		},
		{
			granule:  Granule64K(),
			mapped:   []uint64{0xffffffffe0000000, 0xfffffffffffe0000},
			wrapping: []uint64{0xffffffffffff0000},
			tables: map[uint64]int{
				0xffffffffffff0000: 0,
			},
		},
	} {
		t.Run(tc.granule.String(), func(t *testing.T) {
			g := tc.granule
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			for _, va := range tc.mapped {
				if _, err := as.Map(va, 0x80000000, g.PageSize(), ProtRead|ProtWrite); !errors.Is(err, ErrBadAddress) {
					t.Errorf("Map(%#x) returned %v, want %v", va, err, ErrBadAddress)
				}
			}
			for _, va := range tc.wrapping {
				if _, err := as.Map(va, 0x80000000, g.PageSize(), ProtRead|ProtWrite); !errors.Is(err, ErrOverflow) {
					t.Errorf("Map(%#x) returned %v, want %v", va, err, ErrOverflow)
				}
			}

			root, _ := as.lookupTable(as.SystemRoot())
			tables := []uint64{as.SystemRoot()}
			if g.PageSize() == 0x1000 {
				tables = append(tables, root[rootStartupIndex4K].Address(g.PageSize()))
			}
			for va, i := range tc.tables {
				checkLookup(t, as, va, tables[i])
			}
			if root[g.RootSelfIndex()] != as.rootPTE {
				t.Errorf("root self slot was overwritten: %v", root[g.RootSelfIndex()])
			}
		})
	}
}

func TestUnmappedLookup(t *testing.T) {
	for _, g := range granules {
		t.Run(g.String(), func(t *testing.T) {
			as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
			if _, err := as.Map(0x80400000, 0x80400000, g.PageSize(), ProtRead); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			for _, va := range []uint64{
				0x0,
				0x1000,
				0x80400000 + g.PageSize(),
				0x80400000 - g.PageSize(),
				as.FreeVirtual(),
				g.StartupBase() + 0x10000000,
			} {
				if pa, err := as.Lookup(va); !errors.Is(err, ErrNotFound) {
					t.Errorf("Lookup(%#x) = %#x, %v, want %v", va, pa, err, ErrNotFound)
				}
			}
		})
	}
}

func TestOutOfMemory(t *testing.T) {
	t.Run("init", func(t *testing.T) {
		mem, err := physmem.New([]physmem.Region{{Base: ramBase, Size: 0x4000}})
		if err != nil {
			t.Fatalf("physmem.New failed: %v", err)
		}
		defer mem.Close()
		as, err := New(mem, defaultOptions(Granule4K()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		err = as.Init()
		if !errors.Is(err, ErrOutOfMemory) || !errors.Is(err, physmem.ErrNoMemory) {
			t.Errorf("Init returned %v, want %v wrapping %v", err, ErrOutOfMemory, physmem.ErrNoMemory)
		}
		if err := as.Init(); !errors.Is(err, ErrAlreadyInitialized) {
			t.Errorf("Init after failure returned %v, want %v", err, ErrAlreadyInitialized)
		}
		if _, err := as.Map(0x1000, 0x1000, 0x1000, ProtRead); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Map after failed Init returned %v, want %v", err, ErrNotInitialized)
		}
	})

	t.Run("map", func(t *testing.T) {
		// Init takes five pages, leaving one.
		as, _ := newAddressSpace(t, defaultOptions(Granule4K()), 0x6000)
		var e *Error
		_, err := as.Map(0x40000000, 0x40000000, 0x1000, ProtRead)
		if !errors.Is(err, ErrOutOfMemory) || !errors.As(err, &e) {
			t.Fatalf("Map returned %v, want *Error wrapping %v", err, ErrOutOfMemory)
		}
		if e.Kind() != ErrOutOfMemory {
			t.Errorf("Kind() = %v, want %v", e.Kind(), ErrOutOfMemory)
		}
	})
}

func TestNonVirtual(t *testing.T) {
	opts := defaultOptions(Granule4K())
	opts.Virtual = false
	as, err := New(nil, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Map ignores initialization entirely.
	if got, err := as.Map(0x40000000, 0x1234, 0x10, ProtRead); err != nil || got != 0x1234 {
		t.Errorf("Map = %#x, %v, want 0x1234, nil", got, err)
	}
	if err := as.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := as.Init(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Init returned %v, want %v", err, ErrAlreadyInitialized)
	}
	if got, err := as.Map(Wildcard, 0x80000004, 0x10, ProtRead); err != nil || got != 0x80000004 {
		t.Errorf("Map = %#x, %v, want 0x80000004, nil", got, err)
	}
	if got, err := as.Lookup(0xffffffff80001000); err != nil || got != 0xffffffff80001000 {
		t.Errorf("Lookup = %#x, %v, want the address unchanged", got, err)
	}
	if as.TableCount() != 0 || as.Mappings() != nil || as.TTBR1(0) != 0 {
		t.Errorf("non-virtual address space allocated tables")
	}
}

func TestMappings(t *testing.T) {
	g := Granule4K()
	as, _ := newAddressSpace(t, defaultOptions(g), ramSize)
	for _, m := range []struct {
		va, pa, size uint64
		prot         Prot
	}{
		{va: 0x80400000, pa: 0x80400000, size: 0x2000, prot: ProtRead | ProtExec},
		{va: g.StartupBase() + 0x100000, pa: 0x81000000, size: 0x10000, prot: ProtRead | ProtWrite | ProtExec},
		{va: g.StartupBase() + 0x110000, pa: 0x81010000, size: 0x1000, prot: ProtRead | ProtWrite | ProtExec},
		{va: g.StartupBase() + 0x111000, pa: 0x81011000, size: 0x1000, prot: ProtRead},
	} {
		if _, err := as.Map(m.va, m.pa, m.size, m.prot); err != nil {
			t.Fatalf("Map(%#x) failed: %v", m.va, err)
		}
	}

	attrs := func(p Prot) PTE { return MakePTE(0, p, EncodeOpts{}) }
	checkMappings(t, as, []Mapping{
		{Virtual: 0x80400000, Physical: 0x80400000, Length: 0x2000, Prot: ProtRead | ProtExec, Attributes: attrs(ProtRead | ProtExec)},
		{Virtual: g.StartupBase(), Physical: as.TTBR1(0), Length: 0x1000, Prot: ProtRead | ProtWrite, Attributes: attrs(ProtRead | ProtWrite)},
		{Virtual: g.StartupBase() + 0x100000, Physical: 0x81000000, Length: 0x10000, Prot: ProtRead | ProtWrite | ProtExec, Contiguous: true, Attributes: attrs(ProtRead | ProtWrite | ProtExec)},
		{Virtual: g.StartupBase() + 0x110000, Physical: 0x81010000, Length: 0x1000, Prot: ProtRead | ProtWrite | ProtExec, Attributes: attrs(ProtRead | ProtWrite | ProtExec)},
		{Virtual: g.StartupBase() + 0x111000, Physical: 0x81011000, Length: 0x1000, Prot: ProtRead, Attributes: attrs(ProtRead)},
	})
}

func TestOverlap(t *testing.T) {
	for _, detect := range []bool{false, true} {
		t.Run(fmt.Sprintf("detect=%t", detect), func(t *testing.T) {
			opts := defaultOptions(Granule4K())
			opts.DetectOverlap = detect
			as, _ := newAddressSpace(t, opts, ramSize)

			if _, err := as.Map(0x80400000, 0x80400000, 0x3000, ProtRead); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			if _, err := as.Map(0x80401000, 0x90000000, 0x1000, ProtRead|ProtDevice); err != nil {
				t.Fatalf("overlapping Map failed: %v", err)
			}
			checkLookup(t, as, 0x80401000, 0x90000000)
			want := 0
			if detect {
				want = 1
			}
			if got := as.Overlaps(); got != want {
				t.Errorf("Overlaps() = %d, want %d", got, want)
			}
		})
	}
}

func TestEncodeOptions(t *testing.T) {
	opts := defaultOptions(Granule4K())
	opts.NumCPU = 2
	opts.Meltdown = true
	as, _ := newAddressSpace(t, opts, ramSize)

	normal, err := as.Map(Wildcard, 0x80400000, 0x1000, ProtRead|ProtWrite)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	device, err := as.Map(Wildcard, 0xfe201000, 0x1000, ProtRead|ProtWrite|ProtDevice)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	for _, tc := range []struct {
		va  uint64
		ish bool
	}{
		{va: as.L0Virtual(), ish: true},
		{va: normal, ish: true},
		{va: device, ish: false},
	} {
		e := leaf(t, as, tc.va)
		if e.Global() {
			t.Errorf("entry for %#x = %v, want nG", tc.va, e)
		}
		if got := e&InnerShareable == InnerShareable; got != tc.ish {
			t.Errorf("entry for %#x = %v, inner shareable = %t, want %t", tc.va, e, got, tc.ish)
		}
	}
}

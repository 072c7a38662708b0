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

// Package board loads board descriptions: the RAM, the image segments and
// the device regions the startup address space is built for.
//
// Boards are TOML files:
//
//	name = "bcm2711"
//
//	[config]
//	num-cpu = "4"
//
//	[[ram]]
//	base = 0x0
//	size = "948M"
//
//	[[segment]]
//	name = "startup"
//	vaddr = "identity"
//	paddr = 0x80000
//	size = 0x20000
//	prot = "rx"
//
//	[[device]]
//	name = "uart0"
//	paddr = 0xfe201000
//	size = 0x1000
//
// TOML integers are signed, so high half addresses must be quoted.
package board

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"ptbuild.dev/ptbuild/pkg/log"
	"ptbuild.dev/ptbuild/pkg/pagetables"
)

// Board is a board description.
type Board struct {
	// Name is informational.
	Name string `toml:"name"`

	// Config holds flag values, keyed by flag name, used when the flag is
	// not given on the command line.
	Config map[string]string `toml:"config"`

	// RAM lists the physical memory regions.
	RAM []Region `toml:"ram"`

	// Reserved lists RAM that must not be used for translation tables,
	// e.g. firmware or the loaded image.
	Reserved []Region `toml:"reserved"`

	// Segments are the image segments, mapped in order.
	Segments []Segment `toml:"segment"`

	// Devices are device register regions, mapped after the segments at
	// addresses picked by the builder.
	Devices []Device `toml:"device"`
}

// Region is a physical memory range.
type Region struct {
	Name string  `toml:"name"`
	Base Address `toml:"base"`
	Size Size    `toml:"size"`
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// Segment is an image segment.
type Segment struct {
	Name         string         `toml:"name"`
	VirtualAddr  VirtualAddress `toml:"vaddr"`
	PhysicalAddr Address        `toml:"paddr"`
	Size         Size           `toml:"size"`
	Prot         Prot           `toml:"prot"`
}

// Device is a device register region, mapped read/write as device memory.
type Device struct {
	Name         string  `toml:"name"`
	PhysicalAddr Address `toml:"paddr"`
	Size         Size    `toml:"size"`
	Ordered      bool    `toml:"ordered"`
}

// Prot returns the protection devices are mapped with. Ordered devices use
// the strongly ordered memory type.
func (d Device) Prot() pagetables.Prot {
	prot := pagetables.ProtRead | pagetables.ProtWrite | pagetables.ProtDevice
	if d.Ordered {
		prot |= pagetables.ProtNoCache
	}
	return prot
}

// Address is a physical or virtual address. It decodes from a TOML integer
// or from a string in any base strconv accepts.
type Address uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(strings.ReplaceAll(string(text), "_", ""), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", text, err)
	}
	*a = Address(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Size is a length in bytes. Strings may carry a K, M or G suffix.
type Size uint64

var sizeSuffixes = map[byte]uint64{
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(text []byte) error {
	str := strings.ReplaceAll(strings.ToUpper(string(text)), "_", "")
	mult := uint64(1)
	if n := len(str); n > 0 {
		if m, ok := sizeSuffixes[str[n-1]]; ok && !strings.HasPrefix(str, "0X") {
			mult = m
			str = str[:n-1]
		}
	}
	v, err := strconv.ParseUint(strings.ToLower(str), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	if v > ^uint64(0)/mult {
		return fmt.Errorf("size %q overflows", text)
	}
	*s = Size(v * mult)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(s))), nil
}

// VirtualMode says how a segment's virtual address is chosen.
type VirtualMode int

const (
	// VirtualAny lets the builder pick the address. It is used when vaddr
	// is absent or "any".
	VirtualAny VirtualMode = iota

	// VirtualIdentity maps the segment at its physical address.
	VirtualIdentity

	// VirtualFixed maps the segment at Addr.
	VirtualFixed
)

// VirtualAddress is a segment's requested virtual address.
type VirtualAddress struct {
	Mode VirtualMode
	Addr uint64
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *VirtualAddress) UnmarshalText(text []byte) error {
	switch string(text) {
	case "identity":
		*v = VirtualAddress{Mode: VirtualIdentity}
	case "any", "":
		*v = VirtualAddress{Mode: VirtualAny}
	default:
		var a Address
		if err := a.UnmarshalText(text); err != nil {
			return err
		}
		*v = VirtualAddress{Mode: VirtualFixed, Addr: uint64(a)}
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (v VirtualAddress) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// String implements fmt.Stringer.
func (v VirtualAddress) String() string {
	switch v.Mode {
	case VirtualIdentity:
		return "identity"
	case VirtualFixed:
		return Address(v.Addr).String()
	default:
		return "any"
	}
}

// Resolve returns the address to pass to Map for a segment at pa.
func (v VirtualAddress) Resolve(pa uint64) uint64 {
	switch v.Mode {
	case VirtualIdentity:
		return pa
	case VirtualFixed:
		return v.Addr
	default:
		return pagetables.Wildcard
	}
}

// Prot is a segment protection, written with the letters "rwxudn".
type Prot pagetables.Prot

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Prot) UnmarshalText(text []byte) error {
	prot, err := pagetables.ParseProt(string(text))
	if err != nil {
		return err
	}
	*p = Prot(prot)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Prot) MarshalText() ([]byte, error) {
	return []byte(strings.ReplaceAll(pagetables.Prot(p).String(), "-", "")), nil
}

// Load reads the board description at path.
func Load(path string) (*Board, error) {
	var b Board
	md, err := toml.DecodeFile(path, &b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode board %q: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("board %q: %w", path, err)
	}
	return &b, nil
}

// Decode reads a board description from r.
func Decode(r io.Reader) (*Board, error) {
	var b Board
	md, err := toml.NewDecoder(r).Decode(&b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode board: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	return &b, nil
}

func checkUndecoded(md toml.MetaData) error {
	if keys := md.Undecoded(); len(keys) > 0 {
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
	}
	return nil
}

// Encode writes the board description as TOML.
func (b *Board) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(b)
}

// Validate checks that the description can be built.
func (b *Board) Validate() error {
	if len(b.RAM) == 0 {
		return fmt.Errorf("board %q has no RAM", b.Name)
	}
	for i, r := range b.RAM {
		if err := checkRange(r.Base, r.Size); err != nil {
			return fmt.Errorf("ram[%d]: %w", i, err)
		}
	}
	if err := b.checkRAMOverlap(); err != nil {
		return err
	}
	for i, r := range b.Reserved {
		if err := checkRange(r.Base, r.Size); err != nil {
			return fmt.Errorf("reserved[%d] %q: %w", i, r.Name, err)
		}
		if !b.inRAM(r) {
			log.Warningf("Reserved region %q [%v, %#x) is not in RAM", r.Name, r.Base, r.End())
		}
	}

	names := make(map[string]bool)
	for i, s := range b.Segments {
		if s.Name == "" {
			return fmt.Errorf("segment[%d] has no name", i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate segment %q", s.Name)
		}
		names[s.Name] = true
		if err := checkRange(s.PhysicalAddr, s.Size); err != nil {
			return fmt.Errorf("segment %q: %w", s.Name, err)
		}
		if pagetables.Prot(s.Prot)&pagetables.ProtRead == 0 {
			return fmt.Errorf("segment %q is not readable", s.Name)
		}
	}
	for i, d := range b.Devices {
		if err := checkRange(d.PhysicalAddr, d.Size); err != nil {
			return fmt.Errorf("device[%d] %q: %w", i, d.Name, err)
		}
	}
	b.warnOverlaps()
	return nil
}

func checkRange(base Address, size Size) error {
	if size == 0 {
		return fmt.Errorf("empty range at %v", base)
	}
	if uint64(base)+uint64(size) < uint64(base) {
		return fmt.Errorf("range [%v, +%#x) overflows", base, uint64(size))
	}
	return nil
}

func (b *Board) checkRAMOverlap() error {
	ram := append([]Region(nil), b.RAM...)
	sort.Slice(ram, func(i, j int) bool { return ram[i].Base < ram[j].Base })
	for i := 1; i < len(ram); i++ {
		if uint64(ram[i].Base) < ram[i-1].End() {
			return fmt.Errorf("ram [%v, %#x) overlaps [%v, %#x)", ram[i].Base, ram[i].End(), ram[i-1].Base, ram[i-1].End())
		}
	}
	return nil
}

func (b *Board) inRAM(r Region) bool {
	for _, ram := range b.RAM {
		if r.Base >= ram.Base && r.End() <= ram.End() {
			return true
		}
	}
	return false
}

// warnOverlaps logs segments whose fixed virtual ranges overlap. Later
// segments replace the earlier mapping.
func (b *Board) warnOverlaps() {
	type span struct {
		name       string
		start, end uint64
	}
	var spans []span
	for _, s := range b.Segments {
		if s.VirtualAddr.Mode == VirtualAny {
			continue
		}
		start := s.VirtualAddr.Resolve(uint64(s.PhysicalAddr))
		spans = append(spans, span{name: s.Name, start: start, end: start + uint64(s.Size)})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			log.Warningf("Segment %q at %#x overlaps segment %q ending at %#x", spans[i].name, spans[i].start, spans[i-1].name, spans[i-1].end)
		}
	}
}

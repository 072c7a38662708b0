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
	"strings"

	"ptbuild.dev/ptbuild/pkg/aarch64"
)

// PTE is a stage 1 translation table descriptor.
type PTE uint64

// Descriptor bits.
const (
	Valid          PTE = 1 << 0
	TableOrPage    PTE = 1 << 1
	AccessFlag     PTE = 1 << 10
	NotGlobal      PTE = 1 << 11
	Contiguous     PTE = 1 << 52
	PXN            PTE = 1 << 53
	UXN            PTE = 1 << 54
	InnerShareable PTE = 0x3 << shareShift
)

const (
	// typeMask selects the descriptor type bits[1:0].
	typeMask  PTE = Valid | TableOrPage
	typeBlock PTE = Valid

	attrIndxShift     = 2
	attrIndxMask  PTE = 0x7 << attrIndxShift
	apShift           = 6
	apMask        PTE = 0x3 << apShift
	shareShift        = 8
	shareMask     PTE = 0x3 << shareShift
)

// Access permissions, bits[7:6].
const (
	APKernelRW PTE = 0 << apShift
	APUserRW   PTE = 1 << apShift
	APKernelRO PTE = 2 << apShift
	APUserRO   PTE = 3 << apShift
)

// Prot is a set of protection and memory attribute flags.
type Prot uint32

// Protection flags.
const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
	ProtUser
	ProtDevice
	ProtNoCache
)

// protChars are the letters used by String and ParseProt, in bit order.
const protChars = "rwxudn"

// String returns the flags as letters from "rwxudn", with '-' for absent
// flags.
func (p Prot) String() string {
	var b strings.Builder
	for i, c := range protChars {
		if p&(1<<i) != 0 {
			b.WriteRune(c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ParseProt parses a string of letters from "rwxudn". Dashes are ignored.
func ParseProt(s string) (Prot, error) {
	var p Prot
	for _, c := range s {
		if c == '-' {
			continue
		}
		i := strings.IndexRune(protChars, c)
		if i < 0 {
			return 0, fmt.Errorf("invalid protection %q: unknown flag %q", s, c)
		}
		p |= 1 << i
	}
	return p, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Prot) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Prot) UnmarshalText(text []byte) error {
	v, err := ParseProt(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// EncodeOpts holds the system-wide state that affects every descriptor.
type EncodeOpts struct {
	// Multiprocessor marks normal memory inner shareable.
	Multiprocessor bool

	// NonGlobal sets nG on every entry. It is required while the meltdown
	// mitigation is active.
	NonGlobal bool
}

// MakePTE returns a valid leaf or table descriptor for phys, which must be
// page aligned. The access flag is always set, so no access flag fault is
// ever taken on these mappings.
func MakePTE(phys uint64, prot Prot, opts EncodeOpts) PTE {
	pte := PTE(phys) | typeMask | AccessFlag

	switch {
	case prot&ProtWrite != 0 && prot&ProtUser != 0:
		pte |= APUserRW
	case prot&ProtWrite != 0:
		pte |= APKernelRW
	case prot&ProtUser != 0:
		pte |= APUserRO
	default:
		pte |= APKernelRO
	}
	if prot&ProtExec == 0 {
		pte |= UXN | PXN
	}

	// Shareability is ignored for device memory.
	if prot&ProtDevice != 0 {
		if prot&ProtNoCache != 0 {
			pte |= attrIndx(aarch64.MemoryTypeStronglyOrdered)
		} else {
			pte |= attrIndx(aarch64.MemoryTypeDevice)
		}
	} else {
		if prot&ProtNoCache != 0 {
			pte |= attrIndx(aarch64.MemoryTypeNonCacheable)
		} else {
			pte |= attrIndx(aarch64.MemoryTypeWriteBack)
		}
		if opts.Multiprocessor {
			pte |= InnerShareable
		}
	}
	if opts.NonGlobal {
		pte |= NotGlobal
	}
	return pte
}

func attrIndx(mt aarch64.MemoryType) PTE {
	return PTE(mt) << attrIndxShift
}

// Valid returns true if the valid bit is set.
func (p PTE) Valid() bool {
	return p&Valid != 0
}

// IsBlock returns true for a block descriptor. Only meaningful above the
// last level.
func (p PTE) IsBlock() bool {
	return p&typeMask == typeBlock
}

// IsTable returns true for a table descriptor above the last level, or a
// page descriptor at the last level.
func (p PTE) IsTable() bool {
	return p&typeMask == typeMask
}

// IsPage is IsTable for last level entries.
func (p PTE) IsPage() bool {
	return p.IsTable()
}

// Address returns the output address for the given page size.
func (p PTE) Address(pageSize uint64) uint64 {
	return uint64(p) & aarch64.OutputAddressMask &^ (pageSize - 1)
}

// MemoryType returns the AttrIndx field.
func (p PTE) MemoryType() aarch64.MemoryType {
	return aarch64.MemoryType((p & attrIndxMask) >> attrIndxShift)
}

// IsContiguous returns true if the contiguous hint is set.
func (p PTE) IsContiguous() bool {
	return p&Contiguous != 0
}

// Global returns false if nG is set.
func (p PTE) Global() bool {
	return p&NotGlobal == 0
}

// Prot decodes the protection flags of a leaf entry.
func (p PTE) Prot() Prot {
	prot := ProtRead
	switch p & apMask {
	case APUserRW:
		prot |= ProtWrite | ProtUser
	case APKernelRW:
		prot |= ProtWrite
	case APUserRO:
		prot |= ProtUser
	}
	if p&UXN == 0 {
		prot |= ProtExec
	}
	switch p.MemoryType() {
	case aarch64.MemoryTypeNonCacheable:
		prot |= ProtNoCache
	case aarch64.MemoryTypeDevice:
		prot |= ProtDevice
	case aarch64.MemoryTypeStronglyOrdered:
		prot |= ProtDevice | ProtNoCache
	}
	return prot
}

// attrs returns the entry without its output address or contiguous hint.
func (p PTE) attrs() PTE {
	return p &^ (PTE(aarch64.OutputAddressMask) | Contiguous)
}

// String formats the entry for dumps.
func (p PTE) String() string {
	if !p.Valid() {
		return fmt.Sprintf("%#016x invalid", uint64(p))
	}
	var flags []string
	if p.IsBlock() {
		flags = append(flags, "block")
	}
	if p.IsContiguous() {
		flags = append(flags, "contig")
	}
	if !p.Global() {
		flags = append(flags, "nG")
	}
	if p&shareMask == InnerShareable {
		flags = append(flags, "ish")
	}
	return fmt.Sprintf("%#016x %s %s %s", uint64(p), p.Prot(), p.MemoryType().ShortString(), strings.Join(flags, ","))
}

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
)

// Mapping is a run of virtual pages mapped to consecutive physical pages
// with the same attributes.
type Mapping struct {
	// Virtual is the first virtual address.
	Virtual uint64 `json:"virtual"`

	// Physical is the first physical address.
	Physical uint64 `json:"physical"`

	// Length is the size of the run in bytes.
	Length uint64 `json:"length"`

	// Prot is the decoded protection.
	Prot Prot `json:"prot"`

	// Contiguous is true if every entry carries the contiguous hint.
	Contiguous bool `json:"contiguous"`

	// Attributes is the leaf descriptor with the output address and the
	// contiguous hint cleared.
	Attributes PTE `json:"attributes"`
}

// End returns the first virtual address past the run.
func (m Mapping) End() uint64 {
	return m.Virtual + m.Length
}

// Mappings returns every mapped run, identity range first, in address
// order. Tables reached through a recursive slot are not visited.
func (as *AddressSpace) Mappings() []Mapping {
	if !as.opts.Virtual || !as.initialized {
		return nil
	}
	var ms []Mapping
	ms = as.collect(ms, as.ttbr0, 0, 0, nil)
	ms = as.collect(ms, as.root, as.granule.KernelBase(), 0, nil)
	return ms
}

// collect appends the runs below the table at pa, which maps from base.
func (as *AddressSpace) collect(ms []Mapping, pa, base uint64, depth int, path []uint64) []Mapping {
	levels := as.granule.levels()
	ps := as.granule.PageSize()
	l := levels[depth]
	last := depth == len(levels)-1
	path = append(path, pa)

	table, _ := as.lookupTable(pa)
	for i, e := range table {
		if !e.Valid() {
			continue
		}
		va := base + uint64(i)<<l.shift
		switch {
		case last:
			if e.IsPage() {
				ms = appendMapping(ms, va, e, ps, ps)
			}
		case e.IsBlock():
			ms = appendMapping(ms, va, e, l.span(), ps)
		default:
			next := e.Address(ps)
			if slices.Contains(path, next) {
				continue
			}
			if _, ok := as.lookupTable(next); !ok {
				continue
			}
			ms = as.collect(ms, next, va, depth+1, path)
		}
	}
	return ms
}

func appendMapping(ms []Mapping, va uint64, e PTE, length, ps uint64) []Mapping {
	pa := e.Address(ps)
	if n := len(ms); n > 0 {
		m := &ms[n-1]
		if m.End() == va && m.Physical+m.Length == pa && m.Attributes == e.attrs() && m.Contiguous == e.IsContiguous() {
			m.Length += length
			return ms
		}
	}
	return append(ms, Mapping{
		Virtual:    va,
		Physical:   pa,
		Length:     length,
		Prot:       e.Prot(),
		Contiguous: e.IsContiguous(),
		Attributes: e.attrs(),
	})
}

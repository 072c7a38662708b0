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

// Lookup returns the physical address va translates to, or an error
// matching ErrNotFound if it is not mapped.
//
// Descriptors are followed as the hardware would, so addresses in the
// recursive window resolve to the tables themselves. Lookup never
// allocates.
func (as *AddressSpace) Lookup(va uint64) (uint64, error) {
	if !as.opts.Virtual {
		return va, nil
	}
	if !as.initialized {
		return 0, newError(ErrNotInitialized, "lookup va=%#x", va)
	}
	pa, err := as.rootFor(va, va)
	if err != nil {
		return 0, err
	}

	levels := as.granule.levels()
	ps := as.granule.PageSize()
	for i, l := range levels {
		table, ok := as.lookupTable(pa)
		if !ok {
			return 0, newError(ErrBadAddress, "lookup va=%#x reached %#x, which is not a table", va, pa)
		}
		e := table[l.index(va)]
		if i == len(levels)-1 {
			if !e.IsPage() {
				return 0, newError(ErrNotFound, "lookup va=%#x", va)
			}
			return e.Address(ps) | va&(ps-1), nil
		}
		if !e.Valid() {
			return 0, newError(ErrNotFound, "lookup va=%#x", va)
		}
		if e.IsBlock() {
			return e.Address(ps) | va&(l.span()-1), nil
		}
		pa = e.Address(ps)
	}
	panic("unreachable")
}

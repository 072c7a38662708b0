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

package aarch64

// Translation table base register layout. BADDR covers bits [47:1]: with
// small tables, such as the per-CPU L0 tables, the base is only aligned to
// the table size.
const (
	ttbrASIDOffset = 48
	ttbrASIDMask   = 0xffff
	ttbrBaseMask   = 0x0000fffffffffffe
)

// TTBR returns a translation table base register value for the table at
// base, tagged with asid.
func TTBR(base uint64, asid uint16) uint64 {
	return base&ttbrBaseMask | (uint64(asid)&ttbrASIDMask)<<ttbrASIDOffset
}

// TTBRBase returns the table address held in a TTBR value.
func TTBRBase(ttbr uint64) uint64 {
	return ttbr & ttbrBaseMask
}

// TTBRASID returns the ASID held in a TTBR value.
func TTBRASID(ttbr uint64) uint16 {
	return uint16((ttbr >> ttbrASIDOffset) & ttbrASIDMask)
}

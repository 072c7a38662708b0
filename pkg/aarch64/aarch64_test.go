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

import "testing"

func TestRoundUp(t *testing.T) {
	for _, tc := range []struct {
		addr   Addr
		size   uint64
		want   Addr
		wantOK bool
	}{
		{0, PageSize4K, 0, true},
		{1, PageSize4K, 0x1000, true},
		{0x1000, PageSize4K, 0x1000, true},
		{0x1004, PageSize64K, 0x10000, true},
		{^Addr(0), PageSize4K, 0, false},
	} {
		got, ok := tc.addr.RoundUp(tc.size)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("%v.RoundUp(%#x) = (%v, %t), want (%v, %t)", tc.addr, tc.size, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestAddLength(t *testing.T) {
	if end, ok := Addr(0x1000).AddLength(0x2000); !ok || end != 0x3000 {
		t.Errorf("AddLength = (%v, %t), want (0x3000, true)", end, ok)
	}
	if _, ok := Addr(0xfffffffffffff000).AddLength(0x2000); ok {
		t.Errorf("AddLength across the top of the address space reported ok")
	}
}

func TestTTBR(t *testing.T) {
	v := TTBR(0x40001000, 7)
	if got := TTBRBase(v); got != 0x40001000 {
		t.Errorf("TTBRBase = %#x, want 0x40001000", got)
	}
	if got := TTBRASID(v); got != 7 {
		t.Errorf("TTBRASID = %d, want 7", got)
	}

	// Per-CPU L0 tables are packed below a page.
	for _, base := range []uint64{0x40001010, 0x40001020, 0x40001ff0} {
		if got := TTBRBase(TTBR(base, 0)); got != base {
			t.Errorf("TTBRBase(TTBR(%#x, 0)) = %#x, want %#x", base, got, base)
		}
	}
	if got := TTBRBase(TTBR(0x40001001, 0)); got != 0x40001000 {
		t.Errorf("TTBR kept the CnP bit: base %#x", got)
	}
}

func TestMAIR(t *testing.T) {
	// Slot 0 must be write-back so that a zero AttrIndx means normal memory.
	if got := MAIR() & 0xff; got != 0xff {
		t.Errorf("MAIR slot 0 = %#x, want 0xff", got)
	}
	if got := (MAIR() >> (8 * uint(MemoryTypeStronglyOrdered))) & 0xff; got != 0 {
		t.Errorf("MAIR strongly ordered slot = %#x, want 0", got)
	}
}

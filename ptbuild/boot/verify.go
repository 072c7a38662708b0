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

package boot

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"ptbuild.dev/ptbuild/pkg/aarch64"
	"ptbuild.dev/ptbuild/pkg/log"
)

// verifyRange is a virtual range expected to translate to consecutive
// physical addresses.
type verifyRange struct {
	name     string
	virtual  uint64
	physical uint64
	size     uint64
}

// Verify checks that every page of every mapping, segment and device
// translates back to the physical address it was mapped to. Ranges are
// checked in parallel. A segment remapped by a later one fails.
func (h *Handoff) Verify(ctx context.Context) error {
	if h.as == nil {
		return errClosed
	}
	var ranges []verifyRange
	for _, m := range h.Mappings {
		ranges = append(ranges, verifyRange{
			name:     fmt.Sprintf("mapping %#x", m.Virtual),
			virtual:  m.Virtual,
			physical: m.Physical,
			size:     m.Length,
		})
	}
	for _, s := range h.Segments {
		ranges = append(ranges, verifyRange{name: "segment " + s.Name, virtual: s.Virtual, physical: s.Physical, size: s.Size})
	}
	for _, d := range h.Devices {
		ranges = append(ranges, verifyRange{name: "device " + d.Name, virtual: d.Virtual, physical: d.Physical, size: d.Size})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, r := range ranges {
		r := r
		g.Go(func() error {
			return h.checkRange(ctx, r)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("Verified %d ranges", len(ranges))
	return nil
}

func (h *Handoff) checkRange(ctx context.Context, r verifyRange) error {
	ps := h.PageSize
	end, ok := aarch64.Addr(r.virtual).AddLength(r.size)
	if !ok {
		return fmt.Errorf("%s: range [%#x, +%#x) overflows", r.name, r.virtual, r.size)
	}
	for va := r.virtual; va < uint64(end); va = uint64(aarch64.Addr(va).RoundDown(ps)) + ps {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := r.physical + (va - r.virtual)
		got, err := h.Lookup(va)
		if err != nil {
			return fmt.Errorf("%s: lookup of %#x: %w", r.name, va, err)
		}
		if got != want {
			return fmt.Errorf("%s: %#x translates to %#x, want %#x", r.name, va, got, want)
		}
	}
	return nil
}

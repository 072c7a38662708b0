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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/subcommands"
	"ptbuild.dev/ptbuild/ptbuild/boot"
)

// Map implements subcommands.Command for the "map" command.
type Map struct {
	// mappings prints every mapped run in addition to the segments.
	mappings bool
}

// Name implements subcommands.Command.Name.
func (*Map) Name() string {
	return "map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Map) Synopsis() string {
	return "build the startup address space and print it"
}

// Usage implements subcommands.Command.Usage.
func (*Map) Usage() string {
	return `map [flags]

Builds the translation tables for the board given by --board and prints the
register values, the mapped segments and devices and, with -mappings, every
mapped run.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Map) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.mappings, "mappings", true, "print every mapped run.")
}

// Execute implements subcommands.Command.Execute.
func (m *Map) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	h, err := build(args)
	if err != nil {
		return Errorf("map failed: %v", err)
	}
	defer h.Close()

	if err := printHandoff(Writer, h, m.mappings); err != nil {
		return Errorf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func printHandoff(out io.Writer, h *boot.Handoff, mappings bool) error {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "board\t%s\n", h.Board)
	fmt.Fprintf(w, "page size\t%#x\n", h.PageSize)
	fmt.Fprintf(w, "ttbr0\t%#016x\n", h.TTBR0)
	for cpu, ttbr := range h.TTBR1 {
		fmt.Fprintf(w, "ttbr1[%d]\t%#016x\n", cpu, ttbr)
	}
	fmt.Fprintf(w, "l0 tables\t%#x\n", h.L0Virtual)
	fmt.Fprintf(w, "tables\t%d\n", h.Tables)
	fmt.Fprintf(w, "memory\t%#x free of %#x\n", h.Memory.Free, h.Memory.Total)
	if h.Overlaps > 0 {
		fmt.Fprintf(w, "overlaps\t%d\n", h.Overlaps)
	}

	fmt.Fprintf(w, "\nNAME\tREQUESTED\tVIRTUAL\tPHYSICAL\tSIZE\tPROT\n")
	for _, s := range h.Segments {
		fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%#x\t%v\n", s.Name, s.Requested, s.Virtual, s.Physical, s.Size, s.Prot)
	}
	for _, d := range h.Devices {
		fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%#x\t%v\n", d.Name, d.Requested, d.Virtual, d.Physical, d.Size, d.Prot)
	}

	if mappings && len(h.Mappings) > 0 {
		fmt.Fprintf(w, "\nVIRTUAL\tEND\tPHYSICAL\tPROT\tCONTIG\tATTRS\n")
		for _, m := range h.Mappings {
			fmt.Fprintf(w, "%#x\t%#x\t%#x\t%v\t%t\t%v\n", m.Virtual, m.End(), m.Physical, m.Prot, m.Contiguous, m.Attributes)
		}
	}
	return w.Flush()
}

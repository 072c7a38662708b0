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
	"strconv"

	"github.com/google/subcommands"
	"ptbuild.dev/ptbuild/pkg/log"
)

// Lookup implements subcommands.Command for the "lookup" command.
type Lookup struct{}

// Name implements subcommands.Command.Name.
func (*Lookup) Name() string {
	return "lookup"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Lookup) Synopsis() string {
	return "translate virtual addresses through the startup address space"
}

// Usage implements subcommands.Command.Usage.
func (*Lookup) Usage() string {
	return `lookup <virtual address>...

Builds the translation tables for the board given by --board and prints the
physical address each virtual address translates to.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Lookup) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Lookup) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	vas := make([]uint64, 0, f.NArg())
	for _, arg := range f.Args() {
		va, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return Errorf("invalid address %q: %v", arg, err)
		}
		vas = append(vas, va)
	}

	h, err := build(args)
	if err != nil {
		return Errorf("lookup failed: %v", err)
	}
	defer h.Close()

	status := subcommands.ExitSuccess
	for _, va := range vas {
		pa, err := h.Lookup(va)
		if err != nil {
			log.Infof("Lookup of %#x failed: %v", va, err)
			fmt.Fprintf(Writer, "%#016x  %v\n", va, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Fprintf(Writer, "%#016x  %#x\n", va, pa)
	}
	return status
}

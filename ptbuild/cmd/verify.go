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

	"github.com/google/subcommands"
)

// Verify implements subcommands.Command for the "verify" command.
type Verify struct{}

// Name implements subcommands.Command.Name.
func (*Verify) Name() string {
	return "verify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Verify) Synopsis() string {
	return "check that every mapped page translates back to its physical address"
}

// Usage implements subcommands.Command.Usage.
func (*Verify) Usage() string {
	return `verify

Builds the translation tables for the board given by --board and looks up
every mapped page. Fails if a page is missing or translates elsewhere, e.g.
because a later segment was mapped over it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Verify) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Verify) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	h, err := build(args)
	if err != nil {
		return Errorf("verify failed: %v", err)
	}
	defer h.Close()

	if err := h.Verify(ctx); err != nil {
		return Errorf("verify failed: %v", err)
	}
	fmt.Fprintf(Writer, "OK: %d segments, %d devices, %d runs\n", len(h.Segments), len(h.Devices), len(h.Mappings))
	return subcommands.ExitSuccess
}

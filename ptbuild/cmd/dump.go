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
	"encoding/json"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	output string
	indent bool
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "write the handoff as JSON"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags]

Builds the translation tables for the board given by --board and writes the
register values, segments, devices and mapped runs as JSON.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.output, "o", "", "file to write to, instead of stdout.")
	f.BoolVar(&d.indent, "indent", true, "indent the output.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	h, err := build(args)
	if err != nil {
		return Errorf("dump failed: %v", err)
	}
	defer h.Close()

	out := Writer
	if d.output != "" {
		file, err := os.Create(d.output)
		if err != nil {
			return Errorf("creating %q: %v", d.output, err)
		}
		defer file.Close()
		out = file
	}
	if err := d.write(out, h); err != nil {
		return Errorf("writing handoff: %v", err)
	}
	return subcommands.ExitSuccess
}

func (d *Dump) write(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	if d.indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

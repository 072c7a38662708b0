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

package config

import (
	"fmt"
	"strconv"
	"strings"

	"ptbuild.dev/ptbuild/pkg/aarch64"
	"ptbuild.dev/ptbuild/pkg/log"
)

// StartupOptions are the CPU options of the startup program command line.
// Zero values mean the option was not given.
type StartupOptions struct {
	// XferSlots is set by "-X xferslots=<hex>".
	XferSlots XferSlots

	// PageSize is set by "-X pagesize=<hex>".
	PageSize PageSize

	// Meltdown is set by "-E meltdown" and "-E ~meltdown".
	Meltdown Mitigation
}

// ParseStartupOptions parses the -X and -E options out of a startup program
// command line. Other options are skipped. Values of -X suboptions are hex,
// with or without a 0x prefix.
func ParseStartupOptions(args []string) (StartupOptions, error) {
	var opts StartupOptions
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) < 2 || arg[0] != '-' {
			continue
		}
		opt := arg[1]
		if opt != 'X' && opt != 'E' {
			log.Debugf("Ignoring startup option %q", arg)
			continue
		}
		value := arg[2:]
		if value == "" {
			if i+1 == len(args) {
				return opts, fmt.Errorf("option -%c requires an argument", opt)
			}
			i++
			value = args[i]
		}
		var err error
		if opt == 'X' {
			err = opts.parseX(value)
		} else {
			opts.parseE(value)
		}
		if err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func (o *StartupOptions) parseX(value string) error {
	for _, sub := range strings.Split(value, ",") {
		key, val, _ := strings.Cut(sub, "=")
		switch key {
		case "xferslots":
			n, err := parseHex(val)
			if err != nil {
				return fmt.Errorf("invalid xferslots %q: %w", val, err)
			}
			slots, err := roundXferSlots(n)
			if err != nil {
				return err
			}
			o.XferSlots = slots
		case "pagesize":
			n, err := parseHex(val)
			if err != nil {
				return fmt.Errorf("invalid pagesize %q: %w", val, err)
			}
			if !aarch64.ValidPageSize(n) {
				return fmt.Errorf("unsupported pagesize=%#x", n)
			}
			o.PageSize = PageSize(n)
		default:
			log.Debugf("Ignoring -X suboption %q", sub)
		}
	}
	return nil
}

func (o *StartupOptions) parseE(value string) {
	for _, sub := range strings.Split(value, ",") {
		switch sub {
		case "meltdown":
			o.Meltdown = MitigationOn
		case "~meltdown":
			o.Meltdown = MitigationOff
		default:
			// spectrev2 and ssbs only affect code run after startup.
			log.Debugf("Ignoring -E suboption %q", sub)
		}
	}
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}

// Apply overrides the settings in c that the options give.
func (o StartupOptions) Apply(c *Config) {
	if o.XferSlots != 0 {
		c.XferSlots = o.XferSlots
	}
	if o.PageSize != 0 {
		c.PageSize = o.PageSize
	}
	if o.Meltdown != MitigationUnset {
		c.Meltdown = o.Meltdown
	}
}

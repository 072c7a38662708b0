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

// Package config provides basic infrastructure to set configuration settings
// for ptbuild. Each setting that can be changed from the command line must
// have a flag tag naming the flag registered by RegisterFlags.
package config

import (
	"fmt"
	"math/bits"
	"reflect"
	"strconv"
	"strings"

	"ptbuild.dev/ptbuild/pkg/aarch64"
	"ptbuild.dev/ptbuild/pkg/log"
	"ptbuild.dev/ptbuild/pkg/pagetables"
)

// Config holds configuration that is not part of the board description.
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr in addition to
	// the log file.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Board is the path of the board description.
	Board string `flag:"board"`

	// PageSize is the translation granule.
	PageSize PageSize `flag:"page-size"`

	// XferSlots is the number of entries in each per-CPU L0 table.
	XferSlots XferSlots `flag:"xfer-slots"`

	// NumCPU is the number of processors.
	NumCPU int `flag:"num-cpu"`

	// Meltdown controls the meltdown mitigation.
	Meltdown Mitigation `flag:"meltdown"`

	// Virtual is false for builds that run with the MMU off.
	Virtual bool `flag:"virtual"`

	// DetectOverlap reports mappings that overwrite earlier ones.
	DetectOverlap bool `flag:"detect-overlap"`

	// StartupOptions are startup program options, e.g.
	// "-X xferslots=4,pagesize=10000 -E meltdown". They are applied after
	// the other flags.
	StartupOptions string `flag:"startup-options"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	if !aarch64.ValidPageSize(uint64(c.PageSize)) {
		return fmt.Errorf("unsupported page size %#x", uint64(c.PageSize))
	}
	if c.XferSlots < 2 {
		return fmt.Errorf("number of xfer slots must be at least 2, got %d", c.XferSlots)
	}
	if c.NumCPU < 1 {
		return fmt.Errorf("number of CPUs must be at least 1, got %d", c.NumCPU)
	}
	return nil
}

// AddressSpaceOptions returns the options for building the address space.
func (c *Config) AddressSpaceOptions() (pagetables.Options, error) {
	g, err := pagetables.GranuleForPageSize(uint64(c.PageSize))
	if err != nil {
		return pagetables.Options{}, err
	}
	return pagetables.Options{
		Granule:       g,
		Virtual:       c.Virtual,
		NumCPU:        c.NumCPU,
		XferSlots:     int(c.XferSlots),
		Meltdown:      c.Meltdown.Active(),
		DetectOverlap: c.DetectOverlap,
	}, nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
	}
}

// PageSize is the translation granule in bytes.
type PageSize uint64

func pageSizePtr(v PageSize) *PageSize {
	return &v
}

// Set implements flag.Value. Accepts decimal, 0x-prefixed hex, "4K" and
// "64K".
func (p *PageSize) Set(v string) error {
	var size uint64
	switch strings.ToUpper(v) {
	case "4K":
		size = aarch64.PageSize4K
	case "64K":
		size = aarch64.PageSize64K
	default:
		var err error
		size, err = strconv.ParseUint(v, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid page size %q: %w", v, err)
		}
	}
	if !aarch64.ValidPageSize(size) {
		return fmt.Errorf("unsupported page size %#x, must be 0x1000 or 0x10000", size)
	}
	*p = PageSize(size)
	return nil
}

// Get implements flag.Getter.
func (p *PageSize) Get() any {
	return *p
}

// String implements flag.Value.
func (p PageSize) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// XferSlots is the number of per-CPU L0 entries, a power of two.
type XferSlots int

func xferSlotsPtr(v XferSlots) *XferSlots {
	return &v
}

// Set implements flag.Value. Values that are not a power of two are rounded
// down to one.
func (x *XferSlots) Set(v string) error {
	n, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid number of xfer slots %q: %w", v, err)
	}
	slots, err := roundXferSlots(n)
	if err != nil {
		return err
	}
	*x = slots
	return nil
}

func roundXferSlots(n uint64) (XferSlots, error) {
	if n < 2 {
		return 0, fmt.Errorf("number of xfer slots needs to be at least 2, got %d", n)
	}
	return XferSlots(1 << (bits.Len64(n) - 1)), nil
}

// Get implements flag.Getter.
func (x *XferSlots) Get() any {
	return *x
}

// String implements flag.Value.
func (x XferSlots) String() string {
	return strconv.Itoa(int(x))
}

// Mitigation is the state of a CPU vulnerability mitigation.
type Mitigation int

const (
	// MitigationUnset leaves the mitigation to the CPU default, which is off.
	MitigationUnset Mitigation = iota

	// MitigationOn enables the mitigation.
	MitigationOn

	// MitigationOff disables the mitigation.
	MitigationOff
)

func mitigationPtr(v Mitigation) *Mitigation {
	return &v
}

// Set implements flag.Value.
func (m *Mitigation) Set(v string) error {
	switch v {
	case "unset", "":
		*m = MitigationUnset
	case "on", "true":
		*m = MitigationOn
	case "off", "false":
		*m = MitigationOff
	default:
		return fmt.Errorf("invalid mitigation %q, must be unset, on, or off", v)
	}
	return nil
}

// Get implements flag.Getter.
func (m *Mitigation) Get() any {
	return *m
}

// String implements flag.Value.
func (m Mitigation) String() string {
	switch m {
	case MitigationUnset:
		return "unset"
	case MitigationOn:
		return "on"
	case MitigationOff:
		return "off"
	}
	panic(fmt.Sprintf("Invalid mitigation %d", int(m)))
}

// Active returns true if the mitigation is on.
func (m Mitigation) Active() bool {
	return m == MitigationOn
}

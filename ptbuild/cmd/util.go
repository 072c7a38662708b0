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

// Package cmd holds implementations of the ptbuild commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"ptbuild.dev/ptbuild/pkg/log"
	"ptbuild.dev/ptbuild/ptbuild/board"
	"ptbuild.dev/ptbuild/ptbuild/boot"
	"ptbuild.dev/ptbuild/ptbuild/config"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by tooling that runs ptbuild, so they are JSON formatted.
var ErrorLogger io.Writer

// Writer writes command output. Tests replace it.
var Writer io.Writer = os.Stdout

// Errorf logs error to the log file (--log), to stderr, and to ErrorLogger.
// It returns subcommands.ExitFailure for convenience with
// subcommand.Execute() methods:
//
//	return Errorf("mapping failed: %v", err)
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)

	writeError(format, args...)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

func writeError(format string, args ...any) {
	if ErrorLogger == nil {
		return
	}
	j := struct {
		Msg   string    `json:"msg"`
		Level string    `json:"level"`
		Time  time.Time `json:"time"`
	}{
		Msg:   fmt.Sprintf(format, args...),
		Level: "error",
		Time:  time.Now(),
	}
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	_, _ = ErrorLogger.Write(b)
	_, _ = ErrorLogger.Write([]byte("\n"))
}

// build runs the boot sequence for the configuration and board passed to
// Execute.
func build(args []any) (*boot.Handoff, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("missing configuration or board")
	}
	conf, ok := args[0].(*config.Config)
	if !ok {
		return nil, fmt.Errorf("unexpected configuration %T", args[0])
	}
	b, ok := args[1].(*board.Board)
	if !ok || b == nil {
		return nil, fmt.Errorf("no board description, use --board")
	}
	return boot.Run(conf, b)
}

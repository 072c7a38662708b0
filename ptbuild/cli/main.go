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

// Package cli is the main entrypoint for ptbuild.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/subcommands"
	"ptbuild.dev/ptbuild/pkg/log"
	"ptbuild.dev/ptbuild/ptbuild/board"
	"ptbuild.dev/ptbuild/ptbuild/cmd"
	"ptbuild.dev/ptbuild/ptbuild/config"
)

// version is set with -ldflags "-X ptbuild.dev/ptbuild/ptbuild/cli.version=...".
var version = "dev"

// versionFlagName is the name of a flag that triggers printing the version.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)
	showVersion := flag.Bool(versionFlagName, false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stdout, "ptbuild version %s\n", version)
		os.Exit(0)
	}

	// Board settings apply to flags not given on the command line, so they
	// are set before the Config is created.
	b, err := loadBoard(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)
	var (
		logFile   io.Writer = os.Stderr
		logToFile bool
	)
	if conf.LogFilename != "" {
		opts := logFileOpts{board: conf.Board, command: subcommand, start: time.Now()}
		f, err := log.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, opts)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		logFile, logToFile = f, true
		cmd.ErrorLogger = f
	}

	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	emitters := log.MultiEmitter{newEmitter(conf.LogFormat, logFile)}
	if conf.AlsoLogToStderr && logToFile {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}
	if len(emitters) == 1 {
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	} else {
		log.SetTarget(&emitters)
	}

	const delimString = `**************** ptbuild ****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, %d CPUs, %s, PID %d", version, runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration and the board.
	subcmdCode := subcommands.Execute(context.Background(), conf, b)
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// ptbuild.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Map), "")
	cb(new(cmd.Lookup), "")
	cb(new(cmd.Verify), "")
	cb(new(cmd.Dump), "")
}

// loadBoard loads the board named by --board, if any, and sets flags from
// its config table. Flags set on the command line take precedence.
func loadBoard(flagSet *flag.FlagSet) (*board.Board, error) {
	path := flagSet.Lookup("board").Value.String()
	if path == "" {
		return nil, nil
	}
	b, err := board.Load(path)
	if err != nil {
		return nil, err
	}

	explicit := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})
	for name, value := range b.Config {
		if flagSet.Lookup(name) == nil {
			return nil, fmt.Errorf("board %q sets unknown flag %q", path, name)
		}
		if explicit[name] {
			continue
		}
		if err := flagSet.Set(name, value); err != nil {
			return nil, fmt.Errorf("board %q: %w", path, err)
		}
	}
	return b, nil
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case "json-k8s":
		return log.K8sJSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
	panic("unreachable")
}

// logFileOpts expands %BOARD%, %COMMAND% and %TIMESTAMP% in the --log path.
type logFileOpts struct {
	board   string
	command string
	start   time.Time
}

// Build implements log.FileOpts.
func (o logFileOpts) Build(logPattern string) string {
	name := strings.TrimSuffix(filepath.Base(o.board), filepath.Ext(o.board))
	r := strings.NewReplacer(
		"%BOARD%", name,
		"%COMMAND%", o.command,
		"%TIMESTAMP%", o.start.Format("20060102-150405.000000"),
	)
	return r.Replace(logPattern)
}

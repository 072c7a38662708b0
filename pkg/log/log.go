// Copyright 2018 The gVisor Authors.
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

// Package log is the leveled logger used throughout ptbuild.
//
// Messages go to a single global logger whose Emitter decides the output
// format (glog text, JSON or Kubernetes JSON). Formatting is done by the
// Emitter, so callers on hot paths should check the level first:
//
//	if log.IsLogging(log.Debug) {
//		log.Debugf("mapped %#x", va)
//	}
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the log level. Higher levels are more verbose.
type Level uint32

// Levels, from least to most verbose. The numeric values are part of the
// JSON encoding and must not change.
const (
	// Warning is always emitted.
	Warning Level = iota

	// Info is emitted by default.
	Info

	// Debug is emitted with --debug.
	Debug
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "Warning"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return fmt.Sprintf("Invalid level: %d", l)
	}
}

// Emitter is the final destination for logs.
type Emitter interface {
	// Emit emits one statement. depth is the number of frames between the
	// caller of the logging function and Emit.
	Emit(depth int, level Level, timestamp time.Time, format string, v ...any)
}

// Writer is an Emitter writing formatted lines to Next. Each line ends in a
// newline. Lines that fail to write are counted and reported by the next
// successful write.
type Writer struct {
	// Next is where output is written.
	Next io.Writer

	// mu serializes the dropped message report.
	mu sync.Mutex

	// dropped is read outside mu.
	dropped atomic.Int32
}

// Write writes data to Next, retrying on timeouts from non-blocking files.
func (l *Writer) Write(data []byte) (int, error) {
	n := 0
	for n < len(data) {
		w, err := l.Next.Write(data[n:])
		n += w
		if pathErr, ok := err.(*os.PathError); ok && pathErr.Timeout() {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			l.dropped.Add(1)
			return n, err
		}
	}

	if len(data) == 0 || data[len(data)-1] != '\n' {
		l.Write([]byte{'\n'})
	}

	if l.dropped.Load() > 0 {
		l.reportDropped()
	}
	return n, nil
}

func (l *Writer) reportDropped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d := l.dropped.Load(); d > 0 {
		msg := fmt.Sprintf("\n*** Dropped %d log messages ***\n", d)
		if _, err := l.Next.Write([]byte(msg)); err == nil {
			l.dropped.Store(0)
		}
	}
}

// Emit emits the message without a header.
func (l *Writer) Emit(_ int, _ Level, _ time.Time, format string, args ...any) {
	fmt.Fprintf(l, format, args...)
}

// MultiEmitter emits to every Emitter in order.
type MultiEmitter []Emitter

// Emit implements Emitter.Emit.
func (m *MultiEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	for _, e := range *m {
		e.Emit(1+depth, level, timestamp, format, v...)
	}
}

// Logger is the interface of contextual loggers, e.g. the ones returned by
// RateLimitedLogger and WithPrefix. BasicLogger implements it.
type Logger interface {
	// Debugf logs a debug statement.
	Debugf(format string, v ...any)

	// Infof logs at an info level.
	Infof(format string, v ...any)

	// Warningf logs at a warning level.
	Warningf(format string, v ...any)

	// IsLogging returns true iff this level is being logged.
	IsLogging(level Level) bool
}

// BasicLogger logs statements at or below Level to Emitter.
type BasicLogger struct {
	Level
	Emitter
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	l.logAtDepth(1, Debug, format, v...)
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	l.logAtDepth(1, Info, format, v...)
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	l.logAtDepth(1, Warning, format, v...)
}

func (l *BasicLogger) logAtDepth(depth int, level Level, format string, v ...any) {
	if l.IsLogging(level) {
		l.Emit(1+depth, level, time.Now(), format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return atomic.LoadUint32((*uint32)(&l.Level)) >= uint32(level)
}

// SetLevel sets the logging level.
func (l *BasicLogger) SetLevel(level Level) {
	atomic.StoreUint32((*uint32)(&l.Level), uint32(level))
}

// prefixLogger prepends a fixed string to every message.
type prefixLogger struct {
	prefix string
	logger Logger
}

// WithPrefix returns a Logger that prepends prefix to messages logged to
// logger.
func WithPrefix(prefix string, logger Logger) Logger {
	return &prefixLogger{prefix: prefix, logger: logger}
}

func (p *prefixLogger) Debugf(format string, v ...any) {
	p.logger.Debugf(p.prefix+format, v...)
}

func (p *prefixLogger) Infof(format string, v ...any) {
	p.logger.Infof(p.prefix+format, v...)
}

func (p *prefixLogger) Warningf(format string, v ...any) {
	p.logger.Warningf(p.prefix+format, v...)
}

func (p *prefixLogger) IsLogging(level Level) bool {
	return p.logger.IsLogging(level)
}

// logMu serializes SetTarget.
var logMu sync.Mutex

// log is the global logger.
var log atomic.Pointer[BasicLogger]

// Log returns the global logger.
func Log() *BasicLogger {
	return log.Load()
}

// SetTarget replaces the global logger's Emitter, keeping its level.
// Loggers obtained from Log before the call keep the old Emitter.
func SetTarget(target Emitter) {
	logMu.Lock()
	defer logMu.Unlock()
	log.Store(&BasicLogger{Level: Log().Level, Emitter: target})
}

// SetLevel sets the global log level.
func SetLevel(newLevel Level) {
	Log().SetLevel(newLevel)
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().logAtDepth(1, Debug, format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().logAtDepth(1, Info, format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().logAtDepth(1, Warning, format, v...)
}

// IsLogging returns whether the global logger is logging.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}

func init() {
	log.Store(&BasicLogger{Level: Info, Emitter: GoogleEmitter{&Writer{Next: os.Stderr}}})
}

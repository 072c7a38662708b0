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

package log

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter wraps an Emitter, adding the header of
// github.com/golang/glog to each line:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// L is the level letter (D, I or W) and pid is padded to 7 columns.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// pid is the padded pid column.
var pid = strings.Repeat(" ", max(0, 7-len(strconv.Itoa(os.Getpid())))) + strconv.Itoa(os.Getpid())

var levelLetters = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var local [256]byte
	b := local[:0]
	if int(level) < len(levelLetters) {
		b = append(b, levelLetters[level])
	}
	b = timestamp.AppendFormat(b, "0102 15:04:05.000000")
	b = append(b, ' ')
	b = append(b, pid...)
	b = append(b, ' ')
	file, line := caller(depth + 1)
	b = append(b, file...)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(line), 10)
	b = append(b, "] "...)
	b = append(b, format...)
	b = append(b, '\n')

	g.Emitter.Emit(depth+1, level, timestamp, string(b), args...)
}

// caller returns the base file name and line of the frame depth levels above
// its own caller, or "???" and 0.
func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???", 0
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return file, line
}

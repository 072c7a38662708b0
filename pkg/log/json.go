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
	"encoding/json"
	"fmt"
	"time"
)

// MarshalJSON implements json.Marshaler.
func (l Level) MarshalJSON() ([]byte, error) {
	switch l {
	case Warning:
		return []byte(`"warning"`), nil
	case Info:
		return []byte(`"info"`), nil
	case Debug:
		return []byte(`"debug"`), nil
	default:
		return nil, fmt.Errorf("unknown level %v", l)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Both names and integers are
// accepted.
func (l *Level) UnmarshalJSON(b []byte) error {
	switch s := string(b); s {
	case "0", `"warning"`:
		*l = Warning
	case "1", `"info"`:
		*l = Info
	case "2", `"debug"`:
		*l = Debug
	default:
		return fmt.Errorf("unknown level %q", s)
	}
	return nil
}

// JSONEmitter writes one JSON object per line, with the message under
// "msg".
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	e.Writer.Write(marshalLine(struct {
		Msg   string    `json:"msg"`
		Level Level     `json:"level"`
		Time  time.Time `json:"time"`
	}{message(depth+1, format, v...), level, timestamp}))
}

// K8sJSONEmitter writes JSON lines understood by the Kubernetes fluentd
// configuration, with the message under "log".
type K8sJSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e K8sJSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	e.Writer.Write(marshalLine(struct {
		Log   string    `json:"log"`
		Level Level     `json:"level"`
		Time  time.Time `json:"time"`
	}{message(depth+1, format, v...), level, timestamp}))
}

// message formats the statement, prefixed with the location of the logging
// call depth frames above message's caller.
func message(depth int, format string, v ...any) string {
	file, line := caller(depth + 1)
	return fmt.Sprintf("%s:%d] %s", file, line, fmt.Sprintf(format, v...))
}

func marshalLine(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

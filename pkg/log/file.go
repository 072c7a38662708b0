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
	"fmt"
	"os"
	"path/filepath"
)

// FileOpts expands a log file pattern into a path.
type FileOpts interface {
	// Build returns the path for logPattern.
	Build(logPattern string) string
}

// OpenFile opens the log file named by expanding logPattern with opts,
// creating its directory if needed. It returns nil for an empty pattern.
func OpenFile(logPattern string, flags int, opts FileOpts) (*os.File, error) {
	if logPattern == "" {
		return nil, nil
	}
	logPath := opts.Build(logPattern)
	if dir := filepath.Dir(logPath); dir != "" {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, fmt.Errorf("error creating dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(logPath, flags, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %w", logPath, err)
	}
	return f, nil
}

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

package pagetables

import (
	"errors"
	"fmt"
)

// Error kinds. An *Error matches its kind with errors.Is.
var (
	// ErrOutOfMemory is returned when the physical memory source is
	// exhausted. It is unrecoverable: the address space is left partially
	// built.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrBadAlignment is returned when an explicit virtual address does not
	// share the page offset of the physical address being mapped.
	ErrBadAlignment = errors.New("bad alignment")

	// ErrBadAddress is returned for virtual addresses outside both the
	// identity and the system range, or inside the recursive window.
	ErrBadAddress = errors.New("bad address")

	// ErrOverflow is returned when a range wraps the address space.
	ErrOverflow = errors.New("address overflow")

	// ErrNotFound is returned by Lookup for unmapped addresses. It is the
	// only kind callers are expected to handle.
	ErrNotFound = errors.New("not mapped")

	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrNotInitialized is returned by operations that need Init first.
	ErrNotInitialized = errors.New("not initialized")
)

// Error is an address space error carrying a kind and a diagnostic.
type Error struct {
	kind    error
	message string
	cause   error
}

func newError(kind error, format string, v ...any) *Error {
	return &Error{
		kind:    kind,
		message: fmt.Sprintf(format, v...),
	}
}

func wrapError(kind, cause error, format string, v ...any) *Error {
	e := newError(kind, format, v...)
	e.cause = cause
	return e
}

// Error implements error.Error.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.message, e.kind, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.message, e.kind)
}

// Kind returns the error kind, one of the Err variables.
func (e *Error) Kind() error { return e.kind }

// Unwrap returns the kind and, if any, the underlying cause.
func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

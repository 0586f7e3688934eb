// Copyright (c) 2014, Kevin Walsh.  All rights reserved.
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

// Package bug carries the engine's "internal-bug" error channel (see
// spec §7): schema/type and structural violations that indicate a
// malformed compiler invariant rather than bad user input. These are
// always bugs in the solver itself, so they panic with a located,
// wrapped error instead of being threaded through ordinary returns; the
// solver facade recovers them at the solve() boundary and converts them
// to a normal Go error.
package bug

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error wraps an internal invariant violation with the phase/location
// that detected it.
type Error struct {
	Where string
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("internal bug [%s]: %s", e.Where, e.cause.Error())
}

func (e *Error) Unwrap() error { return e.cause }

// Raise panics with a located internal-bug error. Call sites are
// invariant violations: a cycle where the topological sort expects a
// DAG, a mixed-kind unified position, a missing index, an empty Tarjan
// stack, and so on -- see spec §7.
func Raise(where string, format string, args ...any) {
	panic(&Error{Where: where, cause: errors.Errorf(format, args...)})
}

// Recover converts a panicking *Error into a plain error, for use in a
// deferred recover() at a phase or solve() boundary. Panics that are not
// *Error are re-panicked: only the internal-bug channel is caught here.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if be, ok := r.(*Error); ok {
		*errp = be
		return
	}
	panic(r)
}

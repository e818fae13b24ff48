// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.
package compiler

import "fmt"

// CompileErrorKind classifies which phase of the pipeline rejected the
// input, so a caller can decide whether the fault is in the SVM binary
// or in this compiler.
type CompileErrorKind int

const (
	KindParse CompileErrorKind = iota
	KindFrontend
	KindBackend
	KindEncoder
	KindInternal
)

func (k CompileErrorKind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindFrontend:
		return "frontend"
	case KindBackend:
		return "backend"
	case KindEncoder:
		return "encoder"
	default:
		return "internal"
	}
}

// CompileError wraps a phase-specific failure with the phase it came
// from and, where known, the function that triggered it. KindInternal
// covers both a recovered panic (an internal invariant check failing)
// and an OptimizerError: both mean the input was well-formed but this
// compiler broke its own invariant, which a caller can never work
// around by changing the SVM binary.
type CompileError struct {
	Kind CompileErrorKind
	Func string
	Err  error
}

func (e *CompileError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("compile: %s: func %q: %s", e.Kind, e.Func, e.Err)
	}
	return fmt.Sprintf("compile: %s: %s", e.Kind, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

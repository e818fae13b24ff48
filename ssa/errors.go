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
package ssa

import "fmt"

// FrontendError reports a structural defect discovered while
// translating a function body to SSA: an unbalanced operand stack, an
// out-of-range index, an unsupported opcode, or a branch to an
// undeclared control-frame depth. Operand types are not checked against
// what an operator expects, so a type mismatch is not reported.
type FrontendError struct {
	Func   string
	Offset int
	Reason string
}

func (e *FrontendError) Error() string {
	return fmt.Sprintf("frontend: func %q at offset %d: %s", e.Func, e.Offset, e.Reason)
}

// OptimizerError reports an invariant violated by the optimizer itself
// (dominance broken, phi arity mismatched after a rewrite) rather than
// by the input program; it should never surface for a well-formed SSA
// function and indicates an internal bug.
type OptimizerError struct {
	Func   string
	Reason string
}

func (e *OptimizerError) Error() string {
	return fmt.Sprintf("optimizer: func %q: internal error: %s", e.Func, e.Reason)
}

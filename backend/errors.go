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

// Package backend lowers optimized SSA into the TVM instruction stream:
// stack-slot-per-value selection, a fixed calling convention, and a
// peephole pass. Branch and call targets are left symbolic; the
// compiler package resolves them and builds the basic-block mask the
// container needs for the runtime's control-flow integrity check.
package backend

import "fmt"

// BackendError reports a failure specific to code generation: a call
// or signature that does not fit the fixed calling convention, or a
// branch/call displacement that overflows its encoded immediate width.
type BackendError struct {
	Func   string
	Reason string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend: func %q: %s", e.Func, e.Reason)
}

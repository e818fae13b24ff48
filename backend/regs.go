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
package backend

import "svmtvm/tvm"

// The calling convention and register reservations. We don't have a
// register allocator, so every SSA value lives in a stack slot and
// only a couple of registers ever hold a live value at once: this
// mirrors the "just pick scratch registers, no rationale needed"
// approach the reference backend takes for its own register-starved
// target. R6, R7 and R9 are left unassigned for a future real allocator.
const (
	RegRet  tvm.Reg = 0 // first return value
	RegArg0 tvm.Reg = 1
	RegArg1 tvm.Reg = 2
	RegArg2 tvm.Reg = 3
	RegArg3 tvm.Reg = 4
	RegRet2 tvm.Reg = 5 // second return value, for the two-result calling convention
	// 6, 7 reserved, unused by this backend
	RegSP       tvm.Reg = 8 // stack pointer, grows down from layout.SpillBase
	RegScratch1 tvm.Reg = 10
	RegScratch2 tvm.Reg = 11
	RegScratch3 tvm.Reg = 12
)

// MaxReturns is the number of integer results a function may return in
// registers; the frontend already rejects signatures beyond what the
// source format allows, so this is a backend-side sanity check only.
const MaxReturns = 2

// MaxRegArgs is the number of integer arguments passed in registers;
// a call needing more is rejected rather than silently spilling extra
// arguments to the stack.
const MaxRegArgs = 4

var argRegs = [MaxRegArgs]tvm.Reg{RegArg0, RegArg1, RegArg2, RegArg3}

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

// Peephole runs a cheap local cleanup pass over a selected function's
// instruction stream, removing instructions the naive selector leaves
// behind, after first rewriting a register-immediate add/or/xor/shl by
// zero whose dest differs from its source into a move. It keeps
// fn.BlockOf in lockstep with fn.Instrs so the driver can still
// recompute each block's starting byte offset afterward, and never
// changes which blocks exist or their relative order.
func Peephole(fn *Function) {
	for i, ins := range fn.Instrs {
		sameReg := ins
		sameReg.Dest = ins.Src1
		if ins.Dest != ins.Src1 && isIdentityImm(sameReg) {
			fn.Instrs[i] = tvm.Instr{Op: tvm.OpMove, Dest: ins.Dest, Src1: ins.Src1}
		}
	}
	fn.Instrs, fn.BlockOf = filterInstrs(fn.Instrs, fn.BlockOf, isIdentityImm)
	fn.Instrs, fn.BlockOf = filterInstrs(fn.Instrs, fn.BlockOf, isNoOpMove)
	fn.Instrs, fn.BlockOf = dropTrailingFallthrough(fn.Instrs, fn.BlockOf)
}

func filterInstrs(instrs []tvm.Instr, blockOf []int, drop func(tvm.Instr) bool) ([]tvm.Instr, []int) {
	outI := instrs[:0]
	outB := blockOf[:0]
	for i, ins := range instrs {
		if drop(ins) {
			continue
		}
		outI = append(outI, ins)
		outB = append(outB, blockOf[i])
	}
	return outI, outB
}

// isIdentityImm reports a register-immediate ALU op that is a no-op
// for its immediate (add/or/xor/shl by zero) with dest == source,
// which the selector's generic operand-staging path occasionally
// produces.
func isIdentityImm(ins tvm.Instr) bool {
	if ins.Dest != ins.Src1 || ins.Imm != 0 {
		return false
	}
	switch ins.Op {
	case tvm.OpAddImm32, tvm.OpOrImm32, tvm.OpXorImm32, tvm.OpShlImm32,
		tvm.OpAddImm64, tvm.OpOrImm64, tvm.OpXorImm64, tvm.OpShlImm64:
		return true
	}
	return false
}

func isNoOpMove(ins tvm.Instr) bool {
	return ins.Op == tvm.OpMove && ins.Dest == ins.Src1
}

// dropTrailingFallthrough removes a trailing OpFallthrough, the only
// shape the selector itself can produce (it never emits one mid-
// stream; every Goto lowers to an explicit Jump). Kept as a pass in
// its own right since a future selector change emitting
// OpFallthrough for blocks whose successor is laid out immediately
// next would want the same cleanup.
func dropTrailingFallthrough(instrs []tvm.Instr, blockOf []int) ([]tvm.Instr, []int) {
	n := len(instrs)
	if n == 0 || instrs[n-1].Op != tvm.OpFallthrough {
		return instrs, blockOf
	}
	return instrs[:n-1], blockOf[:n-1]
}

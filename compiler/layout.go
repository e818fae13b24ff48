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

import (
	"svmtvm/backend"
	"svmtvm/tvm"
)

// layoutResult is the fully resolved code stream: every compiled
// function's instructions concatenated in layout order, with every
// branch's BlockRef and every OpCall's callee-global-index placeholder
// patched into the encoded delta the target expects.
type layoutResult struct {
	Code       []byte
	Starts     []int       // instruction-start byte offsets, for the basic-block mask
	FuncOffset map[int]int // global function index -> entry byte offset
}

// layoutFunctions assembles funcs (in the given order, each tagged
// with its function-index-space slot in globalIdx) into one code
// stream and resolves fixups.
//
// A two-pass algorithm suffices here, with no fixed-point iteration:
// every instruction a fixup can target (OpJump, every OpBranch*
// variant, OpCall) encodes at a fixed width regardless of its
// placeholder value, so pass 1 can size and offset every instruction
// from the as-emitted placeholders, and pass 2 can patch Imm in place
// without perturbing any size computed in pass 1. Resolved deltas are
// measured from the start of the branching/calling instruction itself,
// so a fixup's correctness never depends on its own encoded width.
func layoutFunctions(funcs []*backend.Function, globalIdx []int) (*layoutResult, error) {
	funcOffset := make(map[int]int, len(funcs))
	blockOffset := make([]map[int]int, len(funcs))
	offset := 0
	for fi, fn := range funcs {
		funcOffset[globalIdx[fi]] = offset
		bo := make(map[int]int)
		blockOffset[fi] = bo
		for ii, ins := range fn.Instrs {
			blk := fn.BlockOf[ii]
			if _, seen := bo[blk]; !seen {
				bo[blk] = offset
			}
			offset += tvm.Size(ins)
		}
	}

	code := make([]byte, 0, offset)
	var starts []int
	pos := 0
	for fi, fn := range funcs {
		bo := blockOffset[fi]
		for _, ins := range fn.Instrs {
			starts = append(starts, pos)
			switch {
			case ins.IsBranch():
				target, ok := bo[ins.Target.ID]
				if !ok {
					return nil, &backend.BackendError{Func: fn.Name, Reason: "branch targets a block this function never laid out"}
				}
				delta := int64(target - pos)
				if !fitsImm32(delta) {
					return nil, &backend.BackendError{Func: fn.Name, Reason: "branch displacement exceeds the encoded immediate width"}
				}
				ins.Imm = delta
			case ins.Op == tvm.OpCall:
				calleeOffset, ok := funcOffset[int(ins.Imm)]
				if !ok {
					return nil, &backend.BackendError{Func: fn.Name, Reason: "call targets a function index with no compiled body"}
				}
				delta := int64(calleeOffset - pos)
				if !fitsImm32(delta) {
					return nil, &backend.BackendError{Func: fn.Name, Reason: "call displacement exceeds the encoded immediate width"}
				}
				ins.Imm = delta
			}
			code = tvm.Encode(code, ins)
			pos += tvm.Size(ins)
		}
	}

	return &layoutResult{Code: code, Starts: starts, FuncOffset: funcOffset}, nil
}

func fitsImm32(v int64) bool {
	return v >= -(1<<31) && v <= 1<<31-1
}

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

import (
	"svmtvm/layout"
	"svmtvm/module"
	"svmtvm/ssa"
	"svmtvm/tvm"
)

// Function is one function's selected instruction stream, still
// addressed with block-local tvm.BlockRef targets and an unresolved
// call-target index in OpCall's Imm field; the driver resolves both
// once every function's position in the final code stream is known.
// BlockOf[i] names the SSA block that produced Instrs[i], so a pass
// like Peephole can delete instructions without losing the ability to
// recompute each block's starting byte offset afterward.
type Function struct {
	Name         string
	EntryBlockID int
	Instrs       []tvm.Instr
	BlockOf      []int
	FrameSize    int32
}

type frame struct {
	slot      map[*ssa.Value]int32
	frameSize int32
}

// maxFrameSize bounds a function's spill frame to the gap between the
// spill region's base and the linear memory region that follows it;
// a frame any larger would grow into memory the program itself
// addresses.
const maxFrameSize = int32(layout.MemoryBase - layout.SpillBase)

func assignSlots(fn *ssa.Func) (*frame, error) {
	fr := &frame{slot: make(map[*ssa.Value]int32)}
	var next int32
	for _, blk := range fn.Blocks {
		for _, v := range blk.Values {
			if !needsSlot(v) {
				continue
			}
			fr.slot[v] = next
			next += int32(layout.SpillSlotSize)
			if next > maxFrameSize {
				return nil, &BackendError{Func: fn.Name, Reason: "function's spill frame overflows the spill region"}
			}
		}
	}
	fr.frameSize = next
	return fr, nil
}

func needsSlot(v *ssa.Value) bool {
	switch v.Op {
	case ssa.OpStore, ssa.OpGlobalSet, ssa.OpMemCopy, ssa.OpMemFill:
		return false
	}
	return true
}

func is64(t module.ValType) bool { return t == module.I64 }

func loadSlotOp(t module.ValType) tvm.Op {
	if is64(t) {
		return tvm.OpLoad64
	}
	return tvm.OpLoad32U
}

func storeSlotOp(t module.ValType) tvm.Op {
	if is64(t) {
		return tvm.OpStore64
	}
	return tvm.OpStore32
}

// ImportCall says how a call to an imported function index resolves:
// either directly to a host ecalli, or redirected to the local
// function index an adapter body was compiled into. Neither changes
// anything about the call site itself beyond what the selector emits.
type ImportCall struct {
	Ecalli    bool
	EcalliIdx int64
	Redirect  int
}

// Select lowers one SSA function to a TVM instruction stream. funcIdx
// is the function's global (import+local) index; the selector keeps it
// but no emitted instruction depends on it. Calls this function makes
// carry their callee's index in OpCall's Imm for the driver's later
// cross-function fixup.
// imports resolves calls whose target is an imported function index;
// it may be nil when the module declares no imports.
func Select(fn *ssa.Func, funcIdx int, imports map[int]ImportCall) (*Function, error) {
	fr, err := assignSlots(fn)
	if err != nil {
		return nil, err
	}
	sel := &selector{fn: fn, fr: fr, funcIdx: funcIdx, curBlk: fn.Entry.Id, imports: imports}

	// Prologue: reserve this function's frame, then spill incoming
	// arguments and zero-valued locals are already materialized as
	// OpConst/OpParam values in the entry block and handled uniformly
	// by the per-value emission loop below.
	if fr.frameSize > 0 {
		sel.emit(tvm.Instr{Op: tvm.OpAddImm32, Dest: RegSP, Src1: RegSP, Imm: -int64(fr.frameSize)})
	}

	for _, blk := range fn.Blocks {
		sel.startBlock(blk)
		skip := sel.fusableCtrl(blk)
		for _, v := range blk.Values {
			if v == skip {
				continue
			}
			if err := sel.emitValue(v); err != nil {
				return nil, err
			}
		}
		if err := sel.emitTerminator(blk, skip); err != nil {
			return nil, err
		}
	}

	return &Function{
		Name:         fn.Name,
		EntryBlockID: fn.Entry.Id,
		Instrs:       sel.instrs,
		BlockOf:      sel.blockOf,
		FrameSize:    fr.frameSize,
	}, nil
}

type selector struct {
	fn      *ssa.Func
	fr      *frame
	funcIdx int
	instrs  []tvm.Instr
	blockOf []int
	curBlk  int
	imports map[int]ImportCall
}

func (s *selector) emit(i tvm.Instr) {
	s.instrs = append(s.instrs, i)
	s.blockOf = append(s.blockOf, s.curBlk)
}

// startBlock records which block subsequent emit calls belong to, so
// BlockOf stays in lockstep with Instrs through later passes.
func (s *selector) startBlock(blk *ssa.Block) { s.curBlk = blk.Id }

// fusableCtrl reports the block's branch-condition value if it is a
// pure comparison used only as this block's control (no other uses),
// in which case the terminator computes the branch directly from its
// operands instead of materializing a 0/1 result first.
func (s *selector) fusableCtrl(blk *ssa.Block) *ssa.Value {
	if blk.Kind != ssa.BlockIf || blk.Ctrl == nil {
		return nil
	}
	ctrl := blk.Ctrl
	if !isComparison(ctrl.Op) {
		return nil
	}
	if len(ctrl.Uses) != 0 || len(ctrl.UseBlock) != 1 {
		return nil
	}
	return ctrl
}

func isComparison(op ssa.Op) bool {
	switch op {
	case ssa.OpEq, ssa.OpNe, ssa.OpLtS, ssa.OpLtU, ssa.OpGtS, ssa.OpGtU, ssa.OpLeS, ssa.OpLeU, ssa.OpGeS, ssa.OpGeU:
		return true
	}
	return false
}

// loadOperand materializes v's value into reg: an immediate load for
// constants, otherwise a slot load.
func (s *selector) loadOperand(v *ssa.Value, reg tvm.Reg) {
	if v.Op == ssa.OpConst {
		if is64(v.Type) {
			s.emit(tvm.Instr{Op: tvm.OpLoadImm64, Dest: reg, Imm: v.Imm})
		} else {
			s.emit(tvm.Instr{Op: tvm.OpLoadImm32, Dest: reg, Imm: v.Imm})
		}
		return
	}
	off, ok := s.fr.slot[v]
	if !ok {
		return // value with no slot and no const form; a Param entry default
	}
	s.emit(tvm.Instr{Op: loadSlotOp(v.Type), Dest: reg, Src1: RegSP, Offset: off})
}

func (s *selector) storeResult(v *ssa.Value, reg tvm.Reg) {
	off, ok := s.fr.slot[v]
	if !ok {
		return
	}
	s.emit(tvm.Instr{Op: storeSlotOp(v.Type), Src1: RegSP, Src2: reg, Offset: off})
}

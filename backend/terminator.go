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
	"svmtvm/ssa"
	"svmtvm/tvm"
)

// emitTerminator closes out blk: first the phi copies its successors
// need (predecessor-side, before the branch), then the control
// transfer itself. skipCtrl is the comparison value fusableCtrl found
// for blk, or nil.
func (s *selector) emitTerminator(blk *ssa.Block, skipCtrl *ssa.Value) error {
	for _, succ := range blk.Succs {
		s.emitPhiCopies(blk, succ)
	}

	switch blk.Kind {
	case ssa.BlockReturn:
		return s.emitReturn(blk)
	case ssa.BlockUnreachable:
		s.emit(tvm.Instr{Op: tvm.OpTrap})
		return nil
	case ssa.BlockGoto:
		s.emit(tvm.Instr{Op: tvm.OpJump, Target: tvm.Target(blk.Succs[0].Id)})
		return nil
	case ssa.BlockIf:
		return s.emitIf(blk, skipCtrl)
	}
	return &BackendError{Func: s.fn.Name, Reason: "unhandled block kind"}
}

func (s *selector) emitPhiCopies(pred, succ *ssa.Block) {
	predIndex := -1
	for i, p := range succ.Preds {
		if p == pred {
			predIndex = i
			break
		}
	}
	if predIndex < 0 {
		return
	}
	for _, v := range succ.Values {
		if v.Op != ssa.OpPhi || predIndex >= len(v.Args) {
			continue
		}
		s.loadOperand(v.Args[predIndex], RegScratch1)
		s.storeResult(v, RegScratch1)
	}
}

func (s *selector) emitReturn(blk *ssa.Block) error {
	if len(blk.Returns) > MaxReturns {
		return &BackendError{Func: s.fn.Name, Reason: "function returns more values than fit in registers"}
	}
	regs := [MaxReturns]tvm.Reg{RegRet, RegRet2}
	for i, v := range blk.Returns {
		s.loadOperand(v, regs[i])
	}
	if s.fr.frameSize > 0 {
		s.emit(tvm.Instr{Op: tvm.OpAddImm32, Dest: RegSP, Src1: RegSP, Imm: int64(s.fr.frameSize)})
	}
	s.emit(tvm.Instr{Op: tvm.OpReturn})
	return nil
}

func (s *selector) emitIf(blk *ssa.Block, skipCtrl *ssa.Value) error {
	if len(blk.Succs) != 2 {
		return &BackendError{Func: s.fn.Name, Reason: "if block does not have exactly two successors"}
	}
	thenBlk, elseBlk := blk.Succs[0], blk.Succs[1]

	if skipCtrl != nil {
		entry := branchOpTable[skipCtrl.Op]
		left, right := skipCtrl.Args[0], skipCtrl.Args[1]
		if entry.swap {
			left, right = right, left
		}
		s.loadOperand(left, RegScratch1)
		s.loadOperand(right, RegScratch2)
		s.emit(tvm.Instr{Op: entry.op, Src1: RegScratch1, Src2: RegScratch2, Target: tvm.Target(thenBlk.Id)})
		s.emit(tvm.Instr{Op: tvm.OpJump, Target: tvm.Target(elseBlk.Id)})
		return nil
	}

	if blk.Ctrl == nil {
		return &BackendError{Func: s.fn.Name, Reason: "if block has no control value"}
	}
	s.loadOperand(blk.Ctrl, RegScratch1)
	s.emit(tvm.Instr{Op: tvm.OpBranchNEImm, Src1: RegScratch1, Imm2: 0, Target: tvm.Target(thenBlk.Id)})
	s.emit(tvm.Instr{Op: tvm.OpJump, Target: tvm.Target(elseBlk.Id)})
	return nil
}

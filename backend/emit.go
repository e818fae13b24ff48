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

// Intrinsic ecalli indices: memory.size/grow/copy/fill have no dedicated
// TVM opcode, so the backend lowers them through the host environment
// call the same way any other host intrinsic would be reached.
const (
	EcallMemSize int64 = 0
	EcallMemGrow int64 = 1
	EcallMemCopy int64 = 2
	EcallMemFill int64 = 3
)

var binOpTable = map[ssa.Op][2]tvm.Op{
	ssa.OpAdd:  {tvm.OpAdd32, tvm.OpAdd64},
	ssa.OpSub:  {tvm.OpSub32, tvm.OpSub64},
	ssa.OpMul:  {tvm.OpMul32, tvm.OpMul64},
	ssa.OpDivS: {tvm.OpDivS32, tvm.OpDivS64},
	ssa.OpDivU: {tvm.OpDivU32, tvm.OpDivU64},
	ssa.OpRemS: {tvm.OpRemS32, tvm.OpRemS64},
	ssa.OpRemU: {tvm.OpRemU32, tvm.OpRemU64},
	ssa.OpAnd:  {tvm.OpAnd32, tvm.OpAnd64},
	ssa.OpOr:   {tvm.OpOr32, tvm.OpOr64},
	ssa.OpXor:  {tvm.OpXor32, tvm.OpXor64},
	ssa.OpShl:  {tvm.OpShl32, tvm.OpShl64},
	ssa.OpShrS: {tvm.OpShrS32, tvm.OpShrS64},
	ssa.OpShrU: {tvm.OpShrU32, tvm.OpShrU64},
}

var cmpOpTable = map[ssa.Op]tvm.Op{
	ssa.OpEq:  tvm.OpCmpEQ,
	ssa.OpNe:  tvm.OpCmpNE,
	ssa.OpLtS: tvm.OpCmpLtS,
	ssa.OpLtU: tvm.OpCmpLtU,
	ssa.OpGtS: tvm.OpCmpGtS,
	ssa.OpGtU: tvm.OpCmpGtU,
	ssa.OpLeS: tvm.OpCmpLeS,
	ssa.OpLeU: tvm.OpCmpLeU,
	ssa.OpGeS: tvm.OpCmpGeS,
	ssa.OpGeU: tvm.OpCmpGeU,
}

// branchOpTable gives the direct branch opcode for a comparison op, or
// reports that the operands must be swapped when no direct variant
// exists (TVM only encodes EQ/NE/LtS/LtU/GeS/GeU branches; Gt and Le
// are their swapped-operand Lt/Ge forms).
var branchOpTable = map[ssa.Op]struct {
	op    tvm.Op
	swap  bool
}{
	ssa.OpEq:  {tvm.OpBranchEQ, false},
	ssa.OpNe:  {tvm.OpBranchNE, false},
	ssa.OpLtS: {tvm.OpBranchLtS, false},
	ssa.OpLtU: {tvm.OpBranchLtU, false},
	ssa.OpGeS: {tvm.OpBranchGeS, false},
	ssa.OpGeU: {tvm.OpBranchGeU, false},
	ssa.OpGtS: {tvm.OpBranchLtS, true},
	ssa.OpGtU: {tvm.OpBranchLtU, true},
	ssa.OpLeS: {tvm.OpBranchGeS, true},
	ssa.OpLeU: {tvm.OpBranchGeU, true},
}

func (s *selector) emitValue(v *ssa.Value) error {
	switch v.Op {
	case ssa.OpConst, ssa.OpPhi, ssa.OpUnreachable:
		return nil

	case ssa.OpParam:
		if int(v.Imm) >= MaxRegArgs {
			return &BackendError{Func: s.fn.Name, Reason: "function takes more parameters than fit in registers"}
		}
		s.storeResult(v, argRegs[v.Imm])
		return nil

	case ssa.OpAdd, ssa.OpSub, ssa.OpMul, ssa.OpDivS, ssa.OpDivU, ssa.OpRemS, ssa.OpRemU,
		ssa.OpAnd, ssa.OpOr, ssa.OpXor, ssa.OpShl, ssa.OpShrS, ssa.OpShrU:
		pair := binOpTable[v.Op]
		op := pair[0]
		if is64(v.Type) {
			op = pair[1]
		}
		s.loadOperand(v.Args[0], RegScratch1)
		s.loadOperand(v.Args[1], RegScratch2)
		s.emit(tvm.Instr{Op: op, Dest: RegScratch1, Src1: RegScratch1, Src2: RegScratch2})
		s.storeResult(v, RegScratch1)
		return nil

	case ssa.OpEq, ssa.OpNe, ssa.OpLtS, ssa.OpLtU, ssa.OpGtS, ssa.OpGtU, ssa.OpLeS, ssa.OpLeU, ssa.OpGeS, ssa.OpGeU:
		s.loadOperand(v.Args[0], RegScratch1)
		s.loadOperand(v.Args[1], RegScratch2)
		s.emit(tvm.Instr{Op: cmpOpTable[v.Op], Dest: RegScratch1, Src1: RegScratch1, Src2: RegScratch2})
		s.storeResult(v, RegScratch1)
		return nil

	case ssa.OpEqz:
		s.loadOperand(v.Args[0], RegScratch1)
		s.emit(tvm.Instr{Op: tvm.OpCmpEQImm, Dest: RegScratch1, Src1: RegScratch1, Imm: 0})
		s.storeResult(v, RegScratch1)
		return nil

	case ssa.OpLoad:
		return s.emitLoad(v)
	case ssa.OpStore:
		return s.emitStore(v)

	case ssa.OpGlobalGet:
		addr := layout.GlobalAddr(int(v.Imm))
		s.emit(tvm.Instr{Op: tvm.OpLoadImm32, Dest: RegScratch1, Imm: int64(addr)})
		s.emit(tvm.Instr{Op: loadSlotOp(v.Type), Dest: RegScratch2, Src1: RegScratch1})
		s.storeResult(v, RegScratch2)
		return nil

	case ssa.OpGlobalSet:
		addr := layout.GlobalAddr(int(v.Imm))
		s.loadOperand(v.Args[0], RegScratch2)
		s.emit(tvm.Instr{Op: tvm.OpLoadImm32, Dest: RegScratch1, Imm: int64(addr)})
		s.emit(tvm.Instr{Op: storeSlotOp(v.Args[0].Type), Src1: RegScratch1, Src2: RegScratch2})
		return nil

	case ssa.OpWrapI64:
		s.zeroExtend32(v, v.Args[0])
		return nil

	case ssa.OpExtendI32U:
		s.zeroExtend32(v, v.Args[0])
		return nil

	case ssa.OpExtendI32S:
		s.signExtend(v, v.Args[0], 32, 64)
		return nil
	case ssa.OpExtend8S:
		s.signExtend(v, v.Args[0], 8, regWidth(v.Type))
		return nil
	case ssa.OpExtend16S:
		s.signExtend(v, v.Args[0], 16, regWidth(v.Type))
		return nil
	case ssa.OpExtend32S:
		s.signExtend(v, v.Args[0], 32, 64)
		return nil

	case ssa.OpMemSize:
		s.emit(tvm.Instr{Op: tvm.OpEcalli, Imm: EcallMemSize})
		s.storeResult(v, RegRet)
		return nil
	case ssa.OpMemGrow:
		s.loadOperand(v.Args[0], RegArg0)
		s.emit(tvm.Instr{Op: tvm.OpEcalli, Imm: EcallMemGrow})
		s.storeResult(v, RegRet)
		return nil
	case ssa.OpMemCopy:
		s.loadOperand(v.Args[0], RegArg0)
		s.loadOperand(v.Args[1], RegArg1)
		s.loadOperand(v.Args[2], RegArg2)
		s.emit(tvm.Instr{Op: tvm.OpEcalli, Imm: EcallMemCopy})
		return nil
	case ssa.OpMemFill:
		s.loadOperand(v.Args[0], RegArg0)
		s.loadOperand(v.Args[1], RegArg1)
		s.loadOperand(v.Args[2], RegArg2)
		s.emit(tvm.Instr{Op: tvm.OpEcalli, Imm: EcallMemFill})
		return nil

	case ssa.OpSelect:
		// Args: [whenTrue, whenFalse, cond].
		s.loadOperand(v.Args[1], RegScratch1) // dest starts as the false value
		s.loadOperand(v.Args[0], RegScratch2)
		s.loadOperand(v.Args[2], RegScratch3)
		s.emit(tvm.Instr{Op: tvm.OpCMov, Dest: RegScratch1, Src1: RegScratch3, Src2: RegScratch2})
		s.storeResult(v, RegScratch1)
		return nil

	case ssa.OpCall:
		return s.emitCall(v)
	case ssa.OpCallIndirect:
		return s.emitCallIndirect(v)
	case ssa.OpCallResult2:
		s.storeResult(v, RegRet2)
		return nil
	}
	return &BackendError{Func: s.fn.Name, Reason: "unhandled ssa op " + v.Op.String()}
}

func regWidth(t module.ValType) int {
	if is64(t) {
		return 64
	}
	return 32
}

// signExtend sign-extends src's low bits-wide field to fill a regwidth
// register via a shift-left/arithmetic-shift-right pair, since the
// ISA has no dedicated sign-extend instruction narrower than a full
// register width.
func (s *selector) signExtend(v, src *ssa.Value, bits, regwidth int) {
	shlOp, shrOp := tvm.OpShlImm32, tvm.OpShrS32
	if regwidth == 64 {
		shlOp, shrOp = tvm.OpShlImm64, tvm.OpShrS64
	}
	amount := int64(regwidth - bits)
	s.loadOperand(src, RegScratch1)
	s.emit(tvm.Instr{Op: shlOp, Dest: RegScratch1, Src1: RegScratch1, Imm: amount})
	s.emit(tvm.Instr{Op: tvm.OpLoadImm32, Dest: RegScratch2, Imm: amount})
	s.emit(tvm.Instr{Op: shrOp, Dest: RegScratch1, Src1: RegScratch1, Src2: RegScratch2})
	s.storeResult(v, RegScratch1)
}

// zeroExtend32 clears the high 32 bits of src's 64-bit register value
// via a shift-left-32/logical-shift-right-32 pair (i32.wrap_i64 and
// i64.extend_i32_u are the same bit operation, they only differ in
// which value type the result is stored as). A direct OpAndImm64 with
// an 0xFFFFFFFF mask would need an immediate wider than the encoder's
// 4-byte signed field, so this mirrors signExtend's shift-pair
// construction instead of relying on an unrepresentable constant.
func (s *selector) zeroExtend32(v, src *ssa.Value) {
	s.loadOperand(src, RegScratch1)
	s.emit(tvm.Instr{Op: tvm.OpShlImm64, Dest: RegScratch1, Src1: RegScratch1, Imm: 32})
	s.emit(tvm.Instr{Op: tvm.OpLoadImm32, Dest: RegScratch2, Imm: 32})
	s.emit(tvm.Instr{Op: tvm.OpShrU64, Dest: RegScratch1, Src1: RegScratch1, Src2: RegScratch2})
	s.storeResult(v, RegScratch1)
}

func (s *selector) memAddr(addr *ssa.Value, memOffset int64, dest tvm.Reg) {
	s.loadOperand(addr, dest)
	total := int64(layout.MemoryBase) + memOffset
	if total != 0 {
		s.emit(tvm.Instr{Op: tvm.OpAddImm32, Dest: dest, Src1: dest, Imm: total})
	}
}

func (s *selector) emitLoad(v *ssa.Value) error {
	s.memAddr(v.Args[0], v.MemOffset, RegScratch1)
	var op tvm.Op
	switch v.Width {
	case 1:
		op = tvm.OpLoad8U
		if v.Signed {
			op = tvm.OpLoad8S
		}
	case 2:
		op = tvm.OpLoad16U
		if v.Signed {
			op = tvm.OpLoad16S
		}
	case 4:
		op = tvm.OpLoad32U
		if v.Signed {
			op = tvm.OpLoad32S
		}
	case 8:
		op = tvm.OpLoad64
	default:
		return &BackendError{Func: s.fn.Name, Reason: "invalid load width"}
	}
	s.emit(tvm.Instr{Op: op, Dest: RegScratch2, Src1: RegScratch1})
	s.storeResult(v, RegScratch2)
	return nil
}

func (s *selector) emitStore(v *ssa.Value) error {
	s.memAddr(v.Args[0], v.MemOffset, RegScratch1)
	s.loadOperand(v.Args[1], RegScratch2)
	var op tvm.Op
	switch v.Width {
	case 1:
		op = tvm.OpStore8
	case 2:
		op = tvm.OpStore16
	case 4:
		op = tvm.OpStore32
	case 8:
		op = tvm.OpStore64
	default:
		return &BackendError{Func: s.fn.Name, Reason: "invalid store width"}
	}
	s.emit(tvm.Instr{Op: op, Src1: RegScratch1, Src2: RegScratch2})
	return nil
}

func (s *selector) emitCall(v *ssa.Value) error {
	if len(v.Args) > MaxRegArgs {
		return &BackendError{Func: s.fn.Name, Reason: "call has more arguments than fit in registers"}
	}
	for i, a := range v.Args {
		s.loadOperand(a, argRegs[i])
	}
	if entry, ok := s.imports[int(v.Imm)]; ok && entry.Ecalli {
		s.emit(tvm.Instr{Op: tvm.OpEcalli, Imm: entry.EcalliIdx})
	} else {
		target := v.Imm
		if ok {
			target = int64(entry.Redirect)
		}
		s.emit(tvm.Instr{Op: tvm.OpCall, Imm: target})
	}
	if v.Type != ssa.NoType {
		s.storeResult(v, RegRet)
	}
	return nil
}

func (s *selector) emitCallIndirect(v *ssa.Value) error {
	if len(v.Args)-1 > MaxRegArgs {
		return &BackendError{Func: s.fn.Name, Reason: "call has more arguments than fit in registers"}
	}
	s.loadOperand(v.Args[0], RegScratch3)
	for i, a := range v.Args[1:] {
		s.loadOperand(a, argRegs[i])
	}
	s.emit(tvm.Instr{Op: tvm.OpCallIndirect, Src1: RegScratch3, Imm: v.Imm})
	if v.Type != ssa.NoType {
		s.storeResult(v, RegRet)
	}
	return nil
}

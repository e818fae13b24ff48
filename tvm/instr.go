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

// Package tvm implements the target VM's instruction model: a closed
// sum of instruction variants, their variable-width encoding, and the
// two queries every instruction answers (IsTerminating, DestReg).
//
// Opcode numbers are fixed by the target runtime and must never change;
// new instructions may only be appended at the end of the Op list.
package tvm

import "fmt"

// Reg identifies one of the TVM's 13 general-purpose registers.
type Reg uint8

const NumRegs = 13

// Width is the byte width of a load/store/ALU operation.
type Width uint8

const (
	Width8 Width = 1 << iota
	Width16
	Width32
	Width64
)

type Op uint8

const (
	// Register-to-register ALU, 32 and 64 bit.
	OpAdd32 Op = iota
	OpSub32
	OpMul32
	OpDivS32
	OpDivU32
	OpRemS32
	OpRemU32
	OpAnd32
	OpOr32
	OpXor32
	OpShl32
	OpShrS32
	OpShrU32
	OpAdd64
	OpSub64
	OpMul64
	OpDivS64
	OpDivU64
	OpRemS64
	OpRemU64
	OpAnd64
	OpOr64
	OpXor64
	OpShl64
	OpShrS64
	OpShrU64

	// Register+immediate ALU (32/64 bit, shared immediate encoding).
	OpAddImm32
	OpAndImm32
	OpOrImm32
	OpXorImm32
	OpShlImm32
	OpAddImm64
	OpAndImm64
	OpOrImm64
	OpXorImm64
	OpShlImm64

	// Comparisons, register-register and register-immediate, produce a
	// boolean (0/1) in dest.
	OpCmpEQ
	OpCmpNE
	OpCmpLtS
	OpCmpLtU
	OpCmpLeS
	OpCmpLeU
	OpCmpGtS
	OpCmpGtU
	OpCmpGeS
	OpCmpGeU
	OpCmpEQImm
	OpCmpNEImm
	OpCmpLtSImm

	// Loads: signed/unsigned, widths 1/2/4/8, base register + signed offset.
	OpLoad8U
	OpLoad8S
	OpLoad16U
	OpLoad16S
	OpLoad32U
	OpLoad32S
	OpLoad64

	// Stores: widths 1/2/4/8.
	OpStore8
	OpStore16
	OpStore32
	OpStore64

	// Moves and immediates.
	OpMove
	OpLoadImm32
	OpLoadImm64

	// Conditional move: dest = cond != 0 ? src : dest.
	OpCMov

	// Control flow.
	OpJump               // unconditional branch, fixup target
	OpJumpIndirect        // indirect branch via jump-table index in register
	OpBranchEQ            // branch if r1 == r2
	OpBranchNE            // branch if r1 != r2
	OpBranchLtS           // branch if r1 < r2 (signed)
	OpBranchLtU           // branch if r1 < r2 (unsigned)
	OpBranchGeS           // branch if r1 >= r2 (signed)
	OpBranchGeU           // branch if r1 >= r2 (unsigned)
	OpBranchEQImm         // branch if r1 == imm
	OpBranchNEImm         // branch if r1 != imm

	OpCall                // direct call, fixup target
	OpCallIndirect        // indirect call via jump-table index in register
	OpReturn

	OpEcalli // environment call, immediate index operand

	OpTrap
	OpFallthrough // terminator placeholder, removed by peephole
)

var opNames = map[Op]string{
	OpAdd32: "add32", OpSub32: "sub32", OpMul32: "mul32",
	OpDivS32: "divs32", OpDivU32: "divu32", OpRemS32: "rems32", OpRemU32: "remu32",
	OpAnd32: "and32", OpOr32: "or32", OpXor32: "xor32",
	OpShl32: "shl32", OpShrS32: "shrs32", OpShrU32: "shru32",
	OpAdd64: "add64", OpSub64: "sub64", OpMul64: "mul64",
	OpDivS64: "divs64", OpDivU64: "divu64", OpRemS64: "rems64", OpRemU64: "remu64",
	OpAnd64: "and64", OpOr64: "or64", OpXor64: "xor64",
	OpShl64: "shl64", OpShrS64: "shrs64", OpShrU64: "shru64",
	OpAddImm32: "addi32", OpAndImm32: "andi32", OpOrImm32: "ori32", OpXorImm32: "xori32", OpShlImm32: "shli32",
	OpAddImm64: "addi64", OpAndImm64: "andi64", OpOrImm64: "ori64", OpXorImm64: "xori64", OpShlImm64: "shli64",
	OpCmpEQ: "cmpeq", OpCmpNE: "cmpne",
	OpCmpLtS: "cmplts", OpCmpLtU: "cmpltu", OpCmpLeS: "cmples", OpCmpLeU: "cmpleu",
	OpCmpGtS: "cmpgts", OpCmpGtU: "cmpgtu", OpCmpGeS: "cmpges", OpCmpGeU: "cmpgeu",
	OpCmpEQImm: "cmpeqi", OpCmpNEImm: "cmpnei", OpCmpLtSImm: "cmpltsi",
	OpLoad8U: "load8u", OpLoad8S: "load8s", OpLoad16U: "load16u", OpLoad16S: "load16s",
	OpLoad32U: "load32u", OpLoad32S: "load32s", OpLoad64: "load64",
	OpStore8: "store8", OpStore16: "store16", OpStore32: "store32", OpStore64: "store64",
	OpMove: "move", OpLoadImm32: "loadimm32", OpLoadImm64: "loadimm64", OpCMov: "cmov",
	OpJump: "jump", OpJumpIndirect: "jumpind",
	OpBranchEQ: "beq", OpBranchNE: "bne",
	OpBranchLtS: "blts", OpBranchLtU: "bltu", OpBranchGeS: "bges", OpBranchGeU: "bgeu",
	OpBranchEQImm: "beqi", OpBranchNEImm: "bnei",
	OpCall: "call", OpCallIndirect: "callind", OpReturn: "return",
	OpEcalli: "ecalli", OpTrap: "trap", OpFallthrough: "fallthrough",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", op)
}

// Instr is the closed tagged sum of TVM instructions. Not every field
// is meaningful for every Op; which fields are read is determined
// entirely by Op.
type Instr struct {
	Op Op

	Dest Reg
	Src1 Reg
	Src2 Reg

	Imm    int64 // sign-extended immediate, or ecalli index, or branch/call fixup delta once resolved
	Imm2   int64 // second immediate: the compare value for *Imm branch variants, unused otherwise
	Offset int32 // load/store byte offset from Src1

	// Target is the symbolic branch/call target before fixup resolution;
	// it is consumed by the backend's fixup table and is not part of the
	// encoded form.
	Target BlockRef
}

// BlockRef names an SSA basic block for fixup purposes. The zero value
// means "no symbolic target" (used by instructions with no branch).
type BlockRef struct {
	Valid bool
	ID    int
}

func Target(id int) BlockRef { return BlockRef{Valid: true, ID: id} }

// IsTerminating reports whether op ends a basic block.
func (i Instr) IsTerminating() bool {
	switch i.Op {
	case OpTrap, OpFallthrough, OpReturn,
		OpJump, OpJumpIndirect,
		OpBranchEQ, OpBranchNE, OpBranchLtS, OpBranchLtU, OpBranchGeS, OpBranchGeU,
		OpBranchEQImm, OpBranchNEImm:
		return true
	}
	return false
}

// IsBranch reports whether op is a conditional or unconditional branch
// (but not return/trap/call), i.e. it carries a BlockRef fixup target.
func (i Instr) IsBranch() bool {
	switch i.Op {
	case OpJump,
		OpBranchEQ, OpBranchNE, OpBranchLtS, OpBranchLtU, OpBranchGeS, OpBranchGeU,
		OpBranchEQImm, OpBranchNEImm:
		return true
	}
	return false
}

// DestReg returns the single register written by i, if any.
func (i Instr) DestReg() (Reg, bool) {
	switch i.Op {
	case OpStore8, OpStore16, OpStore32, OpStore64,
		OpBranchEQ, OpBranchNE, OpBranchLtS, OpBranchLtU, OpBranchGeS, OpBranchGeU,
		OpBranchEQImm, OpBranchNEImm,
		OpJump, OpJumpIndirect, OpCall, OpCallIndirect, OpReturn,
		OpEcalli, OpTrap, OpFallthrough:
		return 0, false
	default:
		return i.Dest, true
	}
}

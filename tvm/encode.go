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
package tvm

import (
	"fmt"
)

// Encoding helpers. Every instruction is one opcode byte followed by
// packed operand fields:
//
//   three-reg: opcode + 3 nibble-packed register indices (ALU rr)
//   two-reg:   opcode + 2 packed regs (move, loads, stores, branches)
//   imm:       0-4 byte little-endian signed integer, minimal width
//   var-u32:   length-prefixed unsigned varint (ecalli index, etc.)

// packRegs3 nibble-packs three 4-bit register indices into two bytes.
func packRegs3(a, b, c Reg) [2]byte {
	return [2]byte{byte(a)<<4 | byte(b), byte(c) << 4}
}

func unpackRegs3(buf [2]byte) (Reg, Reg, Reg) {
	return Reg(buf[0] >> 4), Reg(buf[0] & 0xF), Reg(buf[1] >> 4)
}

// minImmWidth returns the fewest bytes (0, 1, 2, or 4) needed to
// round-trip v as a little-endian signed integer.
func minImmWidth(v int64) int {
	switch {
	case v == 0:
		return 0
	case v >= -128 && v <= 127:
		return 1
	case v >= -32768 && v <= 32767:
		return 2
	default:
		return 4
	}
}

func appendImm(buf []byte, v int64, width int) []byte {
	switch width {
	case 0:
		return buf
	case 1:
		return append(buf, byte(v))
	case 2:
		return append(buf, byte(v), byte(v>>8))
	case 4:
		return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	default:
		panic(fmt.Sprintf("tvm: invalid immediate width %d", width))
	}
}

func readImm(buf []byte, width int) int64 {
	switch width {
	case 0:
		return 0
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(uint16(buf[0]) | uint16(buf[1])<<8))
	case 4:
		return int64(int32(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24))
	default:
		panic(fmt.Sprintf("tvm: invalid immediate width %d", width))
	}
}

// EncodeVarU32 encodes u as a length-prefixed unsigned varint: the top
// two bits of the first byte hold the continuation-byte count (0-3),
// the remaining 6 bits plus each continuation byte hold the value,
// little-endian. A count of 3 is special: the 6-bit field in the
// header byte cannot reach the full uint32 range (6+8*3 = 30 bits), so
// that case instead stores u as four raw little-endian bytes following
// the header, giving it the full 32 bits of capacity it needs.
func EncodeVarU32(u uint32) []byte {
	switch {
	case u < 1<<6:
		return []byte{byte(u)}
	case u < 1<<14:
		return []byte{byte(u&0x3F) | 0x40, byte(u >> 6)}
	case u < 1<<22:
		return []byte{byte(u&0x3F) | 0x80, byte(u >> 6), byte(u >> 14)}
	default:
		return []byte{0xC0, byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
	}
}

// DecodeVarU32 decodes one var-u32 from the front of buf, returning the
// value and the number of bytes consumed.
func DecodeVarU32(buf []byte) (uint32, int) {
	first := buf[0]
	count := first >> 6
	if count == 3 {
		v := uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16 | uint32(buf[4])<<24
		return v, 5
	}
	n := int(count) + 1
	v := uint32(first & 0x3F)
	shift := uint32(6)
	for i := 1; i < n; i++ {
		v |= uint32(buf[i]) << shift
		shift += 8
	}
	return v, n
}

// regOperandCount classifies how many register operands an Op reads,
// used by Encode/Decode to choose the register-packing form.
func regOperandCount(op Op) int {
	switch op {
	case OpAdd32, OpSub32, OpMul32, OpDivS32, OpDivU32, OpRemS32, OpRemU32,
		OpAnd32, OpOr32, OpXor32, OpShl32, OpShrS32, OpShrU32,
		OpAdd64, OpSub64, OpMul64, OpDivS64, OpDivU64, OpRemS64, OpRemU64,
		OpAnd64, OpOr64, OpXor64, OpShl64, OpShrS64, OpShrU64,
		OpCmpEQ, OpCmpNE, OpCmpLtS, OpCmpLtU, OpCmpLeS, OpCmpLeU,
		OpCmpGtS, OpCmpGtU, OpCmpGeS, OpCmpGeU, OpCMov:
		return 3
	case OpAddImm32, OpAndImm32, OpOrImm32, OpXorImm32, OpShlImm32,
		OpAddImm64, OpAndImm64, OpOrImm64, OpXorImm64, OpShlImm64,
		OpCmpEQImm, OpCmpNEImm, OpCmpLtSImm,
		OpLoad8U, OpLoad8S, OpLoad16U, OpLoad16S, OpLoad32U, OpLoad32S, OpLoad64,
		OpMove, OpLoadImm32, OpLoadImm64, OpBranchEQImm, OpBranchNEImm:
		return 2
	case OpStore8, OpStore16, OpStore32, OpStore64,
		OpBranchEQ, OpBranchNE, OpBranchLtS, OpBranchLtU, OpBranchGeS, OpBranchGeU,
		OpJumpIndirect, OpCallIndirect:
		return 2
	default:
		return 0
	}
}

// Encode writes i's canonical byte encoding, appending to buf.
func Encode(buf []byte, i Instr) []byte {
	buf = append(buf, byte(i.Op))

	switch regOperandCount(i.Op) {
	case 3:
		packed := packRegs3(i.Dest, i.Src1, i.Src2)
		buf = append(buf, packed[0], packed[1])
		return buf
	case 2:
		switch i.Op {
		case OpStore8, OpStore16, OpStore32, OpStore64:
			buf = append(buf, byte(i.Src1)<<4|byte(i.Src2))
			buf = appendImm(buf, int64(i.Offset), 4)
			return buf
		case OpLoad8U, OpLoad8S, OpLoad16U, OpLoad16S, OpLoad32U, OpLoad32S, OpLoad64:
			buf = append(buf, byte(i.Dest)<<4|byte(i.Src1))
			buf = appendImm(buf, int64(i.Offset), 4)
			return buf
		case OpMove:
			buf = append(buf, byte(i.Dest)<<4|byte(i.Src1))
			return buf
		case OpLoadImm32:
			buf = append(buf, byte(i.Dest)<<4)
			return appendImm(buf, i.Imm, 4)
		case OpLoadImm64:
			buf = append(buf, byte(i.Dest)<<4)
			return append(buf, le64(i.Imm)...)
		case OpBranchEQ, OpBranchNE, OpBranchLtS, OpBranchLtU, OpBranchGeS, OpBranchGeU:
			buf = append(buf, byte(i.Src1)<<4|byte(i.Src2))
			return appendImm(buf, i.Imm, 4)
		case OpBranchEQImm, OpBranchNEImm:
			buf = append(buf, byte(i.Src1)<<4)
			buf = appendImm(buf, i.Imm2, 4) // compare value
			return appendImm(buf, i.Imm, 4) // branch delta
		case OpJumpIndirect, OpCallIndirect:
			buf = append(buf, byte(i.Src1)<<4)
			return buf
		default: // immediate ALU / cmp-imm: minimal-width imm per spec
			w := minImmWidth(i.Imm)
			buf = append(buf, byte(i.Dest)<<4|byte(i.Src1), byte(w))
			return appendImm(buf, i.Imm, w)
		}
	default:
		switch i.Op {
		case OpJump:
			return appendImm(buf, i.Imm, 4)
		case OpCall:
			return appendImm(buf, i.Imm, 4)
		case OpReturn, OpTrap, OpFallthrough:
			return buf
		case OpEcalli:
			return append(buf, EncodeVarU32(uint32(i.Imm))...)
		default:
			panic(fmt.Sprintf("tvm: Encode: unhandled op %v", i.Op))
		}
	}
}

func le64(v int64) []byte {
	u := uint64(v)
	return []byte{
		byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24),
		byte(u >> 32), byte(u >> 40), byte(u >> 48), byte(u >> 56),
	}
}

// Decode reads one instruction from the front of buf, returning it and
// the number of bytes consumed. Decode(Encode(i)) == i for every i this
// package can produce.
func Decode(buf []byte) (Instr, int) {
	op := Op(buf[0])
	rest := buf[1:]
	switch regOperandCount(op) {
	case 3:
		dest, src1, src2 := unpackRegs3([2]byte{rest[0], rest[1]})
		return Instr{Op: op, Dest: dest, Src1: src1, Src2: src2}, 3
	case 2:
		switch op {
		case OpStore8, OpStore16, OpStore32, OpStore64:
			b := rest[0]
			off := readImm(rest[1:5], 4)
			return Instr{Op: op, Src1: Reg(b >> 4), Src2: Reg(b & 0xF), Offset: int32(off)}, 6
		case OpLoad8U, OpLoad8S, OpLoad16U, OpLoad16S, OpLoad32U, OpLoad32S, OpLoad64:
			b := rest[0]
			off := readImm(rest[1:5], 4)
			return Instr{Op: op, Dest: Reg(b >> 4), Src1: Reg(b & 0xF), Offset: int32(off)}, 6
		case OpMove:
			b := rest[0]
			return Instr{Op: op, Dest: Reg(b >> 4), Src1: Reg(b & 0xF)}, 2
		case OpLoadImm32:
			b := rest[0]
			imm := readImm(rest[1:5], 4)
			return Instr{Op: op, Dest: Reg(b >> 4), Imm: imm}, 6
		case OpLoadImm64:
			b := rest[0]
			u := uint64(rest[1]) | uint64(rest[2])<<8 | uint64(rest[3])<<16 | uint64(rest[4])<<24 |
				uint64(rest[5])<<32 | uint64(rest[6])<<40 | uint64(rest[7])<<48 | uint64(rest[8])<<56
			return Instr{Op: op, Dest: Reg(b >> 4), Imm: int64(u)}, 10
		case OpBranchEQ, OpBranchNE, OpBranchLtS, OpBranchLtU, OpBranchGeS, OpBranchGeU:
			b := rest[0]
			imm := readImm(rest[1:5], 4)
			return Instr{Op: op, Src1: Reg(b >> 4), Src2: Reg(b & 0xF), Imm: imm}, 6
		case OpBranchEQImm, OpBranchNEImm:
			b := rest[0]
			cmp := readImm(rest[1:5], 4)
			delta := readImm(rest[5:9], 4)
			return Instr{Op: op, Src1: Reg(b >> 4), Imm2: cmp, Imm: delta}, 10
		case OpJumpIndirect, OpCallIndirect:
			b := rest[0]
			return Instr{Op: op, Src1: Reg(b >> 4)}, 2
		default:
			b := rest[0]
			w := int(rest[1])
			imm := readImm(rest[2:2+w], w)
			return Instr{Op: op, Dest: Reg(b >> 4), Src1: Reg(b & 0xF), Imm: imm}, 3 + w
		}
	default:
		switch op {
		case OpJump, OpCall:
			imm := readImm(rest[0:4], 4)
			return Instr{Op: op, Imm: imm}, 5
		case OpReturn, OpTrap, OpFallthrough:
			return Instr{Op: op}, 1
		case OpEcalli:
			v, n := DecodeVarU32(rest)
			return Instr{Op: op, Imm: int64(v)}, 1 + n
		default:
			panic(fmt.Sprintf("tvm: Decode: unhandled op %v", op))
		}
	}
}

// Size reports the encoded byte length of i without materializing the
// encoding, used by the backend's layout pass before fixups are known.
func Size(i Instr) int {
	return len(Encode(nil, i))
}

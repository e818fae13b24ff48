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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Instr{
		{Op: OpAdd32, Dest: 1, Src1: 2, Src2: 3},
		{Op: OpSub64, Dest: 4, Src1: 5, Src2: 6},
		{Op: OpAddImm32, Dest: 1, Src1: 2, Imm: 0},
		{Op: OpAddImm32, Dest: 1, Src1: 2, Imm: 127},
		{Op: OpAddImm32, Dest: 1, Src1: 2, Imm: -128},
		{Op: OpAddImm32, Dest: 1, Src1: 2, Imm: 40000},
		{Op: OpLoad32U, Dest: 3, Src1: 4, Offset: -16},
		{Op: OpStore64, Src1: 3, Src2: 4, Offset: 64},
		{Op: OpMove, Dest: 1, Src1: 2},
		{Op: OpLoadImm32, Dest: 1, Imm: 123456},
		{Op: OpLoadImm64, Dest: 1, Imm: -1},
		{Op: OpBranchEQ, Src1: 1, Src2: 2, Imm: 40},
		{Op: OpBranchEQImm, Src1: 1, Imm2: 5, Imm: -12},
		{Op: OpJump, Imm: 1000},
		{Op: OpCall, Imm: -500},
		{Op: OpReturn},
		{Op: OpTrap},
		{Op: OpFallthrough},
		{Op: OpEcalli, Imm: 9999999},
		{Op: OpJumpIndirect, Src1: 7},
	}
	for _, want := range cases {
		buf := Encode(nil, want)
		got, n := Decode(buf)
		require.Equal(t, len(buf), n, "op %v", want.Op)
		assert.Equal(t, want, got, "op %v", want.Op)
	}
}

func TestVarU32RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 63, 64, 16383, 16384, 4194303, 4194304, 0xFFFFFFFF}
	for _, v := range values {
		buf := EncodeVarU32(v)
		got, n := DecodeVarU32(buf)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, v, got)
	}
}

func TestIsTerminating(t *testing.T) {
	assert.True(t, Instr{Op: OpTrap}.IsTerminating())
	assert.True(t, Instr{Op: OpFallthrough}.IsTerminating())
	assert.True(t, Instr{Op: OpJump}.IsTerminating())
	assert.False(t, Instr{Op: OpAdd32}.IsTerminating())
}

func TestDestReg(t *testing.T) {
	d, ok := Instr{Op: OpAdd32, Dest: 5}.DestReg()
	assert.True(t, ok)
	assert.Equal(t, Reg(5), d)

	_, ok = Instr{Op: OpStore32}.DestReg()
	assert.False(t, ok)

	_, ok = Instr{Op: OpTrap}.DestReg()
	assert.False(t, ok)
}

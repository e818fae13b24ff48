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
package ssa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svmtvm/module"
)

func sig(params, results []module.ValType) module.Signature {
	return module.Signature{Params: params, Results: results}
}

func TestBuildFunctionAdd(t *testing.T) {
	fn := &module.Function{
		Sig:  sig([]module.ValType{module.I32, module.I32}, []module.ValType{module.I32}),
		Body: []byte{byte(module.OpLocalGet), 0, byte(module.OpLocalGet), 1, byte(module.OpI32Add), byte(module.OpEnd)},
	}
	ssaFn, err := BuildFunction(&module.Module{}, fn, 0)
	require.NoError(t, err)
	require.NotNil(t, ssaFn.Entry)
	assert.Equal(t, BlockReturn, ssaFn.Entry.Kind)
	require.Len(t, ssaFn.Entry.Returns, 1)
	assert.Equal(t, OpAdd, ssaFn.Entry.Returns[0].Op)
}

func TestBuildFunctionIfElseMerge(t *testing.T) {
	// if (local0) { 1 } else { 2 }
	body := []byte{
		byte(module.OpLocalGet), 0,
		byte(module.OpIf), 0x7f,
		byte(module.OpI32Const), 1,
		byte(module.OpElse),
		byte(module.OpI32Const), 2,
		byte(module.OpEnd),
		byte(module.OpEnd),
	}
	fn := &module.Function{
		Sig:  sig([]module.ValType{module.I32}, []module.ValType{module.I32}),
		Body: body,
	}
	ssaFn, err := BuildFunction(&module.Module{}, fn, 0)
	require.NoError(t, err)
	var retBlocks []*Block
	for _, blk := range ssaFn.Blocks {
		if blk.Kind == BlockReturn {
			retBlocks = append(retBlocks, blk)
		}
	}
	require.Len(t, retBlocks, 1)
	require.Len(t, retBlocks[0].Returns, 1)
	ret := retBlocks[0].Returns[0]
	assert.Equal(t, OpPhi, ret.Op)
	require.Len(t, ret.Args, 2)
}

func TestBuildFunctionLoopSum(t *testing.T) {
	// local1 (accumulator) starts at 0 (zero-initialized); loop decrements
	// local0 and adds it to local1 until local0 reaches zero, then returns
	// local1. Uses only br_if (no explicit loop result value); the loop
	// sits inside a block so that br_if 1 has a label to break out to.
	body := []byte{
		byte(module.OpBlock), 0x40,
		byte(module.OpLoop), 0x40,
		byte(module.OpLocalGet), 0,
		byte(module.OpI32Eqz),
		byte(module.OpBrIf), 1, // break to the enclosing block's end
		byte(module.OpLocalGet), 1,
		byte(module.OpLocalGet), 0,
		byte(module.OpI32Add),
		byte(module.OpLocalSet), 1,
		byte(module.OpLocalGet), 0,
		byte(module.OpI32Const), 1,
		byte(module.OpI32Sub),
		byte(module.OpLocalSet), 0,
		byte(module.OpBr), 0,
		byte(module.OpEnd), // loop end
		byte(module.OpEnd), // block end
		byte(module.OpLocalGet), 1,
		byte(module.OpEnd), // function end
	}
	fn := &module.Function{
		Sig:    sig([]module.ValType{module.I32}, []module.ValType{module.I32}),
		Locals: []module.ValType{module.I32},
		Body:   body,
	}
	ssaFn, err := BuildFunction(&module.Module{}, fn, 0)
	require.NoError(t, err)
	require.NotEmpty(t, ssaFn.Blocks)
	require.NoError(t, VerifyDom(ssaFn))
}

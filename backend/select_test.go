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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svmtvm/layout"
	"svmtvm/module"
	"svmtvm/ssa"
	"svmtvm/tvm"
)

func buildOptimized(t *testing.T, fn *module.Function) *ssa.Func {
	t.Helper()
	ssaFn, err := ssa.BuildFunction(&module.Module{}, fn, 0)
	require.NoError(t, err)
	(&ssa.Optimizer{Func: ssaFn}).Ideal()
	require.NoError(t, ssa.VerifyDom(ssaFn))
	return ssaFn
}

func sig(params, results []module.ValType) module.Signature {
	return module.Signature{Params: params, Results: results}
}

func TestSelectAddFunction(t *testing.T) {
	fn := &module.Function{
		Sig:  sig([]module.ValType{module.I32, module.I32}, []module.ValType{module.I32}),
		Body: []byte{byte(module.OpLocalGet), 0, byte(module.OpLocalGet), 1, byte(module.OpI32Add), byte(module.OpEnd)},
	}
	ssaFn := buildOptimized(t, fn)

	out, err := Select(ssaFn, 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.Instrs)

	last := out.Instrs[len(out.Instrs)-1]
	assert.Equal(t, tvm.OpReturn, last.Op)

	var sawAdd bool
	for _, ins := range out.Instrs {
		if ins.Op == tvm.OpAdd32 {
			sawAdd = true
		}
	}
	assert.True(t, sawAdd, "expected a 32-bit add instruction")
}

func TestSelectIfElseProducesConditionalBranch(t *testing.T) {
	// if (local0 == 0) { 1 } else { 2 }
	body := []byte{
		byte(module.OpLocalGet), 0,
		byte(module.OpI32Eqz),
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
	ssaFn := buildOptimized(t, fn)

	out, err := Select(ssaFn, 0, nil)
	require.NoError(t, err)

	var sawBranch, sawJump bool
	for _, ins := range out.Instrs {
		if ins.IsBranch() && ins.Op != tvm.OpJump {
			sawBranch = true
		}
		if ins.Op == tvm.OpJump {
			sawJump = true
		}
	}
	assert.True(t, sawBranch, "expected a conditional branch")
	assert.True(t, sawJump, "expected the else-path jump")
}

func TestSelectCallRejectsTooManyArgs(t *testing.T) {
	params := make([]module.ValType, MaxRegArgs+1)
	for i := range params {
		params[i] = module.I32
	}
	callee := module.Function{Sig: sig(params, nil)}
	mod := &module.Module{Funcs: []module.Function{callee, {}}}

	body := []byte{}
	for i := range params {
		body = append(body, byte(module.OpI32Const), byte(i))
	}
	body = append(body, byte(module.OpCall), 0, byte(module.OpEnd))

	fn := &module.Function{Sig: sig(nil, nil), Body: body}
	ssaFn, err := ssa.BuildFunction(mod, fn, 1)
	require.NoError(t, err)
	(&ssa.Optimizer{Func: ssaFn}).Ideal()

	_, err = Select(ssaFn, 1, nil)
	require.Error(t, err)
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
}

func TestSelectFrameSizeMatchesValueCount(t *testing.T) {
	fn := &module.Function{
		Sig:  sig([]module.ValType{module.I32}, []module.ValType{module.I32}),
		Body: []byte{byte(module.OpLocalGet), 0, byte(module.OpI32Const), 1, byte(module.OpI32Add), byte(module.OpEnd)},
	}
	ssaFn := buildOptimized(t, fn)

	out, err := Select(ssaFn, 0, nil)
	require.NoError(t, err)
	assert.Greater(t, out.FrameSize, int32(0))

	slots := 0
	for _, blk := range ssaFn.Blocks {
		for _, v := range blk.Values {
			if needsSlot(v) {
				slots++
			}
		}
	}
	assert.Equal(t, int32(slots)*int32(layout.SpillSlotSize), out.FrameSize)
}

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
	"testing"

	"svmtvm/module"
	"svmtvm/tvm"
)

// decodeAll takes the code bytes out of an encoded program blob
// (skipping its jump-table header in front and the basic-block mask
// behind) and walks them decoding every instruction in turn, failing
// the test on any decode panic; used as a cheap well-formedness check
// that every fixup landed on a real instruction boundary.
func decodeAll(t *testing.T, blob []byte) []tvm.Instr {
	t.Helper()
	jtLen, n := tvm.DecodeVarU32(blob)
	itemBytes := int(blob[n])
	codeLen, m := tvm.DecodeVarU32(blob[n+1:])
	start := n + 1 + m + int(jtLen)*itemBytes
	code := blob[start : start+int(codeLen)]
	var out []tvm.Instr
	for len(code) > 0 {
		ins, n := tvm.Decode(code)
		out = append(out, ins)
		code = code[n:]
	}
	return out
}

func countOp(instrs []tvm.Instr, op tvm.Op) int {
	n := 0
	for _, i := range instrs {
		if i.Op == op {
			n++
		}
	}
	return n
}

func TestCompileAddFunction(t *testing.T) {
	var m moduleBuilder
	i32i32_i32 := m.addType(sig([]byte{0, 0}, []byte{0}))
	ops := []byte{opcodeLocalGet}
	ops = append(ops, leb128U(0)...)
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(1)...)
	ops = append(ops, opcodeI32Add)
	m.addFunc(i32i32_i32, nil, ops)
	m.addExportFunc("add", 0)

	img, stats, err := Compile(m.build(), Options{Optimize: OptimizeDefault})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if stats.FuncCount != 1 {
		t.Fatalf("FuncCount = %d, want 1", stats.FuncCount)
	}
	if img == nil || len(img.Blob) == 0 {
		t.Fatalf("expected a non-empty assembled blob")
	}
}

func TestCompileFactorialRecursive(t *testing.T) {
	var m moduleBuilder
	i32_i32 := m.addType(sig([]byte{0}, []byte{0}))

	var ops []byte
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(0)...)
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(0)...)
	ops = append(ops, opcodeI32Eq)
	ops = append(ops, opcodeIf, 0x7f) // result i32
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(1)...)
	ops = append(ops, opcodeElse)
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(0)...)
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(0)...)
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(1)...)
	ops = append(ops, opcodeI32Sub)
	ops = append(ops, opcodeCall)
	ops = append(ops, leb128U(0)...) // self-recursive call, global index 0
	ops = append(ops, opcodeI32Mul)
	ops = append(ops, opcodeEnd) // closes if/else

	m.addFunc(i32_i32, nil, ops)
	m.addExportFunc("factorial", 0)

	img, _, err := Compile(m.build(), Options{Optimize: OptimizeDefault})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	instrs := decodeAll(t, img.Blob)
	if countOp(instrs, tvm.OpCall) == 0 {
		t.Fatalf("expected the recursive call to survive selection")
	}
}

// TestCompileIterativeSum builds sum(n) = 0+1+...+(n-1) with a
// loop/br_if, exercising phi-carrying locals and a backward branch.
func TestCompileIterativeSum(t *testing.T) {
	var m moduleBuilder
	i32_i32 := m.addType(sig([]byte{0}, []byte{0}))

	var ops []byte
	// acc (local 1) = 0
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(0)...)
	ops = append(ops, opcodeLocalSet)
	ops = append(ops, leb128U(1)...)
	// i (local 2) = 0
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(0)...)
	ops = append(ops, opcodeLocalSet)
	ops = append(ops, leb128U(2)...)

	ops = append(ops, opcodeBlock, 0x40)
	ops = append(ops, opcodeLoop, 0x40)
	// if i >= n, break out (depth 1: loop=0, block=1)
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(2)...)
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(0)...)
	ops = append(ops, opcodeI32GeS)
	ops = append(ops, opcodeBrIf)
	ops = append(ops, leb128U(1)...)
	// acc += i
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(1)...)
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(2)...)
	ops = append(ops, opcodeI32Add)
	ops = append(ops, opcodeLocalSet)
	ops = append(ops, leb128U(1)...)
	// i += 1
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(2)...)
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(1)...)
	ops = append(ops, opcodeI32Add)
	ops = append(ops, opcodeLocalSet)
	ops = append(ops, leb128U(2)...)
	// continue (depth 0: the loop itself)
	ops = append(ops, opcodeBr)
	ops = append(ops, leb128U(0)...)
	ops = append(ops, opcodeEnd) // loop
	ops = append(ops, opcodeEnd) // block
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(1)...) // return acc

	m.addFunc(i32_i32, []byte{0, 0}, ops) // two extra i32 locals: acc, i
	m.addExportFunc("sum", 0)

	img, stats, err := Compile(m.build(), Options{Optimize: OptimizeDefault})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	instrs := decodeAll(t, img.Blob)
	branches := 0
	for _, i := range instrs {
		if i.IsBranch() {
			branches++
		}
	}
	if branches == 0 {
		t.Fatalf("expected at least one resolved branch in the loop")
	}
	if stats.CodeLen == 0 {
		t.Fatalf("expected a non-empty code stream")
	}
}

func TestCompileCallIndirect(t *testing.T) {
	var m moduleBuilder
	i32_i32 := m.addType(sig([]byte{0}, []byte{0}))

	incOps := []byte{opcodeLocalGet}
	incOps = append(incOps, leb128U(0)...)
	incOps = append(incOps, opcodeI32Const)
	incOps = append(incOps, leb128S(1)...)
	incOps = append(incOps, opcodeI32Add)
	m.addFunc(i32_i32, nil, incOps)

	dblOps := []byte{opcodeLocalGet}
	dblOps = append(dblOps, leb128U(0)...)
	dblOps = append(dblOps, opcodeI32Const)
	dblOps = append(dblOps, leb128S(2)...)
	dblOps = append(dblOps, opcodeI32Mul)
	m.addFunc(i32_i32, nil, dblOps)

	m.addTable(2)
	m.addActiveElem(0, 0, []uint32{0, 1})

	callOps := []byte{opcodeLocalGet}
	callOps = append(callOps, leb128U(0)...) // arg
	callOps = append(callOps, opcodeLocalGet)
	callOps = append(callOps, leb128U(0)...) // table index (reuse param)
	callOps = append(callOps, opcodeCallIndirect)
	callOps = append(callOps, leb128U(i32_i32)...)
	callOps = append(callOps, leb128U(0)...) // table index operand, unused
	m.addFunc(i32_i32, nil, callOps)
	m.addExportFunc("dispatch", 2)

	img, _, err := Compile(m.build(), Options{Optimize: OptimizeDefault})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	instrs := decodeAll(t, img.Blob)
	if countOp(instrs, tvm.OpCallIndirect) == 0 {
		t.Fatalf("expected a call_indirect instruction")
	}
}

func TestCompileMemoryCopy(t *testing.T) {
	var m moduleBuilder
	void := m.addType(sig(nil, nil))
	m.setMemory(1)
	m.addActiveData(0, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	var ops []byte
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(2)...) // dst
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(0)...) // src
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(8)...) // n
	ops = append(ops, opcodeMemoryCopy)
	m.addFunc(void, nil, ops)
	m.addExportFunc("overlap_copy", 0)

	img, _, err := Compile(m.build(), Options{Optimize: OptimizeNone})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(img.RW) == 0 {
		t.Fatalf("expected the active data segment to materialize into RW")
	}
}

func TestCompileUnboundImportRejected(t *testing.T) {
	var m moduleBuilder
	sigIdx := m.addType(sig(nil, nil))
	m.addImport("env", "log", sigIdx)
	m.addFunc(sigIdx, nil, nil)
	m.addExportFunc("main", 1)

	_, _, err := Compile(m.build(), Options{})
	ce, ok := err.(*CompileError)
	if !ok {
		t.Fatalf("expected *CompileError, got %T (%v)", err, err)
	}
	if ce.Kind != KindBackend {
		t.Fatalf("Kind = %v, want KindBackend", ce.Kind)
	}
}

func TestCompileEcalliImport(t *testing.T) {
	var m moduleBuilder
	sigIdx := m.addType(sig([]byte{0}, nil))
	m.addImport("env", "log", sigIdx)

	var ops []byte
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(42)...)
	ops = append(ops, opcodeCall)
	ops = append(ops, leb128U(0)...) // call the import
	m.addFunc(sigIdx, nil, ops)
	m.addExportFunc("main", 1)

	opts := Options{Imports: map[ImportKey]ImportBinding{
		{Module: "env", Name: "log"}: {Ecalli: true, EcalliIdx: 7},
	}}
	img, _, err := Compile(m.build(), opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	instrs := decodeAll(t, img.Blob)
	ecalli := false
	for _, i := range instrs {
		if i.Op == tvm.OpEcalli && i.Imm == 7 {
			ecalli = true
		}
	}
	if !ecalli {
		t.Fatalf("expected an ecalli(7) in place of the import call")
	}
}

func TestCompileAdapterBoundImport(t *testing.T) {
	var m moduleBuilder
	sigIdx := m.addType(sig([]byte{0}, []byte{0}))
	m.addImport("env", "double", sigIdx)

	var ops []byte
	ops = append(ops, opcodeI32Const)
	ops = append(ops, leb128S(21)...)
	ops = append(ops, opcodeCall)
	ops = append(ops, leb128U(0)...)
	m.addFunc(sigIdx, nil, ops)
	m.addExportFunc("main", 1)

	adapterOps := []byte{opcodeLocalGet}
	adapterOps = append(adapterOps, leb128U(0)...)
	adapterOps = append(adapterOps, opcodeI32Const)
	adapterOps = append(adapterOps, leb128S(2)...)
	adapterOps = append(adapterOps, opcodeI32Mul)

	opts := Options{Imports: map[ImportKey]ImportBinding{
		{Module: "env", Name: "double"}: {Adapter: &module.Function{
			Sig:  module.Signature{Params: []module.ValType{module.I32}, Results: []module.ValType{module.I32}},
			Body: adapterOps,
			Name: "double_adapter",
		}},
	}}
	img, stats, err := Compile(m.build(), opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if stats.FuncCount != 2 {
		t.Fatalf("FuncCount = %d, want 2 (the local function plus the adapter)", stats.FuncCount)
	}
	instrs := decodeAll(t, img.Blob)
	if countOp(instrs, tvm.OpEcalli) != 0 {
		t.Fatalf("adapter-bound import must not lower to ecalli")
	}
}

func TestCompileStartMustNotBeImport(t *testing.T) {
	var m moduleBuilder
	sigIdx := m.addType(sig(nil, nil))
	m.addImport("env", "init", sigIdx)
	m.addFunc(sigIdx, nil, nil)
	m.setStart(0) // function index 0 names the import

	_, _, err := Compile(m.build(), Options{Imports: map[ImportKey]ImportBinding{
		{Module: "env", Name: "init"}: {Ecalli: true, EcalliIdx: 1},
	}})
	ce, ok := err.(*CompileError)
	if !ok || ce.Kind != KindBackend {
		t.Fatalf("expected a KindBackend CompileError, got %T (%v)", err, err)
	}
}

func TestCompileBadMagicIsParseError(t *testing.T) {
	_, _, err := Compile([]byte("not-an-svm-module"), Options{})
	ce, ok := err.(*CompileError)
	if !ok {
		t.Fatalf("expected *CompileError, got %T (%v)", err, err)
	}
	if ce.Kind != KindParse {
		t.Fatalf("Kind = %v, want KindParse", ce.Kind)
	}
}

func TestCompileDeterministic(t *testing.T) {
	var m moduleBuilder
	i32i32_i32 := m.addType(sig([]byte{0, 0}, []byte{0}))
	ops := []byte{opcodeLocalGet}
	ops = append(ops, leb128U(0)...)
	ops = append(ops, opcodeLocalGet)
	ops = append(ops, leb128U(1)...)
	ops = append(ops, opcodeI32Add)
	m.addFunc(i32i32_i32, nil, ops)
	m.addExportFunc("add", 0)
	svm := m.build()

	img1, _, err := Compile(svm, Options{Optimize: OptimizeDefault})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	img2, _, err := Compile(svm, Options{Optimize: OptimizeDefault})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if string(img1.Blob) != string(img2.Blob) {
		t.Fatalf("expected bit-identical output across repeated compiles")
	}
}

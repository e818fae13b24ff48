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

import "svmtvm/tvm"

// The SVM binary format layers two distinct varint schemes: every
// section-level count, index, and length uses the module package's own
// var-u32 (the same scheme tvm.EncodeVarU32 implements, top two bits of
// the first byte are a continuation-byte count); a function body's
// operator stream uses standard LEB128 for its own indices and
// immediates. Mixing them up produces a binary the parser rejects, so
// this builder keeps the two firmly apart: svmVarU32 for the former,
// leb128U/leb128S for the latter. Global/element/data offsets are a
// third case again: a raw fixed-width little-endian integer, not
// either varint.

// Opcode numbers below mirror module.Opcode's iota ordering exactly
// (this package cannot import module's unexported parse internals, and
// importing the Opcode constants directly reads no clearer than the
// numbers they are).
const (
	opcodeBlock        = 2
	opcodeLoop         = 3
	opcodeIf           = 4
	opcodeElse         = 5
	opcodeEnd          = 6
	opcodeBr           = 7
	opcodeBrIf         = 8
	opcodeBrTable      = 9
	opcodeReturn       = 10
	opcodeCall         = 11
	opcodeCallIndirect = 12
	opcodeLocalGet     = 15
	opcodeLocalSet     = 16
	opcodeGlobalGet    = 18
	opcodeGlobalSet    = 19
	opcodeMemoryCopy   = 41
	opcodeMemoryFill   = 42
	opcodeI32Const     = 43
	opcodeI64Const     = 44
	opcodeI32Eq        = 46
	opcodeI32LtS       = 48
	opcodeI32GeS       = 54
	opcodeI32Add       = 67
	opcodeI32Sub       = 68
	opcodeI32Mul       = 69
	opcodeI32DivS      = 70
)

func svmVarU32(u uint32) []byte { return tvm.EncodeVarU32(u) }

func leb128U(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func leb128S(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		done := (v == 0 && !signBitSet) || (v == -1 && signBitSet)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			break
		}
	}
	return out
}

func le32(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

func le64(v int64) []byte {
	u := uint64(v)
	return []byte{
		byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24),
		byte(u >> 32), byte(u >> 40), byte(u >> 48), byte(u >> 56),
	}
}

func str(s string) []byte {
	out := svmVarU32(uint32(len(s)))
	return append(out, s...)
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, svmVarU32(uint32(len(body)))...)
	return append(out, body...)
}

// sig encodes a signature section entry: marker, params, results.
// types are ValType tags, 0 for i32 and 1 for i64.
func sig(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, svmVarU32(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, svmVarU32(uint32(len(results)))...)
	out = append(out, results...)
	return out
}

// constExprI32/I64 encode a global/element/data offset initializer: an
// operator byte, a raw fixed-width little-endian value (not LEB128,
// unlike the same constant appearing in a function body), and an end
// marker.
func constExprI32(v int32) []byte {
	out := []byte{opcodeI32Const}
	out = append(out, le32(v)...)
	return append(out, opcodeEnd)
}

func constExprI64(v int64) []byte {
	out := []byte{opcodeI64Const}
	out = append(out, le64(v)...)
	return append(out, opcodeEnd)
}

// funcBody wraps an operator stream with the locals-declaration header
// the code section expects: one single-entry group per declared local,
// for simplicity.
func funcBody(locals []byte, ops []byte) []byte {
	out := svmVarU32(uint32(len(locals)))
	for _, t := range locals {
		out = append(out, svmVarU32(1)...)
		out = append(out, t)
	}
	return append(out, ops...)
}

// moduleBuilder assembles section bodies in declaration order and
// renders the final SVM binary.
type moduleBuilder struct {
	types    [][]byte
	imports  [][3][]byte // module name, field name, type index varint
	funcSigs []uint32
	codes    [][]byte
	tables   []module_table
	memory   *module_memory
	globals  [][]byte
	exports  [][]byte
	elems    [][]byte
	datas    [][]byte
	hasStart bool
	start    uint32
}

type module_table struct{ min, max uint32; hasMax bool }
type module_memory struct{ min, max uint32; hasMax bool }

func (m *moduleBuilder) addType(s []byte) uint32 {
	m.types = append(m.types, s)
	return uint32(len(m.types) - 1)
}

func (m *moduleBuilder) addImport(mod, name string, typeIdx uint32) {
	m.imports = append(m.imports, [3][]byte{[]byte(mod), []byte(name), svmVarU32(typeIdx)})
}

func (m *moduleBuilder) addFunc(typeIdx uint32, locals []byte, ops []byte) {
	m.funcSigs = append(m.funcSigs, typeIdx)
	m.codes = append(m.codes, funcBody(locals, ops))
}

func (m *moduleBuilder) addGlobal(isI64 bool, mutable bool, init []byte) {
	t := byte(0)
	if isI64 {
		t = 1
	}
	mb := byte(0)
	if mutable {
		mb = 1
	}
	m.globals = append(m.globals, append([]byte{t, mb}, init...))
}

func (m *moduleBuilder) addExportFunc(name string, idx uint32) {
	e := str(name)
	e = append(e, 0) // ExportFunc
	e = append(e, svmVarU32(idx)...)
	m.exports = append(m.exports, e)
}

func (m *moduleBuilder) addTable(min uint32) {
	m.tables = append(m.tables, module_table{min: min})
}

func (m *moduleBuilder) addActiveElem(tableIdx uint32, offset int32, funcIdxs []uint32) {
	e := []byte{0} // active
	e = append(e, svmVarU32(tableIdx)...)
	e = append(e, constExprI32(offset)...)
	e = append(e, svmVarU32(uint32(len(funcIdxs)))...)
	for _, f := range funcIdxs {
		e = append(e, svmVarU32(f)...)
	}
	m.elems = append(m.elems, e)
}

func (m *moduleBuilder) addActiveData(memIdx uint32, offset int32, bytes []byte) {
	d := []byte{0} // active
	d = append(d, svmVarU32(memIdx)...)
	d = append(d, constExprI32(offset)...)
	d = append(d, svmVarU32(uint32(len(bytes)))...)
	d = append(d, bytes...)
	m.datas = append(m.datas, d)
}

func (m *moduleBuilder) setMemory(min uint32) {
	m.memory = &module_memory{min: min}
}

func (m *moduleBuilder) setStart(idx uint32) {
	m.hasStart, m.start = true, idx
}

func concatSections(chunks [][]byte) []byte {
	var body []byte
	body = append(body, svmVarU32(uint32(len(chunks)))...)
	for _, c := range chunks {
		body = append(body, c...)
	}
	return body
}

func (m *moduleBuilder) build() []byte {
	out := append([]byte{}, "SVM\x01"...)
	out = append(out, le32(1)...)

	if len(m.types) > 0 {
		out = append(out, section(1, concatSections(m.types))...)
	}
	if len(m.imports) > 0 {
		var body []byte
		body = append(body, svmVarU32(uint32(len(m.imports)))...)
		for _, imp := range m.imports {
			body = append(body, str(string(imp[0]))...)
			body = append(body, str(string(imp[1]))...)
			body = append(body, 0) // function import kind
			body = append(body, imp[2]...)
		}
		out = append(out, section(2, body)...)
	}
	if len(m.funcSigs) > 0 {
		var body []byte
		body = append(body, svmVarU32(uint32(len(m.funcSigs)))...)
		for _, idx := range m.funcSigs {
			body = append(body, svmVarU32(idx)...)
		}
		out = append(out, section(3, body)...)
	}
	if len(m.tables) > 0 {
		var body []byte
		body = append(body, svmVarU32(uint32(len(m.tables)))...)
		for _, t := range m.tables {
			body = append(body, 0x70, 0)
			body = append(body, svmVarU32(t.min)...)
		}
		out = append(out, section(4, body)...)
	}
	if m.memory != nil {
		var body []byte
		body = append(body, svmVarU32(1)...)
		body = append(body, 0)
		body = append(body, svmVarU32(m.memory.min)...)
		out = append(out, section(5, body)...)
	}
	if len(m.globals) > 0 {
		out = append(out, section(6, concatSections(m.globals))...)
	}
	if len(m.exports) > 0 {
		out = append(out, section(7, concatSections(m.exports))...)
	}
	if m.hasStart {
		out = append(out, section(8, svmVarU32(m.start))...)
	}
	if len(m.elems) > 0 {
		out = append(out, section(9, concatSections(m.elems))...)
	}
	if len(m.codes) > 0 {
		var body []byte
		body = append(body, svmVarU32(uint32(len(m.codes)))...)
		for _, c := range m.codes {
			body = append(body, svmVarU32(uint32(len(c)))...)
			body = append(body, c...)
		}
		out = append(out, section(10, body)...)
	}
	if len(m.datas) > 0 {
		out = append(out, section(11, concatSections(m.datas))...)
	}
	return out
}

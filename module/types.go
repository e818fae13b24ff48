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

// Package module defines the typed representation of a parsed SVM
// program and the parser that produces it from the SVM binary format.
package module

// ValType is an SVM value type. Only i32 and i64 are supported;
// floating-point and vector types are rejected at parse time.
type ValType uint8

const (
	I32 ValType = iota
	I64
)

func (t ValType) String() string {
	if t == I32 {
		return "i32"
	}
	return "i64"
}

// Signature is a fixed-arity tuple of parameter and result value types.
// At most two result values are supported (multi-value returns).
type Signature struct {
	Params  []ValType
	Results []ValType
}

// Import describes one imported function.
type Import struct {
	Module string
	Name   string
	Sig    Signature
}

// Function is a locally-defined function: its signature, declared
// locals (beyond the parameters, which double as locals 0..len(Params)-1),
// and its raw operator byte-sequence body.
type Function struct {
	Sig    Signature
	Locals []ValType
	Body   []byte
	Name   string // optional; the parser leaves it empty (name custom sections are not read)
}

// GlobalInit is a constant initializer: either an i32 or i64 constant.
type GlobalInit struct {
	Type  ValType
	Value int64
}

// Global is one module-level global variable.
type Global struct {
	Type    ValType
	Mutable bool
	Init    GlobalInit
}

// Limits bounds a memory or table's size, in pages (memory) or
// elements (table).
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// Memory is the module's single optional linear memory.
type Memory struct {
	Present bool
	Limits  Limits
}

// Table holds function-reference initializer entries (funcref only).
type Table struct {
	Limits Limits
}

// ElemSegment populates a table with function indices, either eagerly
// at a fixed offset (active) or left for the driver to bind later
// (passive) — supplementing the distilled spec's DataSegment-only
// active/passive split with the analogous table-side construct a real
// parser needs.
type ElemSegment struct {
	Active     bool
	TableIndex uint32
	Offset     GlobalInit
	FuncIdxs   []uint32
}

// DataSegment initializes a region of linear memory, either eagerly at
// a fixed offset (active) or left unbound for the runtime to place
// (passive).
type DataSegment struct {
	Active    bool
	MemIndex  uint32
	Offset    GlobalInit
	Bytes     []byte
}

// ExportKind distinguishes what namespace an Export's Index refers to.
type ExportKind uint8

const (
	ExportFunc ExportKind = iota
	ExportTable
	ExportMemory
	ExportGlobal
)

// Export names one module-internal index for external use.
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// CustomSection is a name + opaque payload the parser does not
// interpret but preserves, so a driver may inspect producer/name
// metadata without the compiler core depending on it.
type CustomSection struct {
	Name  string
	Bytes []byte
}

// Module is the typed result of parsing one SVM binary.
type Module struct {
	Types    []Signature
	Imports  []Import
	Funcs    []Function // locally defined functions only, in function-section order
	Tables   []Table
	Memory   Memory
	Globals  []Global
	Elems    []ElemSegment
	Datas    []DataSegment
	Exports  []Export
	HasStart bool
	Start    uint32
	Customs  []CustomSection
}

// FuncCount is the total function-index-space size: imports then locals.
func (m *Module) FuncCount() int {
	return len(m.Imports) + len(m.Funcs)
}

// FuncSignature resolves a function index (import or local) to its
// signature.
func (m *Module) FuncSignature(idx uint32) Signature {
	if int(idx) < len(m.Imports) {
		return m.Imports[idx].Sig
	}
	return m.Funcs[int(idx)-len(m.Imports)].Sig
}

// IsImport reports whether idx names an imported function.
func (m *Module) IsImport(idx uint32) bool {
	return int(idx) < len(m.Imports)
}

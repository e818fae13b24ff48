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
package module

const (
	magic   = "SVM\x01"
	version = uint32(1)
)

type sectionID byte

const (
	secCustom sectionID = iota
	secType
	secImport
	secFunction
	secTable
	secMemory
	secGlobal
	secExport
	secStart
	secElement
	secCode
	secData
)

// sectionOrder is the only legal non-decreasing order for non-custom
// sections; custom sections may appear anywhere.
var sectionOrder = []sectionID{
	secType, secImport, secFunction, secTable, secMemory,
	secGlobal, secExport, secStart, secElement, secCode, secData,
}

func sectionRank(id sectionID) int {
	for i, s := range sectionOrder {
		if s == id {
			return i
		}
	}
	return -1
}

// Parse walks an SVM binary and produces its typed Module. Unsupported
// features are rejected with UnsupportedFeatureError; malformed
// encoding or section-order violations are rejected with
// InvalidFormatError.
func Parse(svm []byte) (*Module, error) {
	c := &cursor{buf: svm}

	if len(svm) < len(magic)+4 {
		return nil, &InvalidFormatError{Offset: 0, Reason: "input too short for header"}
	}
	got, err := c.bytes(len(magic))
	if err != nil {
		return nil, err
	}
	if string(got) != magic {
		return nil, &InvalidFormatError{Offset: 0, Reason: "bad magic"}
	}
	ver, err := c.i32()
	if err != nil {
		return nil, err
	}
	if uint32(ver) != version {
		return nil, &InvalidFormatError{Offset: 4, Reason: "unsupported version"}
	}

	m := &Module{}
	lastRank := -1
	var funcSigIdx []uint32

	for !c.atEnd() {
		idByte, err := c.byte()
		if err != nil {
			return nil, err
		}
		id := sectionID(idByte)
		size, err := c.varU32()
		if err != nil {
			return nil, err
		}
		bodyStart := c.pos
		body, err := c.bytes(int(size))
		if err != nil {
			return nil, err
		}
		sc := &cursor{buf: body}

		if id != secCustom {
			rank := sectionRank(id)
			if rank < 0 {
				return nil, &InvalidFormatError{Offset: bodyStart - 1, Reason: "unknown section id"}
			}
			if rank <= lastRank {
				return nil, &InvalidFormatError{Offset: bodyStart - 1, Reason: "section out of order"}
			}
			lastRank = rank
		}

		switch id {
		case secCustom:
			name, err := sc.str()
			if err != nil {
				return nil, err
			}
			m.Customs = append(m.Customs, CustomSection{Name: name, Bytes: append([]byte(nil), sc.buf[sc.pos:]...)})
		case secType:
			if err := parseTypeSection(sc, m); err != nil {
				return nil, err
			}
		case secImport:
			if err := parseImportSection(sc, m); err != nil {
				return nil, err
			}
		case secFunction:
			funcSigIdx, err = parseFunctionSection(sc)
			if err != nil {
				return nil, err
			}
		case secTable:
			if err := parseTableSection(sc, m); err != nil {
				return nil, err
			}
		case secMemory:
			if err := parseMemorySection(sc, m); err != nil {
				return nil, err
			}
		case secGlobal:
			if err := parseGlobalSection(sc, m); err != nil {
				return nil, err
			}
		case secExport:
			if err := parseExportSection(sc, m); err != nil {
				return nil, err
			}
		case secStart:
			idx, err := sc.varU32()
			if err != nil {
				return nil, err
			}
			m.HasStart, m.Start = true, idx
		case secElement:
			if err := parseElementSection(sc, m); err != nil {
				return nil, err
			}
		case secCode:
			if err := parseCodeSection(sc, m, funcSigIdx); err != nil {
				return nil, err
			}
		case secData:
			if err := parseDataSection(sc, m); err != nil {
				return nil, err
			}
		default:
			return nil, &InvalidFormatError{Offset: bodyStart - 1, Reason: "unknown section id"}
		}
	}

	if len(funcSigIdx) != len(m.Funcs) {
		return nil, &InvalidFormatError{Offset: len(svm), Reason: "function section and code section count mismatch"}
	}
	return m, nil
}

func parseSignature(c *cursor) (Signature, error) {
	marker, err := c.byte()
	if err != nil {
		return Signature{}, err
	}
	if marker != 0x60 {
		return Signature{}, &InvalidFormatError{Offset: c.pos - 1, Reason: "expected signature marker"}
	}
	np, err := c.varU32()
	if err != nil {
		return Signature{}, err
	}
	params := make([]ValType, np)
	for i := range params {
		t, err := c.valType()
		if err != nil {
			return Signature{}, err
		}
		params[i] = t
	}
	nr, err := c.varU32()
	if err != nil {
		return Signature{}, err
	}
	if nr > 2 {
		return Signature{}, &InvalidFormatError{Offset: c.pos - 1, Reason: "at most two result values are supported"}
	}
	results := make([]ValType, nr)
	for i := range results {
		t, err := c.valType()
		if err != nil {
			return Signature{}, err
		}
		results[i] = t
	}
	return Signature{Params: params, Results: results}, nil
}

func parseTypeSection(c *cursor, m *Module) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	m.Types = make([]Signature, n)
	for i := range m.Types {
		sig, err := parseSignature(c)
		if err != nil {
			return err
		}
		m.Types[i] = sig
	}
	return nil
}

func parseImportSection(c *cursor, m *Module) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		modName, err := c.str()
		if err != nil {
			return err
		}
		field, err := c.str()
		if err != nil {
			return err
		}
		kind, err := c.byte()
		if err != nil {
			return err
		}
		if kind != 0 {
			return &UnsupportedFeatureError{Name: "non-function import"}
		}
		typeIdx, err := c.varU32()
		if err != nil {
			return err
		}
		if int(typeIdx) >= len(m.Types) {
			return &InvalidFormatError{Offset: c.pos, Reason: "import signature index out of range"}
		}
		m.Imports = append(m.Imports, Import{Module: modName, Name: field, Sig: m.Types[typeIdx]})
	}
	return nil
}

func parseFunctionSection(c *cursor) ([]uint32, error) {
	n, err := c.varU32()
	if err != nil {
		return nil, err
	}
	idx := make([]uint32, n)
	for i := range idx {
		v, err := c.varU32()
		if err != nil {
			return nil, err
		}
		idx[i] = v
	}
	return idx, nil
}

func parseTableSection(c *cursor, m *Module) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		elemType, err := c.byte()
		if err != nil {
			return err
		}
		if elemType != 0x70 {
			return &UnsupportedFeatureError{Name: "non-funcref table element type"}
		}
		lim, err := c.limits()
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, Table{Limits: lim})
	}
	return nil
}

func parseMemorySection(c *cursor, m *Module) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	if n > 1 {
		return &UnsupportedFeatureError{Name: "multi-memory"}
	}
	if n == 1 {
		lim, err := c.limits()
		if err != nil {
			return err
		}
		m.Memory = Memory{Present: true, Limits: lim}
	}
	return nil
}

func parseGlobalSection(c *cursor, m *Module) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		t, err := c.valType()
		if err != nil {
			return err
		}
		mutByte, err := c.byte()
		if err != nil {
			return err
		}
		init, err := c.constExpr()
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: t, Mutable: mutByte == 1, Init: init})
	}
	return nil
}

func parseExportSection(c *cursor, m *Module) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		name, err := c.str()
		if err != nil {
			return err
		}
		kind, err := c.byte()
		if err != nil {
			return err
		}
		idx, err := c.varU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: ExportKind(kind), Index: idx})
	}
	return nil
}

func parseElementSection(c *cursor, m *Module) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		flag, err := c.byte()
		if err != nil {
			return err
		}
		seg := ElemSegment{Active: flag == 0}
		if seg.Active {
			tblIdx, err := c.varU32()
			if err != nil {
				return err
			}
			offset, err := c.constExpr()
			if err != nil {
				return err
			}
			seg.TableIndex, seg.Offset = tblIdx, offset
		}
		count, err := c.varU32()
		if err != nil {
			return err
		}
		seg.FuncIdxs = make([]uint32, count)
		for j := range seg.FuncIdxs {
			idx, err := c.varU32()
			if err != nil {
				return err
			}
			seg.FuncIdxs[j] = idx
		}
		m.Elems = append(m.Elems, seg)
	}
	return nil
}

func parseDataSection(c *cursor, m *Module) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		flag, err := c.byte()
		if err != nil {
			return err
		}
		seg := DataSegment{Active: flag == 0}
		if seg.Active {
			memIdx, err := c.varU32()
			if err != nil {
				return err
			}
			offset, err := c.constExpr()
			if err != nil {
				return err
			}
			seg.MemIndex, seg.Offset = memIdx, offset
		}
		length, err := c.varU32()
		if err != nil {
			return err
		}
		data, err := c.bytes(int(length))
		if err != nil {
			return err
		}
		seg.Bytes = append([]byte(nil), data...)
		m.Datas = append(m.Datas, seg)
	}
	return nil
}

func parseCodeSection(c *cursor, m *Module, sigIdx []uint32) error {
	n, err := c.varU32()
	if err != nil {
		return err
	}
	if int(n) != len(sigIdx) {
		return &InvalidFormatError{Offset: c.pos, Reason: "code section count does not match function section"}
	}
	m.Funcs = make([]Function, n)
	for i := uint32(0); i < n; i++ {
		bodySize, err := c.varU32()
		if err != nil {
			return err
		}
		bodyStart := c.pos
		bodyBuf, err := c.bytes(int(bodySize))
		if err != nil {
			return err
		}
		bc := &cursor{buf: bodyBuf}

		groupCount, err := bc.varU32()
		if err != nil {
			return err
		}
		var locals []ValType
		for g := uint32(0); g < groupCount; g++ {
			count, err := bc.varU32()
			if err != nil {
				return err
			}
			t, err := bc.valType()
			if err != nil {
				return err
			}
			for k := uint32(0); k < count; k++ {
				locals = append(locals, t)
			}
		}

		if int(sigIdx[i]) >= len(m.Types) {
			return &InvalidFormatError{Offset: bodyStart, Reason: "function signature index out of range"}
		}
		if len(locals) > 1<<20 {
			return &InvalidFormatError{Offset: bodyStart, Reason: "local count bound exceeded"}
		}

		m.Funcs[i] = Function{
			Sig:    m.Types[sigIdx[i]],
			Locals: locals,
			Body:   append([]byte(nil), bc.buf[bc.pos:]...),
		}
	}
	return nil
}

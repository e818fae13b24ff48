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
	"errors"
	"fmt"

	"svmtvm/backend"
	"svmtvm/container"
	"svmtvm/layout"
	"svmtvm/module"
	"svmtvm/ssa"
)

// Compile runs the full pipeline over one SVM binary: parse, lower
// every function to SSA, optionally run the target-independent
// optimizer, select TVM instructions (resolving import-bound calls as
// it goes), optionally peephole-clean the result, lay out and
// fix up the combined code stream, and assemble the container image.
//
// An internal invariant violation — a recovered panic from an
// assertion this compiler trusts to never fire, or the optimizer's own
// OptimizerError — is reported as a CompileError with Kind
// KindInternal rather than propagated raw, since neither can be worked
// around by changing the input SVM binary.
func Compile(svm []byte, opts Options) (img *container.Image, stats *Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, stats = nil, nil
			err = &CompileError{Kind: KindInternal, Err: fmt.Errorf("%v", r)}
		}
	}()

	mod, perr := module.Parse(svm)
	if perr != nil {
		return nil, nil, &CompileError{Kind: KindParse, Err: perr}
	}

	d := &driver{mod: mod, opts: opts}
	return d.compile()
}

type driver struct {
	mod  *module.Module
	opts Options
}

func (d *driver) compile() (*container.Image, *Stats, error) {
	if d.mod.HasStart && d.mod.IsImport(d.mod.Start) {
		return nil, nil, &CompileError{Kind: KindBackend, Err: &backend.BackendError{
			Func:   "$start",
			Reason: "start function must not be an import",
		}}
	}

	imports, adapters, ierr := resolveImports(d.mod, d.opts.Imports)
	if ierr != nil {
		return nil, nil, &CompileError{Kind: KindBackend, Err: ierr}
	}

	units := make([]compileUnit, 0, len(d.mod.Funcs)+len(adapters))
	for i := range d.mod.Funcs {
		units = append(units, compileUnit{
			globalIdx: len(d.mod.Imports) + i,
			name:      d.mod.Funcs[i].Name,
			fn:        &d.mod.Funcs[i],
		})
	}
	units = append(units, adapters...)

	entryGlobalIdx := len(d.mod.Imports) // first local function, the fallback entry
	if d.mod.HasStart {
		entryGlobalIdx = int(d.mod.Start)
	}

	compiled := make([]*backend.Function, 0, len(units)+2)
	globalIdx := make([]int, 0, len(units)+2)

	compiled = append(compiled, entryStubFunction(d.mod, entryGlobalIdx))
	globalIdx = append(globalIdx, initGlobalIdx)

	compiled = append(compiled, trapStubFunction())
	globalIdx = append(globalIdx, trapGlobalIdx)

	for _, u := range units {
		selected, serr := d.compileOne(u, imports)
		if serr != nil {
			return nil, nil, serr
		}
		compiled = append(compiled, selected)
		globalIdx = append(globalIdx, u.globalIdx)
	}

	lr, lerr := layoutFunctions(compiled, globalIdx)
	if lerr != nil {
		return nil, nil, &CompileError{Kind: KindBackend, Err: lerr}
	}

	jumpTable, jerr := buildJumpTable(d.mod, lr.FuncOffset, lr.FuncOffset[trapGlobalIdx])
	if jerr != nil {
		return nil, nil, &CompileError{Kind: KindEncoder, Err: jerr}
	}

	mask := container.EncodeMask(len(lr.Code), lr.Starts)
	blob := container.EncodeBlob(container.Blob{JumpTable: jumpTable, Code: lr.Code, Mask: mask})

	ro := buildRO(d.mod)
	rw, rwLogical := buildRW(d.mod)

	result := container.Image{
		RO:           ro,
		RW:           rw,
		RWLogicalLen: rwLogical,
		HeapPages:    layout.HeapPages(initialPages(d.mod)),
		StackSize:    layout.DefaultStackSize,
		Blob:         blob,
	}
	if _, eerr := container.Encode(result); eerr != nil {
		return nil, nil, &CompileError{Kind: KindEncoder, Err: eerr}
	}

	return &result, &Stats{
		FuncCount:    len(units),
		CodeLen:      len(lr.Code),
		JumpTableLen: len(jumpTable),
	}, nil
}

// compileOne runs one function body through the frontend and backend,
// tagging every error with the phase and function it came from.
func (d *driver) compileOne(u compileUnit, imports map[int]backend.ImportCall) (*backend.Function, error) {
	ssaFn, ferr := ssa.BuildFunction(d.mod, u.fn, uint32(u.globalIdx))
	if ferr != nil {
		kind := KindFrontend
		var oerr *ssa.OptimizerError
		if errors.As(ferr, &oerr) {
			kind = KindInternal
		}
		return nil, &CompileError{Kind: kind, Func: u.name, Err: ferr}
	}

	if d.opts.Optimize != OptimizeNone {
		(&ssa.Optimizer{Func: ssaFn}).Ideal()
	}
	if verr := ssa.VerifyDom(ssaFn); verr != nil {
		return nil, &CompileError{Kind: KindInternal, Func: u.name, Err: verr}
	}

	selected, serr := backend.Select(ssaFn, u.globalIdx, imports)
	if serr != nil {
		return nil, &CompileError{Kind: KindBackend, Func: u.name, Err: serr}
	}
	if d.opts.Optimize != OptimizeNone {
		backend.Peephole(selected)
	}
	return selected, nil
}

func initialPages(mod *module.Module) uint32 {
	if !mod.Memory.Present {
		return 0
	}
	return mod.Memory.Limits.Min
}

// buildRO concatenates every passive data segment's bytes in
// declaration order. Nothing in this instruction set can address them
// (there is no memory.init/data.drop), so they exist only for a
// runtime or tool that wants to inspect a module's declared passive
// data; see DESIGN.md.
func buildRO(mod *module.Module) []byte {
	var buf []byte
	for _, seg := range mod.Datas {
		if seg.Active {
			continue
		}
		buf = append(buf, seg.Bytes...)
	}
	return buf
}

// buildRW materializes the SVM linear memory's initial image: every
// active data segment's bytes written at its declared offset, sized to
// the furthest byte any segment touches and then trimmed of trailing
// zeros. The runtime copies this at layout.MemoryBase and zero-extends
// it to the declared heap page count.
func buildRW(mod *module.Module) (trimmed []byte, logicalLen int) {
	end := 0
	for _, seg := range mod.Datas {
		if !seg.Active {
			continue
		}
		e := int(seg.Offset.Value) + len(seg.Bytes)
		if e > end {
			end = e
		}
	}
	if end == 0 {
		return nil, 0
	}
	buf := make([]byte, end)
	for _, seg := range mod.Datas {
		if !seg.Active {
			continue
		}
		copy(buf[seg.Offset.Value:], seg.Bytes)
	}
	return container.TrimTrailingZeros(buf)
}

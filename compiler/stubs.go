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
	"svmtvm/backend"
	"svmtvm/layout"
	"svmtvm/module"
	"svmtvm/tvm"
)

// trapGlobalIdx and initGlobalIdx are sentinel function-index-space
// slots for the two synthesized bodies below. Neither is a real
// SVM-declared function index (those are always >= 0 and < a module's
// FuncCount plus however many adapters resolveImports appended), so
// they can never collide with one.
const (
	trapGlobalIdx = -1
	initGlobalIdx = -2
)

// trapStubFunction is a single-instruction body that unconditionally
// traps. It is the jump table's default entry for a table slot no
// element segment ever populated.
func trapStubFunction() *backend.Function {
	return &backend.Function{
		Name:    "$trap",
		Instrs:  []tvm.Instr{{Op: tvm.OpTrap}},
		BlockOf: []int{0},
	}
}

// entryStubFunction synthesizes the code always placed first in the
// final stream: it writes every global's constant initializer to its
// GlobalAddr slot, then calls entryGlobalIdx (the module's start
// function if it declared one, otherwise its first local function)
// and returns once that call returns.
//
// The SVM format gives a loader no other way to learn which function
// to run first, and globals have no region of their own in the
// assembled image (see DESIGN.md); both gaps are filled by this one
// mechanism; a module with no globals still gets a correct, uniform
// one-instruction-longer-than-necessary preamble rather than a special
// case for "no globals to init."
func entryStubFunction(mod *module.Module, entryGlobalIdx int) *backend.Function {
	var instrs []tvm.Instr
	for i, g := range mod.Globals {
		addr := int64(layout.GlobalAddr(i))
		if g.Init.Type == module.I64 {
			instrs = append(instrs,
				tvm.Instr{Op: tvm.OpLoadImm32, Dest: backend.RegScratch1, Imm: addr},
				tvm.Instr{Op: tvm.OpLoadImm64, Dest: backend.RegScratch2, Imm: g.Init.Value},
				tvm.Instr{Op: tvm.OpStore64, Src1: backend.RegScratch1, Src2: backend.RegScratch2},
			)
		} else {
			instrs = append(instrs,
				tvm.Instr{Op: tvm.OpLoadImm32, Dest: backend.RegScratch1, Imm: addr},
				tvm.Instr{Op: tvm.OpLoadImm32, Dest: backend.RegScratch2, Imm: g.Init.Value},
				tvm.Instr{Op: tvm.OpStore32, Src1: backend.RegScratch1, Src2: backend.RegScratch2},
			)
		}
	}
	instrs = append(instrs,
		tvm.Instr{Op: tvm.OpCall, Imm: int64(entryGlobalIdx)},
		tvm.Instr{Op: tvm.OpReturn},
	)
	return &backend.Function{
		Name:    "$init",
		Instrs:  instrs,
		BlockOf: make([]int, len(instrs)),
	}
}

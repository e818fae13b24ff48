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
	"svmtvm/module"
)

// compileUnit is one function body this driver runs through the
// frontend/backend pipeline: either a module-declared local function
// or an adapter body standing in for an imported one. globalIdx is the
// function-index-space slot its compiled code is reachable at, used to
// resolve OpCall fixups and, for adapters, an index the module itself
// never declared.
type compileUnit struct {
	globalIdx int
	name      string
	fn        *module.Function
}

// resolveImports builds the per-import-index call resolution the
// backend needs and the list of adapter bodies that must additionally
// be compiled as ordinary local functions. Every import must have a
// binding in bindings; an unbound import is rejected rather than
// silently trapped at runtime.
func resolveImports(mod *module.Module, bindings map[ImportKey]ImportBinding) (map[int]backend.ImportCall, []compileUnit, error) {
	calls := make(map[int]backend.ImportCall, len(mod.Imports))
	var adapters []compileUnit
	nextGlobalIdx := mod.FuncCount()
	for i, imp := range mod.Imports {
		key := ImportKey{Module: imp.Module, Name: imp.Name}
		bind, ok := bindings[key]
		if !ok {
			return nil, nil, &backend.BackendError{
				Func:   imp.Module + "." + imp.Name,
				Reason: "import has no binding in Options.Imports",
			}
		}
		if bind.Adapter != nil {
			idx := nextGlobalIdx
			nextGlobalIdx++
			calls[i] = backend.ImportCall{Redirect: idx}
			adapters = append(adapters, compileUnit{
				globalIdx: idx,
				name:      "adapter$" + imp.Module + "." + imp.Name,
				fn:        bind.Adapter,
			})
			continue
		}
		calls[i] = backend.ImportCall{Ecalli: true, EcalliIdx: bind.EcalliIdx}
	}
	return calls, adapters, nil
}

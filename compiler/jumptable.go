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
	"svmtvm/container"
	"svmtvm/module"
)

// buildJumpTable materializes the table region call_indirect sites
// read through at runtime: one code offset per table slot, resolved
// from the module's active element segments. A slot no element
// segment ever touches defaults to trapOffset, so an indirect call
// through a hole faults cleanly instead of jumping into undefined
// code.
func buildJumpTable(mod *module.Module, funcOffset map[int]int, trapOffset int) ([]uint32, error) {
	if len(mod.Tables) == 0 {
		return nil, nil
	}
	size := mod.Tables[0].Limits.Min
	table := make([]uint32, size)
	for i := range table {
		table[i] = uint32(trapOffset)
	}
	for _, seg := range mod.Elems {
		if !seg.Active || seg.TableIndex != 0 {
			continue
		}
		base := uint32(seg.Offset.Value)
		for j, fidx := range seg.FuncIdxs {
			slot := base + uint32(j)
			if slot >= size {
				return nil, &container.EncoderError{Reason: "element segment writes past table bounds"}
			}
			off, ok := funcOffset[int(fidx)]
			if !ok {
				return nil, &container.EncoderError{Reason: "element segment references a function index with no compiled body"}
			}
			table[slot] = uint32(off)
		}
	}
	return table, nil
}

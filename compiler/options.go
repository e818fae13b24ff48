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

// Package compiler drives the full SVM-to-SPI pipeline: parse, build
// SSA per function, optimize, select TVM instructions, resolve every
// branch and call fixup once each function's position in the final
// code stream is known, and assemble the container image.
package compiler

import "svmtvm/module"

// OptimizeLevel selects whether the SSA optimizer and backend peephole
// pass run between frontend and encoding.
type OptimizeLevel string

const (
	OptimizeNone    OptimizeLevel = "none"
	OptimizeDefault OptimizeLevel = "default"
)

// ImportKey names one imported function by its two-part SVM import
// name, the only thing a binding can key off.
type ImportKey struct {
	Module string
	Name   string
}

// ImportBinding says how an import resolves. Exactly one of the two
// forms applies: Ecalli routes every call site straight to a host
// environment call; Adapter supplies a function body compiled like
// any other local function, with calls to the import redirected to it
// instead.
type ImportBinding struct {
	Ecalli    bool
	EcalliIdx int64
	Adapter   *module.Function
}

// Options configures one Compile call.
type Options struct {
	Optimize OptimizeLevel
	Imports  map[ImportKey]ImportBinding

	// TargetRuntimeVersion is accepted for the caller's own
	// compatibility bookkeeping but recorded nowhere: neither Stats nor
	// the entry header this package assembles (see container.Image) has
	// a version field to carry it; see DESIGN.md for why that's an
	// accepted gap rather than an oversight.
	TargetRuntimeVersion uint16
}

// Stats summarizes one successful compilation.
type Stats struct {
	FuncCount    int
	CodeLen      int
	JumpTableLen int
}

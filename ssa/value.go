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

// Package ssa builds and optimizes the SSA control-flow graph that sits
// between the parsed module and the backend: structured SVM operators
// go in, a sealed-block SSA function with a dominator tree comes out.
package ssa

import (
	"fmt"

	"svmtvm/module"
)

// Op is an SSA value opcode. Unlike the stack-based SVM operator set,
// every Op here takes explicit SSA value arguments.
type Op int

const (
	OpConst Op = iota
	OpParam
	OpPhi

	OpAdd
	OpSub
	OpMul
	OpDivS
	OpDivU
	OpRemS
	OpRemU
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShrS
	OpShrU

	OpEqz
	OpEq
	OpNe
	OpLtS
	OpLtU
	OpGtS
	OpGtU
	OpLeS
	OpLeU
	OpGeS
	OpGeU

	OpLoad   // memory load, Width+Signed describe the access
	OpStore  // memory store, Width describes the access
	OpMemSize
	OpMemGrow
	OpMemCopy
	OpMemFill

	OpGlobalGet
	OpGlobalSet

	OpExtend8S
	OpExtend16S
	OpExtend32S
	OpWrapI64
	OpExtendI32S
	OpExtendI32U

	OpCall
	OpCallIndirect
	OpCallResult2 // projects the second return value out of a two-result call
	OpSelect
	OpUnreachable
)

func (op Op) String() string {
	names := [...]string{
		"Const", "Param", "Phi",
		"Add", "Sub", "Mul", "DivS", "DivU", "RemS", "RemU",
		"And", "Or", "Xor", "Shl", "ShrS", "ShrU",
		"Eqz", "Eq", "Ne", "LtS", "LtU", "GtS", "GtU", "LeS", "LeU", "GeS", "GeU",
		"Load", "Store", "MemSize", "MemGrow", "MemCopy", "MemFill",
		"GlobalGet", "GlobalSet",
		"Extend8S", "Extend16S", "Extend32S", "WrapI64", "ExtendI32S", "ExtendI32U",
		"Call", "CallIndirect", "CallResult2", "Select", "Unreachable",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "<Unknown>"
}

// Value is one SSA value: a constant, a parameter, a phi, or the
// result of a primitive operation.
type Value struct {
	Id    int
	Op    Op
	Args  []*Value
	Type  module.ValType
	Block *Block

	Imm    int64  // OpConst payload, GlobalGet/Set index, Call/CallIndirect target or type index
	Width  int    // OpLoad/OpStore access width in bytes: 1, 2, 4, 8
	Signed bool   // OpLoad sign-extension flag
	MemOffset int64 // OpLoad/OpStore memarg offset, added to the address operand

	Uses     []*Value
	UseBlock []*Block
}

func (v *Value) String() string {
	s := fmt.Sprintf("v%d = %v<%v>", v.Id, v.Op, v.Type)
	for _, a := range v.Args {
		s += fmt.Sprintf(" v%d", a.Id)
	}
	if v.Op == OpConst || v.Op == OpGlobalGet || v.Op == OpGlobalSet || v.Op == OpCall {
		s += fmt.Sprintf(" #%d", v.Imm)
	}
	return s
}

func (v *Value) AddArg(args ...*Value) {
	for _, a := range args {
		v.Args = append(v.Args, a)
		a.Uses = append(a.Uses, v)
	}
}

func (v *Value) AddUseBlock(b *Block) {
	v.UseBlock = append(v.UseBlock, b)
	b.Ctrl = v
}

func (v *Value) RemoveUseBlock(b *Block) {
	for i, ub := range v.UseBlock {
		if ub == b {
			v.UseBlock = append(v.UseBlock[:i], v.UseBlock[i+1:]...)
			break
		}
	}
	b.Ctrl = nil
}

func (v *Value) RemoveUse(use *Value) {
	for i := len(v.Uses) - 1; i >= 0; i-- {
		if v.Uses[i] == use {
			v.Uses = append(v.Uses[:i], v.Uses[i+1:]...)
		}
	}
}

// RemoveUseOnce removes a single occurrence of use, for call sites
// that are about to re-add the value elsewhere (phi argument removal).
func (v *Value) RemoveUseOnce(use *Value) {
	for i, u := range v.Uses {
		if u == use {
			v.Uses = append(v.Uses[:i], v.Uses[i+1:]...)
			return
		}
	}
}

func (v *Value) ReplaceUses(to *Value) {
	for idx, use := range v.Uses {
		for i, arg := range use.Args {
			if arg == v {
				use.Args[i] = to
				v.Uses[idx] = nil
				to.Uses = append(to.Uses, use)
				break
			}
		}
	}
	n := v.Uses[:0]
	for _, u := range v.Uses {
		if u != nil {
			n = append(n, u)
		}
	}
	v.Uses = n
	if v.UseBlock != nil {
		to.UseBlock = append(to.UseBlock, v.UseBlock...)
		for _, ub := range to.UseBlock {
			ub.Ctrl = to
		}
		v.UseBlock = nil
	}
}

// BlockKind classifies a basic block by its terminator shape.
type BlockKind int

const (
	BlockIf BlockKind = iota
	BlockGoto
	BlockReturn
	BlockUnreachable
)

func (k BlockKind) String() string {
	switch k {
	case BlockIf:
		return "If"
	case BlockGoto:
		return "Goto"
	case BlockReturn:
		return "Return"
	default:
		return "Unreachable"
	}
}

type BlockHint int

const (
	HintNone BlockHint = iota
	HintEntry
	HintLoopHeader
)

// Block is a maximal straight-line sequence with a single entry and a
// single terminator.
type Block struct {
	Func   *Func
	Id     int
	Kind   BlockKind
	Values []*Value
	Succs  []*Block
	Preds  []*Block
	Ctrl   *Value
	Hint   BlockHint
	Returns []*Value // BlockReturn only: the function's return values, in order
}

func (b *Block) String() string {
	s := fmt.Sprintf("b%d:", b.Id)
	for _, val := range b.Values {
		s += fmt.Sprintf("\n  %v", val)
	}
	s += fmt.Sprintf("\n  %s", b.Kind)
	for _, succ := range b.Succs {
		s += fmt.Sprintf(" b%d", succ.Id)
	}
	return s
}

func (b *Block) WireTo(to *Block) {
	b.Succs = append(b.Succs, to)
	to.Preds = append(to.Preds, b)
}

func (b *Block) NewValue(op Op, t module.ValType, args ...*Value) *Value {
	v := &Value{Id: b.Func.nextValueID(), Op: op, Type: t, Block: b}
	v.AddArg(args...)
	if op == OpPhi {
		b.Values = append([]*Value{v}, b.Values...)
	} else {
		b.Values = append(b.Values, v)
	}
	return v
}

func (b *Block) RemoveValue(val *Value) {
	for i, v := range b.Values {
		if v == val {
			for _, arg := range val.Args {
				arg.RemoveUse(val)
			}
			b.Values = append(b.Values[:i], b.Values[i+1:]...)
			return
		}
	}
}

func (b *Block) RemoveSucc(succ *Block) bool {
	for i, s := range b.Succs {
		if s == succ {
			b.Succs = append(b.Succs[:i], b.Succs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Block) RemovePred(pred *Block) bool {
	for i, p := range b.Preds {
		if p == pred {
			b.Preds = append(b.Preds[:i], b.Preds[i+1:]...)
			return true
		}
	}
	return false
}

// Func is a function in SSA form.
type Func struct {
	nextVal   int
	nextBlock int
	Name      string
	Sig       module.Signature
	NumLocals int
	Entry     *Block
	Blocks    []*Block
}

func NewFunc(name string, sig module.Signature, numLocals int) *Func {
	return &Func{Name: name, Sig: sig, NumLocals: numLocals}
}

func (fn *Func) nextValueID() int {
	id := fn.nextVal
	fn.nextVal++
	return id
}

func (fn *Func) NewBlock(kind BlockKind) *Block {
	b := &Block{Func: fn, Id: fn.nextBlock, Kind: kind}
	fn.nextBlock++
	fn.Blocks = append(fn.Blocks, b)
	return b
}

func (fn *Func) RemoveBlock(b *Block) {
	for i := len(fn.Blocks) - 1; i >= 0; i-- {
		if fn.Blocks[i] == b {
			fn.Blocks = append(fn.Blocks[:i], fn.Blocks[i+1:]...)
			break
		}
	}
	for i := len(b.Values) - 1; i >= 0; i-- {
		b.RemoveValue(b.Values[i])
	}
}

func (fn *Func) String() string {
	s := fmt.Sprintf("func %s:\n", fn.Name)
	for _, b := range fn.Blocks {
		s += b.String() + "\n"
	}
	return s
}

// FindReachableBlocks returns the set of blocks reachable from entry.
func FindReachableBlocks(entry *Block) map[*Block]bool {
	reachable := make(map[*Block]bool)
	var walk func(*Block)
	walk = func(b *Block) {
		if reachable[b] {
			return
		}
		reachable[b] = true
		for _, s := range b.Succs {
			walk(s)
		}
	}
	walk(entry)
	return reachable
}

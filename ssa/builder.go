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
package ssa

import (
	"fmt"

	"svmtvm/module"
)

// == Frontend: structured SVM operators -> sealed-block SSA form ==
//
// Uses the same technique as "Simple and Efficient Construction of
// Static Single Assignment Form": a block is sealed once all of its
// predecessors are known, and lookups against an unsealed block create
// an orphan phi that is completed when the block is later sealed.
// Locals play the role the paper's local variables play; linear memory
// and globals are not promoted and are modeled as ordinary pinned
// operations instead.

type frameKind int

const (
	frameBlock frameKind = iota
	frameLoop
	frameIf
)

// controlFrame tracks one structured control construct (block/loop/if)
// while its body is being translated.
type controlFrame struct {
	kind        frameKind
	blockType   module.BlockType
	stackBase   int
	headerBlock *Block // loop only: the br/br_if continue target
	endBlock    *Block // block/if: break target; loop: fallthrough-exit target
	ifEntry     *Block // if only: the block holding the condition branch
	hasElse     bool
	endInputs   []*Value
	dead        bool // synthetic frame pushed while skipping unreachable code
}

// branchTarget returns the block a br/br_if/br_table referencing this
// frame jumps to: the loop header for loops (continue), the end block
// otherwise (break).
func (f *controlFrame) branchTarget() *Block {
	if f.kind == frameLoop {
		return f.headerBlock
	}
	return f.endBlock
}

// carriesResult reports whether branching to this frame's label also
// carries a value (break targets with a non-void type; loop headers in
// this frontend never take loop-carried parameters).
func (f *controlFrame) carriesResult() bool {
	return f.kind != frameLoop && !f.blockType.Void
}

type builder struct {
	fn   *Func
	mod  *module.Module
	name string

	names     map[*Block]map[int]*Value // per-block local-index -> value
	sealed    map[*Block]bool
	orphanPhi map[*Block]map[int]*Value

	current      *Block
	skipNextSeal bool

	stack           []*Value
	frames          []*controlFrame
	unreachableDepth int
}

// BuildFunction translates one module function into SSA form. funcIdx
// is the function's index in the module's combined import+local index
// space, used only for diagnostics.
func BuildFunction(mod *module.Module, fn *module.Function, funcIdx uint32) (*Func, error) {
	name := fn.Name
	if name == "" {
		name = "$func" + itoa(int(funcIdx))
	}

	ssaFn := NewFunc(name, fn.Sig, len(fn.Sig.Params)+len(fn.Locals))
	b := &builder{
		fn:        ssaFn,
		mod:       mod,
		name:      name,
		names:     make(map[*Block]map[int]*Value),
		sealed:    make(map[*Block]bool),
		orphanPhi: make(map[*Block]map[int]*Value),
	}

	entry := ssaFn.NewBlock(BlockReturn)
	entry.Hint = HintEntry
	ssaFn.Entry = entry
	b.recordBlock(entry)
	b.current = entry

	for i, t := range fn.Sig.Params {
		val := entry.NewValue(OpParam, t)
		val.Imm = int64(i)
		b.names[entry][i] = val
	}
	localBase := len(fn.Sig.Params)
	for i, t := range fn.Locals {
		zero := entry.NewValue(OpConst, t)
		b.names[entry][localBase+i] = zero
	}

	if err := b.translate(fn.Body); err != nil {
		return nil, err
	}

	final := b.current
	if final != nil {
		final.Kind = BlockReturn
		vals := make([]*Value, len(fn.Sig.Results))
		for i := len(vals) - 1; i >= 0; i-- {
			v, err := b.pop(len(fn.Body))
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		final.Returns = vals
	}
	// Every predecessor edge is known once the body is translated, so
	// any block still open is sealed here and no orphan phi is left
	// without its operands.
	for _, blk := range ssaFn.Blocks {
		b.sealBlock(blk)
	}
	if err := b.verify(); err != nil {
		return nil, err
	}
	return ssaFn, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	p := len(buf)
	for i > 0 {
		p--
		buf[p] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		p--
		buf[p] = '-'
	}
	return string(buf[p:])
}

func (b *builder) errf(offset int, format string, args ...interface{}) error {
	return &FrontendError{Func: b.name, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

func (b *builder) recordBlock(blocks ...*Block) {
	for _, blk := range blocks {
		b.names[blk] = make(map[int]*Value)
		b.orphanPhi[blk] = make(map[int]*Value)
	}
}

func (b *builder) isStopControl() bool { return b.current == nil }

func (b *builder) stopControl() { b.current = nil }

func (b *builder) setControl(to *Block) {
	if !b.skipNextSeal && b.current != nil {
		if !b.sealed[b.current] {
			b.sealBlock(b.current)
		}
	}
	b.skipNextSeal = false
	b.current = to
}

func (b *builder) sealBlock(blk *Block) {
	if blk == nil || b.sealed[blk] {
		return
	}
	for idx, phi := range b.orphanPhi[blk] {
		b.addPhiOperand(idx, phi)
	}
	b.sealed[blk] = true
}

// noType marks a phi whose type has not yet been resolved from an
// operand; ValType itself has no spare bit pattern reserved for this
// so the sentinel lives only in this package.
const noType = module.ValType(0xff)

// NoType is the same sentinel, exported for callers outside this
// package that need to tell a void call result (OpCall/OpCallIndirect
// with no return value) apart from a typed one.
const NoType = noType

func propagatePhiType(phi *Value, t module.ValType) {
	if t == noType || phi.Type != noType {
		return
	}
	phi.Type = t
	for _, use := range phi.Uses {
		if use.Op == OpPhi {
			propagatePhiType(use, t)
		}
	}
}

func (b *builder) addPhiOperand(idx int, phi *Value) {
	for _, pred := range phi.Block.Preds {
		in := b.lookupLocal(idx, pred)
		phi.AddArg(in)
		propagatePhiType(phi, in.Type)
	}
	b.eliminateTrivialPhi(phi)
}

func (b *builder) eliminateTrivialPhi(phi *Value) *Value {
	if len(phi.Args) == 1 {
		phi.ReplaceUses(phi.Args[0])
		return phi.Args[0]
	}
	var trivial *Value
	for _, arg := range phi.Args {
		if arg == phi {
			continue
		}
		if trivial == nil {
			trivial = arg
		} else if trivial != arg {
			return nil
		}
	}
	if trivial != nil {
		phi.ReplaceUses(trivial)
		return trivial
	}
	return nil
}

func (b *builder) lookupLocal(idx int, blk *Block) *Value {
	if v, ok := b.names[blk][idx]; ok {
		return v
	}
	if !b.sealed[blk] {
		val := blk.NewValue(OpPhi, noType)
		b.orphanPhi[blk][idx] = val
		b.names[blk][idx] = val
		return val
	} else if len(blk.Preds) == 1 {
		val := b.lookupLocal(idx, blk.Preds[0])
		b.names[blk][idx] = val
		return val
	}
	val := blk.NewValue(OpPhi, noType)
	b.names[blk][idx] = val
	b.addPhiOperand(idx, val)
	return val
}

func addEdge(from, to *Block) {
	if from == nil || to == nil {
		return
	}
	from.WireTo(to)
}

func (b *builder) push(v *Value) { b.stack = append(b.stack, v) }

func (b *builder) pop(offset int) (*Value, error) {
	if len(b.stack) == 0 {
		return nil, b.errf(offset, "operand stack underflow")
	}
	v := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return v, nil
}

func (b *builder) peek(offset int) (*Value, error) {
	if len(b.stack) == 0 {
		return nil, b.errf(offset, "operand stack underflow")
	}
	return b.stack[len(b.stack)-1], nil
}

func (b *builder) resolveLabel(depth uint32) *controlFrame {
	return b.frames[len(b.frames)-1-int(depth)]
}

// carryValue collects the branch-carried operand (if any) for a
// branch to target, in the order that target's predecessor edges are
// created, so frame.endInputs lines up with target.Preds for phi
// construction.
func (b *builder) carryValue(frame *controlFrame, offset int) (*Value, error) {
	if !frame.carriesResult() {
		return nil, nil
	}
	return b.peek(offset)
}

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
	"svmtvm/module"
)

var binOps = map[module.Opcode]Op{
	module.OpI32Add: OpAdd, module.OpI64Add: OpAdd,
	module.OpI32Sub: OpSub, module.OpI64Sub: OpSub,
	module.OpI32Mul: OpMul, module.OpI64Mul: OpMul,
	module.OpI32DivS: OpDivS, module.OpI64DivS: OpDivS,
	module.OpI32DivU: OpDivU, module.OpI64DivU: OpDivU,
	module.OpI32RemS: OpRemS, module.OpI64RemS: OpRemS,
	module.OpI32RemU: OpRemU, module.OpI64RemU: OpRemU,
	module.OpI32And: OpAnd, module.OpI64And: OpAnd,
	module.OpI32Or: OpOr, module.OpI64Or: OpOr,
	module.OpI32Xor: OpXor, module.OpI64Xor: OpXor,
	module.OpI32Shl: OpShl, module.OpI64Shl: OpShl,
	module.OpI32ShrS: OpShrS, module.OpI64ShrS: OpShrS,
	module.OpI32ShrU: OpShrU, module.OpI64ShrU: OpShrU,
}

var cmpOps = map[module.Opcode]Op{
	module.OpI32Eq: OpEq, module.OpI64Eq: OpEq,
	module.OpI32Ne: OpNe, module.OpI64Ne: OpNe,
	module.OpI32LtS: OpLtS, module.OpI64LtS: OpLtS,
	module.OpI32LtU: OpLtU, module.OpI64LtU: OpLtU,
	module.OpI32GtS: OpGtS, module.OpI64GtS: OpGtS,
	module.OpI32GtU: OpGtU, module.OpI64GtU: OpGtU,
	module.OpI32LeS: OpLeS, module.OpI64LeS: OpLeS,
	module.OpI32LeU: OpLeU, module.OpI64LeU: OpLeU,
	module.OpI32GeS: OpGeS, module.OpI64GeS: OpGeS,
	module.OpI32GeU: OpGeU, module.OpI64GeU: OpGeU,
}

// is64 reports whether opcode operates on i64 operands, used to pick
// the result type for ops whose opcode space duplicates i32/i64.
func is64(op module.Opcode) bool {
	switch op {
	case module.OpI64Add, module.OpI64Sub, module.OpI64Mul, module.OpI64DivS, module.OpI64DivU,
		module.OpI64RemS, module.OpI64RemU, module.OpI64And, module.OpI64Or, module.OpI64Xor,
		module.OpI64Shl, module.OpI64ShrS, module.OpI64ShrU, module.OpI64Eq, module.OpI64Ne,
		module.OpI64LtS, module.OpI64LtU, module.OpI64GtS, module.OpI64GtU, module.OpI64LeS,
		module.OpI64LeU, module.OpI64GeS, module.OpI64GeU, module.OpI64Eqz, module.OpI64Const,
		module.OpI64Load, module.OpI64Load8S, module.OpI64Load8U, module.OpI64Load16S,
		module.OpI64Load16U, module.OpI64Load32S, module.OpI64Load32U, module.OpI64Store,
		module.OpI64Store8, module.OpI64Store16, module.OpI64Store32, module.OpI64Extend8S,
		module.OpI64Extend16S, module.OpI64Extend32S, module.OpI64ExtendI32S, module.OpI64ExtendI32U:
		return true
	}
	return false
}

func loadWidth(op module.Opcode) (width int, signed bool) {
	switch op {
	case module.OpI32Load8S:
		return 1, true
	case module.OpI32Load8U:
		return 1, false
	case module.OpI32Load16S:
		return 2, true
	case module.OpI32Load16U:
		return 2, false
	case module.OpI32Load:
		return 4, false
	case module.OpI64Load8S:
		return 1, true
	case module.OpI64Load8U:
		return 1, false
	case module.OpI64Load16S:
		return 2, true
	case module.OpI64Load16U:
		return 2, false
	case module.OpI64Load32S:
		return 4, true
	case module.OpI64Load32U:
		return 4, false
	case module.OpI64Load:
		return 8, false
	}
	return 0, false
}

func storeWidth(op module.Opcode) int {
	switch op {
	case module.OpI32Store8, module.OpI64Store8:
		return 1
	case module.OpI32Store16, module.OpI64Store16:
		return 2
	case module.OpI32Store, module.OpI64Store32:
		return 4
	case module.OpI64Store:
		return 8
	}
	return 0
}

func (b *builder) translate(body []byte) error {
	r := &opReader{buf: body}
	for !r.atEnd() {
		offset := r.pos
		op := module.Opcode(r.byte())

		if b.unreachableDepth > 0 {
			if err := b.skipUnreachable(r, op, offset); err != nil {
				return err
			}
			continue
		}

		switch op {
		case module.OpUnreachable:
			b.current.Kind = BlockUnreachable
			b.stopControl()
			b.unreachableDepth = 1

		case module.OpNop:
			// no-op

		case module.OpBlock:
			bt := r.blockType()
			end := b.fn.NewBlock(BlockGoto)
			b.recordBlock(end)
			b.frames = append(b.frames, &controlFrame{kind: frameBlock, blockType: bt, stackBase: len(b.stack), endBlock: end})

		case module.OpLoop:
			bt := r.blockType()
			header := b.fn.NewBlock(BlockGoto)
			header.Hint = HintLoopHeader
			end := b.fn.NewBlock(BlockGoto)
			b.recordBlock(header, end)
			addEdge(b.current, header)
			b.current = header // header stays unsealed until its End
			b.frames = append(b.frames, &controlFrame{kind: frameLoop, blockType: bt, stackBase: len(b.stack), headerBlock: header, endBlock: end})

		case module.OpIf:
			bt := r.blockType()
			cond, err := b.pop(offset)
			if err != nil {
				return err
			}
			thenB := b.fn.NewBlock(BlockGoto)
			end := b.fn.NewBlock(BlockGoto)
			b.recordBlock(thenB, end)
			entry := b.current
			entry.Kind = BlockIf
			cond.AddUseBlock(entry)
			addEdge(entry, thenB)
			b.frames = append(b.frames, &controlFrame{kind: frameIf, blockType: bt, stackBase: len(b.stack), endBlock: end, ifEntry: entry})
			b.current = thenB
			b.recordBlock(thenB)

		case module.OpElse:
			frame := b.frames[len(b.frames)-1]
			if frame.kind != frameIf {
				return b.errf(offset, "else without matching if")
			}
			if b.current != nil {
				if frame.carriesResult() {
					v, err := b.pop(offset)
					if err != nil {
						return err
					}
					frame.endInputs = append(frame.endInputs, v)
				}
				addEdge(b.current, frame.endBlock)
			}
			elseB := b.fn.NewBlock(BlockGoto)
			b.recordBlock(elseB)
			addEdge(frame.ifEntry, elseB)
			b.stack = b.stack[:frame.stackBase]
			b.current = elseB
			frame.hasElse = true

		case module.OpEnd:
			if len(b.frames) == 0 {
				// function-level end; translate() returns normally afterward
				continue
			}
			if err := b.closeFrame(offset); err != nil {
				return err
			}

		case module.OpBr:
			depth := r.varU32()
			frame := b.resolveLabel(depth)
			v, err := b.carryValue(frame, offset)
			if err != nil {
				return err
			}
			addEdge(b.current, frame.branchTarget())
			if v != nil {
				frame.endInputs = append(frame.endInputs, v)
			}
			b.stopControl()
			b.unreachableDepth = 1

		case module.OpBrIf:
			depth := r.varU32()
			cond, err := b.pop(offset)
			if err != nil {
				return err
			}
			frame := b.resolveLabel(depth)
			v, err := b.carryValue(frame, offset)
			if err != nil {
				return err
			}
			entry := b.current
			entry.Kind = BlockIf
			cond.AddUseBlock(entry)
			addEdge(entry, frame.branchTarget())
			if v != nil {
				frame.endInputs = append(frame.endInputs, v)
			}
			next := b.fn.NewBlock(BlockGoto)
			b.recordBlock(next)
			addEdge(entry, next)
			b.current = next

		case module.OpBrTable:
			count := r.varU32()
			labels := make([]uint32, count)
			for i := range labels {
				labels[i] = r.varU32()
			}
			defaultLabel := r.varU32()
			idx, err := b.pop(offset)
			if err != nil {
				return err
			}
			for i, depth := range labels {
				frame := b.resolveLabel(depth)
				v, err := b.carryValue(frame, offset)
				if err != nil {
					return err
				}
				cur := b.current
				cst := cur.NewValue(OpConst, module.I32)
				cst.Imm = int64(i)
				cmp := cur.NewValue(OpEq, module.I32, idx, cst)
				cur.Kind = BlockIf
				cmp.AddUseBlock(cur)
				addEdge(cur, frame.branchTarget())
				if v != nil {
					frame.endInputs = append(frame.endInputs, v)
				}
				next := b.fn.NewBlock(BlockGoto)
				b.recordBlock(next)
				addEdge(cur, next)
				b.current = next
			}
			defFrame := b.resolveLabel(defaultLabel)
			v, err := b.carryValue(defFrame, offset)
			if err != nil {
				return err
			}
			addEdge(b.current, defFrame.branchTarget())
			if v != nil {
				defFrame.endInputs = append(defFrame.endInputs, v)
			}
			b.stopControl()
			b.unreachableDepth = 1

		case module.OpReturn:
			if err := b.emitReturn(offset); err != nil {
				return err
			}
			b.unreachableDepth = 1

		case module.OpCall:
			idx := r.varU32()
			if err := b.emitCall(idx, offset); err != nil {
				return err
			}

		case module.OpCallIndirect:
			typeIdx := r.varU32()
			r.varU32() // table index, single table only
			if err := b.emitCallIndirect(typeIdx, offset); err != nil {
				return err
			}

		case module.OpDrop:
			if _, err := b.pop(offset); err != nil {
				return err
			}

		case module.OpSelect:
			cond, err := b.pop(offset)
			if err != nil {
				return err
			}
			f, err := b.pop(offset)
			if err != nil {
				return err
			}
			t, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpSelect, t.Type, t, f, cond))

		case module.OpLocalGet:
			idx := r.varU32()
			b.push(b.lookupLocal(int(idx), b.current))

		case module.OpLocalSet:
			idx := r.varU32()
			v, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.names[b.current][int(idx)] = v

		case module.OpLocalTee:
			idx := r.varU32()
			v, err := b.peek(offset)
			if err != nil {
				return err
			}
			b.names[b.current][int(idx)] = v

		case module.OpGlobalGet:
			idx := r.varU32()
			if int(idx) >= len(b.mod.Globals) {
				return b.errf(offset, "global index out of range")
			}
			v := b.current.NewValue(OpGlobalGet, b.mod.Globals[idx].Type)
			v.Imm = int64(idx)
			b.push(v)

		case module.OpGlobalSet:
			idx := r.varU32()
			val, err := b.pop(offset)
			if err != nil {
				return err
			}
			v := b.current.NewValue(OpGlobalSet, val.Type, val)
			v.Imm = int64(idx)

		case module.OpI32Const:
			n := r.varI64()
			v := b.current.NewValue(OpConst, module.I32)
			v.Imm = n
			b.push(v)

		case module.OpI64Const:
			n := r.varI64()
			v := b.current.NewValue(OpConst, module.I64)
			v.Imm = n
			b.push(v)

		case module.OpI32Eqz, module.OpI64Eqz:
			v, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpEqz, module.I32, v))

		case module.OpI32WrapI64:
			v, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpWrapI64, module.I32, v))

		case module.OpI64ExtendI32S:
			v, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpExtendI32S, module.I64, v))

		case module.OpI64ExtendI32U:
			v, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpExtendI32U, module.I64, v))

		case module.OpI32Extend8S, module.OpI64Extend8S:
			v, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpExtend8S, v.Type, v))

		case module.OpI32Extend16S, module.OpI64Extend16S:
			v, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpExtend16S, v.Type, v))

		case module.OpI64Extend32S:
			v, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpExtend32S, module.I64, v))

		case module.OpMemorySize:
			b.push(b.current.NewValue(OpMemSize, module.I32))

		case module.OpMemoryGrow:
			delta, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.push(b.current.NewValue(OpMemGrow, module.I32, delta))

		case module.OpMemoryCopy:
			n, err := b.pop(offset)
			if err != nil {
				return err
			}
			src, err := b.pop(offset)
			if err != nil {
				return err
			}
			dst, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.current.NewValue(OpMemCopy, module.I32, dst, src, n)

		case module.OpMemoryFill:
			n, err := b.pop(offset)
			if err != nil {
				return err
			}
			val, err := b.pop(offset)
			if err != nil {
				return err
			}
			dst, err := b.pop(offset)
			if err != nil {
				return err
			}
			b.current.NewValue(OpMemFill, module.I32, dst, val, n)

		default:
			if ssaOp, ok := binOps[op]; ok {
				if err := b.emitBinary(ssaOp, is64(op), offset); err != nil {
					return err
				}
				continue
			}
			if ssaOp, ok := cmpOps[op]; ok {
				if err := b.emitCompare(ssaOp, offset); err != nil {
					return err
				}
				continue
			}
			if w, signed := loadWidth(op); w > 0 {
				if err := b.emitLoad(w, signed, is64(op), r.memarg(), offset); err != nil {
					return err
				}
				continue
			}
			if w := storeWidth(op); w > 0 {
				if err := b.emitStore(w, r.memarg(), offset); err != nil {
					return err
				}
				continue
			}
			return b.errf(offset, "unsupported opcode %d", op)
		}
	}
	return nil
}

// skipUnreachable parses just enough of a dead-code opcode to keep the
// operator stream and control-frame nesting in sync, without building
// any SSA values for it, until the matching else/end revives or closes
// the frame that went unreachable.
func (b *builder) skipUnreachable(r *opReader, op module.Opcode, offset int) error {
	switch op {
	case module.OpBlock, module.OpLoop, module.OpIf:
		r.blockType()
		b.frames = append(b.frames, &controlFrame{dead: true})
		b.unreachableDepth++
	case module.OpElse:
		if b.unreachableDepth == 1 {
			frame := b.frames[len(b.frames)-1]
			if frame.dead {
				return b.errf(offset, "else without matching if")
			}
			elseB := b.fn.NewBlock(BlockGoto)
			b.recordBlock(elseB)
			addEdge(frame.ifEntry, elseB)
			b.stack = b.stack[:frame.stackBase]
			b.current = elseB
			frame.hasElse = true
			b.unreachableDepth = 0
		}
	case module.OpEnd:
		frame := b.frames[len(b.frames)-1]
		if b.unreachableDepth == 1 && !frame.dead {
			b.unreachableDepth = 0
			return b.closeFrame(offset)
		}
		b.frames = b.frames[:len(b.frames)-1]
		b.unreachableDepth--
	case module.OpBrTable:
		count := r.varU32()
		for i := uint32(0); i < count; i++ {
			r.varU32()
		}
		r.varU32()
	case module.OpBr, module.OpBrIf, module.OpLocalGet, module.OpLocalSet, module.OpLocalTee,
		module.OpGlobalGet, module.OpGlobalSet, module.OpCall, module.OpMemoryGrow:
		r.varU32()
	case module.OpCallIndirect:
		r.varU32()
		r.varU32()
	case module.OpI32Const, module.OpI64Const:
		r.varI64()
	default:
		if w, _ := loadWidth(op); w > 0 {
			r.memarg()
		} else if w := storeWidth(op); w > 0 {
			r.memarg()
		}
		// all other dead opcodes (arithmetic, drop, select, nop,
		// unreachable, memory.size/copy/fill) carry no immediates
	}
	return nil
}

func (b *builder) emitBinary(op Op, wide bool, offset int) error {
	right, err := b.pop(offset)
	if err != nil {
		return err
	}
	left, err := b.pop(offset)
	if err != nil {
		return err
	}
	t := module.I32
	if wide {
		t = module.I64
	}
	b.push(b.current.NewValue(op, t, left, right))
	return nil
}

func (b *builder) emitCompare(op Op, offset int) error {
	right, err := b.pop(offset)
	if err != nil {
		return err
	}
	left, err := b.pop(offset)
	if err != nil {
		return err
	}
	b.push(b.current.NewValue(op, module.I32, left, right))
	return nil
}

func (b *builder) emitLoad(width int, signed, wide bool, off int64, offset int) error {
	addr, err := b.pop(offset)
	if err != nil {
		return err
	}
	t := module.I32
	if wide {
		t = module.I64
	}
	v := b.current.NewValue(OpLoad, t, addr)
	v.Width, v.Signed, v.MemOffset = width, signed, off
	b.push(v)
	return nil
}

func (b *builder) emitStore(width int, off int64, offset int) error {
	val, err := b.pop(offset)
	if err != nil {
		return err
	}
	addr, err := b.pop(offset)
	if err != nil {
		return err
	}
	v := b.current.NewValue(OpStore, val.Type, addr, val)
	v.Width, v.MemOffset = width, off
	return nil
}

func (b *builder) emitReturn(offset int) error {
	n := len(b.fn.Sig.Results)
	vals := make([]*Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := b.pop(offset)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	blk := b.current
	blk.Kind = BlockReturn
	blk.Returns = vals
	b.stopControl()
	return nil
}

func (b *builder) emitCall(idx uint32, offset int) error {
	if int(idx) >= b.mod.FuncCount() {
		return b.errf(offset, "call target out of range")
	}
	sig := b.mod.FuncSignature(idx)
	args := make([]*Value, len(sig.Params))
	for i := len(sig.Params) - 1; i >= 0; i-- {
		v, err := b.pop(offset)
		if err != nil {
			return err
		}
		args[i] = v
	}
	var resultType module.ValType = noType
	if len(sig.Results) > 0 {
		resultType = sig.Results[0]
	}
	call := b.current.NewValue(OpCall, resultType, args...)
	call.Imm = int64(idx)
	if len(sig.Results) >= 1 {
		b.push(call)
	}
	if len(sig.Results) == 2 {
		proj := b.current.NewValue(OpCallResult2, sig.Results[1], call)
		b.push(proj)
	}
	return nil
}

func (b *builder) emitCallIndirect(typeIdx uint32, offset int) error {
	if int(typeIdx) >= len(b.mod.Types) {
		return b.errf(offset, "type index out of range")
	}
	sig := b.mod.Types[typeIdx]
	tableIdx, err := b.pop(offset)
	if err != nil {
		return err
	}
	args := make([]*Value, 0, len(sig.Params)+1)
	params := make([]*Value, len(sig.Params))
	for i := len(sig.Params) - 1; i >= 0; i-- {
		v, err := b.pop(offset)
		if err != nil {
			return err
		}
		params[i] = v
	}
	args = append(args, tableIdx)
	args = append(args, params...)

	var resultType module.ValType = noType
	if len(sig.Results) > 0 {
		resultType = sig.Results[0]
	}
	call := b.current.NewValue(OpCallIndirect, resultType, args...)
	call.Imm = int64(typeIdx)
	if len(sig.Results) >= 1 {
		b.push(call)
	}
	if len(sig.Results) == 2 {
		proj := b.current.NewValue(OpCallResult2, sig.Results[1], call)
		b.push(proj)
	}
	return nil
}

// mergeValue produces the value flowing out of a closed frame: the
// lone carried input directly if the end block has a single
// predecessor, otherwise a phi built in predecessor order.
func (b *builder) mergeValue(frame *controlFrame) *Value {
	end := frame.endBlock
	if len(end.Preds) <= 1 {
		if len(frame.endInputs) > 0 {
			return frame.endInputs[0]
		}
		return end.NewValue(OpConst, frame.blockType.Result)
	}
	phi := end.NewValue(OpPhi, frame.blockType.Result)
	for _, v := range frame.endInputs {
		phi.AddArg(v)
	}
	return phi
}

func (b *builder) closeFrame(offset int) error {
	frame := b.frames[len(b.frames)-1]
	b.frames = b.frames[:len(b.frames)-1]

	switch frame.kind {
	case frameBlock:
		if b.current != nil {
			if frame.carriesResult() {
				v, err := b.pop(offset)
				if err != nil {
					return err
				}
				frame.endInputs = append(frame.endInputs, v)
			}
			addEdge(b.current, frame.endBlock)
		}
	case frameLoop:
		if b.current != nil {
			addEdge(b.current, frame.endBlock)
		}
		b.sealBlock(frame.headerBlock)
	case frameIf:
		if !frame.hasElse {
			addEdge(frame.ifEntry, frame.endBlock)
		}
		if b.current != nil {
			if frame.carriesResult() {
				v, err := b.pop(offset)
				if err != nil {
					return err
				}
				frame.endInputs = append(frame.endInputs, v)
			}
			addEdge(b.current, frame.endBlock)
		}
	}

	b.sealBlock(frame.endBlock)
	b.stack = b.stack[:frame.stackBase]
	b.current = frame.endBlock
	if frame.carriesResult() {
		b.push(b.mergeValue(frame))
	}
	return nil
}

func (b *builder) verify() error {
	if err := VerifyDom(b.fn); err != nil {
		return err
	}
	for _, blk := range b.fn.Blocks {
		for _, val := range blk.Values {
			if val.Op == OpPhi && len(val.Args) != len(blk.Preds) {
				return &OptimizerError{Func: b.name, Reason: "phi argument count does not match predecessor count"}
			}
		}
	}
	return nil
}

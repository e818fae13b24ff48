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

import "fmt"

// DomTree is computed by the classic iterative dataflow fixpoint (see
// "Graph-theoretic constructs for program flow analysis"): O(n^2) but
// simple, and function bodies here are small.
type DomTree struct {
	Func *Func
	Dom  map[*Block][]*Block
}

func (dt *DomTree) IsDominate(a, b *Block) bool {
	for _, d := range dt.Dom[b] {
		if d == a {
			return true
		}
	}
	return false
}

func (dt *DomTree) IsSDominate(a, b *Block) bool {
	return dt.IsDominate(a, b) && a != b
}

func intersect(a, b []*Block) []*Block {
	if len(a) > len(b) {
		a, b = b, a
	}
	res := make([]*Block, 0, len(a))
	for _, x := range a {
		for _, y := range b {
			if x == y {
				res = append(res, x)
				break
			}
		}
	}
	return res
}

func union(a, b []*Block) []*Block {
	m := make(map[*Block]bool)
	for _, x := range a {
		m[x] = true
	}
	for _, x := range b {
		m[x] = true
	}
	res := make([]*Block, 0, len(m))
	for x := range m {
		res = append(res, x)
	}
	return res
}

func BuildDomTree(fn *Func) *DomTree {
	dom := make(map[*Block][]*Block, len(fn.Blocks))
	dom[fn.Entry] = []*Block{fn.Entry}
	for _, b := range fn.Blocks {
		if b != fn.Entry {
			dom[b] = fn.Blocks
		}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			if b == fn.Entry {
				continue
			}
			var newDom []*Block
			if len(b.Preds) > 0 {
				newDom = dom[b.Preds[0]]
				for _, pred := range b.Preds[1:] {
					newDom = intersect(newDom, dom[pred])
				}
			}
			newDom = union(newDom, []*Block{b})
			if len(newDom) != len(dom[b]) {
				dom[b] = newDom
				changed = true
			}
		}
	}
	return &DomTree{Func: fn, Dom: dom}
}

// VerifyDom checks that every definition dominates its uses, directly
// (for ordinary uses) or through the matching predecessor edge (for
// phi operands).
func VerifyDom(fn *Func) error {
	dt := BuildDomTree(fn)
	for _, b := range fn.Blocks {
		for _, val := range b.Values {
			for _, use := range val.Uses {
				if use.Op == OpPhi {
					for i, pred := range use.Block.Preds {
						if i >= len(use.Args) {
							continue
						}
						arg := use.Args[i]
						if !dt.IsDominate(arg.Block, pred) {
							return &OptimizerError{Func: fn.Name, Reason: fmt.Sprintf(
								"b%d does not dominate b%d for phi operand v%d", arg.Block.Id, pred.Id, arg.Id)}
						}
					}
					continue
				}
				if !dt.IsDominate(val.Block, use.Block) {
					return &OptimizerError{Func: fn.Name, Reason: fmt.Sprintf(
						"def v%d(b%d) does not dominate use v%d(b%d)", val.Id, val.Block.Id, use.Id, use.Block.Id)}
				}
			}
		}
	}
	return nil
}

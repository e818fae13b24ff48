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

// Package container assembles the TVM program blob and the outer SPI
// image, the self-contained file the target runtime loads directly.
package container

import (
	"encoding/binary"
	"svmtvm/tvm"
	"svmtvm/utils"
)

// Blob is the inner code artifact: a jump table, the code bytes, and
// the basic-block mask.
type Blob struct {
	JumpTable []uint32 // code offsets, one per dynamic-branch target
	Code      []byte
	Mask      []byte // basic-block mask bytes, see EncodeMask
}

// jumpItemWidth returns the minimal byte width (1, 2, or 4) sufficient
// to hold any entry of table.
func jumpItemWidth(table []uint32) int {
	var max uint32
	for _, v := range table {
		if v > max {
			max = v
		}
	}
	switch {
	case max < 1<<8:
		return 1
	case max < 1<<16:
		return 2
	default:
		return 4
	}
}

func appendLE(buf []byte, v uint32, width int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b[:width]...)
}

// EncodeBlob writes the program blob: var-u32(jump table length),
// item_bytes, var-u32(code length), jump table entries, code bytes,
// and the basic-block mask.
func EncodeBlob(b Blob) []byte {
	itemBytes := jumpItemWidth(b.JumpTable)

	out := tvm.EncodeVarU32(uint32(len(b.JumpTable)))
	out = append(out, byte(itemBytes))
	out = append(out, tvm.EncodeVarU32(uint32(len(b.Code)))...)
	for _, off := range b.JumpTable {
		out = appendLE(out, off, itemBytes)
	}
	out = append(out, b.Code...)
	out = append(out, b.Mask...)
	return out
}

// EncodeMask builds the basic-block mask for a code stream of
// codeLen bytes given the set of instruction-start offsets: one bit
// per code byte, set only at instruction starts.
func EncodeMask(codeLen int, starts []int) []byte {
	bm := utils.NewBitMap(codeLen)
	for _, s := range starts {
		bm.Set(s)
	}
	return bm.Bytes()
}

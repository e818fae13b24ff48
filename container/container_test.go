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
package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBlobRoundTripShape(t *testing.T) {
	b := Blob{
		JumpTable: []uint32{0, 4, 300},
		Code:      []byte{0x01, 0x02, 0x03, 0x04},
		Mask:      EncodeMask(4, []int{0, 2}),
	}
	out := EncodeBlob(b)
	require.NotEmpty(t, out)
	// jump table length = 3 (fits in one varint byte), item width = 2 (300 needs 2 bytes)
	assert.Equal(t, byte(3), out[0])
	assert.Equal(t, byte(2), out[1])
}

func TestJumpItemWidthPicksMinimalSize(t *testing.T) {
	assert.Equal(t, 1, jumpItemWidth([]uint32{0, 10, 255}))
	assert.Equal(t, 2, jumpItemWidth([]uint32{0, 256, 65535}))
	assert.Equal(t, 4, jumpItemWidth([]uint32{65536}))
}

func TestEncodeMaskMarksInstructionStarts(t *testing.T) {
	mask := EncodeMask(10, []int{0, 3, 7})
	assert.Equal(t, byte(1|1<<3|1<<7), mask[0])
}

func TestTrimTrailingZeros(t *testing.T) {
	trimmed, logical := TrimTrailingZeros([]byte{1, 2, 0, 0, 0})
	assert.Equal(t, []byte{1, 2}, trimmed)
	assert.Equal(t, 5, logical)

	trimmed, logical = TrimTrailingZeros([]byte{0, 0, 0})
	assert.Equal(t, []byte{}, trimmed)
	assert.Equal(t, 3, logical)
}

func TestEncodeImageHeaderLayout(t *testing.T) {
	rw, logical := TrimTrailingZeros([]byte{9, 9, 0, 0})
	img := Image{
		RO:           []byte{1, 2, 3},
		RW:           rw,
		RWLogicalLen: logical,
		HeapPages:    16,
		StackSize:    4096,
		Blob:         []byte{0xAA, 0xBB},
	}
	out, err := Encode(img)
	require.NoError(t, err)

	hdr, err := DecodeHeader(out)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), hdr.ROLen)
	assert.Equal(t, uint32(4), hdr.RWLen)
	assert.Equal(t, uint16(16), hdr.HeapPages)
	assert.Equal(t, uint32(4096), hdr.StackSize)

	roStart := 11
	assert.Equal(t, []byte{1, 2, 3}, out[roStart:roStart+3])
	rwStart := roStart + 3
	assert.Equal(t, rw, out[rwStart:rwStart+len(rw)])
	blobLenOff := rwStart + len(rw)
	assert.Equal(t, []byte{2, 0, 0, 0}, out[blobLenOff:blobLenOff+4])
	assert.Equal(t, []byte{0xAA, 0xBB}, out[blobLenOff+4:])
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	_, err := Encode(Image{RO: make([]byte, maxU24+1)})
	require.Error(t, err)
	var ee *EncoderError
	assert.ErrorAs(t, err, &ee)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

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
	"encoding/binary"
	"fmt"
)

// maxU24 bounds the three-byte length/size fields of the entry header.
const maxU24 = 1<<24 - 1

// EncoderError reports an SPI image assembly failure: a data segment
// placed out of its region's range, or a blob too large to describe in
// the fixed-width header fields.
type EncoderError struct {
	Reason string
}

func (e *EncoderError) Error() string { return "encoder: " + e.Reason }

// Image is the fully assembled SPI container: entry header fields, RO
// and RW data, and the program blob.
type Image struct {
	RO             []byte
	RW             []byte // trailing zeros already trimmed by the caller
	RWLogicalLen   int    // untrimmed length, recorded in the header
	HeapPages      uint16
	StackSize      uint32
	Blob           []byte
}

// TrimTrailingZeros returns rw with trailing zero bytes removed and
// the original (logical) length. The runtime zero-extends RW on load,
// so dropping trailing zeros never changes observable behavior.
func TrimTrailingZeros(rw []byte) (trimmed []byte, logicalLen int) {
	logicalLen = len(rw)
	end := len(rw)
	for end > 0 && rw[end-1] == 0 {
		end--
	}
	return rw[:end], logicalLen
}

// Encode writes the bit-exact SPI image: the little-endian entry
// header (ro_len:u24 | rw_len:u24 | heap_pages:u16 | stack_size:u24),
// RO bytes, RW bytes, blob_len:u32, blob bytes. rw_len in the header
// is the untrimmed logical length; RW itself may be shorter.
func Encode(img Image) ([]byte, error) {
	if len(img.RO) > maxU24 {
		return nil, &EncoderError{Reason: fmt.Sprintf("RO data length %d exceeds u24", len(img.RO))}
	}
	if img.RWLogicalLen > maxU24 {
		return nil, &EncoderError{Reason: fmt.Sprintf("RW data length %d exceeds u24", img.RWLogicalLen)}
	}
	if img.StackSize > maxU24 {
		return nil, &EncoderError{Reason: fmt.Sprintf("stack size %d exceeds u24", img.StackSize)}
	}
	if len(img.Blob) > 1<<32-1 {
		return nil, &EncoderError{Reason: "blob too large"}
	}

	out := make([]byte, 0, 11+len(img.RO)+len(img.RW)+4+len(img.Blob))
	out = appendU24(out, uint32(len(img.RO)))
	out = appendU24(out, uint32(img.RWLogicalLen))
	out = appendU16(out, img.HeapPages)
	out = appendU24(out, img.StackSize)
	out = append(out, img.RO...)
	out = append(out, img.RW...)

	blobLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(blobLen, uint32(len(img.Blob)))
	out = append(out, blobLen...)
	out = append(out, img.Blob...)
	return out, nil
}

func appendU24(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16))
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

// EntryHeader is the decoded form of the fixed-width header, exposed
// for tests and tooling that need to inspect an already-encoded image.
type EntryHeader struct {
	ROLen     uint32
	RWLen     uint32
	HeapPages uint16
	StackSize uint32
}

func readU24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// DecodeHeader reads the entry header from the front of an encoded
// image.
func DecodeHeader(buf []byte) (EntryHeader, error) {
	if len(buf) < 11 {
		return EntryHeader{}, &EncoderError{Reason: "image too short for entry header"}
	}
	return EntryHeader{
		ROLen:     readU24(buf[0:3]),
		RWLen:     readU24(buf[3:6]),
		HeapPages: uint16(buf[6]) | uint16(buf[7])<<8,
		StackSize: readU24(buf[8:11]),
	}, nil
}

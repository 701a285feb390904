// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package inflate

import (
	"errors"
	"io"
)

// bitReader pulls DEFLATE's LSB-first bit stream out of a byte source. Bits
// above nbits in the accumulator are always zero.
type bitReader struct {
	r     io.ByteReader
	bits  uint64
	nbits uint
	in    int64 // bytes taken from r
	base  int64 // absolute offset of the first byte taken from r
}

func (b *bitReader) need(n uint) error {
	for b.nbits < n {
		c, err := b.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		b.in++
		b.bits |= uint64(c) << b.nbits
		b.nbits += 8
	}
	return nil
}

func (b *bitReader) take(n uint) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if err := b.need(n); err != nil {
		return 0, err
	}
	v := uint32(b.bits & (1<<n - 1))
	b.bits >>= n
	b.nbits -= n
	return v, nil
}

func (b *bitReader) readByte() (byte, error) {
	v, err := b.take(8)
	return byte(v), err
}

func (b *bitReader) readUint16() (uint16, error) {
	v, err := b.take(16)
	return uint16(v), err
}

func (b *bitReader) readUint32() (uint32, error) {
	lo, err := b.take(16)
	if err != nil {
		return 0, err
	}
	hi, err := b.take(16)
	if err != nil {
		return 0, err
	}
	return lo | hi<<16, nil
}

// alignByte drops the rest of the current partial byte.
func (b *bitReader) alignByte() {
	drop := b.nbits % 8
	b.bits >>= drop
	b.nbits -= drop
}

// atEOF reports whether the source is exhausted on a byte boundary. Only call
// it when aligned.
func (b *bitReader) atEOF() (bool, error) {
	if b.nbits > 0 {
		return false, nil
	}
	c, err := b.r.ReadByte()
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	b.in++
	b.bits = uint64(c)
	b.nbits = 8
	return false, nil
}

// position is the absolute bit offset of the next unread bit.
func (b *bitReader) position() int64 {
	return (b.base+b.in)*8 - int64(b.nbits)
}

// decode reads one symbol using h.
func (b *bitReader) decode(h *huffman) (int, error) {
	if h.bits == 0 {
		return 0, errCorrupt("empty code")
	}
	if err := b.need(h.bits); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}
	// Near the end of input fewer than h.bits bits may be left. The missing
	// high bits read as zero, which is fine as long as the code found is no
	// longer than what is actually buffered.
	e := h.table[b.bits&(1<<h.bits-1)]
	n := uint(e & 15)
	if n > b.nbits || (n == 0 && b.nbits < h.bits) {
		return 0, io.ErrUnexpectedEOF
	}
	if n == 0 {
		return 0, errCorrupt("invalid code")
	}
	b.bits >>= n
	b.nbits -= n
	return int(e >> 4), nil
}

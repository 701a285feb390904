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

import "math/bits"

const (
	maxCodeBits = 15
	maxLitCodes = 288
	maxDstCodes = 32
)

// huffman is a canonical prefix code decoded with one table lookup. table is
// indexed by the next `bits` input bits (LSB first) and holds sym<<4 | length.
// A zero entry is a bit pattern no code maps to.
type huffman struct {
	bits  uint
	table []uint16
}

// init builds the code from per-symbol code lengths. Incomplete codes are
// accepted; their unused patterns decode as errors.
func (h *huffman) init(lengths []uint8) error {
	var count [maxCodeBits + 1]int
	maxLen := 0
	for _, l := range lengths {
		if l > maxCodeBits {
			return errCorrupt("code length too long")
		}
		count[l]++
		if int(l) > maxLen {
			maxLen = int(l)
		}
	}
	count[0] = 0

	left := 1
	for l := 1; l <= maxCodeBits; l++ {
		left <<= 1
		left -= count[l]
		if left < 0 {
			return errCorrupt("over-subscribed code")
		}
	}

	h.bits = uint(maxLen)
	size := 1 << maxLen
	if cap(h.table) >= size {
		h.table = h.table[:size]
		clear(h.table)
	} else {
		h.table = make([]uint16, size)
	}
	if maxLen == 0 {
		return nil
	}

	var next [maxCodeBits + 1]int
	code := 0
	for l := 1; l <= maxCodeBits; l++ {
		code = (code + count[l-1]) << 1
		next[l] = code
	}

	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		c := next[l]
		next[l]++
		rev := int(bits.Reverse16(uint16(c)) >> (16 - l))
		entry := uint16(sym)<<4 | uint16(l)
		for i := rev; i < size; i += 1 << l {
			h.table[i] = entry
		}
	}
	return nil
}

var fixedLit, fixedDist huffman

func init() {
	var lengths [maxLitCodes]uint8
	for i := range lengths {
		switch {
		case i < 144:
			lengths[i] = 8
		case i < 256:
			lengths[i] = 9
		case i < 280:
			lengths[i] = 7
		default:
			lengths[i] = 8
		}
	}
	if err := fixedLit.init(lengths[:]); err != nil {
		panic(err)
	}
	var dist [maxDstCodes]uint8
	for i := range dist {
		dist[i] = 5
	}
	if err := fixedDist.init(dist[:]); err != nil {
		panic(err)
	}
}

var (
	lengthBase = [29]uint16{
		3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
		35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
	}
	lengthExtra = [29]uint8{
		0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
	}
	distBase = [30]uint16{
		1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
		257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145,
		8193, 12289, 16385, 24577,
	}
	distExtra = [30]uint8{
		0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
		7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
	}

	// order in which code length code lengths are sent
	codeOrder = [19]uint8{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}
)

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

// Package fileindex holds the sparse line index for one file: an ordered table
// of entries that tie a byte offset to the line number found there. Plain text
// files use Mark entries; gzip files use Checkpoint entries that also carry the
// decompressor state needed to resume inflating at that point.
package fileindex

const (
	// Unindexed is the Line value of a mark whose line is not known yet.
	Unindexed int64 = -1

	// WindowSize is the DEFLATE history size. A checkpoint never carries more
	// than this many bytes of window.
	WindowSize = 32 * 1024

	// DefaultGridPoints is the size of the fuzzy percentile grid, 0% to 100%.
	DefaultGridPoints = 101
)

// Mark ties an absolute byte offset to the 0-based line number at that offset.
type Mark struct {
	Byte int64 `cbor:"1,keyasint"`
	Line int64 `cbor:"2,keyasint"`
}

// Position implements Entry.
func (m Mark) Position() Mark { return m }

// LineStart implements Entry. Plain marks are always snapped to a line start.
func (m Mark) LineStart() bool { return true }

// Indexed reports whether the line number is known.
func (m Mark) Indexed() bool { return m.Line != Unindexed }

// Checkpoint is a gzip index entry. Byte is the decompressed offset and Line the
// line containing it. Compressed is the offset of the compressed byte holding
// the first bit of the next DEFLATE block and Bits is how many low bits of that
// byte belong to the previous block. Window is the last min(WindowSize, Byte)
// decompressed bytes.
//
// The checkpoint at Byte 0 means "start of file": inflating begins with the
// gzip header and needs no window.
type Checkpoint struct {
	Mark
	Compressed int64  `cbor:"3,keyasint"`
	Bits       uint8  `cbor:"4,keyasint"`
	Aligned    bool   `cbor:"5,keyasint"`
	Window     []byte `cbor:"6,keyasint"`
}

// Position implements Entry.
func (c Checkpoint) Position() Mark { return c.Mark }

// LineStart implements Entry. Aligned is set when the byte before the
// checkpoint was a newline.
func (c Checkpoint) LineStart() bool { return c.Byte == 0 || c.Aligned }

// Entry is anything a Table can hold.
type Entry interface {
	Position() Mark
	LineStart() bool
}

// FuzzyGrid spreads points marks evenly over [0, size], all unindexed except
// the first, which is always {0, 0}. Points that land on the same byte in a
// small file are collapsed.
func FuzzyGrid(size int64, points int) []Mark {
	if points < 2 {
		points = 2
	}
	if size <= 0 {
		return []Mark{{Byte: 0, Line: 0}}
	}
	grid := make([]Mark, 0, points)
	grid = append(grid, Mark{Byte: 0, Line: 0})
	for i := 1; i < points; i++ {
		b := int64(float64(size) * float64(i) / float64(points-1))
		if b <= grid[len(grid)-1].Byte {
			continue
		}
		grid = append(grid, Mark{Byte: b, Line: Unindexed})
	}
	return grid
}

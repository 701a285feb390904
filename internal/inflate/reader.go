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

// Package inflate is a gzip/DEFLATE decoder that exposes what random access
// needs and general purpose decoders hide: where each DEFLATE block ends in
// the compressed stream, the 32KiB of history at that point, and a way to
// start decoding again from such a point with that history.
//
// Read stops at every block boundary it reaches, so a caller can look at
// Boundary and Window between reads. A boundary reached before any output
// yields (0, nil); the next Read then runs on to the following boundary that
// has output behind it, so there are never two empty reads in a row.
package inflate

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// WindowSize is the DEFLATE history size.
const WindowSize = 1 << 15

const windowMask = WindowSize - 1

var (
	// ErrCorrupt is returned for a malformed DEFLATE stream.
	ErrCorrupt = errors.New("inflate: corrupt deflate stream")
	// ErrHeader is returned for a malformed gzip member header or trailing garbage.
	ErrHeader = errors.New("inflate: invalid gzip header")
	// ErrChecksum is returned when a member's CRC-32 or size does not match.
	ErrChecksum = errors.New("inflate: gzip checksum mismatch")
)

func errCorrupt(what string) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, what)
}

type state int

const (
	stateMember state = iota
	stateBlockHeader
	stateStored
	stateHuffman
	stateTrailer
	stateDone
)

// Boundary is a point between two DEFLATE blocks.
type Boundary struct {
	// Offset is the compressed byte holding the first bit of the next block.
	Offset int64
	// Bits is how many low bits of that byte belong to the previous block.
	Bits uint8
	// Total is the number of decompressed bytes before the boundary.
	Total int64
}

// Resume describes where and how to restart decoding mid-stream.
type Resume struct {
	Offset int64
	Bits   uint8
	Window []byte
	Total  int64
}

// Reader decodes a gzip stream, including concatenated members.
type Reader struct {
	br    bitReader
	state state
	err   error

	final      bool
	storedLeft int
	lit, dist  *huffman
	dynLit     huffman
	dynDist    huffman
	copyLen    int
	copyDist   int
	// emptyStop is set when the last Read stopped at a boundary with no
	// output.
	emptyStop bool

	hist  [WindowSize]byte
	hpos  int
	hlen  int
	total int64

	// verify is false for a member entered mid-stream, whose checksum
	// cannot be known.
	verify  bool
	crc     uint32
	size    uint32
	members int
	header  Header
}

// NewGzipReader decodes the gzip stream in r from its first byte. Pass a
// buffered r; the decoder reads one byte at a time.
func NewGzipReader(r io.ByteReader) *Reader {
	return &Reader{
		br:     bitReader{r: r},
		state:  stateMember,
		verify: true,
	}
}

// NewResumeReader continues decoding at a block boundary previously reported
// by Boundary. r must yield the compressed stream starting at res.Offset.
func NewResumeReader(r io.ByteReader, res Resume) (*Reader, error) {
	if res.Bits > 7 {
		return nil, fmt.Errorf("inflate: invalid resume bit count %d", res.Bits)
	}
	if len(res.Window) > WindowSize {
		return nil, fmt.Errorf("inflate: resume window of %d bytes exceeds %d", len(res.Window), WindowSize)
	}
	z := &Reader{
		br:      bitReader{r: r, base: res.Offset},
		state:   stateBlockHeader,
		total:   res.Total,
		members: 1,
	}
	if res.Bits > 0 {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("inflate: resume: %w", err)
		}
		z.br.in = 1
		z.br.bits = uint64(c) >> res.Bits
		z.br.nbits = 8 - uint(res.Bits)
	}
	z.hlen = copy(z.hist[:], res.Window)
	z.hpos = z.hlen & windowMask
	return z, nil
}

// Header is the first member's gzip header. It is zero for a resumed reader.
func (z *Reader) Header() Header { return z.header }

// Total is the number of decompressed bytes produced so far, counting from the
// start of the stream.
func (z *Reader) Total() int64 { return z.total }

// Boundary reports the current position if the decoder is sitting between
// two DEFLATE blocks of a member.
func (z *Reader) Boundary() (Boundary, bool) {
	if z.err != nil || z.state != stateBlockHeader {
		return Boundary{}, false
	}
	pos := z.br.position()
	return Boundary{Offset: pos / 8, Bits: uint8(pos % 8), Total: z.total}, true
}

// Window copies the most recent history, oldest byte first. It holds
// min(WindowSize, bytes of history) bytes.
func (z *Reader) Window() []byte {
	out := make([]byte, z.hlen)
	if z.hlen < WindowSize {
		copy(out, z.hist[:z.hlen])
		return out
	}
	n := copy(out, z.hist[z.hpos:])
	copy(out[n:], z.hist[:z.hpos])
	return out
}

// Read implements io.Reader.
func (z *Reader) Read(p []byte) (int, error) {
	if z.err != nil {
		return 0, z.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := z.read(p)
	if n > 0 {
		z.emptyStop = false
	}
	if err != nil {
		z.err = err
	}
	return n, err
}

func (z *Reader) read(p []byte) (int, error) {
	n, acc := 0, 0
	account := func() {
		if n == acc {
			return
		}
		if z.verify {
			z.crc = crc32.Update(z.crc, crc32.IEEETable, p[acc:n])
			z.size += uint32(n - acc)
		}
		z.total += int64(n - acc)
		acc = n
	}
	defer account()

	for n < len(p) {
		switch z.state {
		case stateMember:
			more, err := z.readMemberHeader()
			if err != nil {
				return n, err
			}
			if !more {
				z.state = stateDone
				continue
			}
			z.state = stateBlockHeader

		case stateBlockHeader:
			if err := z.readBlockHeader(); err != nil {
				return n, err
			}

		case stateStored:
			for z.storedLeft > 0 && n < len(p) {
				c, err := z.br.readByte()
				if err != nil {
					return n, err
				}
				p[n] = c
				z.put(c)
				n++
				z.storedLeft--
			}
			if z.storedLeft == 0 && z.endBlock() && z.stopAtBoundary(n) {
				return n, nil
			}

		case stateHuffman:
			for z.copyLen > 0 && n < len(p) {
				c := z.hist[(z.hpos-z.copyDist)&windowMask]
				p[n] = c
				z.put(c)
				n++
				z.copyLen--
			}
			if z.copyLen > 0 || n == len(p) {
				return n, nil
			}
			sym, err := z.br.decode(z.lit)
			if err != nil {
				return n, err
			}
			switch {
			case sym < 256:
				c := byte(sym)
				p[n] = c
				z.put(c)
				n++
			case sym == 256:
				if z.endBlock() && z.stopAtBoundary(n) {
					return n, nil
				}
			default:
				if err := z.readMatch(sym); err != nil {
					return n, err
				}
			}

		case stateTrailer:
			account()
			if err := z.readTrailer(); err != nil {
				return n, err
			}
			z.state = stateMember

		case stateDone:
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
	}
	return n, nil
}

func (z *Reader) put(c byte) {
	z.hist[z.hpos] = c
	z.hpos = (z.hpos + 1) & windowMask
	if z.hlen < WindowSize {
		z.hlen++
	}
}

// stopAtBoundary decides whether Read returns at a boundary after n bytes.
// Back to back empty blocks collapse into the first boundary: they all share
// the same Total and history.
func (z *Reader) stopAtBoundary(n int) bool {
	if n > 0 {
		return true
	}
	if z.emptyStop {
		return false
	}
	z.emptyStop = true
	return true
}

// endBlock moves past a finished block and reports whether the decoder is
// now at a block boundary.
func (z *Reader) endBlock() bool {
	if z.final {
		z.state = stateTrailer
		return false
	}
	z.state = stateBlockHeader
	return true
}

func (z *Reader) readBlockHeader() error {
	hdr, err := z.br.take(3)
	if err != nil {
		return err
	}
	z.final = hdr&1 == 1
	switch hdr >> 1 {
	case 0:
		z.br.alignByte()
		length, err := z.br.readUint16()
		if err != nil {
			return err
		}
		nlength, err := z.br.readUint16()
		if err != nil {
			return err
		}
		if length != ^nlength {
			return errCorrupt("stored block length mismatch")
		}
		z.storedLeft = int(length)
		z.state = stateStored
	case 1:
		z.lit, z.dist = &fixedLit, &fixedDist
		z.state = stateHuffman
	case 2:
		if err := z.readDynamicTables(); err != nil {
			return err
		}
		z.lit, z.dist = &z.dynLit, &z.dynDist
		z.state = stateHuffman
	default:
		return errCorrupt("reserved block type")
	}
	return nil
}

func (z *Reader) readDynamicTables() error {
	v, err := z.br.take(14)
	if err != nil {
		return err
	}
	nlit := int(v&0x1f) + 257
	ndist := int(v>>5&0x1f) + 1
	nclen := int(v>>10) + 4
	if nlit > 286 || ndist > 30 {
		return errCorrupt("too many length or distance codes")
	}

	var clen [19]uint8
	for i := 0; i < nclen; i++ {
		l, err := z.br.take(3)
		if err != nil {
			return err
		}
		clen[codeOrder[i]] = uint8(l)
	}
	var lencode huffman
	if err := lencode.init(clen[:]); err != nil {
		return err
	}

	var lengths [286 + 30]uint8
	for i := 0; i < nlit+ndist; {
		sym, err := z.br.decode(&lencode)
		if err != nil {
			return err
		}
		if sym < 16 {
			lengths[i] = uint8(sym)
			i++
			continue
		}
		var rep uint32
		var val uint8
		switch sym {
		case 16:
			if i == 0 {
				return errCorrupt("repeat with no previous length")
			}
			val = lengths[i-1]
			rep, err = z.br.take(2)
			rep += 3
		case 17:
			rep, err = z.br.take(3)
			rep += 3
		default:
			rep, err = z.br.take(7)
			rep += 11
		}
		if err != nil {
			return err
		}
		if i+int(rep) > nlit+ndist {
			return errCorrupt("code lengths overflow")
		}
		for ; rep > 0; rep-- {
			lengths[i] = val
			i++
		}
	}
	if lengths[256] == 0 {
		return errCorrupt("missing end-of-block code")
	}
	if err := z.dynLit.init(lengths[:nlit]); err != nil {
		return err
	}
	return z.dynDist.init(lengths[nlit : nlit+ndist])
}

func (z *Reader) readMatch(sym int) error {
	sym -= 257
	if sym >= len(lengthBase) {
		return errCorrupt("invalid length symbol")
	}
	extra, err := z.br.take(uint(lengthExtra[sym]))
	if err != nil {
		return err
	}
	length := int(lengthBase[sym]) + int(extra)

	dsym, err := z.br.decode(z.dist)
	if err != nil {
		return err
	}
	if dsym >= len(distBase) {
		return errCorrupt("invalid distance symbol")
	}
	extra, err = z.br.take(uint(distExtra[dsym]))
	if err != nil {
		return err
	}
	dist := int(distBase[dsym]) + int(extra)
	if dist > z.hlen {
		return fmt.Errorf("%w: distance %d beyond %d bytes of history", ErrCorrupt, dist, z.hlen)
	}
	z.copyLen, z.copyDist = length, dist
	return nil
}

func (z *Reader) readTrailer() error {
	z.br.alignByte()
	sum, err := z.br.readUint32()
	if err != nil {
		return err
	}
	size, err := z.br.readUint32()
	if err != nil {
		return err
	}
	if z.verify && (sum != z.crc || size != z.size) {
		return ErrChecksum
	}
	return nil
}

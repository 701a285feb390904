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
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flagText    = 1 << 0
	flagHdrCrc  = 1 << 1
	flagExtra   = 1 << 2
	flagName    = 1 << 3
	flagComment = 1 << 4
	flagReserve = 0xe0
)

// Header is the metadata in a gzip member header.
type Header struct {
	Name    string
	Comment string
	Extra   []byte
	ModTime time.Time
	OS      byte
}

// IsGzip reports whether head starts with the gzip magic and the deflate
// method byte.
func IsGzip(head []byte) bool {
	return len(head) >= 3 && head[0] == gzipID1 && head[1] == gzipID2 && head[2] == gzipDeflate
}

// headerReader reads header bytes while keeping their CRC for FHCRC.
type headerReader struct {
	br  *bitReader
	crc uint32
}

func (h *headerReader) byte() (byte, error) {
	c, err := h.br.readByte()
	if err != nil {
		return 0, err
	}
	h.crc = crc32.Update(h.crc, crc32.IEEETable, []byte{c})
	return c, nil
}

func (h *headerReader) uint16() (uint16, error) {
	lo, err := h.byte()
	if err != nil {
		return 0, err
	}
	hi, err := h.byte()
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (h *headerReader) uint32() (uint32, error) {
	lo, err := h.uint16()
	if err != nil {
		return 0, err
	}
	hi, err := h.uint16()
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

// cstring reads a zero-terminated ISO 8859-1 string.
func (h *headerReader) cstring() (string, error) {
	var runes []rune
	for {
		c, err := h.byte()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return string(runes), nil
		}
		runes = append(runes, rune(c))
	}
}

// readMemberHeader starts the next member. It returns false when the stream
// ended cleanly after a complete member.
func (z *Reader) readMemberHeader() (bool, error) {
	if z.members > 0 {
		z.br.alignByte()
		eof, err := z.br.atEOF()
		if err != nil || eof {
			return false, err
		}
	}

	hr := headerReader{br: &z.br}
	var magic [4]byte
	for i := range magic {
		c, err := hr.byte()
		if err != nil {
			if z.members > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
				return false, fmt.Errorf("%w: trailing data after member %d", ErrHeader, z.members)
			}
			return false, err
		}
		magic[i] = c
	}
	if !IsGzip(magic[:3]) {
		if z.members > 0 {
			return false, fmt.Errorf("%w: trailing data after member %d", ErrHeader, z.members)
		}
		return false, ErrHeader
	}
	flg := magic[3]
	if flg&flagReserve != 0 {
		return false, fmt.Errorf("%w: reserved flags %#x", ErrHeader, flg)
	}

	var hdr Header
	mtime, err := hr.uint32()
	if err != nil {
		return false, err
	}
	if mtime > 0 {
		hdr.ModTime = time.Unix(int64(mtime), 0)
	}
	if _, err := hr.byte(); err != nil { // XFL
		return false, err
	}
	if hdr.OS, err = hr.byte(); err != nil {
		return false, err
	}

	if flg&flagExtra != 0 {
		n, err := hr.uint16()
		if err != nil {
			return false, err
		}
		hdr.Extra = make([]byte, n)
		for i := range hdr.Extra {
			if hdr.Extra[i], err = hr.byte(); err != nil {
				return false, err
			}
		}
	}
	if flg&flagName != 0 {
		if hdr.Name, err = hr.cstring(); err != nil {
			return false, err
		}
	}
	if flg&flagComment != 0 {
		if hdr.Comment, err = hr.cstring(); err != nil {
			return false, err
		}
	}
	if flg&flagHdrCrc != 0 {
		want := uint16(hr.crc)
		got, err := z.br.readUint16()
		if err != nil {
			return false, err
		}
		if got != want {
			return false, fmt.Errorf("%w: header checksum", ErrHeader)
		}
	}

	if z.members == 0 {
		z.header = hdr
	}
	z.members++
	z.verify = true
	z.crc, z.size = 0, 0
	return true, nil
}

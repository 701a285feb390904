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

package largefile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/cardinalhq/lineseek/internal/fileindex"
	"github.com/cardinalhq/lineseek/internal/inflate"
)

// indexGzip inflates the whole stream once and records a checkpoint at
// every DEFLATE block boundary that lies at least span decompressed bytes
// past the previous checkpoint. Checkpoint 0 is the start of the file. It
// returns the number of lines in the decompressed data.
func indexGzip(ctx context.Context, src io.ReaderAt, size, span int64, tbl *fileindex.Table[fileindex.Checkpoint], chunkSize int) (int64, error) {
	if _, err := tbl.Add(fileindex.Checkpoint{}); err != nil {
		return 0, err
	}

	z := inflate.NewGzipReader(bufio.NewReaderSize(io.NewSectionReader(src, 0, size), chunkSize))
	buf := make([]byte, chunkSize)
	var (
		line     int64
		last     int64
		lastByte byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return line, err
		}
		n, err := z.Read(buf)
		if n > 0 {
			line += int64(bytes.Count(buf[:n], []byte{'\n'}))
			lastByte = buf[n-1]
			indexedBytesCounter.Add(ctx, int64(n))
		}
		if b, ok := z.Boundary(); ok && b.Total-last >= span {
			cp := fileindex.Checkpoint{
				Mark:       fileindex.Mark{Byte: b.Total, Line: line},
				Compressed: b.Offset,
				Bits:       b.Bits,
				Aligned:    lastByte == '\n',
				Window:     z.Window(),
			}
			if _, err := tbl.Add(cp); err != nil {
				return line, err
			}
			last = b.Total
			checkpointCounter.Add(ctx, 1)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return line, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
		}
	}

	if z.Total() > 0 && lastByte != '\n' {
		line++
	}
	return line, nil
}

// fetchGzip serves lines [start, start+count) from the closest usable
// checkpoint. Checkpoint 0 streams through the whole gzip file; any other
// checkpoint seeds a resumed inflater with its window.
func fetchGzip(ctx context.Context, src io.ReaderAt, size int64, tbl *fileindex.Table[fileindex.Checkpoint], start, count int64, emit emitFunc) (FetchStats, error) {
	var stats FetchStats
	cp, _, ok := tbl.Search(start)
	if !ok {
		return stats, ErrIndexNotReady
	}
	stats.From = cp.Mark

	var r io.Reader
	if cp.Byte == 0 {
		zr, err := gzip.NewReader(bufio.NewReaderSize(io.NewSectionReader(src, 0, size), lineBufferSize))
		if err != nil {
			return stats, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	} else {
		body := bufio.NewReaderSize(io.NewSectionReader(src, cp.Compressed, size-cp.Compressed), lineBufferSize)
		z, err := inflate.NewResumeReader(body, inflate.Resume{
			Offset: cp.Compressed,
			Bits:   cp.Bits,
			Window: cp.Window,
			Total:  cp.Byte,
		})
		if err != nil {
			return stats, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
		}
		r = z
		stats.Compressed = cp.Compressed
		stats.Resumed = true
	}

	if err := readLines(ctx, r, cp.Line, start, count, emit, &stats); err != nil {
		if isDecodeError(err) {
			return stats, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
		}
		return stats, err
	}
	return stats, nil
}

func isDecodeError(err error) bool {
	var corrupt flate.CorruptInputError
	return errors.Is(err, inflate.ErrCorrupt) ||
		errors.Is(err, inflate.ErrHeader) ||
		errors.Is(err, inflate.ErrChecksum) ||
		errors.Is(err, gzip.ErrChecksum) ||
		errors.Is(err, gzip.ErrHeader) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &corrupt)
}

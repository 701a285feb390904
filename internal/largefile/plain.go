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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cardinalhq/lineseek/internal/fileindex"
)

// indexPlain scans src once, counting newlines, and snaps every grid point to
// the first line start at or after it. Mark 0 is always {0,0}; points that
// land on a line start already recorded, or at or past EOF, are dropped. It
// returns the number of lines in the file.
func indexPlain(ctx context.Context, src io.ReaderAt, size int64, grid []fileindex.Mark, tbl *fileindex.Table[fileindex.Mark], chunkSize int) (int64, error) {
	if _, err := tbl.Add(fileindex.Mark{Byte: 0, Line: 0}); err != nil {
		return 0, err
	}

	next := 1
	for next < len(grid) && grid[next].Byte <= 0 {
		next++
	}

	buf := make([]byte, chunkSize)
	var (
		line     int64
		recorded int64
		last     byte
	)
	for off := int64(0); off < size; {
		if err := ctx.Err(); err != nil {
			return line, err
		}
		n, err := src.ReadAt(buf[:min(int64(chunkSize), size-off)], off)
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				// file shrank underneath us
				break
			}
			return line, fmt.Errorf("read at %d: %w", off, err)
		}
		chunk := buf[:n]
		for i := 0; ; {
			j := bytes.IndexByte(chunk[i:], '\n')
			if j < 0 {
				break
			}
			i += j + 1
			line++
			start := off + int64(i)
			for next < len(grid) && grid[next].Byte <= start {
				if start < size && start > recorded {
					if _, err := tbl.Add(fileindex.Mark{Byte: start, Line: line}); err != nil {
						return line, err
					}
					recorded = start
				}
				next++
			}
		}
		last = chunk[n-1]
		off += int64(n)
		indexedBytesCounter.Add(ctx, int64(n))
	}

	if size > 0 && last != '\n' {
		line++
	}
	return line, nil
}

// fetchPlain serves lines [start, start+count) from the closest mark.
func fetchPlain(ctx context.Context, src io.ReaderAt, size int64, tbl *fileindex.Table[fileindex.Mark], start, count int64, emit emitFunc) (FetchStats, error) {
	var stats FetchStats
	m, _, ok := tbl.Search(start)
	if !ok {
		return stats, ErrIndexNotReady
	}
	stats.From = m
	r := io.NewSectionReader(src, m.Byte, size-m.Byte)
	err := readLines(ctx, r, m.Line, start, count, emit, &stats)
	return stats, err
}

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
	"io"

	"github.com/cardinalhq/lineseek/internal/fileindex"
)

const lineBufferSize = 64 * 1024

// skipLines consumes n newlines from br. It returns how many it found, which
// is less than n only when the input ended first.
func skipLines(ctx context.Context, br *bufio.Reader, n int64) (int64, error) {
	var skipped int64
	for skipped < n {
		if skipped%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return skipped, err
			}
		}
		_, err := br.ReadSlice('\n')
		switch {
		case err == nil:
			skipped++
		case errors.Is(err, bufio.ErrBufferFull):
			// still inside a long line
		case errors.Is(err, io.EOF):
			return skipped, nil
		default:
			return skipped, err
		}
	}
	return skipped, nil
}

// nextLine returns the next line without its terminator. "\n" and "\r\n" end
// a line; a lone "\r" is content. ok is false at end of input. A final line
// with no terminator is still a line.
func nextLine(br *bufio.Reader) (line string, ok bool, err error) {
	b, err := br.ReadBytes('\n')
	if len(b) == 0 {
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		return "", false, err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	if bytes.HasSuffix(b, []byte{'\n'}) {
		b = b[:len(b)-1]
		b = bytes.TrimSuffix(b, []byte{'\r'})
	}
	return string(b), true, nil
}

// emitFunc receives one fetched line.
type emitFunc func(line int64, text string) error

// FetchStats describes how a fetch was served.
type FetchStats struct {
	// From is the index entry the fetch started reading at.
	From fileindex.Mark
	// Compressed is the compressed offset a gzip fetch resumed inflating at.
	// It is 0 when the fetch started from the beginning of the stream.
	Compressed int64
	// Resumed is true when a gzip fetch restarted mid-stream from a
	// checkpoint window instead of from the gzip header.
	Resumed bool
	// Skipped is the number of lines read and discarded before the start line.
	Skipped int64
	// Emitted is the number of lines delivered.
	Emitted int64
	// EOF is true when the file ended before count lines were delivered.
	EOF bool
}

// readLines skips from the entry at line `from` to `start` and emits up to
// count lines.
func readLines(ctx context.Context, r io.Reader, from, start, count int64, emit emitFunc, stats *FetchStats) error {
	br := bufio.NewReaderSize(r, lineBufferSize)
	want := start - from
	skipped, err := skipLines(ctx, br, want)
	stats.Skipped = skipped
	if err != nil {
		return err
	}
	if skipped < want {
		stats.EOF = true
		return nil
	}
	for i := int64(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, ok, err := nextLine(br)
		if err != nil {
			return err
		}
		if !ok {
			stats.EOF = true
			return nil
		}
		if err := emit(start+i, text); err != nil {
			return err
		}
		stats.Emitted++
	}
	return nil
}

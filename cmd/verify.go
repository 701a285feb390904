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

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/lineseek/internal/fileindex"
	"github.com/cardinalhq/lineseek/internal/largefile"
)

func init() {
	cmd := &cobra.Command{
		Use:   "verify FILE",
		Short: "Check every index entry against a full sequential decode of the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, format, err := loadConfig()
			if err != nil {
				return err
			}
			return withTelemetry("lineseek-verify", func(ctx context.Context) error {
				return runVerify(ctx, os.Stdout, args[0], format, cfg.LargeFile)
			})
		},
	}

	rootCmd.AddCommand(cmd)
}

// probe is one index entry under test.
type probe struct {
	entry fileindex.Mark
	// first is the first whole line at or after the entry.
	first     int64
	lineStart bool
}

// lineRef is what the sequential decode saw for one line.
type lineRef struct {
	offset int64
	text   string
	seen   bool
}

func runVerify(ctx context.Context, w io.Writer, path string, format largefile.Format, cfg largefile.Config) (err error) {
	s, err := openSession(ctx, path, format, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(ctx); err == nil {
			err = cerr
		}
	}()
	if _, err := s.index(ctx); err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	st := s.d.Stats()

	probes := collectProbes(s.d, st.Format)
	want := make(map[int64]*lineRef, 2*len(probes))
	for _, p := range probes {
		want[p.entry.Line] = &lineRef{}
		want[p.first] = &lineRef{}
	}

	lines, err := scanLines(ctx, path, st.Format, want)
	if err != nil {
		return err
	}

	var result *multierror.Error
	if lines != st.Lines {
		result = multierror.Append(result, fmt.Errorf("index counted %d lines, decode found %d", st.Lines, lines))
	}
	for _, p := range probes {
		if err := checkProbe(ctx, s.d, p, want); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %s, %d lines, %d entries verified\n", path, st.Format, lines, len(probes))
	return nil
}

func collectProbes(d *largefile.Dispatcher, format largefile.Format) []probe {
	var probes []probe
	if format == largefile.FormatGzip {
		for _, cp := range d.Checkpoints() {
			p := probe{entry: cp.Mark, first: cp.Line, lineStart: cp.LineStart()}
			if !p.lineStart {
				p.first++
			}
			probes = append(probes, p)
		}
		return probes
	}
	for _, m := range d.Marks() {
		probes = append(probes, probe{entry: m, first: m.Line, lineStart: true})
	}
	return probes
}

// scanLines decodes the whole file once, filling in the lines named in want,
// and returns the number of lines.
func scanLines(ctx context.Context, path string, format largefile.Format, want map[int64]*lineRef) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReaderSize(f, 256*1024)
	if format == largefile.FormatGzip {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return 0, err
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	br := bufio.NewReaderSize(r, 64*1024)
	var line, offset int64
	for {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return line, err
			}
		}
		b, err := br.ReadBytes('\n')
		if len(b) > 0 {
			if ref, ok := want[line]; ok {
				text := bytes.TrimSuffix(b, []byte{'\n'})
				if len(text) < len(b) {
					text = bytes.TrimSuffix(text, []byte{'\r'})
				}
				*ref = lineRef{offset: offset, text: string(text), seen: true}
			}
			offset += int64(len(b))
			line++
		}
		if errors.Is(err, io.EOF) {
			return line, nil
		}
		if err != nil {
			return line, err
		}
	}
}

func checkProbe(ctx context.Context, d *largefile.Dispatcher, p probe, want map[int64]*lineRef) error {
	at := want[p.entry.Line]
	if p.lineStart {
		if at.seen && at.offset != p.entry.Byte {
			return fmt.Errorf("entry at byte %d: line %d starts at byte %d", p.entry.Byte, p.entry.Line, at.offset)
		}
	} else if at.seen && p.entry.Byte <= at.offset {
		return fmt.Errorf("entry at byte %d: expected to fall inside line %d starting at byte %d", p.entry.Byte, p.entry.Line, at.offset)
	}

	ref := want[p.first]
	if !ref.seen {
		// entry at end of file
		return nil
	}
	var got []string
	stats, err := d.Fetch(ctx, p.first, 1, func(_ int64, text string) error {
		got = append(got, text)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch line %d: %w", p.first, err)
	}
	if len(got) != 1 || got[0] != ref.text {
		return fmt.Errorf("line %d: fetched %q, decode has %q", p.first, got, ref.text)
	}
	if stats.From.Line > p.first {
		return fmt.Errorf("line %d: fetch started at entry for line %d", p.first, stats.From.Line)
	}
	return nil
}

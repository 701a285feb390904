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
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/lineseek/internal/largefile"
)

type indexOptions struct {
	span    int64
	save    bool
	output  string
	entries bool
}

// indexEntry is one row of an index report. Compressed, Bits and Aligned are
// only set for gzip checkpoints.
type indexEntry struct {
	Byte       int64 `yaml:"byte"`
	Line       int64 `yaml:"line"`
	Compressed int64 `yaml:"compressed,omitempty"`
	Bits       uint8 `yaml:"bits,omitempty"`
	Aligned    bool  `yaml:"aligned,omitempty"`
}

type indexReport struct {
	Path        string       `yaml:"path"`
	Format      string       `yaml:"format"`
	Size        int64        `yaml:"size"`
	Lines       int64        `yaml:"lines"`
	FromSidecar bool         `yaml:"fromSidecar"`
	Entries     []indexEntry `yaml:"entries,omitempty"`
	Count       int          `yaml:"count"`
}

func init() {
	var opts indexOptions
	cmd := &cobra.Command{
		Use:   "index FILE",
		Short: "Build the line index of a file and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, format, err := loadConfig()
			if err != nil {
				return err
			}
			lf := cfg.LargeFile
			if opts.span > 0 {
				lf.Span = opts.span
			}
			if opts.save {
				lf.Sidecar = true
			}
			return withTelemetry("lineseek-index", func(ctx context.Context) error {
				return runIndex(ctx, os.Stdout, args[0], format, lf, opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.span, "span", 0, "decompressed bytes between gzip checkpoints (default from config)")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the index to a sidecar file next to FILE")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text or yaml")
	cmd.Flags().BoolVar(&opts.entries, "entries", true, "include index entries in the output")

	rootCmd.AddCommand(cmd)
}

func runIndex(ctx context.Context, w io.Writer, path string, format largefile.Format, cfg largefile.Config, opts indexOptions) error {
	if opts.output != "text" && opts.output != "yaml" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}
	s, err := openSession(ctx, path, format, cfg)
	if err != nil {
		return err
	}
	if _, err := s.index(ctx); err != nil {
		_ = s.close(ctx)
		return fmt.Errorf("index %s: %w", path, err)
	}
	report := buildIndexReport(s.d, opts.entries)
	if err := s.close(ctx); err != nil {
		return err
	}

	if opts.output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}
	return writeIndexText(w, report)
}

func buildIndexReport(d *largefile.Dispatcher, withEntries bool) indexReport {
	st := d.Stats()
	report := indexReport{
		Path:        st.Path,
		Format:      st.Format.String(),
		Size:        st.Size,
		Lines:       st.Lines,
		FromSidecar: st.FromSidecar,
		Count:       st.Entries,
	}
	if !withEntries {
		return report
	}
	switch st.Format {
	case largefile.FormatGzip:
		for _, cp := range d.Checkpoints() {
			report.Entries = append(report.Entries, indexEntry{
				Byte:       cp.Byte,
				Line:       cp.Line,
				Compressed: cp.Compressed,
				Bits:       cp.Bits,
				Aligned:    cp.Aligned,
			})
		}
	default:
		for _, m := range d.Marks() {
			report.Entries = append(report.Entries, indexEntry{Byte: m.Byte, Line: m.Line})
		}
	}
	return report
}

func writeIndexText(w io.Writer, r indexReport) error {
	fmt.Fprintf(w, "%s: %s, %d bytes, %d lines, %d entries", r.Path, r.Format, r.Size, r.Lines, r.Count)
	if r.FromSidecar {
		fmt.Fprint(w, " (sidecar)")
	}
	fmt.Fprintln(w)
	if len(r.Entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	if r.Format == largefile.FormatGzip.String() {
		fmt.Fprintln(tw, "BYTE\tLINE\tCOMPRESSED\tBITS\tALIGNED\t")
		for _, e := range r.Entries {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%t\t\n", e.Byte, e.Line, e.Compressed, e.Bits, e.Aligned)
		}
	} else {
		fmt.Fprintln(tw, "BYTE\tLINE\t")
		for _, e := range r.Entries {
			fmt.Fprintf(tw, "%d\t%d\t\n", e.Byte, e.Line)
		}
	}
	return tw.Flush()
}

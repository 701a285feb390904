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
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/proactor"
)

type readOptions struct {
	start   int64
	count   int64
	percent float64
	number  bool
}

func init() {
	opts := readOptions{percent: -1}
	cmd := &cobra.Command{
		Use:   "read FILE",
		Short: "Print a range of lines from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, format, err := loadConfig()
			if err != nil {
				return err
			}
			return withTelemetry("lineseek-read", func(ctx context.Context) error {
				return runRead(ctx, os.Stdout, args[0], format, cfg.LargeFile, opts)
			})
		},
	}
	cmd.Flags().Int64VarP(&opts.start, "start", "s", 0, "first line to print, counting from 0")
	cmd.Flags().Int64VarP(&opts.count, "count", "c", 10, "number of lines to print")
	cmd.Flags().Float64VarP(&opts.percent, "percent", "p", -1, "start at the index entry nearest this percentage of the file (0-100)")
	cmd.Flags().BoolVarP(&opts.number, "number", "n", false, "prefix each line with its line number")
	cmd.MarkFlagsMutuallyExclusive("start", "percent")

	rootCmd.AddCommand(cmd)
}

func runRead(ctx context.Context, w io.Writer, path string, format largefile.Format, cfg largefile.Config, opts readOptions) (err error) {
	s, err := openSession(ctx, path, format, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(ctx); err == nil {
			err = cerr
		}
	}()

	var worker string
	if opts.percent >= 0 {
		if _, err := s.index(ctx); err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		worker, err = s.d.ReadPercent(ctx, opts.percent, opts.count)
	} else {
		// Lines are served as soon as the index reaches them.
		if _, err := s.d.Index(ctx); err != nil && !errors.Is(err, largefile.ErrIndexInProgress) {
			return err
		}
		worker, err = s.d.Read(ctx, opts.start, opts.count)
	}
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	ev, err := s.await(ctx, worker, func(ev proactor.Event) error {
		if opts.number {
			_, err := fmt.Fprintf(bw, "%d\t%s\n", ev.Line, ev.Payload)
			return err
		}
		_, err := fmt.Fprintln(bw, ev.Payload)
		return err
	})
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		return err
	}
	if ev.Failed() {
		return fmt.Errorf("read %s at line %d: %w", path, ev.Line, ev.Err)
	}
	return nil
}

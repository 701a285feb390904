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
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/axiomhq/hyperloglog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/lineseek/internal/largefile"
)

type benchOptions struct {
	reads   int
	count   int64
	seed    uint64
	workers int
}

func init() {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench FILE",
		Short: "Measure random line range reads against a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, format, err := loadConfig()
			if err != nil {
				return err
			}
			return withTelemetry("lineseek-bench", func(ctx context.Context) error {
				return runBench(ctx, os.Stdout, args[0], format, cfg.LargeFile, opts)
			})
		},
	}
	cmd.Flags().IntVar(&opts.reads, "reads", 1000, "number of random reads")
	cmd.Flags().Int64Var(&opts.count, "count", 10, "lines per read")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "random seed for read positions")
	cmd.Flags().IntVar(&opts.workers, "workers", 8, "concurrent readers")

	rootCmd.AddCommand(cmd)
}

type benchResult struct {
	Reads     int
	Lines     int64
	Distinct  uint64
	IndexTime time.Duration
	Elapsed   time.Duration
	P50       time.Duration
	P90       time.Duration
	P99       time.Duration
	Max       time.Duration
}

func runBench(ctx context.Context, w io.Writer, path string, format largefile.Format, cfg largefile.Config, opts benchOptions) (err error) {
	if opts.reads < 1 || opts.count < 1 || opts.workers < 1 {
		return fmt.Errorf("reads, count and workers must be positive")
	}
	s, err := openSession(ctx, path, format, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(ctx); err == nil {
			err = cerr
		}
	}()

	began := time.Now()
	if _, err := s.index(ctx); err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	indexTime := time.Since(began)
	res, err := benchReads(ctx, s.d, opts)
	if err != nil {
		return err
	}
	res.IndexTime = indexTime

	fmt.Fprintf(w, "%s: indexed in %s\n", path, res.IndexTime.Round(time.Millisecond))
	fmt.Fprintf(w, "%d reads, %d lines (~%d distinct) in %s, %.0f reads/s\n",
		res.Reads, res.Lines, res.Distinct, res.Elapsed.Round(time.Millisecond),
		float64(res.Reads)/res.Elapsed.Seconds())
	fmt.Fprintf(w, "latency p50 %s p90 %s p99 %s max %s\n", res.P50, res.P90, res.P99, res.Max)
	return nil
}

// benchReads issues opts.reads fetches at random start lines and reports
// their latency distribution.
func benchReads(ctx context.Context, d *largefile.Dispatcher, opts benchOptions) (benchResult, error) {
	total := d.Stats().Lines
	if total <= 0 {
		return benchResult{}, fmt.Errorf("file has no lines")
	}
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	starts := make([]int64, opts.reads)
	for i := range starts {
		starts[i] = rng.Int64N(total)
	}

	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return benchResult{}, err
	}
	distinct := hyperloglog.New14()
	var (
		mu    sync.Mutex
		lines int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)
	began := time.Now()
	for _, start := range starts {
		g.Go(func() error {
			var texts []string
			t0 := time.Now()
			_, err := d.Fetch(gctx, start, opts.count, func(_ int64, text string) error {
				texts = append(texts, text)
				return nil
			})
			if err != nil {
				return fmt.Errorf("read at line %d: %w", start, err)
			}
			took := time.Since(t0)

			mu.Lock()
			defer mu.Unlock()
			lines += int64(len(texts))
			for _, t := range texts {
				distinct.Insert([]byte(t))
			}
			return sketch.Add(took.Seconds())
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}

	res := benchResult{
		Reads:    opts.reads,
		Lines:    lines,
		Distinct: distinct.Estimate(),
		Elapsed:  time.Since(began),
	}
	quantile := func(q float64) time.Duration {
		v, err := sketch.GetValueAtQuantile(q)
		if err != nil {
			return 0
		}
		return time.Duration(v * float64(time.Second)).Round(time.Microsecond)
	}
	res.P50, res.P90, res.P99 = quantile(0.5), quantile(0.9), quantile(0.99)
	if v, err := sketch.GetMaxValue(); err == nil {
		res.Max = time.Duration(v * float64(time.Second)).Round(time.Microsecond)
	}
	return res, nil
}

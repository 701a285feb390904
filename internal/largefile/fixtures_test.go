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
	stdgzip "compress/gzip"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lineseek/internal/proactor"
)

var services = []string{"api", "auth", "billing", "cache", "db", "edge", "queue", "search"}

// logFile builds n lines of varying length. Every 97th line is empty and every
// 89th ends in CRLF; the oracle holds the lines as a reader should return them.
func logFile(seed uint64, n int) (data []byte, oracle []string) {
	rng := rand.New(rand.NewPCG(seed, seed*31+7))
	var buf bytes.Buffer
	oracle = make([]string, 0, n)
	for i := range n {
		var line string
		if i%97 != 96 {
			var sb strings.Builder
			fmt.Fprintf(&sb, "ts=%d svc=%s seq=%d", 1700000000+i, services[rng.IntN(len(services))], i)
			for range rng.IntN(20) {
				fmt.Fprintf(&sb, " k%d=%x", rng.IntN(50), rng.Uint64())
			}
			line = sb.String()
		}
		oracle = append(oracle, line)
		buf.WriteString(line)
		if i%89 == 88 {
			buf.WriteByte('\r')
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), oracle
}

// gzipFlushed compresses data with the standard library, flushing every
// flushEvery bytes so block boundaries fall mid-line.
func gzipFlushed(t *testing.T, data []byte, flushEvery int) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := stdgzip.NewWriterLevel(&out, stdgzip.DefaultCompression)
	require.NoError(t, err)
	for len(data) > 0 {
		n := min(len(data), flushEvery)
		_, err := w.Write(data[:n])
		require.NoError(t, err)
		require.NoError(t, w.Flush())
		data = data[n:]
	}
	require.NoError(t, w.Close())
	return out.Bytes()
}

func gzipKlauspost(t *testing.T, data []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := kgzip.NewWriterLevel(&out, kgzip.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Span = 64 * 1024
	cfg.ChunkSize = 8 * 1024
	cfg.CommandTimeout = 5 * time.Second
	return cfg
}

// recorder is a Sink that keeps every event and lets tests wait for the
// terminal event of one worker.
type recorder struct {
	mu     sync.Mutex
	events []proactor.Event
	cond   *sync.Cond
}

func newRecorder() *recorder {
	r := &recorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *recorder) Publish(ev proactor.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.cond.Broadcast()
	return nil
}

// wait blocks until worker has published a non-line event and returns it.
func (r *recorder) wait(t *testing.T, worker string) proactor.Event {
	t.Helper()
	deadline := time.AfterFunc(10*time.Second, func() {
		r.mu.Lock()
		r.events = append(r.events, proactor.Event{Worker: worker, Kind: proactor.KindError, Err: context.DeadlineExceeded})
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer deadline.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		for _, ev := range r.events {
			if ev.Worker == worker && ev.Kind != proactor.KindLine {
				return ev
			}
		}
		r.cond.Wait()
	}
}

// lines returns the text of worker's line events in delivery order, checking
// their line numbers are consecutive from start.
func (r *recorder) lines(t *testing.T, worker string, start int64) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Worker != worker || ev.Kind != proactor.KindLine {
			continue
		}
		require.Equal(t, start+int64(len(out)), ev.Line)
		out = append(out, ev.Payload)
	}
	return out
}

// openDispatcher opens path and runs the dispatcher loop until the test ends.
func openDispatcher(t *testing.T, path string, format Format, opts ...Options) (*Dispatcher, *recorder) {
	t.Helper()
	rec := newRecorder()
	opts = append([]Options{WithConfig(testConfig())}, opts...)
	d, err := NewDispatcher(format, proactor.NewEventType(), rec, opts...)
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background(), path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = d.Close(context.Background())
		cancel()
		<-done
	})
	return d, rec
}

// indexNow runs one indexing pass to completion.
func indexNow(t *testing.T, d *Dispatcher, rec *recorder) proactor.Event {
	t.Helper()
	id, err := d.Index(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	ev := rec.wait(t, id)
	require.Equal(t, proactor.KindIndexed, ev.Kind, "index failed: %v", ev.Err)
	return ev
}

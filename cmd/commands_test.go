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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/proactor"
)

func testLargeFileConfig() largefile.Config {
	cfg := largefile.DefaultConfig()
	cfg.Span = 16 * 1024
	cfg.ChunkSize = 8 * 1024
	cfg.GridPoints = 32
	cfg.CommandTimeout = 5 * time.Second
	return cfg
}

func sampleLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("%06d level=info msg=\"request served\" path=/api/v1/items/%d took=%dms", i, i*7%1000, i%97)
	}
	return lines
}

func writePlain(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// writeGzip compresses lines, flushing now and then so the stream has many
// block boundaries.
func writeGzip(t *testing.T, lines []string) string {
	t.Helper()
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	require.NoError(t, err)
	for i, l := range lines {
		_, err := zw.Write([]byte(l + "\n"))
		require.NoError(t, err)
		if i%50 == 49 {
			require.NoError(t, zw.Flush())
		}
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(t.TempDir(), "app.log.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunIndex_Text(t *testing.T) {
	lines := sampleLines(5000)
	path := writePlain(t, lines)

	var out bytes.Buffer
	err := runIndex(testContext(t), &out, path, largefile.FormatAuto, testLargeFileConfig(), indexOptions{output: "text", entries: true})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, path+": plain")
	assert.Contains(t, text, "5000 lines")
	assert.Contains(t, text, "BYTE")
}

func TestRunIndex_YAMLGzip(t *testing.T) {
	lines := sampleLines(5000)
	path := writeGzip(t, lines)

	var out bytes.Buffer
	err := runIndex(testContext(t), &out, path, largefile.FormatAuto, testLargeFileConfig(), indexOptions{output: "yaml", entries: true})
	require.NoError(t, err)

	var report indexReport
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "gzip", report.Format)
	assert.Equal(t, int64(5000), report.Lines)
	require.Greater(t, len(report.Entries), 1)
	assert.Equal(t, report.Count, len(report.Entries))
	assert.Zero(t, report.Entries[0].Byte)
	for i := 1; i < len(report.Entries); i++ {
		assert.Greater(t, report.Entries[i].Byte, report.Entries[i-1].Byte)
		assert.Greater(t, report.Entries[i].Compressed, report.Entries[i-1].Compressed)
	}
}

func TestRunIndex_SavesSidecar(t *testing.T) {
	path := writeGzip(t, sampleLines(2000))
	cfg := testLargeFileConfig()
	cfg.Sidecar = true

	var out bytes.Buffer
	require.NoError(t, runIndex(testContext(t), &out, path, largefile.FormatAuto, cfg, indexOptions{output: "text"}))
	assert.NotContains(t, out.String(), "(sidecar)")

	out.Reset()
	require.NoError(t, runIndex(testContext(t), &out, path, largefile.FormatAuto, cfg, indexOptions{output: "text"}))
	assert.Contains(t, out.String(), "(sidecar)")
}

func TestRunIndex_BadOutput(t *testing.T) {
	path := writePlain(t, sampleLines(10))
	err := runIndex(testContext(t), &bytes.Buffer{}, path, largefile.FormatAuto, testLargeFileConfig(), indexOptions{output: "xml"})
	assert.ErrorContains(t, err, "unknown output format")
}

func TestRunRead(t *testing.T) {
	lines := sampleLines(3000)
	for name, path := range map[string]string{
		"plain": writePlain(t, lines),
		"gzip":  writeGzip(t, lines),
	} {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			err := runRead(testContext(t), &out, path, largefile.FormatAuto, testLargeFileConfig(), readOptions{start: 2500, count: 3, percent: -1})
			require.NoError(t, err)
			assert.Equal(t, strings.Join(lines[2500:2503], "\n")+"\n", out.String())

			out.Reset()
			err = runRead(testContext(t), &out, path, largefile.FormatAuto, testLargeFileConfig(), readOptions{start: 2998, count: 10, percent: -1, number: true})
			require.NoError(t, err)
			assert.Equal(t, "2998\t"+lines[2998]+"\n2999\t"+lines[2999]+"\n", out.String())
		})
	}
}

func TestRunRead_Percent(t *testing.T) {
	lines := sampleLines(3000)
	path := writePlain(t, lines)

	var out bytes.Buffer
	err := runRead(testContext(t), &out, path, largefile.FormatPlain, testLargeFileConfig(), readOptions{percent: 50, count: 1, number: true})
	require.NoError(t, err)

	var line int64
	var text string
	_, err = fmt.Sscanf(out.String(), "%d\t", &line)
	require.NoError(t, err)
	text = strings.TrimSuffix(strings.SplitN(out.String(), "\t", 2)[1], "\n")
	assert.InDelta(t, 1500, line, 150)
	assert.Equal(t, lines[line], text)
}

func TestRunRead_InvalidRange(t *testing.T) {
	path := writePlain(t, sampleLines(10))
	err := runRead(testContext(t), &bytes.Buffer{}, path, largefile.FormatAuto, testLargeFileConfig(), readOptions{start: -1, count: 1, percent: -1})
	assert.ErrorIs(t, err, largefile.ErrInvalidRange)
}

func TestRunVerify(t *testing.T) {
	lines := sampleLines(8000)
	lines[100] = ""
	lines[4321] = strings.Repeat("x", 70000)
	for name, path := range map[string]string{
		"plain": writePlain(t, lines),
		"gzip":  writeGzip(t, lines),
	} {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, runVerify(testContext(t), &out, path, largefile.FormatAuto, testLargeFileConfig()))
			assert.Contains(t, out.String(), "8000 lines")
			assert.Contains(t, out.String(), "entries verified")
		})
	}
}

func TestRunBench(t *testing.T) {
	path := writeGzip(t, sampleLines(4000))
	var out bytes.Buffer
	err := runBench(testContext(t), &out, path, largefile.FormatAuto, testLargeFileConfig(), benchOptions{reads: 40, count: 5, seed: 7, workers: 4})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "40 reads, ")
	assert.Contains(t, out.String(), "latency p50")
}

func TestRunBench_RejectsBadOptions(t *testing.T) {
	path := writePlain(t, sampleLines(10))
	err := runBench(testContext(t), &bytes.Buffer{}, path, largefile.FormatAuto, testLargeFileConfig(), benchOptions{reads: 0, count: 1, workers: 1})
	assert.Error(t, err)
}

func TestSession_AwaitKeepsOtherWorkersEvents(t *testing.T) {
	lines := sampleLines(1000)
	path := writePlain(t, lines)
	ctx := testContext(t)

	s, err := openSession(ctx, path, largefile.FormatAuto, testLargeFileConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.close(context.Background()) })

	_, err = s.index(ctx)
	require.NoError(t, err)

	first, err := s.d.Read(ctx, 10, 2)
	require.NoError(t, err)
	second, err := s.d.Read(ctx, 500, 2)
	require.NoError(t, err)

	var got []string
	collect := func(ev proactor.Event) error {
		got = append(got, ev.Payload)
		return nil
	}
	ev, err := s.await(ctx, second, collect)
	require.NoError(t, err)
	assert.Equal(t, proactor.KindDone, ev.Kind)
	assert.Equal(t, int64(502), ev.Line)
	assert.Equal(t, lines[500:502], got)

	got = nil
	ev, err = s.await(ctx, first, collect)
	require.NoError(t, err)
	assert.Equal(t, int64(12), ev.Line)
	assert.Equal(t, lines[10:12], got)
}

func TestSession_IndexAlreadyDone(t *testing.T) {
	path := writePlain(t, sampleLines(100))
	ctx := testContext(t)

	s, err := openSession(ctx, path, largefile.FormatAuto, testLargeFileConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.close(context.Background()) })

	ev, err := s.index(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ev.Line)

	ev, err = s.index(ctx)
	require.NoError(t, err)
	assert.Equal(t, proactor.KindIndexed, ev.Kind)
	assert.Empty(t, ev.Worker)
	assert.Equal(t, int64(100), ev.Line)
}

func TestSession_OpenMissingFile(t *testing.T) {
	_, err := openSession(testContext(t), filepath.Join(t.TempDir(), "nope.log"), largefile.FormatAuto, testLargeFileConfig())
	assert.ErrorIs(t, err, largefile.ErrOpenFailure)
}

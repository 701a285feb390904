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
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lineseek/internal/fileindex"
	"github.com/cardinalhq/lineseek/internal/proactor"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatAuto, false},
		{"auto", FormatAuto, false},
		{"Plain", FormatPlain, false},
		{"gz", FormatGzip, false},
		{"gzip", FormatGzip, false},
		{"zstd", FormatAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		if tt.in != "" && tt.in != "gz" && tt.in != "Plain" {
			assert.Equal(t, tt.in, got.String())
		}
	}
}

func TestDispatcher_PlainReadsMatchFile(t *testing.T) {
	data, oracle := logFile(10, 10000)
	d, rec := openDispatcher(t, writeFile(t, "app.log", data), FormatAuto)
	assert.Equal(t, FormatPlain, d.Stats().Format)

	ev := indexNow(t, d, rec)
	assert.Equal(t, int64(10000), ev.Line)

	tests := []struct {
		start, count int64
		wantNext     int64
	}{
		{0, 10, 10},
		{1, 1, 2},
		{4999, 25, 5024},
		{9999, 1, 10000},
		{9990, 50, 10000},
		{10000, 5, 10000},
		{20000, 5, 20000},
	}
	for _, tt := range tests {
		id, err := d.Read(context.Background(), tt.start, tt.count)
		require.NoError(t, err)
		done := rec.wait(t, id)
		require.Equal(t, proactor.KindDone, done.Kind, "start %d: %v", tt.start, done.Err)

		got := rec.lines(t, id, tt.start)
		from := min(tt.start, int64(len(oracle)))
		to := min(tt.start+tt.count, int64(len(oracle)))
		if want := oracle[from:to]; len(want) > 0 {
			assert.Equal(t, want, got, "start %d", tt.start)
		} else {
			assert.Empty(t, got, "start %d", tt.start)
		}
		assert.Equal(t, tt.wantNext, done.Line, "start %d", tt.start)
	}

	st := d.Stats()
	assert.True(t, st.Indexed)
	assert.Equal(t, int64(10000), st.Lines)
	assert.Equal(t, StateRunning, st.State)
}

func TestDispatcher_PlainMarks(t *testing.T) {
	data, _ := logFile(11, 4000)
	d, rec := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain)
	indexNow(t, d, rec)

	marks := d.Marks()
	require.NotEmpty(t, marks)
	assert.Equal(t, fileindex.Mark{Byte: 0, Line: 0}, marks[0])
	assert.LessOrEqual(t, len(marks), len(d.Grid()))
	for i := 1; i < len(marks); i++ {
		assert.Greater(t, marks[i].Byte, marks[i-1].Byte)
		assert.Greater(t, marks[i].Line, marks[i-1].Line)
		assert.Equal(t, byte('\n'), data[marks[i].Byte-1])
	}
	assert.Nil(t, d.Checkpoints())
}

func TestDispatcher_EmptyFile(t *testing.T) {
	d, rec := openDispatcher(t, writeFile(t, "empty.log", nil), FormatAuto)
	ev := indexNow(t, d, rec)
	assert.Zero(t, ev.Line)
	assert.Equal(t, []fileindex.Mark{{Byte: 0, Line: 0}}, d.Marks())

	id, err := d.Read(context.Background(), 0, 5)
	require.NoError(t, err)
	done := rec.wait(t, id)
	assert.Equal(t, proactor.KindDone, done.Kind)
	assert.Zero(t, done.Line)
	assert.Empty(t, rec.lines(t, id, 0))
}

func TestDispatcher_UnterminatedLastLine(t *testing.T) {
	d, rec := openDispatcher(t, writeFile(t, "tail.log", []byte("one\ntwo\nthree")), FormatPlain)
	ev := indexNow(t, d, rec)
	assert.Equal(t, int64(3), ev.Line)

	id, err := d.Read(context.Background(), 1, 10)
	require.NoError(t, err)
	rec.wait(t, id)
	assert.Equal(t, []string{"two", "three"}, rec.lines(t, id, 1))
}

func TestDispatcher_IndexIsIdempotent(t *testing.T) {
	data, _ := logFile(12, 500)
	d, rec := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain)
	indexNow(t, d, rec)
	before := d.Marks()

	id, err := d.Index(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id, "a finished index is not rebuilt")

	id, err = d.Reindex(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, proactor.KindIndexed, rec.wait(t, id).Kind)
	assert.Equal(t, before, d.Marks())
}

func TestDispatcher_IndexInProgress(t *testing.T) {
	data, _ := logFile(13, 100)
	d, _ := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain)

	// Hold the writer claim as a running indexer would.
	d.marks.Lock()
	_, err := d.Index(context.Background())
	d.marks.Unlock()
	assert.ErrorIs(t, err, ErrIndexInProgress)
}

func TestDispatcher_ConcurrentReads(t *testing.T) {
	data, oracle := logFile(14, 8000)
	d, rec := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain)
	indexNow(t, d, rec)

	const readers = 16
	ids := make([]string, readers)
	var wg sync.WaitGroup
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := d.Read(context.Background(), int64(i*500), 40)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for i, id := range ids {
		require.NotEmpty(t, id)
		done := rec.wait(t, id)
		require.Equal(t, proactor.KindDone, done.Kind, "%v", done.Err)
		start := int64(i * 500)
		assert.Equal(t, oracle[start:start+40], rec.lines(t, id, start))
	}
}

func TestDispatcher_ReadBeforeIndexWaits(t *testing.T) {
	data, oracle := logFile(15, 3000)
	d, rec := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain)

	id, err := d.Read(context.Background(), 2500, 3)
	require.NoError(t, err)
	_, err = d.Index(context.Background())
	require.NoError(t, err)

	done := rec.wait(t, id)
	require.Equal(t, proactor.KindDone, done.Kind, "%v", done.Err)
	assert.Equal(t, oracle[2500:2503], rec.lines(t, id, 2500))
}

func TestDispatcher_FetchFailPolicy(t *testing.T) {
	data, _ := logFile(16, 100)
	cfg := testConfig()
	cfg.FetchPolicy = FetchFail
	d, _ := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain, WithConfig(cfg))

	_, err := d.Fetch(context.Background(), 0, 1, func(int64, string) error { return nil })
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestDispatcher_FetchWaitTimesOut(t *testing.T) {
	data, _ := logFile(17, 100)
	cfg := testConfig()
	cfg.CommandTimeout = 50 * time.Millisecond
	d, _ := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain, WithConfig(cfg))

	_, err := d.Fetch(context.Background(), 0, 1, func(int64, string) error { return nil })
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestDispatcher_ReadRejectsBadInput(t *testing.T) {
	d, err := NewDispatcher(FormatPlain, proactor.NewEventType(), nil)
	require.NoError(t, err)

	_, err = d.Read(context.Background(), -1, 1)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = d.Read(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = d.Index(context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, d.Run(context.Background()), ErrNotOpen)
	assert.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_OpenErrors(t *testing.T) {
	plain := writeFile(t, "plain.log", []byte("not gzip at all\n"))

	d, err := NewDispatcher(FormatAuto, proactor.NewEventType(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, d.Open(context.Background(), ""), ErrOpenFailure)
	assert.ErrorIs(t, d.Open(context.Background(), plain+".missing"), ErrOpenFailure)
	assert.ErrorIs(t, d.Open(context.Background(), t.TempDir()), ErrOpenFailure)

	require.NoError(t, d.Open(context.Background(), plain))
	assert.ErrorIs(t, d.Open(context.Background(), plain), ErrConcurrentOpen)
	require.NoError(t, d.Close(context.Background()))

	gz, err := NewDispatcher(FormatGzip, proactor.NewEventType(), nil)
	require.NoError(t, err)
	err = gz.Open(context.Background(), plain)
	assert.ErrorIs(t, err, ErrOpenFailure)
	assert.Equal(t, StateClosed, gz.State())
}

func TestDispatcher_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FetchPolicy = "sometimes"
	_, err := NewDispatcher(FormatAuto, proactor.NewEventType(), nil, WithConfig(cfg))
	assert.Error(t, err)
}

type countingReaderAt struct {
	r    io.ReaderAt
	read int
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, off)
	c.read += n
	return n, err
}

func TestProbeGzipHeader_ReadsOnlyTheHeader(t *testing.T) {
	data, _ := logFile(18, 2000)
	z := gzipKlauspost(t, data)
	f, err := os.Open(writeFile(t, "app.log.gz", z))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	c := &countingReaderAt{r: f}
	require.NoError(t, probeGzipHeader(c))
	assert.Equal(t, 10, c.read)

	short := writeFile(t, "short", []byte{0x1f, 0x8b})
	sf, err := os.Open(short)
	require.NoError(t, err)
	defer func() { _ = sf.Close() }()
	assert.Error(t, probeGzipHeader(sf))
}

func TestDispatcher_GzipResumesFromCheckpoint(t *testing.T) {
	data, oracle := logFile(19, 20000)
	path := writeFile(t, "app.log.gz", gzipFlushed(t, data, 32*1024))
	d, rec := openDispatcher(t, path, FormatAuto)
	assert.Equal(t, FormatGzip, d.Stats().Format)

	ev := indexNow(t, d, rec)
	assert.Equal(t, int64(len(oracle)), ev.Line)
	cps := d.Checkpoints()
	require.Greater(t, len(cps), 2)

	start := int64(len(oracle) - 10)
	var got []string
	stats, err := d.Fetch(context.Background(), start, 20, func(line int64, text string) error {
		assert.Equal(t, start+int64(len(got)), line)
		got = append(got, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, oracle[start:], got)
	assert.True(t, stats.Resumed)
	assert.Positive(t, stats.Compressed)
	assert.True(t, stats.EOF)

	id, err := d.Read(context.Background(), 12345, 7)
	require.NoError(t, err)
	require.Equal(t, proactor.KindDone, rec.wait(t, id).Kind)
	assert.Equal(t, oracle[12345:12352], rec.lines(t, id, 12345))
}

func TestDispatcher_GzipDecodeFailure(t *testing.T) {
	data, _ := logFile(20, 3000)
	z := gzipFlushed(t, data, 32*1024)
	d, rec := openDispatcher(t, writeFile(t, "broken.gz", z[:len(z)/2]), FormatGzip)

	id, err := d.Index(context.Background())
	require.NoError(t, err)
	ev := rec.wait(t, id)
	require.Equal(t, proactor.KindError, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrDecodeFailure)

	st := d.Stats()
	assert.False(t, st.Indexed)
	assert.ErrorIs(t, st.IndexErr, ErrDecodeFailure)
	assert.Equal(t, int64(-1), st.Lines)
}

func TestDispatcher_SidecarRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		file string
		gzip bool
	}{
		{"plain", "app.log", false},
		{"gzip", "app.log.gz", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data, oracle := logFile(21, 6000)
			if tc.gzip {
				data = gzipFlushed(t, data, 32*1024)
			}
			path := writeFile(t, tc.file, data)

			first, err := NewDispatcher(FormatAuto, proactor.NewEventType(), newRecorder(), WithConfig(testConfig()), WithSidecar(true))
			require.NoError(t, err)
			require.NoError(t, first.Open(context.Background(), path))
			_, err = first.Index(context.Background())
			require.NoError(t, err)
			require.NoError(t, first.WaitIndexed(context.Background()))
			marks := first.Marks()
			require.NoError(t, first.Close(context.Background()))
			assert.FileExists(t, fileindex.SidecarPath(path))

			second, rec := openDispatcher(t, path, FormatAuto, WithSidecar(true))
			st := second.Stats()
			assert.True(t, st.FromSidecar)
			assert.True(t, st.Indexed)
			assert.Equal(t, int64(len(oracle)), st.Lines)
			assert.Equal(t, marks, second.Marks())

			id, err := second.Index(context.Background())
			require.NoError(t, err)
			assert.Empty(t, id)

			id, err = second.Read(context.Background(), 5000, 3)
			require.NoError(t, err)
			require.Equal(t, proactor.KindDone, rec.wait(t, id).Kind)
			assert.Equal(t, oracle[5000:5003], rec.lines(t, id, 5000))
		})
	}
}

func TestDispatcher_CloseSavesSidecarOfClosedFile(t *testing.T) {
	firstData, firstOracle := logFile(24, 4000)
	firstPath := writeFile(t, "first.log", firstData)
	secondData, _ := logFile(25, 2500)
	secondPath := writeFile(t, "second.log", secondData)

	d, err := NewDispatcher(FormatPlain, proactor.NewEventType(), newRecorder(), WithConfig(testConfig()), WithSidecar(true))
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background(), firstPath))
	_, err = d.Index(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.WaitIndexed(context.Background()))

	// A straggling worker keeps Close waiting while the next file opens.
	d.lock.Hold()
	closed := make(chan error, 1)
	go func() { closed <- d.Close(context.Background()) }()
	require.Eventually(t, func() bool { return d.State() == StateClosed }, 5*time.Second, time.Millisecond)
	require.NoError(t, d.Open(context.Background(), secondPath))
	d.lock.Release()
	require.NoError(t, <-closed)
	defer func() { _ = d.Close(context.Background()) }()

	assert.NoFileExists(t, fileindex.SidecarPath(secondPath))
	check, _ := openDispatcher(t, firstPath, FormatPlain, WithSidecar(true))
	st := check.Stats()
	assert.True(t, st.FromSidecar)
	assert.Equal(t, int64(len(firstOracle)), st.Lines)
}

func TestDispatcher_StaleSidecarIsIgnored(t *testing.T) {
	data, _ := logFile(22, 1000)
	path := writeFile(t, "app.log", data)
	require.NoError(t, os.WriteFile(fileindex.SidecarPath(path), []byte("garbage"), 0o644))

	d, _ := openDispatcher(t, path, FormatPlain, WithSidecar(true))
	st := d.Stats()
	assert.False(t, st.FromSidecar)
	assert.False(t, st.Indexed)
}

func TestDispatcher_PercentLine(t *testing.T) {
	data, _ := logFile(23, 5000)
	d, rec := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain)

	_, err := d.PercentLine(50)
	assert.ErrorIs(t, err, ErrIndexNotReady)

	indexNow(t, d, rec)
	line, err := d.PercentLine(0)
	require.NoError(t, err)
	assert.Zero(t, line)

	line, err = d.PercentLine(50)
	require.NoError(t, err)
	assert.InDelta(t, 2500, line, 250)

	_, err = d.PercentLine(101)
	assert.ErrorIs(t, err, ErrInvalidRange)

	id, err := d.ReadPercent(context.Background(), 100, 5)
	require.NoError(t, err)
	assert.Equal(t, proactor.KindDone, rec.wait(t, id).Kind)
}

func TestDispatcher_EagerIndex(t *testing.T) {
	data, _ := logFile(24, 2000)
	d, _ := openDispatcher(t, writeFile(t, "app.log", data), FormatPlain, WithEagerIndex())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.WaitIndexed(ctx))
	assert.Equal(t, int64(2000), d.Stats().Lines)
}

func TestDispatcher_CloseAndReopen(t *testing.T) {
	data, oracle := logFile(25, 1000)
	path := writeFile(t, "app.log", data)

	d, err := NewDispatcher(FormatPlain, proactor.NewEventType(), nil, WithConfig(testConfig()))
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background(), path))
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, StateClosed, d.State())

	_, err = d.Read(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, d.Open(context.Background(), path))
	_, err = d.Index(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.WaitIndexed(context.Background()))

	var got []string
	_, err = d.Fetch(context.Background(), 10, 2, func(_ int64, text string) error {
		got = append(got, text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, oracle[10:12], got)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_CloseCancelsWorkers(t *testing.T) {
	data, _ := logFile(26, 20000)
	d, err := NewDispatcher(FormatGzip, proactor.NewEventType(), nil, WithConfig(testConfig()))
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background(), writeFile(t, "app.log.gz", gzipFlushed(t, data, 64*1024))))
	_, err = d.Index(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Close(context.Background()))
	assert.Zero(t, d.lock.Holders())
	assert.Zero(t, d.reap())
}

func TestDispatcher_RunReturnsWhenContextEnds(t *testing.T) {
	d, err := NewDispatcher(FormatPlain, proactor.NewEventType(), nil)
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background(), writeFile(t, "a.log", []byte("x\n"))))
	defer func() { _ = d.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = d.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StateOpen, d.State())
}

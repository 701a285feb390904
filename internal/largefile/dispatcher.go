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

// Package largefile serves line ranges out of large plain or gzip compressed
// text files. A Dispatcher owns one open file, its sparse index and the
// background workers that build the index and fetch lines; results flow as
// events through the dispatcher's queue to a Sink, normally a Proactor.
package largefile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lineseek/internal/fileindex"
	"github.com/cardinalhq/lineseek/internal/idgen"
	"github.com/cardinalhq/lineseek/internal/proactor"
	"github.com/cardinalhq/lineseek/internal/syncx"
)

// Format is how a file is decoded.
type Format int

const (
	// FormatAuto picks gzip or plain from the file's first bytes.
	FormatAuto Format = iota
	FormatPlain
	FormatGzip
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatPlain:
		return "plain"
	case FormatGzip:
		return "gzip"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat accepts "auto", "plain" or "gzip".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "plain", "text":
		return FormatPlain, nil
	case "gzip", "gz":
		return FormatGzip, nil
	default:
		return FormatAuto, fmt.Errorf("unknown format %q", s)
	}
}

// State is the dispatcher lifecycle: Closed -> Open -> Running -> Closed.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sink receives the events a dispatcher's workers produce.
type Sink interface {
	Publish(ev proactor.Event) error
}

type discardSink struct{}

func (discardSink) Publish(proactor.Event) error { return nil }

// Stats is a point-in-time view of a dispatcher.
type Stats struct {
	Path        string
	Format      Format
	State       State
	Size        int64
	ModTime     time.Time
	Entries     int
	Indexed     bool
	IndexErr    error
	Lines       int64 // -1 until indexing completes
	Workers     map[WorkerKind]int
	FromSidecar bool
}

// coverage is what a fetch needs to know about index progress.
type coverage interface {
	Covers(line int64) bool
	WaitFor(ctx context.Context, line int64) error
	Complete() bool
	Err() error
}

type fetchFunc func(ctx context.Context, start, count int64, emit emitFunc) (FetchStats, error)

type Dispatcher struct {
	cfg       Config
	requested Format
	eventType proactor.EventType
	sink      Sink
	logger    *slog.Logger
	ids       idgen.IDGenerator
	eager     bool

	lock     *syncx.HandleLock
	fetchSem *syncx.Semaphore

	// mu guards the fields below, which change only on Open and Close.
	mu          sync.Mutex
	state       atomic.Int32
	handle      *Handle
	format      Format
	grid        []fileindex.Mark
	marks       *fileindex.Table[fileindex.Mark]
	checkpoints *fileindex.Table[fileindex.Checkpoint]
	fingerprint uint64
	fromSidecar bool
	lines       atomic.Int64
	queue       *syncx.Queue[proactor.Event]
	baseCtx     context.Context
	cancel      context.CancelFunc

	wmu     sync.Mutex
	workers map[string]*worker
}

// NewDispatcher returns a closed dispatcher that will decode files as format
// and tag every event it produces with eventType.
func NewDispatcher(format Format, eventType proactor.EventType, sink Sink, opts ...Options) (*Dispatcher, error) {
	d := &Dispatcher{
		cfg:       DefaultConfig(),
		requested: format,
		eventType: eventType,
		sink:      sink,
		logger:    slog.Default(),
		ids:       idgen.NewULIDGenerator(),
		lock:      syncx.NewHandleLock(),
		workers:   make(map[string]*worker),
	}
	if d.sink == nil {
		d.sink = discardSink{}
	}
	for _, opt := range opts {
		opt.apply(d)
	}
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	d.fetchSem = syncx.NewSemaphore(d.cfg.MaxFetchWorkers)
	d.lines.Store(-1)
	return d, nil
}

func (d *Dispatcher) State() State { return State(d.state.Load()) }

// EventType is the type stamped on every event from this dispatcher.
func (d *Dispatcher) EventType() proactor.EventType { return d.eventType }

func (d *Dispatcher) openLocked() bool {
	s := d.State()
	return s == StateOpen || s == StateRunning
}

// commandContext bounds ctx by the command timeout unless it already has a
// deadline.
func (d *Dispatcher) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.CommandTimeout)
}

// Open opens path for indexing and fetching. Gzip files are checked by
// reading their 10 byte header only.
func (d *Dispatcher) Open(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.State() != StateClosed {
		return fmt.Errorf("%w: %s is open", ErrConcurrentOpen, d.handle.Path())
	}
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrOpenFailure)
	}

	h, err := openHandle(path, d.lock)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}

	format := d.requested
	switch format {
	case FormatGzip:
		if err := probeGzipHeader(h); err != nil {
			_ = h.Close()
			return fmt.Errorf("%w: %s: %w", ErrOpenFailure, path, err)
		}
	case FormatAuto:
		format = FormatPlain
		if probeGzipHeader(h) == nil {
			format = FormatGzip
		}
	}

	d.handle = h
	d.format = format
	d.fromSidecar = false
	d.lines.Store(-1)
	d.grid, d.marks, d.checkpoints = nil, nil, nil
	switch format {
	case FormatGzip:
		d.checkpoints = fileindex.NewTable[fileindex.Checkpoint](0)
	default:
		d.grid = fileindex.FuzzyGrid(h.Size(), d.cfg.GridPoints)
		d.marks = fileindex.NewTable[fileindex.Mark](len(d.grid))
	}
	if d.cfg.Sidecar {
		d.loadSidecarLocked()
	}

	d.queue = syncx.NewQueue[proactor.Event]()
	d.baseCtx, d.cancel = context.WithCancel(context.Background())
	d.state.Store(int32(StateOpen))

	d.logger.Info("Opened file",
		slog.String("path", path),
		slog.String("format", format.String()),
		slog.Int64("size", h.Size()),
		slog.Bool("fromSidecar", d.fromSidecar))
	return nil
}

func (d *Dispatcher) loadSidecarLocked() {
	h := d.handle
	fp, err := fileindex.Fingerprint(h, h.Size(), h.ModTime())
	if err != nil {
		d.logger.Warn("Cannot fingerprint file, index sidecar disabled", slog.String("path", h.Path()), slog.Any("error", err))
		return
	}
	d.fingerprint = fp

	path := fileindex.SidecarPath(h.Path())
	var lines int64
	switch d.format {
	case FormatGzip:
		lines, err = restoreSidecar(d.checkpoints, path, d.format, fp)
	default:
		lines, err = restoreSidecar(d.marks, path, d.format, fp)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		d.logger.Debug("No index sidecar", slog.String("sidecar", path))
	case err != nil:
		d.logger.Warn("Ignoring index sidecar", slog.String("sidecar", path), slog.Any("error", err))
	default:
		d.fromSidecar = true
		d.lines.Store(lines)
	}
}

func restoreSidecar[E fileindex.Entry](tbl *fileindex.Table[E], path string, format Format, fp uint64) (int64, error) {
	sc, err := fileindex.LoadSidecar[E](path, format.String(), fp)
	if err != nil {
		return 0, err
	}
	if len(sc.Entries) == 0 {
		return 0, fmt.Errorf("%w: no entries", fileindex.ErrStaleSidecar)
	}
	if err := tbl.Restore(sc.Entries); err != nil {
		return 0, err
	}
	return sc.Lines, nil
}

func saveSidecar[E fileindex.Entry](tbl *fileindex.Table[E], path string, format Format, fp uint64, lines int64) error {
	return fileindex.SaveSidecar(path, fileindex.Sidecar[E]{
		Format:      format.String(),
		Fingerprint: fp,
		Lines:       lines,
		Entries:     tbl.Snapshot(),
	})
}

// Run forwards queued events to the sink until ctx is done or the file is
// closed. Only one Run may be active per open file.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	switch d.State() {
	case StateRunning:
		d.mu.Unlock()
		return errors.New("dispatcher is already running")
	case StateClosed:
		d.mu.Unlock()
		return ErrNotOpen
	}
	d.state.Store(int32(StateRunning))
	q := d.queue
	d.mu.Unlock()

	if d.eager {
		if _, err := d.Index(ctx); err != nil && !errors.Is(err, ErrIndexInProgress) {
			d.logger.Warn("Eager index did not start", slog.Any("error", err))
		}
	}

	for {
		err := q.Wait(ctx)
		for _, ev := range q.Drain() {
			if perr := d.sink.Publish(ev); perr != nil {
				d.logger.Warn("Dropping event", slog.String("kind", ev.Kind.String()), slog.Any("error", perr))
			}
		}
		d.reap()
		if errors.Is(err, syncx.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			d.mu.Lock()
			if d.queue == q && d.State() == StateRunning {
				d.state.Store(int32(StateOpen))
			}
			d.mu.Unlock()
			return err
		}
	}
}

// Index starts the indexing worker and returns its id. It is a no-op,
// returning an empty id, when the file is already fully indexed, and fails
// with ErrIndexInProgress while another indexer runs. An index that failed or
// was interrupted is rebuilt.
func (d *Dispatcher) Index(ctx context.Context) (string, error) {
	return d.startIndex(ctx, false)
}

// Reindex discards the current index and builds it again.
func (d *Dispatcher) Reindex(ctx context.Context) (string, error) {
	return d.startIndex(ctx, true)
}

func (d *Dispatcher) startIndex(ctx context.Context, reset bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.openLocked() {
		return "", ErrNotOpen
	}

	h, q := d.handle, d.queue
	switch d.format {
	case FormatGzip:
		tbl := d.checkpoints
		if ok, err := claimIndex(tbl, reset, 0); !ok || err != nil {
			return "", err
		}
		d.lines.Store(-1)
		d.fromSidecar = false
		return d.spawn(GzipIndex, func(ctx context.Context, id string) error {
			defer tbl.Unlock()
			began := time.Now()
			lines, err := indexGzip(ctx, h, h.Size(), d.cfg.Span, tbl, d.cfg.ChunkSize)
			return d.finishIndex(q, id, tbl, lines, err, began)
		}), nil
	default:
		tbl, grid := d.marks, d.grid
		if ok, err := claimIndex(tbl, reset, len(grid)); !ok || err != nil {
			return "", err
		}
		d.lines.Store(-1)
		d.fromSidecar = false
		return d.spawn(PlainIndex, func(ctx context.Context, id string) error {
			defer tbl.Unlock()
			began := time.Now()
			lines, err := indexPlain(ctx, h, h.Size(), grid, tbl, d.cfg.ChunkSize)
			return d.finishIndex(q, id, tbl, lines, err, began)
		}), nil
	}
}

// claimIndex takes the table's writer claim for a new indexing pass. It
// returns false with no error when there is nothing to do.
func claimIndex[E fileindex.Entry](tbl *fileindex.Table[E], reset bool, capacity int) (bool, error) {
	if !tbl.TryLock() {
		return false, ErrIndexInProgress
	}
	if !reset && tbl.Complete() && tbl.Err() == nil {
		tbl.Unlock()
		return false, nil
	}
	tbl.Reset(capacity)
	return true, nil
}

// finishIndex publishes the outcome of an indexing pass.
func (d *Dispatcher) finishIndex(q *syncx.Queue[proactor.Event], id string, tbl interface {
	Compact()
	Finish(error)
	Len() int
}, lines int64, err error, began time.Time) error {
	if err != nil {
		tbl.Finish(err)
		if !errors.Is(err, context.Canceled) {
			_ = q.Push(proactor.ErrorEvent(d.eventType, id, lines, err))
		}
		return err
	}
	tbl.Compact()
	d.lines.Store(lines)
	tbl.Finish(nil)

	entries := tbl.Len()
	d.logger.Info("Indexed file",
		slog.String("worker", id),
		slog.Int("entries", entries),
		slog.Int64("lines", lines),
		slog.Duration("elapsed", time.Since(began)))
	_ = q.Push(proactor.IndexedEvent(d.eventType, id, lines, fmt.Sprintf("%d entries", entries)))
	return nil
}

// fetcherLocked binds a fetch to the current file and index.
func (d *Dispatcher) fetcherLocked() (WorkerKind, coverage, fetchFunc) {
	h := d.handle
	switch d.format {
	case FormatGzip:
		tbl := d.checkpoints
		return GzipFetch, tbl, func(ctx context.Context, start, count int64, emit emitFunc) (FetchStats, error) {
			return fetchGzip(ctx, h, h.Size(), tbl, start, count, emit)
		}
	default:
		tbl := d.marks
		return PlainFetch, tbl, func(ctx context.Context, start, count int64, emit emitFunc) (FetchStats, error) {
			return fetchPlain(ctx, h, h.Size(), tbl, start, count, emit)
		}
	}
}

// Read starts a worker that delivers lines [start, start+count) as line
// events followed by a done event, and returns the worker id at once. A read
// past the end of the file delivers fewer lines.
func (d *Dispatcher) Read(ctx context.Context, start, count int64) (string, error) {
	if start < 0 || count < 0 {
		return "", fmt.Errorf("%w: start %d count %d", ErrInvalidRange, start, count)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.openLocked() {
		return "", ErrNotOpen
	}

	kind, cov, fetch := d.fetcherLocked()
	q := d.queue
	return d.spawn(kind, func(ctx context.Context, id string) error {
		emit := func(line int64, text string) error {
			return q.Push(proactor.LineEvent(d.eventType, id, line, text))
		}
		stats, err := d.runFetch(ctx, kind, cov, fetch, start, count, emit)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, syncx.ErrQueueClosed) {
				_ = q.Push(proactor.ErrorEvent(d.eventType, id, start+stats.Emitted, err))
			}
			return err
		}
		return q.Push(proactor.DoneEvent(d.eventType, id, start+stats.Emitted))
	}), nil
}

// ReadPercent is Read starting at the index entry closest to percent of the
// way through the file, measured in bytes on disk.
func (d *Dispatcher) ReadPercent(ctx context.Context, percent float64, count int64) (string, error) {
	line, err := d.PercentLine(percent)
	if err != nil {
		return "", err
	}
	return d.Read(ctx, line, count)
}

// PercentLine maps a position in the file, as a percentage of its size on
// disk, to the line of the nearest index entry.
func (d *Dispatcher) PercentLine(percent float64) (int64, error) {
	if percent < 0 || percent > 100 || math.IsNaN(percent) {
		return 0, fmt.Errorf("%w: percent %v", ErrInvalidRange, percent)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.openLocked() {
		return 0, ErrNotOpen
	}
	target := int64(percent / 100 * float64(d.handle.Size()))

	best, found := int64(0), false
	bestDist := int64(math.MaxInt64)
	consider := func(pos, line int64) {
		dist := pos - target
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best, bestDist, found = line, dist, true
		}
	}
	switch d.format {
	case FormatGzip:
		for _, cp := range d.checkpoints.Snapshot() {
			consider(cp.Compressed, cp.Line)
		}
	default:
		for _, m := range d.marks.Snapshot() {
			consider(m.Byte, m.Line)
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: no index entries yet", ErrIndexNotReady)
	}
	return best, nil
}

// Fetch serves lines [start, start+count) synchronously, calling emit for
// each one, under the same admission and index readiness rules as Read.
func (d *Dispatcher) Fetch(ctx context.Context, start, count int64, emit func(line int64, text string) error) (FetchStats, error) {
	if start < 0 || count < 0 {
		return FetchStats{}, fmt.Errorf("%w: start %d count %d", ErrInvalidRange, start, count)
	}
	d.mu.Lock()
	if !d.openLocked() {
		d.mu.Unlock()
		return FetchStats{}, ErrNotOpen
	}
	kind, cov, fetch := d.fetcherLocked()
	base := d.baseCtx
	d.lock.Hold()
	d.mu.Unlock()
	defer d.lock.Release()

	ctx, cancel := d.commandContext(ctx)
	defer cancel()
	stop := context.AfterFunc(base, cancel)
	defer stop()

	return d.runFetch(ctx, kind, cov, fetch, start, count, emit)
}

func (d *Dispatcher) runFetch(ctx context.Context, kind WorkerKind, cov coverage, fetch fetchFunc, start, count int64, emit emitFunc) (FetchStats, error) {
	if err := d.fetchSem.Acquire(ctx); err != nil {
		return FetchStats{}, err
	}
	defer d.fetchSem.Release()

	if err := d.awaitIndex(ctx, cov, start); err != nil {
		return FetchStats{}, err
	}

	began := time.Now()
	stats, err := fetch(ctx, start, count, emit)
	attrs := otelmetric.WithAttributes(attribute.String("kind", kind.String()))
	fetchedLinesCounter.Add(ctx, stats.Emitted, attrs)
	fetchDuration.Record(ctx, time.Since(began).Seconds(), attrs)
	if err == nil {
		d.logger.Debug("Fetched lines",
			slog.Int64("start", start),
			slog.Int64("emitted", stats.Emitted),
			slog.Int64("from", stats.From.Line),
			slog.Int64("skipped", stats.Skipped),
			slog.Bool("resumed", stats.Resumed))
	}
	return stats, err
}

// awaitIndex applies the fetch policy when the index has not reached start.
func (d *Dispatcher) awaitIndex(ctx context.Context, cov coverage, start int64) error {
	if cov.Covers(start) {
		return nil
	}
	if d.cfg.FetchPolicy == FetchFail {
		return fmt.Errorf("%w: line %d", ErrIndexNotReady, start)
	}
	wctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()
	if err := cov.WaitFor(wctx, start); err != nil {
		return fmt.Errorf("%w: line %d: %w", ErrIndexNotReady, start, err)
	}
	if !cov.Covers(start) {
		return fmt.Errorf("%w: line %d: indexing ended with %v", ErrIndexNotReady, start, cov.Err())
	}
	return nil
}

// WaitIndexed blocks until the current indexing pass ends and returns its
// error.
func (d *Dispatcher) WaitIndexed(ctx context.Context) error {
	d.mu.Lock()
	if !d.openLocked() {
		d.mu.Unlock()
		return ErrNotOpen
	}
	cov, _, _ := d.coverageLocked()
	d.mu.Unlock()
	if err := cov.WaitFor(ctx, math.MaxInt64); err != nil {
		return err
	}
	return cov.Err()
}

func (d *Dispatcher) coverageLocked() (coverage, int, bool) {
	if d.format == FormatGzip {
		return d.checkpoints, d.checkpoints.Len(), d.checkpoints.Complete()
	}
	return d.marks, d.marks.Len(), d.marks.Complete()
}

// Close cancels all workers, waits for them to let go of the file, closes it
// and, when enabled, saves the finished index next to it. Closing a closed
// dispatcher does nothing.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.State() == StateClosed {
		d.mu.Unlock()
		return nil
	}
	d.state.Store(int32(StateClosed))
	d.cancel()
	h, q := d.handle, d.queue
	var save func() error
	if d.cfg.Sidecar {
		save = d.sidecarSaverLocked()
	}
	d.mu.Unlock()

	var result *multierror.Error
	wctx, cancel := d.commandContext(ctx)
	defer cancel()
	if err := d.lock.WaitIdle(wctx); err != nil {
		d.logger.Warn("Workers still hold the file, closing anyway",
			slog.String("path", h.Path()),
			slog.Int("holders", d.lock.Holders()))
		result = multierror.Append(result, fmt.Errorf("waiting for workers: %w", err))
	}

	if save != nil {
		if err := save(); err != nil {
			result = multierror.Append(result, fmt.Errorf("saving index sidecar: %w", err))
		}
	}
	if err := h.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing %s: %w", h.Path(), err))
	}
	q.Close()
	d.reap()

	d.logger.Info("Closed file", slog.String("path", h.Path()))
	return result.ErrorOrNil()
}

// sidecarSaverLocked binds the save to the file being closed, so a later
// Open on the same dispatcher cannot redirect it. It returns nil when there
// is nothing worth saving.
func (d *Dispatcher) sidecarSaverLocked() func() error {
	lines := d.lines.Load()
	if d.fromSidecar || lines < 0 {
		return nil
	}
	path := fileindex.SidecarPath(d.handle.Path())
	format, fp := d.format, d.fingerprint
	switch format {
	case FormatGzip:
		tbl := d.checkpoints
		if !tbl.Complete() || tbl.Err() != nil {
			return nil
		}
		return func() error { return saveSidecar(tbl, path, format, fp, lines) }
	default:
		tbl := d.marks
		if !tbl.Complete() || tbl.Err() != nil {
			return nil
		}
		return func() error { return saveSidecar(tbl, path, format, fp, lines) }
	}
}

// Stats snapshots the dispatcher.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{
		State:   d.State(),
		Format:  d.format,
		Lines:   d.lines.Load(),
		Workers: d.activeWorkers(),
	}
	if d.handle == nil {
		st.Format = d.requested
		return st
	}
	st.Path = d.handle.Path()
	st.Size = d.handle.Size()
	st.ModTime = d.handle.ModTime()
	st.FromSidecar = d.fromSidecar
	cov, n, done := d.coverageLocked()
	st.Entries = n
	st.Indexed = done && cov.Err() == nil
	st.IndexErr = cov.Err()
	return st
}

func (d *Dispatcher) activeWorkers() map[WorkerKind]int {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	out := make(map[WorkerKind]int)
	for _, w := range d.workers {
		if !w.done.Load() {
			out[w.kind]++
		}
	}
	return out
}

// Marks returns the position of every index entry.
func (d *Dispatcher) Marks() []fileindex.Mark {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.marks != nil:
		return d.marks.Positions()
	case d.checkpoints != nil:
		return d.checkpoints.Positions()
	}
	return nil
}

// Checkpoints returns the gzip checkpoints, or nil for a plain file.
func (d *Dispatcher) Checkpoints() []fileindex.Checkpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.checkpoints == nil {
		return nil
	}
	return d.checkpoints.Snapshot()
}

// Grid returns the percentile grid a plain file was opened with.
func (d *Dispatcher) Grid() []fileindex.Mark {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fileindex.Mark(nil), d.grid...)
}

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

// Package filepool keeps a bounded set of open dispatchers keyed by path so
// that repeated requests for the same file share one index.
package filepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/proactor"
)

// ErrClosed is returned once the pool has been closed.
var ErrClosed = errors.New("file pool closed")

// entry is one open file.
type entry struct {
	path      string
	d         *largefile.Dispatcher
	eventType proactor.EventType
	handler   proactor.HandlerID
	cancel    context.CancelFunc
}

// FileInfo describes an open file.
type FileInfo struct {
	Path     string
	Indexing bool
	Stats    largefile.Stats
}

type Pool struct {
	cfg      Config
	proactor *proactor.Proactor
	logger   *slog.Logger
	format   largefile.Format
	dopts    []largefile.Options

	cache    *ttlcache.Cache[string, *entry]
	opening  singleflight.Group
	indexing mapset.Set[string]
	closed   atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
}

type Option interface {
	apply(p *Pool)
}

type loggerOption struct{ logger *slog.Logger }

func (o loggerOption) apply(p *Pool) {
	if o.logger != nil {
		p.logger = o.logger
	}
}

func WithLogger(logger *slog.Logger) Option { return loggerOption{logger: logger} }

type formatOption struct{ format largefile.Format }

func (o formatOption) apply(p *Pool) { p.format = o.format }

// WithFormat forces the format of every file the pool opens. The default
// sniffs each file.
func WithFormat(format largefile.Format) Option { return formatOption{format: format} }

type dispatcherOption struct{ opts []largefile.Options }

func (o dispatcherOption) apply(p *Pool) { p.dopts = append(p.dopts, o.opts...) }

// WithDispatcherOptions passes opts to every dispatcher the pool creates.
func WithDispatcherOptions(opts ...largefile.Options) Option {
	return dispatcherOption{opts: opts}
}

// New creates a pool whose dispatchers publish to pr. The caller runs pr.
func New(cfg Config, pr *proactor.Proactor, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:      cfg,
		proactor: pr,
		logger:   slog.Default(),
		format:   largefile.FormatAuto,
		indexing: mapset.NewSet[string](),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	p.baseCtx, p.cancel = context.WithCancel(context.Background())
	p.cache = ttlcache.New(
		ttlcache.WithTTL[string, *entry](cfg.IdleTTL),
		ttlcache.WithCapacity[string, *entry](cfg.MaxOpen),
	)
	p.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *entry]) {
		evictedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", evictionReason(reason))))
		// Closing waits for workers; never do that on the cache's goroutine.
		go p.release(item.Value(), evictionReason(reason))
	})
	go p.cache.Start()
	return p, nil
}

func evictionReason(r ttlcache.EvictionReason) string {
	switch r {
	case ttlcache.EvictionReasonExpired:
		return "idle"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	case ttlcache.EvictionReasonDeleted:
		return "deleted"
	default:
		return "other"
	}
}

// Get returns the dispatcher for path, opening it on first use. Concurrent
// first uses of one path share a single open.
func (p *Pool) Get(ctx context.Context, path string) (*largefile.Dispatcher, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", largefile.ErrOpenFailure)
	}
	path = filepath.Clean(path)
	if item := p.cache.Get(path); item != nil {
		return item.Value().d, nil
	}

	v, err, _ := p.opening.Do(path, func() (any, error) {
		if item := p.cache.Get(path); item != nil {
			return item.Value(), nil
		}
		e, err := p.open(ctx, path)
		if err != nil {
			return nil, err
		}
		// An expired entry may still be parked under this key.
		p.cache.Delete(path)
		p.cache.Set(path, e, ttlcache.DefaultTTL)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry).d, nil
}

func (p *Pool) open(ctx context.Context, path string) (*entry, error) {
	e := &entry{path: path, eventType: proactor.NewEventType()}

	opts := append([]largefile.Options{largefile.WithLogger(p.logger.With(slog.String("path", path)))}, p.dopts...)
	d, err := largefile.NewDispatcher(p.format, e.eventType, p.proactor, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Open(ctx, path); err != nil {
		return nil, err
	}
	e.d = d

	e.handler = p.proactor.Register(e.eventType, func(ev proactor.Event) {
		switch ev.Kind {
		case proactor.KindIndexed:
			p.indexing.Remove(path)
		case proactor.KindError:
			// Fetch failures arrive here too; only a failed pass clears the flag.
			if d.Stats().IndexErr != nil {
				p.indexing.Remove(path)
			}
		}
	})

	var runCtx context.Context
	runCtx, e.cancel = context.WithCancel(p.baseCtx)
	go func() {
		if err := d.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Dispatcher loop ended", slog.String("path", path), slog.Any("error", err))
		}
	}()

	openedCounter.Add(ctx, 1)
	p.logger.Debug("Opened pooled file", slog.String("path", path))
	return e, nil
}

// release closes a file that has left the cache.
func (p *Pool) release(e *entry, reason string) {
	if e == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := p.closeEntry(ctx, e)
	if err != nil {
		p.logger.Warn("Error closing pooled file", slog.String("path", e.path), slog.String("reason", reason), slog.Any("error", err))
		return
	}
	p.logger.Debug("Closed pooled file", slog.String("path", e.path), slog.String("reason", reason))
}

func (p *Pool) closeEntry(ctx context.Context, e *entry) error {
	err := e.d.Close(ctx)
	e.cancel()
	p.proactor.Unregister(e.eventType, e.handler)
	p.indexing.Remove(e.path)
	return err
}

// Index starts indexing path. It returns the indexing worker's id, or an
// empty id when the file is already indexed.
func (p *Pool) Index(ctx context.Context, path string, reindex bool) (string, error) {
	d, err := p.Get(ctx, path)
	if err != nil {
		return "", err
	}
	path = filepath.Clean(path)

	// Flag first: the pass may finish before Index returns.
	added := p.indexing.Add(path)
	var id string
	if reindex {
		id, err = d.Reindex(ctx)
	} else {
		id, err = d.Index(ctx)
	}
	if (err != nil || id == "") && added {
		p.indexing.Remove(path)
	}
	return id, err
}

// Indexing lists the paths with an indexing pass in flight.
func (p *Pool) Indexing() []string {
	out := p.indexing.ToSlice()
	slices.Sort(out)
	return out
}

// Files describes every open file, sorted by path.
func (p *Pool) Files() []FileInfo {
	items := p.cache.Items()
	out := make([]FileInfo, 0, len(items))
	for path, item := range items {
		out = append(out, FileInfo{
			Path:     path,
			Indexing: p.indexing.Contains(path),
			Stats:    item.Value().d.Stats(),
		})
	}
	slices.SortFunc(out, func(a, b FileInfo) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return out
}

// Len is the number of open files.
func (p *Pool) Len() int { return p.cache.Len() }

// Evict closes path if it is open and reports whether it was.
func (p *Pool) Evict(path string) bool {
	path = filepath.Clean(path)
	if !p.cache.Has(path) {
		return false
	}
	p.cache.Delete(path)
	return true
}

// Close closes every open file and stops the expiry loop.
func (p *Pool) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	items := p.cache.Items()
	p.cache.Stop()

	var result *multierror.Error
	for path, item := range items {
		if err := p.closeEntry(ctx, item.Value()); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", path, err))
		}
	}
	// Eviction callbacks close again; Dispatcher.Close is idempotent.
	p.cache.DeleteAll()
	p.cancel()
	return result.ErrorOrNil()
}

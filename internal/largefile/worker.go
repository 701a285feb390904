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
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// WorkerKind is the closed set of background jobs a dispatcher runs.
type WorkerKind int

const (
	PlainIndex WorkerKind = iota
	PlainFetch
	GzipIndex
	GzipFetch
)

func (k WorkerKind) String() string {
	switch k {
	case PlainIndex:
		return "plain-index"
	case PlainFetch:
		return "plain-fetch"
	case GzipIndex:
		return "gzip-index"
	case GzipFetch:
		return "gzip-fetch"
	default:
		return fmt.Sprintf("worker(%d)", int(k))
	}
}

// worker is one arena entry. done is its tombstone: set once the task has
// returned, after which the dispatcher loop may reap it.
type worker struct {
	id      string
	kind    WorkerKind
	started time.Time
	done    atomic.Bool
}

// spawn registers a worker and runs task on its own goroutine. The worker
// holds the file handle until task returns. Callers must hold d.mu so that
// spawning cannot race with Close.
func (d *Dispatcher) spawn(kind WorkerKind, task func(ctx context.Context, id string) error) string {
	id := d.ids.Make(time.Now())
	ctx, cancel := context.WithCancel(d.baseCtx)
	w := &worker{id: id, kind: kind, started: time.Now()}

	d.wmu.Lock()
	d.workers[id] = w
	d.wmu.Unlock()

	d.lock.Hold()
	workersStartedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", kind.String())))

	logger := d.logger.With(slog.String("worker", id), slog.String("kind", kind.String()))
	go func() {
		defer d.lock.Release()
		defer cancel()
		defer w.done.Store(true)

		logger.Debug("Worker started")
		err := task(ctx, id)
		switch {
		case err == nil:
			logger.Debug("Worker finished", slog.Duration("elapsed", time.Since(w.started)))
		case errors.Is(err, context.Canceled):
			logger.Debug("Worker cancelled", slog.Duration("elapsed", time.Since(w.started)))
		default:
			logger.Warn("Worker failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(w.started)))
		}
	}()
	return id
}

// reap drops tombstoned workers from the arena and returns how many are
// still live.
func (d *Dispatcher) reap() int {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	for id, w := range d.workers {
		if w.done.Load() {
			delete(d.workers, id)
		}
	}
	return len(d.workers)
}

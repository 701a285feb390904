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
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/proactor"
	"github.com/cardinalhq/lineseek/internal/syncx"
)

// session is one file opened for a CLI command: a dispatcher, a proactor
// delivering its events, and an inbox the command reads them from.
type session struct {
	d     *largefile.Dispatcher
	pr    *proactor.Proactor
	inbox *syncx.Queue[proactor.Event]

	// pending holds events for workers nobody has awaited yet.
	pending []proactor.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func openSession(ctx context.Context, path string, format largefile.Format, cfg largefile.Config) (*session, error) {
	s := &session{
		pr:    proactor.New(),
		inbox: syncx.NewQueue[proactor.Event](),
	}
	et := proactor.NewEventType()
	s.pr.Register(et, func(ev proactor.Event) {
		_ = s.inbox.Push(ev)
	})

	d, err := largefile.NewDispatcher(format, et, s.pr, largefile.WithConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := d.Open(ctx, path); err != nil {
		return nil, err
	}
	s.d = d

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		_ = s.pr.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		if err := d.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Dispatcher loop ended", slog.Any("error", err))
		}
	}()
	return s, nil
}

// close closes the file, which also saves its sidecar when enabled.
func (s *session) close(ctx context.Context) error {
	err := s.d.Close(ctx)
	s.pr.Stop()
	s.cancel()
	s.wg.Wait()
	s.inbox.Close()
	return err
}

// await returns worker's terminal event, passing its line events to onLine
// as they arrive. A nil onLine drops them.
func (s *session) await(ctx context.Context, worker string, onLine func(proactor.Event) error) (proactor.Event, error) {
	handle := func(ev proactor.Event) (proactor.Event, bool, error) {
		if ev.Worker != worker {
			s.pending = append(s.pending, ev)
			return ev, false, nil
		}
		if ev.Kind == proactor.KindLine {
			if onLine != nil {
				if err := onLine(ev); err != nil {
					return ev, false, err
				}
			}
			return ev, false, nil
		}
		return ev, true, nil
	}

	backlog := s.pending
	s.pending = nil
	for i, ev := range backlog {
		if got, done, err := handle(ev); err != nil || done {
			s.pending = append(s.pending, backlog[i+1:]...)
			return got, err
		}
	}

	for {
		if err := s.inbox.Wait(ctx); err != nil {
			return proactor.Event{}, err
		}
		events := s.inbox.Drain()
		for i, ev := range events {
			if got, done, err := handle(ev); err != nil || done {
				s.pending = append(s.pending, events[i+1:]...)
				return got, err
			}
		}
	}
}

// index runs one indexing pass to completion. A file that is already indexed
// returns at once.
func (s *session) index(ctx context.Context) (proactor.Event, error) {
	id, err := s.d.Index(ctx)
	if err != nil {
		return proactor.Event{}, err
	}
	if id == "" {
		st := s.d.Stats()
		return proactor.IndexedEvent(s.d.EventType(), "", st.Lines, fmt.Sprintf("%d entries", st.Entries)), nil
	}
	ev, err := s.await(ctx, id, nil)
	if err != nil {
		return ev, err
	}
	if ev.Failed() {
		return ev, ev.Err
	}
	return ev, nil
}

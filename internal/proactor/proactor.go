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

// Package proactor fans events out to the handlers registered for their type.
// Producers publish from any goroutine; a single Run loop delivers, so
// handlers for one proactor never run concurrently with each other.
package proactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lineseek/internal/syncx"
)

// ErrStopped is returned by Publish after Stop.
var ErrStopped = errors.New("proactor stopped")

// Handler receives events. It runs on the proactor's loop goroutine and must
// not block for long.
type Handler func(Event)

// HandlerID identifies one registration so it can be removed again.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

type Proactor struct {
	queue  *syncx.Queue[Event]
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[EventType][]registration
	nextID   atomic.Uint64
}

type Option interface {
	apply(p *Proactor)
}

type loggerOption struct {
	logger *slog.Logger
}

func (o loggerOption) apply(p *Proactor) {
	if o.logger != nil {
		p.logger = o.logger
	}
}

// WithLogger sets the logger used for handler panics.
func WithLogger(logger *slog.Logger) Option {
	return loggerOption{logger: logger}
}

func New(opts ...Option) *Proactor {
	p := &Proactor{
		queue:    syncx.NewQueue[Event](),
		logger:   slog.Default(),
		handlers: make(map[EventType][]registration),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	return p
}

// Register adds fn for events of type t. Handlers are called in the order
// they were registered; registering the same function twice calls it twice.
func (p *Proactor) Register(t EventType, fn Handler) HandlerID {
	id := HandlerID(p.nextID.Add(1))
	p.mu.Lock()
	defer p.mu.Unlock()
	// Copy so a delivery in progress keeps iterating its own snapshot.
	cur := p.handlers[t]
	next := make([]registration, len(cur), len(cur)+1)
	copy(next, cur)
	p.handlers[t] = append(next, registration{id: id, fn: fn})
	return id
}

// On is Register.
func (p *Proactor) On(t EventType, fn Handler) HandlerID {
	return p.Register(t, fn)
}

// Unregister removes one registration. It reports whether it was found.
func (p *Proactor) Unregister(t EventType, id HandlerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.handlers[t]
	for i, r := range cur {
		if r.id != id {
			continue
		}
		next := make([]registration, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		if len(next) == 0 {
			delete(p.handlers, t)
		} else {
			p.handlers[t] = next
		}
		return true
	}
	return false
}

// Publish queues ev for delivery.
func (p *Proactor) Publish(ev Event) error {
	if err := p.queue.Push(ev); err != nil {
		return ErrStopped
	}
	return nil
}

// Pending is the number of events waiting for delivery.
func (p *Proactor) Pending() int { return p.queue.Len() }

// Run delivers events until ctx is done or Stop is called. After Stop it
// delivers whatever was already queued and returns nil.
func (p *Proactor) Run(ctx context.Context) error {
	for {
		err := p.queue.Wait(ctx)
		for _, ev := range p.queue.Drain() {
			p.deliver(ctx, ev)
		}
		if errors.Is(err, syncx.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Stop rejects new events and lets Run finish.
func (p *Proactor) Stop() {
	p.queue.Close()
}

func (p *Proactor) deliver(ctx context.Context, ev Event) {
	p.mu.RLock()
	regs := p.handlers[ev.Type]
	p.mu.RUnlock()

	attrs := otelmetric.WithAttributes(attribute.String("kind", ev.Kind.String()))
	if len(regs) == 0 {
		droppedCounter.Add(ctx, 1, attrs)
		return
	}
	deliveredCounter.Add(ctx, 1, attrs)
	for _, r := range regs {
		p.call(ctx, r, ev)
	}
}

func (p *Proactor) call(ctx context.Context, r registration, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			panicCounter.Add(ctx, 1)
			p.logger.Error("Event handler panicked",
				slog.Uint64("handlerID", uint64(r.id)),
				slog.Int("eventType", int(ev.Type)),
				slog.String("kind", ev.Kind.String()),
				slog.Any("error", fmt.Errorf("%v", rec)))
		}
	}()
	r.fn(ev)
}

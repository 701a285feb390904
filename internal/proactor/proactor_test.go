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

package proactor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runProactor starts p.Run and returns a function that stops it and waits.
func runProactor(t *testing.T, p *Proactor) func() {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	return func() {
		p.Stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("proactor did not stop")
		}
	}
}

func TestNewEventType_Unique(t *testing.T) {
	seen := map[EventType]bool{}
	for range 100 {
		et := NewEventType()
		assert.False(t, seen[et])
		seen[et] = true
	}
}

func TestProactor_DeliversInRegistrationOrder(t *testing.T) {
	p := New()
	et := NewEventType()

	var mu sync.Mutex
	var calls []string
	record := func(name string) Handler {
		return func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name+":"+ev.Payload)
		}
	}
	p.Register(et, record("a"))
	p.On(et, record("b"))
	p.Register(et, record("a"))

	stop := runProactor(t, p)
	require.NoError(t, p.Publish(LineEvent(et, "w1", 0, "x")))
	require.NoError(t, p.Publish(LineEvent(et, "w1", 1, "y")))
	stop()

	assert.Equal(t, []string{"a:x", "b:x", "a:x", "a:y", "b:y", "a:y"}, calls)
}

func TestProactor_RoutesByTypeAndDropsUnhandled(t *testing.T) {
	p := New()
	mine, other := NewEventType(), NewEventType()

	var got []Event
	p.Register(mine, func(ev Event) { got = append(got, ev) })

	stop := runProactor(t, p)
	require.NoError(t, p.Publish(LineEvent(other, "w", 0, "ignored")))
	require.NoError(t, p.Publish(DoneEvent(mine, "w", 5)))
	stop()

	require.Len(t, got, 1)
	assert.Equal(t, KindDone, got[0].Kind)
	assert.Equal(t, int64(5), got[0].Line)
	assert.False(t, got[0].Failed())
}

func TestProactor_Unregister(t *testing.T) {
	p := New()
	et := NewEventType()

	count := 0
	id := p.Register(et, func(Event) { count++ })
	assert.True(t, p.Unregister(et, id))
	assert.False(t, p.Unregister(et, id))

	stop := runProactor(t, p)
	require.NoError(t, p.Publish(LineEvent(et, "w", 0, "x")))
	stop()
	assert.Zero(t, count)
}

func TestProactor_HandlerPanicDoesNotKillLoop(t *testing.T) {
	p := New()
	et := NewEventType()

	var got []int64
	p.Register(et, func(ev Event) {
		if ev.Line == 0 {
			panic("boom")
		}
	})
	p.Register(et, func(ev Event) { got = append(got, ev.Line) })

	stop := runProactor(t, p)
	require.NoError(t, p.Publish(LineEvent(et, "w", 0, "a")))
	require.NoError(t, p.Publish(LineEvent(et, "w", 1, "b")))
	stop()

	assert.Equal(t, []int64{0, 1}, got)
}

func TestProactor_PublishAfterStop(t *testing.T) {
	p := New()
	p.Stop()
	assert.ErrorIs(t, p.Publish(Event{}), ErrStopped)
	assert.NoError(t, p.Run(context.Background()))
}

func TestProactor_RunHonorsContext(t *testing.T) {
	p := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Run(ctx), context.DeadlineExceeded)
}

func TestErrorEvent(t *testing.T) {
	et := NewEventType()
	failure := errors.New("bad")
	ev := ErrorEvent(et, "w", 12, failure)
	assert.True(t, ev.Failed())
	assert.Equal(t, KindError, ev.Kind)
	assert.ErrorIs(t, ev.Err, failure)
	assert.Equal(t, "error", ev.Kind.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

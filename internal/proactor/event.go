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
	"fmt"
	"sync/atomic"
)

// EventType routes events to handlers. Values are unique within the process.
type EventType uint32

var eventTypeSeq atomic.Uint32

// NewEventType allocates a fresh event type.
func NewEventType() EventType {
	return EventType(eventTypeSeq.Add(1))
}

// Kind says what an event carries.
type Kind int

const (
	// KindLine carries one line of text.
	KindLine Kind = iota
	// KindDone marks the end of a fetch. Line is the first line not delivered.
	KindDone
	// KindIndexed marks the end of a successful indexing pass. Line is the
	// number of lines in the file.
	KindIndexed
	// KindError carries a worker failure in Err.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindDone:
		return "done"
	case KindIndexed:
		return "indexed"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is an immutable notification. Worker is the id of the worker that
// produced it, so a consumer can match lines and completion to the request
// that started them.
type Event struct {
	Type    EventType
	Kind    Kind
	Worker  string
	Line    int64
	Payload string
	Err     error
}

// Failed reports whether the event is a terminal failure.
func (e Event) Failed() bool { return e.Err != nil }

func LineEvent(t EventType, worker string, line int64, text string) Event {
	return Event{Type: t, Kind: KindLine, Worker: worker, Line: line, Payload: text}
}

func DoneEvent(t EventType, worker string, next int64) Event {
	return Event{Type: t, Kind: KindDone, Worker: worker, Line: next}
}

func IndexedEvent(t EventType, worker string, lines int64, summary string) Event {
	return Event{Type: t, Kind: KindIndexed, Worker: worker, Line: lines, Payload: summary}
}

func ErrorEvent(t EventType, worker string, line int64, err error) Event {
	return Event{Type: t, Kind: KindError, Worker: worker, Line: line, Err: err}
}

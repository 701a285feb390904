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

package fileindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrTableFull is returned by Add on a fixed-capacity table that has no room.
	ErrTableFull = errors.New("index table is full")
	// ErrOutOfOrder is returned by Add when the entry would break ordering.
	ErrOutOfOrder = errors.New("index entry out of order")
	// ErrFinished is returned by Add once the table has been finished.
	ErrFinished = errors.New("index table already finished")
)

// Table is the ordered, append-only index for one file. Entries are strictly
// increasing in byte offset and never decreasing in line number, so lookups
// binary search.
//
// There is a single writer: whoever holds the claim taken with Lock or
// TryLock. Readers never need the claim; every accessor takes the internal
// read lock, so fetches run alongside an indexer that is still appending.
type Table[E Entry] struct {
	claim sync.Mutex

	mu       sync.RWMutex
	entries  []E
	capacity int
	done     bool
	err      error
	progress chan struct{}
}

// NewTable returns an empty table. capacity > 0 fixes the number of entries
// the table will accept; 0 lets it grow.
func NewTable[E Entry](capacity int) *Table[E] {
	t := &Table[E]{
		capacity: capacity,
		progress: make(chan struct{}),
	}
	if capacity > 0 {
		t.entries = make([]E, 0, capacity)
	}
	return t
}

// Lock claims the table for writing, blocking until it is free.
func (t *Table[E]) Lock() { t.claim.Lock() }

// Unlock releases the writer claim.
func (t *Table[E]) Unlock() { t.claim.Unlock() }

// TryLock claims the table for writing if nobody else has.
func (t *Table[E]) TryLock() bool { return t.claim.TryLock() }

// Add appends e and returns its index.
func (t *Table[E]) Add(e E) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return -1, ErrFinished
	}
	if t.capacity > 0 && len(t.entries) >= t.capacity {
		return -1, ErrTableFull
	}
	if n := len(t.entries); n > 0 {
		prev, cur := t.entries[n-1].Position(), e.Position()
		if cur.Byte <= prev.Byte || cur.Line < prev.Line {
			return -1, fmt.Errorf("%w: {%d,%d} after {%d,%d}", ErrOutOfOrder, cur.Byte, cur.Line, prev.Byte, prev.Line)
		}
	}
	t.entries = append(t.entries, e)
	t.signalLocked()
	return len(t.entries) - 1, nil
}

// Get returns entry i.
func (t *Table[E]) Get(i int) (E, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.entries) {
		var zero E
		return zero, false
	}
	return t.entries[i], true
}

// Len is the number of published entries.
func (t *Table[E]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Cap is the size of the backing storage.
func (t *Table[E]) Cap() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cap(t.entries)
}

// Last returns the most recently published entry.
func (t *Table[E]) Last() (E, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		var zero E
		return zero, false
	}
	return t.entries[len(t.entries)-1], true
}

// Search returns the entry to start from when looking for line: the last entry
// that sits before line, or exactly at its start. Reading forward from the
// returned entry and skipping line-entry.Line newlines lands on line.
func (t *Table[E]) Search(line int64) (E, int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero E
	if len(t.entries) == 0 || line < 0 {
		return zero, -1, false
	}
	j := sort.Search(len(t.entries), func(i int) bool {
		e := t.entries[i]
		p := e.Position()
		return p.Line > line || (p.Line == line && !e.LineStart())
	})
	if j == 0 {
		return zero, -1, false
	}
	return t.entries[j-1], j - 1, true
}

// Covers reports whether a fetch starting at line can be answered without
// waiting for the indexer: either indexing is over, or the index has already
// reached line.
func (t *Table[E]) Covers(line int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.coversLocked(line)
}

func (t *Table[E]) coversLocked(line int64) bool {
	if t.done {
		return len(t.entries) > 0
	}
	if n := len(t.entries); n > 0 {
		return t.entries[n-1].Position().Line >= line
	}
	return false
}

// WaitFor blocks until Covers(line) is true, indexing ends, or ctx is done.
func (t *Table[E]) WaitFor(ctx context.Context, line int64) error {
	for {
		t.mu.RLock()
		ready := t.coversLocked(line) || t.done
		ch := t.progress
		t.mu.RUnlock()
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Finish marks indexing as over. err is the reason it stopped early, or nil
// when the whole file was indexed.
func (t *Table[E]) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.err = err
	t.signalLocked()
}

// Complete reports whether indexing has ended, successfully or not.
func (t *Table[E]) Complete() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.done
}

// Err is the error Finish was called with.
func (t *Table[E]) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Compact shrinks the backing storage to exactly the published entries. Call
// it once the indexer is done appending.
func (t *Table[E]) Compact() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == cap(t.entries) {
		return
	}
	exact := make([]E, len(t.entries))
	copy(exact, t.entries)
	t.entries = exact
	t.capacity = len(exact)
}

// Reset drops every entry so the table can be rebuilt. The caller must hold
// the writer claim.
func (t *Table[E]) Reset(capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capacity = capacity
	t.entries = nil
	if capacity > 0 {
		t.entries = make([]E, 0, capacity)
	}
	t.done = false
	t.err = nil
	t.signalLocked()
}

// Restore replaces the table with entries loaded from elsewhere and marks it
// complete. Entries are validated for ordering.
func (t *Table[E]) Restore(entries []E) error {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1].Position(), entries[i].Position()
		if cur.Byte <= prev.Byte || cur.Line < prev.Line {
			return fmt.Errorf("%w: entry %d", ErrOutOfOrder, i)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make([]E, len(entries))
	copy(t.entries, entries)
	t.capacity = len(entries)
	t.done = true
	t.err = nil
	t.signalLocked()
	return nil
}

// Snapshot copies the published entries.
func (t *Table[E]) Snapshot() []E {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]E, len(t.entries))
	copy(out, t.entries)
	return out
}

// Positions copies the Mark of each published entry.
func (t *Table[E]) Positions() []Mark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Mark, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Position()
	}
	return out
}

func (t *Table[E]) signalLocked() {
	close(t.progress)
	t.progress = make(chan struct{})
}

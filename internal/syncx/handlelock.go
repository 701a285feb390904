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

package syncx

import (
	"context"
	"sync"
)

// HandleLock guards one shared OS file handle. The owner of the handle creates
// it and hands the same pointer to every worker that touches the file, so the
// lock lives exactly as long as the handle does.
//
// Lock/Unlock serialize a seek+read pair. Hold/Release count workers that have
// the handle checked out, and WaitIdle lets the owner block until none do.
type HandleLock struct {
	mu sync.Mutex

	refMu sync.Mutex
	refs  int
	idle  chan struct{}
}

// NewHandleLock returns an unlocked, idle lock.
func NewHandleLock() *HandleLock {
	idle := make(chan struct{})
	close(idle)
	return &HandleLock{idle: idle}
}

func (h *HandleLock) Lock()         { h.mu.Lock() }
func (h *HandleLock) Unlock()       { h.mu.Unlock() }
func (h *HandleLock) TryLock() bool { return h.mu.TryLock() }

// Hold registers a worker as using the handle.
func (h *HandleLock) Hold() {
	h.refMu.Lock()
	defer h.refMu.Unlock()
	if h.refs == 0 {
		h.idle = make(chan struct{})
	}
	h.refs++
}

// Release undoes one Hold.
func (h *HandleLock) Release() {
	h.refMu.Lock()
	defer h.refMu.Unlock()
	if h.refs == 0 {
		panic("syncx: HandleLock.Release without Hold")
	}
	h.refs--
	if h.refs == 0 {
		close(h.idle)
	}
}

// Holders reports how many workers currently hold the handle.
func (h *HandleLock) Holders() int {
	h.refMu.Lock()
	defer h.refMu.Unlock()
	return h.refs
}

// WaitIdle blocks until no worker holds the handle or ctx is done.
func (h *HandleLock) WaitIdle(ctx context.Context) error {
	for {
		h.refMu.Lock()
		if h.refs == 0 {
			h.refMu.Unlock()
			return nil
		}
		ch := h.idle
		h.refMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

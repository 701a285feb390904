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
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore with a fixed number of slots.
type Semaphore struct {
	w     *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

// NewSemaphore returns a semaphore with n slots. n < 1 is treated as 1.
func NewSemaphore(n int64) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{w: semaphore.NewWeighted(n), size: n}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return err
	}
	s.inUse.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	s.inUse.Add(1)
	return true
}

// Release returns a slot taken by Acquire or TryAcquire.
func (s *Semaphore) Release() {
	s.inUse.Add(-1)
	s.w.Release(1)
}

// Size is the total number of slots.
func (s *Semaphore) Size() int64 { return s.size }

// InUse is the number of slots currently held.
func (s *Semaphore) InUse() int64 { return s.inUse.Load() }

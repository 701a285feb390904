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

import "errors"

var (
	// ErrOpenFailure is returned by Open when the file cannot be used.
	ErrOpenFailure = errors.New("open failure")
	// ErrConcurrentOpen is returned by Open on a dispatcher that already has a
	// file open.
	ErrConcurrentOpen = errors.New("dispatcher already has a file open")
	// ErrNotOpen is returned by commands that need an open file.
	ErrNotOpen = errors.New("dispatcher has no open file")
	// ErrDecodeFailure wraps gzip or DEFLATE errors met while indexing or
	// fetching.
	ErrDecodeFailure = errors.New("decode failure")
	// ErrIndexNotReady is reported when a fetch starts past what the index
	// covers.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrIndexInProgress is returned by Index and Reindex while an indexer
	// is already running.
	ErrIndexInProgress = errors.New("indexing already in progress")
	// ErrInvalidRange is returned for negative start lines or counts, and
	// percentages outside 0..100.
	ErrInvalidRange = errors.New("invalid range")
)

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
	"fmt"
	"time"

	"github.com/cardinalhq/lineseek/internal/fileindex"
)

// FetchPolicy decides what a fetch does when the index has not reached its
// start line yet.
type FetchPolicy string

const (
	// FetchWait blocks until the index covers the start line or indexing
	// ends, bounded by the command timeout.
	FetchWait FetchPolicy = "wait"
	// FetchFail fails the fetch at once with ErrIndexNotReady.
	FetchFail FetchPolicy = "fail"
)

// Config controls indexing and fetching. It is the "largefile" section of
// the application config.
type Config struct {
	// Span is the minimum decompressed distance between gzip checkpoints.
	Span int64 `mapstructure:"span"`
	// GridPoints is the size of the percentile grid for plain files.
	GridPoints int `mapstructure:"grid_points"`
	// ChunkSize is the read size used by indexers.
	ChunkSize int `mapstructure:"chunk_size"`
	// MaxFetchWorkers bounds concurrent fetches per dispatcher.
	MaxFetchWorkers int64 `mapstructure:"max_fetch_workers"`
	// CommandTimeout applies to commands whose context has no deadline.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	FetchPolicy    FetchPolicy   `mapstructure:"fetch_policy"`
	// Sidecar loads the index from, and saves it to, a file next to the
	// indexed file.
	Sidecar bool `mapstructure:"sidecar"`
}

func DefaultConfig() Config {
	return Config{
		Span:            1 << 20,
		GridPoints:      fileindex.DefaultGridPoints,
		ChunkSize:       256 * 1024,
		MaxFetchWorkers: 8,
		CommandTimeout:  30 * time.Second,
		FetchPolicy:     FetchWait,
		Sidecar:         false,
	}
}

// Validate rejects values the dispatcher cannot work with.
func (c Config) Validate() error {
	switch {
	case c.Span <= 0:
		return fmt.Errorf("largefile: span must be positive, got %d", c.Span)
	case c.GridPoints < 2:
		return fmt.Errorf("largefile: grid_points must be at least 2, got %d", c.GridPoints)
	case c.ChunkSize < 512:
		return fmt.Errorf("largefile: chunk_size must be at least 512, got %d", c.ChunkSize)
	case c.MaxFetchWorkers < 1:
		return fmt.Errorf("largefile: max_fetch_workers must be at least 1, got %d", c.MaxFetchWorkers)
	case c.CommandTimeout <= 0:
		return fmt.Errorf("largefile: command_timeout must be positive, got %s", c.CommandTimeout)
	}
	switch c.FetchPolicy {
	case FetchWait, FetchFail:
	default:
		return fmt.Errorf("largefile: unknown fetch_policy %q", c.FetchPolicy)
	}
	return nil
}

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

package filepool

import (
	"fmt"
	"time"
)

// Config is the "pool" section of the application config.
type Config struct {
	// IdleTTL closes a file nobody has touched for this long.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
	// MaxOpen bounds the number of open files; the least recently used one
	// is closed to make room.
	MaxOpen uint64 `mapstructure:"max_open"`
}

func DefaultConfig() Config {
	return Config{
		IdleTTL: 10 * time.Minute,
		MaxOpen: 64,
	}
}

func (c Config) Validate() error {
	if c.IdleTTL <= 0 {
		return fmt.Errorf("pool: idle_ttl must be positive, got %s", c.IdleTTL)
	}
	if c.MaxOpen == 0 {
		return fmt.Errorf("pool: max_open must be at least 1")
	}
	return nil
}

// closeTimeout bounds closing a file evicted in the background.
const closeTimeout = 30 * time.Second

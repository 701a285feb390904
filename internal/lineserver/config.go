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

package lineserver

import (
	"fmt"
	"time"
)

// Config is the "server" section of the application config.
type Config struct {
	Addr string `mapstructure:"addr"`
	// Root confines requests to files under this directory. Empty allows any
	// absolute path.
	Root string `mapstructure:"root"`
	// MaxCount caps the count parameter of a lines request.
	MaxCount        int64         `mapstructure:"max_count"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxCount:        10000,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("server: addr must be set")
	case c.MaxCount < 1:
		return fmt.Errorf("server: max_count must be at least 1, got %d", c.MaxCount)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("server: shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

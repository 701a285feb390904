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
	"log/slog"

	"github.com/cardinalhq/lineseek/internal/idgen"
)

type Options interface {
	apply(d *Dispatcher)
}

type loggerOption struct {
	logger *slog.Logger
}

func (o loggerOption) apply(d *Dispatcher) {
	if o.logger != nil {
		d.logger = o.logger
	}
}

// WithLogger sets the dispatcher's logger. Without this option it logs to
// slog.Default().
func WithLogger(logger *slog.Logger) Options {
	return loggerOption{logger: logger}
}

type configOption struct {
	cfg Config
}

func (o configOption) apply(d *Dispatcher) {
	d.cfg = o.cfg
}

// WithConfig replaces DefaultConfig().
func WithConfig(cfg Config) Options {
	return configOption{cfg: cfg}
}

type eagerIndexOption struct{}

func (eagerIndexOption) apply(d *Dispatcher) {
	d.eager = true
}

// WithEagerIndex makes Run start indexing as soon as it starts, so callers
// need not call Index themselves.
func WithEagerIndex() Options {
	return eagerIndexOption{}
}

type sidecarOption struct {
	enabled bool
}

func (o sidecarOption) apply(d *Dispatcher) {
	d.cfg.Sidecar = o.enabled
}

// WithSidecar overrides Config.Sidecar. Apply it after WithConfig.
func WithSidecar(enabled bool) Options {
	return sidecarOption{enabled: enabled}
}

type idGeneratorOption struct {
	gen idgen.IDGenerator
}

func (o idGeneratorOption) apply(d *Dispatcher) {
	if o.gen != nil {
		d.ids = o.gen
	}
}

// WithIDGenerator sets how worker ids are minted.
func WithIDGenerator(gen idgen.IDGenerator) Options {
	return idGeneratorOption{gen: gen}
}

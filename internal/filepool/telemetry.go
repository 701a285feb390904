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

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	openedCounter  otelmetric.Int64Counter
	evictedCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lineseek/internal/filepool")

	var err error
	openedCounter, err = meter.Int64Counter(
		"lineseek.pool.opened",
		otelmetric.WithDescription("Number of files opened by the dispatcher pool"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create pool.opened counter: %w", err))
	}

	evictedCounter, err = meter.Int64Counter(
		"lineseek.pool.evicted",
		otelmetric.WithDescription("Number of files closed by the dispatcher pool, by reason"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create pool.evicted counter: %w", err))
	}
}

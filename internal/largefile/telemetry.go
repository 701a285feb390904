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

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	checkpointCounter     otelmetric.Int64Counter
	indexedBytesCounter   otelmetric.Int64Counter
	fetchedLinesCounter   otelmetric.Int64Counter
	fetchDuration         otelmetric.Float64Histogram
	workersStartedCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lineseek/internal/largefile")

	var err error
	checkpointCounter, err = meter.Int64Counter(
		"lineseek.index.checkpoints",
		otelmetric.WithDescription("Number of gzip checkpoints recorded by indexers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create index.checkpoints counter: %w", err))
	}

	indexedBytesCounter, err = meter.Int64Counter(
		"lineseek.index.bytes",
		otelmetric.WithDescription("Number of (decompressed) bytes scanned by indexers"),
		otelmetric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create index.bytes counter: %w", err))
	}

	fetchedLinesCounter, err = meter.Int64Counter(
		"lineseek.fetch.lines",
		otelmetric.WithDescription("Number of lines delivered by fetch workers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fetch.lines counter: %w", err))
	}

	fetchDuration, err = meter.Float64Histogram(
		"lineseek.fetch.duration",
		otelmetric.WithDescription("Time taken by one fetch, from start line lookup to the last line"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fetch.duration histogram: %w", err))
	}

	workersStartedCounter, err = meter.Int64Counter(
		"lineseek.workers.started",
		otelmetric.WithDescription("Number of dispatcher workers started, by kind"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create workers.started counter: %w", err))
	}
}

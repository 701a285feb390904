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

package proactor

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	deliveredCounter otelmetric.Int64Counter
	droppedCounter   otelmetric.Int64Counter
	panicCounter     otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lineseek/internal/proactor")

	var err error
	deliveredCounter, err = meter.Int64Counter(
		"lineseek.proactor.events",
		otelmetric.WithDescription("Number of events delivered to at least one handler"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create proactor.events counter: %w", err))
	}

	droppedCounter, err = meter.Int64Counter(
		"lineseek.proactor.dropped",
		otelmetric.WithDescription("Number of events discarded because no handler was registered for their type"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create proactor.dropped counter: %w", err))
	}

	panicCounter, err = meter.Int64Counter(
		"lineseek.proactor.handler.panics",
		otelmetric.WithDescription("Number of event handler panics recovered by the proactor"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create proactor.handler.panics counter: %w", err))
	}
}

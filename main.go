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

package main

import (
	"log/slog"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/lineseek/cmd"
)

// fitToContainer sizes GOMAXPROCS and the soft memory limit to the cgroup
// so that decode workers do not outrun the container quota.
func fitToContainer() {
	logf := func(msg string, args ...any) { slog.Debug(msg, slog.Any("args", args)) }
	var err error
	if gomaxecs.IsECS() {
		_, err = gomaxecs.Set(gomaxecs.WithLogger(logf))
	} else {
		_, err = maxprocs.Set(maxprocs.Logger(logf))
	}
	if err != nil {
		slog.Warn("Failed to set GOMAXPROCS", slog.Any("error", err))
	}

	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.8),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		slog.Debug("No memory limit applied", slog.Any("error", err))
	}
}

func main() {
	fitToContainer()
	cmd.Execute()
}

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

// Package debugging serves the runtime profiler for the line server.
package debugging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config is the "debug" section of the application config.
type Config struct {
	// PprofPort serves /debug/pprof when positive. Zero turns it off.
	PprofPort int `mapstructure:"pprof_port"`
}

func DefaultConfig() Config {
	return Config{PprofPort: 0}
}

func (c Config) Validate() error {
	if c.PprofPort < 0 || c.PprofPort > 65535 {
		return fmt.Errorf("debug: pprof_port out of range: %d", c.PprofPort)
	}
	return nil
}

// RunPprof starts the profiler in the background and stops it when ctx is
// done. It returns once the port is bound, or at once if the profiler is off.
func RunPprof(ctx context.Context, cfg Config) (net.Addr, error) {
	if cfg.PprofPort <= 0 {
		return nil, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.PprofPort))
	if err != nil {
		return nil, fmt.Errorf("pprof listen: %w", err)
	}
	r := chi.NewRouter()
	r.Mount("/debug", middleware.Profiler())
	server := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting pprof server", slog.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Pprof server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down pprof server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error shutting down pprof server", slog.Any("error", err))
		}
	}()
	return ln.Addr(), nil
}

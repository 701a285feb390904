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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/lineseek/config"
	"github.com/cardinalhq/lineseek/internal/debugging"
	"github.com/cardinalhq/lineseek/internal/filepool"
	"github.com/cardinalhq/lineseek/internal/healthcheck"
	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/lineserver"
	"github.com/cardinalhq/lineseek/internal/proactor"
)

func init() {
	var (
		addr string
		root string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve line ranges of files over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, format, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("root") {
				cfg.Server.Root = root
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			servicename := "lineseek-serve"
			addlAttrs := attribute.NewSet(attribute.String("addr", cfg.Server.Addr))
			doneCtx, doneFx, err := setupTelemetry(servicename, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			return runServe(doneCtx, cfg, format)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&root, "root", "", "only serve files under this directory")

	rootCmd.AddCommand(cmd)
}

func runServe(ctx context.Context, cfg *config.Config, format largefile.Format) error {
	pr := proactor.New()
	pool, err := filepool.New(cfg.Pool, pr,
		filepool.WithFormat(format),
		filepool.WithDispatcherOptions(largefile.WithConfig(cfg.LargeFile)),
	)
	if err != nil {
		return fmt.Errorf("failed to create file pool: %w", err)
	}
	server, err := lineserver.NewServer(cfg.Server, pool, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create line server: %w", err)
	}

	var health *healthcheck.Server
	if cfg.Health.Enabled {
		health = healthcheck.NewServer(cfg.Health)
	}

	if _, err := debugging.RunPprof(ctx, cfg.Debug); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pr.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })
	if health != nil {
		g.Go(func() error { return health.Start(gctx) })
		health.SetStatus(healthcheck.StatusHealthy)
		health.SetReady(true)
	}

	slog.Info("Line server running",
		slog.String("addr", cfg.Server.Addr),
		slog.String("root", cfg.Server.Root),
		slog.Bool("sidecar", cfg.LargeFile.Sidecar))

	<-gctx.Done()
	if health != nil {
		health.SetReady(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := pool.Close(shutdownCtx); err != nil {
		slog.Error("Error closing open files", slog.Any("error", err))
	}
	pr.Stop()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("Line server stopped")
	return nil
}

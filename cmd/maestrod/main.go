// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// maestrod is the workflow orchestrator daemon. It owns the store, the
// durable queue, the execution engine and the admission HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-run/maestro/internal/api"
	"github.com/maestro-run/maestro/internal/config"
	"github.com/maestro-run/maestro/internal/engine"
	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/log"
	"github.com/maestro-run/maestro/internal/queue"
	"github.com/maestro-run/maestro/internal/registry"
	"github.com/maestro-run/maestro/internal/store"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// shutdownGrace bounds how long in-flight requests and the current
// step may take after a shutdown signal.
const shutdownGrace = 5 * time.Second

func main() {
	var (
		configPath string
		dbPath     string
		addr       string
	)

	root := &cobra.Command{
		Use:          "maestrod",
		Short:        "Workflow orchestrator daemon",
		Long:         "maestrod schedules, dispatches and records workflow executions against registered plugins.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, dbPath, addr)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	root.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	root.Flags().StringVar(&addr, "listen", "", "Listen address host:port (overrides config)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("maestrod %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, dbPath, addr string) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		return err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	listenAddr := cfg.Addr()
	if addr != "" {
		listenAddr = addr
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		return err
	}

	st, err := store.New(store.Config{Path: cfg.Store.Path, WAL: cfg.Store.WAL})
	if err != nil {
		logger.Error("Failed to open store", slog.Any("error", err))
		return err
	}
	defer st.Close()

	q := queue.New(st.DB())
	reg := registry.New(st)
	exec := executor.New(reg, executor.NewHTTPAdapter(nil, cfg.Plugins.Namespace), logger)
	eng := engine.New(st, q, exec, logger)

	router := api.NewRouter(api.RouterConfig{
		Version:     version,
		Development: cfg.Server.Development,
	}, eng, st, reg, logger)

	server := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("maestrod listening",
			slog.String("addr", listenAddr),
			slog.String("db", cfg.Store.Path),
			slog.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("HTTP server failed", slog.Any("error", err))
		eng.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("grace", shutdownGrace))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}

	eng.Stop()
	logger.Info("shutdown complete")
	return nil
}

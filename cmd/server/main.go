// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/signalwatch/internal/api"
	"github.com/tomtom215/signalwatch/internal/app"
	"github.com/tomtom215/signalwatch/internal/backup"
	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/supervisor"
	"github.com/tomtom215/signalwatch/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load("")
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_driver", cfg.Database.Driver).
		Str("db_path", cfg.Database.Path).
		Str("catalog_driver", cfg.Catalog.Driver).
		Str("backup_dir", cfg.Backup.Dir).
		Int("providers", len(cfg.Transport.Providers)).
		Msg("Starting Signalwatch backup daemon")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Backup daemon failed")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing catalog or source")
		}
	}()

	recovered, err := a.Manager.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted backups: %w", err)
	}
	if len(recovered.Failed) > 0 || recovered.RemovedFiles > 0 {
		logging.Warn().
			Strs("failed", recovered.Failed).
			Int("removed_files", recovered.RemovedFiles).
			Msg("Recovered work interrupted by a previous shutdown")
	}

	scheduler, err := backup.NewScheduler(a.Manager, cfg.Schedule)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	// Supervisor logs go through the zerolog slog adapter
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddMaintenanceService(services.NewSchedulerService(scheduler, 0))
	for _, job := range scheduler.Entries() {
		logging.Info().Str("job", job.Name).Str("schedule", job.Schedule).Msg("Backup job scheduled")
	}

	if cfg.Server.Enabled {
		handler := api.NewRouter(api.NewHandler(a.Manager, scheduler, api.WithRestoreRoot(cfg.Server.RestoreRoot)), api.RouterConfig{
			RateLimitRequests: cfg.Server.RateLimitRequests,
			RateLimitWindow:   cfg.Server.RateLimitWindow,
		})
		server := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.Timeout,
			// Restores and uploads run inside the request
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
		logging.Info().Str("addr", server.Addr).Msg("Admin API service added")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return nil
}

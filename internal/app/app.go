// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package app assembles the backup subsystem from a loaded configuration.
// The server and the backupctl command share it so both see the same
// catalog, source and providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tomtom215/signalwatch/internal/backup"
	"github.com/tomtom215/signalwatch/internal/capture"
	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/transport"
)

// App owns the long-lived handles behind a backup.Manager.
type App struct {
	Config    *config.Config
	Catalog   catalog.Catalog
	Source    capture.Source
	Transport *transport.Transport
	Manager   *backup.Manager
}

// Open builds the catalog, database source, transport and manager. On error
// everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config) (a *App, err error) {
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close() //nolint:errcheck // Best effort cleanup
			a = nil
		}
	}()

	a.Catalog, err = catalog.Open(ctx, catalog.Config{
		Driver: cfg.Catalog.Driver,
		Path:   cfg.Catalog.Path,
		DSN:    cfg.Catalog.DSN,
	})
	if err != nil {
		return a, fmt.Errorf("open catalog: %w", err)
	}

	src, err := capture.OpenSource(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return a, fmt.Errorf("open database source: %w", err)
	}
	a.Source = src

	if len(cfg.Transport.Providers) > 0 {
		a.Transport, err = transport.NewFromConfig(ctx, &cfg.Transport, cfg.Credentials)
		if err != nil {
			return a, fmt.Errorf("configure transport: %w", err)
		}
	} else {
		logging.Info().Msg("No cloud providers configured; backups stay local")
	}

	bcfg, err := backup.ConfigFromApp(cfg)
	if err != nil {
		return a, err
	}
	a.Manager, err = backup.NewManager(bcfg, a.Catalog, a.Source, a.Transport)
	if err != nil {
		return a, fmt.Errorf("create backup manager: %w", err)
	}
	return a, nil
}

// Close releases the source and the catalog.
func (a *App) Close() error {
	var errs []error
	if c, ok := a.Source.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.Catalog != nil {
		errs = append(errs, a.Catalog.Close())
	}
	return errors.Join(errs...)
}

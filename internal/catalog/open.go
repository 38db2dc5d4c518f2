// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomtom215/signalwatch/internal/logging"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config selects and locates the catalog store.
type Config struct {
	// Driver is one of sqlite, postgres or badger.
	Driver string
	// Path is the SQLite file or Badger directory.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
}

// Open returns the configured catalog store.
func Open(ctx context.Context, cfg Config, opts ...Option) (Catalog, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		if err := ensureParent(cfg.Path); err != nil {
			return nil, err
		}
		store, err := OpenSQLite(ctx, cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("driver", DriverSQLite).Str("path", cfg.Path).Msg("Catalog opened")
		return store, nil

	case DriverPostgres:
		store, err := OpenPostgres(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("driver", DriverPostgres).Str("dsn", logging.SanitizeDSN(cfg.DSN)).Msg("Catalog opened")
		return store, nil

	case DriverBadger:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
		store, err := OpenBadger(cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("driver", DriverBadger).Str("path", cfg.Path).Msg("Catalog opened")
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, cfg.Driver)
	}
}

func ensureParent(path string) error {
	if path == "" {
		return fmt.Errorf("catalog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	return nil
}

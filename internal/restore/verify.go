// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package restore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver for verification
	_ "modernc.org/sqlite"             // SQLite driver for verification

	"github.com/tomtom215/signalwatch/internal/capture"
	"github.com/tomtom215/signalwatch/internal/models"
)

// checkDatabase opens the rebuilt image read-only and asks the database
// engine whether it is sound. Non-fatal findings are returned as warnings.
func checkDatabase(ctx context.Context, driver, backupID, path string) ([]string, error) {
	switch driver {
	case capture.DriverSQLite, "":
		return nil, checkSQLite(ctx, backupID, path)
	case capture.DriverDuckDB:
		return checkDuckDB(ctx, path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// checkSQLite runs PRAGMA integrity_check. immutable=1 keeps SQLite from
// creating journal files next to the image.
func checkSQLite(ctx context.Context, backupID, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return fmt.Errorf("open restored image: %w", err)
	}
	defer db.Close() //nolint:errcheck // Read-only

	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("integrity check: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if len(problems) > 0 {
		return &models.CorruptionError{
			BackupID: backupID,
			Path:     path,
			Expected: "ok",
			Actual:   strings.Join(problems, "; "),
		}
	}
	return nil
}

// checkDuckDB opens the image read-only and lists its tables.
func checkDuckDB(ctx context.Context, path string) ([]string, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open restored image: %w", err)
	}
	defer db.Close() //nolint:errcheck // Read-only

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("restored image does not open: %w", err)
	}
	var tables int
	row := db.QueryRowContext(ctx, "SELECT count(*) FROM information_schema.tables WHERE table_schema = 'main'")
	if err := row.Scan(&tables); err != nil {
		return nil, fmt.Errorf("database integrity check failed: %w", err)
	}
	if tables == 0 {
		return []string{"restored database contains no tables"}, nil
	}
	return nil, nil
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package capture

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver for DuckDBSource
	_ "modernc.org/sqlite"             // SQLite driver for SQLiteSource
)

// Source produces consistent images of the protected database.
type Source interface {
	// Snapshot writes a transactionally consistent image to dst, which must
	// not exist yet.
	Snapshot(ctx context.Context, dst string) error
	// Checkpoint folds the write-ahead log into the main database file.
	Checkpoint(ctx context.Context) error
	// Name identifies the source in logs.
	Name() string
}

// Source drivers accepted by OpenSource.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// OpenSource opens the protected database at path with the named driver.
func OpenSource(driver, path string) (Source, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLiteSource(path)
	case DriverDuckDB:
		return OpenDuckDBSource(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// SQLiteSource snapshots a SQLite database with VACUUM INTO. The copy runs in
// a read transaction, so WAL-mode writers keep going while it is taken.
type SQLiteSource struct {
	db    *sql.DB
	path  string
	owned bool
}

// OpenSQLiteSource opens path with the modernc driver.
func OpenSQLiteSource(path string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite source: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error
		return nil, fmt.Errorf("ping sqlite source: %w", err)
	}
	return &SQLiteSource{db: db, path: path, owned: true}, nil
}

// NewSQLiteSource wraps a handle the caller already owns.
func NewSQLiteSource(db *sql.DB, path string) *SQLiteSource {
	return &SQLiteSource{db: db, path: path}
}

// Snapshot implements Source.
func (s *SQLiteSource) Snapshot(ctx context.Context, dst string) error {
	if err := ensureAbsent(dst); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO "+quoteLiteral(dst)); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	return nil
}

// Checkpoint implements Source.
func (s *SQLiteSource) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Name implements Source.
func (s *SQLiteSource) Name() string { return "sqlite:" + s.path }

// Close releases the handle if OpenSQLiteSource created it.
func (s *SQLiteSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// DuckDBSource snapshots a DuckDB database by attaching an empty file and
// copying every object into it inside one transaction.
type DuckDBSource struct {
	db    *sql.DB
	path  string
	owned bool

	// ATTACH aliases are instance-wide, so snapshots run one at a time.
	mu sync.Mutex
}

// OpenDuckDBSource opens path with the DuckDB driver.
func OpenDuckDBSource(path string) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb source: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error
		return nil, fmt.Errorf("ping duckdb source: %w", err)
	}
	return &DuckDBSource{db: db, path: path, owned: true}, nil
}

// NewDuckDBSource wraps a handle the caller already owns.
func NewDuckDBSource(db *sql.DB, path string) *DuckDBSource {
	return &DuckDBSource{db: db, path: path}
}

const duckdbSnapshotAlias = "signalwatch_snapshot"

// Snapshot implements Source.
func (s *DuckDBSource) Snapshot(ctx context.Context, dst string) error {
	if err := ensureAbsent(dst); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire duckdb connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Connection returns to the pool

	var current string
	if err := conn.QueryRowContext(ctx, "SELECT current_database()").Scan(&current); err != nil {
		return fmt.Errorf("resolve current database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("ATTACH %s AS %s", quoteLiteral(dst), duckdbSnapshotAlias)); err != nil {
		return fmt.Errorf("attach snapshot file: %w", err)
	}
	_, copyErr := conn.ExecContext(ctx, fmt.Sprintf("COPY FROM DATABASE %s TO %s",
		quoteIdent(current), duckdbSnapshotAlias))
	// DETACH must run even when the copy was cancelled.
	_, detachErr := conn.ExecContext(context.WithoutCancel(ctx), "DETACH "+duckdbSnapshotAlias)
	if copyErr != nil {
		return fmt.Errorf("copy database: %w", copyErr)
	}
	if detachErr != nil {
		return fmt.Errorf("detach snapshot file: %w", detachErr)
	}
	return nil
}

// Checkpoint implements Source.
func (s *DuckDBSource) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Name implements Source.
func (s *DuckDBSource) Name() string { return "duckdb:" + s.path }

// Close releases the handle if OpenDuckDBSource created it.
func (s *DuckDBSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func ensureAbsent(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot destination %s already exists", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

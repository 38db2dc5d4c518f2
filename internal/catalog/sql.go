// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect selects SQL syntax and migrations for a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const recordColumns = `seq, id, type, parent_id, chain_id, compression, local_path, checksum,
	size_bytes, status, failure_reason, created_at, completed_at, verified_at, uploaded_at`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is a relational catalog backed by database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	opts    options
	ownsDB  bool
}

// OpenSQLite opens (creating if needed) a SQLite catalog at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY on lock upgrades
	db.SetMaxOpenConns(1)

	s, err := NewSQLStore(ctx, db, DialectSQLite, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// OpenPostgres connects to a PostgreSQL catalog through pgx and applies
// pending migrations.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres catalog: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres catalog: %w", err)
	}

	s, err := NewSQLStore(ctx, db, DialectPostgres, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLStore wraps an existing handle. The caller keeps ownership of db.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, opts: buildOptions(opts)}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	var gooseDialect goose.Dialect
	switch s.dialect {
	case DialectSQLite:
		gooseDialect = goose.DialectSQLite3
	case DialectPostgres:
		gooseDialect = goose.DialectPostgres
	default:
		return fmt.Errorf("%w: %s", errUnknownDriver, s.dialect)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+string(s.dialect))
	if err != nil {
		return fmt.Errorf("load catalog migrations: %w", err)
	}
	provider, err := goose.NewProvider(gooseDialect, s.db, sub)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	for _, r := range results {
		logging.Debug().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("Applied catalog migration")
	}
	return nil
}

// Close releases the handle if the store opened it.
func (s *SQLStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// q rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog transaction: %w", err)
	}
	return nil
}

// RecordStart implements Catalog.
func (s *SQLStore) RecordStart(ctx context.Context, req StartRequest) (*models.BackupMetadata, error) {
	if req.Compression == "" {
		req.Compression = models.CompressionNone
	}

	var rec *models.BackupMetadata
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var parent *models.BackupMetadata
		if req.ParentID != "" {
			p, err := s.get(ctx, tx, req.ParentID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return err
			}
			parent = p
		}
		chainID, err := validateStart(req, parent)
		if err != nil {
			return err
		}

		id := uuid.NewString()
		if chainID == "" {
			chainID = id
		}

		var newest sql.NullInt64
		if err := tx.QueryRowContext(ctx, "SELECT MAX(created_at) FROM backups").Scan(&newest); err != nil {
			return fmt.Errorf("read newest created_at: %w", err)
		}
		createdAt := s.opts.now().UTC()
		if newest.Valid {
			createdAt = clampCreatedAt(createdAt, time.Unix(0, newest.Int64).UTC())
		}

		var seq int64
		err = tx.QueryRowContext(ctx, s.q(`INSERT INTO backups
			(id, type, parent_id, chain_id, compression, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING seq`),
			id, string(req.Type), nullString(req.ParentID), chainID, string(req.Compression),
			string(models.StatusInProgress), createdAt.UnixNano(),
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("insert backup record: %w", err)
		}

		rec = &models.BackupMetadata{
			ID:          id,
			Type:        req.Type,
			ParentID:    req.ParentID,
			ChainID:     chainID,
			Compression: req.Compression,
			Status:      models.StatusInProgress,
			CreatedAt:   createdAt,
			Sequence:    seq,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordComplete implements Catalog.
func (s *SQLStore) RecordComplete(ctx context.Context, id, localPath, checksum string, size int64) error {
	now := s.opts.now().UTC().UnixNano()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.transition(ctx, tx, id, models.StatusComplete,
			", local_path = ?, checksum = ?, size_bytes = ?, completed_at = ?",
			localPath, checksum, size, now)
	})
}

// RecordVerified implements Catalog. On an already verified or uploaded
// record only verified_at is refreshed.
func (s *SQLStore) RecordVerified(ctx context.Context, id string) error {
	now := s.opts.now().UTC().UnixNano()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := s.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if status == models.StatusVerified || status == models.StatusUploaded {
			_, err := tx.ExecContext(ctx, s.q("UPDATE backups SET verified_at = ? WHERE id = ?"), now, id)
			return err
		}
		return s.transition(ctx, tx, id, models.StatusVerified, ", verified_at = ?", now)
	})
}

// RecordUploaded implements Catalog.
func (s *SQLStore) RecordUploaded(ctx context.Context, id string, provider models.CloudProvider, remoteKey string) error {
	now := s.opts.now().UTC().UnixNano()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := s.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if status != models.StatusUploaded && !CanTransition(status, models.StatusUploaded) {
			return &models.TransitionError{ID: id, From: status, To: models.StatusUploaded}
		}
		if err := s.upsertLocation(ctx, tx, id, provider, remoteKey); err != nil {
			return err
		}
		if status == models.StatusUploaded {
			_, err := tx.ExecContext(ctx, s.q("UPDATE backups SET uploaded_at = ? WHERE id = ?"), now, id)
			return err
		}
		return s.transition(ctx, tx, id, models.StatusUploaded, ", uploaded_at = ?", now)
	})
}

// AddRemoteLocation implements Catalog.
func (s *SQLStore) AddRemoteLocation(ctx context.Context, id string, provider models.CloudProvider, remoteKey string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := s.status(ctx, tx, id)
		if err != nil {
			return err
		}
		if !status.Restorable() {
			return &models.TransitionError{ID: id, From: status, To: models.StatusUploaded}
		}
		return s.upsertLocation(ctx, tx, id, provider, remoteKey)
	})
}

// RecordFailed implements Catalog.
func (s *SQLStore) RecordFailed(ctx context.Context, id, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.transition(ctx, tx, id, models.StatusFailed, ", failure_reason = ?", reason)
	})
}

// ExpireChain implements Catalog.
func (s *SQLStore) ExpireChain(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return errEmptyChain
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := s.transition(ctx, tx, id, models.StatusExpired, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordDeleted implements Catalog.
func (s *SQLStore) RecordDeleted(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.transition(ctx, tx, id, models.StatusDeleted, ", local_path = NULL")
	})
}

// Discard implements Catalog.
func (s *SQLStore) Discard(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q("DELETE FROM backups WHERE id = ? AND status = ?"),
			id, string(models.StatusInProgress))
		if err != nil {
			return fmt.Errorf("discard backup %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		status, err := s.status(ctx, tx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("discard backup %s (%s): %w", id, status, errNotInProgress)
	})
}

// Get implements Catalog.
func (s *SQLStore) Get(ctx context.Context, id string) (*models.BackupMetadata, error) {
	return s.get(ctx, s.db, id)
}

// List implements Catalog.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]*models.BackupMetadata, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.ChainID != "" {
		where = append(where, "chain_id = ?")
		args = append(args, f.ChainID)
	}
	if f.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, f.CreatedAfter.UnixNano())
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.CreatedBefore.UnixNano())
	}

	query := "SELECT " + recordColumns + " FROM backups"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 && s.dialect == DialectSQLite {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadLocations(ctx, s.db, records); err != nil {
		return nil, err
	}
	return records, nil
}

// transition performs one guarded status change. extra is appended to the SET
// clause and its args are bound before the id.
func (s *SQLStore) transition(ctx context.Context, tx *sql.Tx, id string, to models.BackupStatus, extra string, args ...any) error {
	from := sourcesFor(to)
	query := "UPDATE backups SET status = ?" + extra +
		" WHERE id = ? AND status IN (" + placeholders(len(from)) + ")"

	all := make([]any, 0, len(args)+len(from)+2)
	all = append(all, string(to))
	all = append(all, args...)
	all = append(all, id)
	for _, st := range from {
		all = append(all, string(st))
	}

	res, err := tx.ExecContext(ctx, s.q(query), all...)
	if err != nil {
		return fmt.Errorf("update backup %s to %s: %w", id, to, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	current, err := s.status(ctx, tx, id)
	if err != nil {
		return err
	}
	return &models.TransitionError{ID: id, From: current, To: to}
}

func (s *SQLStore) status(ctx context.Context, q querier, id string) (models.BackupStatus, error) {
	var status string
	err := q.QueryRowContext(ctx, s.q("SELECT status FROM backups WHERE id = ?"), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &models.NotFoundError{ID: id}
	}
	if err != nil {
		return "", fmt.Errorf("read status of %s: %w", id, err)
	}
	return models.BackupStatus(status), nil
}

func (s *SQLStore) upsertLocation(ctx context.Context, tx *sql.Tx, id string, provider models.CloudProvider, key string) error {
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO backup_remote_locations (backup_id, provider, remote_key)
		VALUES (?, ?, ?)
		ON CONFLICT (backup_id, provider) DO UPDATE SET remote_key = excluded.remote_key`),
		id, string(provider), key)
	if err != nil {
		return fmt.Errorf("record remote location for %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) get(ctx context.Context, q querier, id string) (*models.BackupMetadata, error) {
	rows, err := q.QueryContext(ctx, s.q("SELECT "+recordColumns+" FROM backups WHERE id = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &models.NotFoundError{ID: id}
	}
	if err := s.loadLocations(ctx, q, records); err != nil {
		return nil, err
	}
	return records[0], nil
}

// loadLocations fills RemoteLocations for records, querying in batches.
func (s *SQLStore) loadLocations(ctx context.Context, q querier, records []*models.BackupMetadata) error {
	const batch = 500
	byID := make(map[string]*models.BackupMetadata, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	for start := 0; start < len(records); start += batch {
		end := start + batch
		if end > len(records) {
			end = len(records)
		}
		args := make([]any, 0, end-start)
		for _, r := range records[start:end] {
			args = append(args, r.ID)
		}

		rows, err := q.QueryContext(ctx, s.q("SELECT backup_id, provider, remote_key FROM backup_remote_locations WHERE backup_id IN ("+
			placeholders(len(args))+")"), args...)
		if err != nil {
			return fmt.Errorf("load remote locations: %w", err)
		}
		for rows.Next() {
			var id, provider, key string
			if err := rows.Scan(&id, &provider, &key); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan remote location: %w", err)
			}
			rec := byID[id]
			if rec.RemoteLocations == nil {
				rec.RemoteLocations = make(map[models.CloudProvider]string)
			}
			rec.RemoteLocations[models.CloudProvider(provider)] = key
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate remote locations: %w", err)
		}
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]*models.BackupMetadata, error) {
	defer func() { _ = rows.Close() }()

	records := []*models.BackupMetadata{}
	for rows.Next() {
		var (
			rec                                    models.BackupMetadata
			typ, compression, status               string
			parentID, localPath, checksum, failure sql.NullString
			createdAt                              int64
			completedAt, verifiedAt, uploadedAt    sql.NullInt64
		)
		if err := rows.Scan(&rec.Sequence, &rec.ID, &typ, &parentID, &rec.ChainID, &compression,
			&localPath, &checksum, &rec.SizeBytes, &status, &failure,
			&createdAt, &completedAt, &verifiedAt, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan backup record: %w", err)
		}
		rec.Type = models.BackupType(typ)
		rec.Compression = models.CompressionType(compression)
		rec.Status = models.BackupStatus(status)
		rec.ParentID = parentID.String
		rec.LocalPath = localPath.String
		rec.Checksum = checksum.String
		rec.FailureReason = failure.String
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		rec.CompletedAt = nullTime(completedAt)
		rec.VerifiedAt = nullTime(verifiedAt)
		rec.UploadedAt = nullTime(uploadedAt)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup records: %w", err)
	}
	return records, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return ptrTime(time.Unix(0, v.Int64).UTC())
}

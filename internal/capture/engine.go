// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/compression"
	"github.com/tomtom215/signalwatch/internal/integrity"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/models"
)

// Capture steps reported in models.CaptureError.
const (
	StepStart      = "record_start"
	StepSnapshot   = "snapshot"
	StepBaseline   = "baseline"
	StepWrite      = "write"
	StepCheckpoint = "checkpoint"
	StepComplete   = "record_complete"
)

// BaselineProvider rebuilds the database image a backup represents.
type BaselineProvider interface {
	Materialize(ctx context.Context, backupID, dst string) error
}

// Config controls where artifacts go and how they are encoded.
type Config struct {
	BackupDir        string
	WorkDir          string
	Compression      models.CompressionType
	CompressionLevel int
	BlockSize        int
	// BaselineCache keeps the newest image of each chain under
	// {WorkDir}/baselines so the next delta skips rematerialization.
	BaselineCache bool
}

// Engine captures full, incremental and wal backups of a Source.
type Engine struct {
	cfg      Config
	source   Source
	catalog  catalog.Catalog
	baseline BaselineProvider
}

// NewEngine validates cfg and prepares the artifact and work directories.
func NewEngine(cfg Config, src Source, cat catalog.Catalog, baseline BaselineProvider) (*Engine, error) {
	if src == nil || cat == nil {
		return nil, errors.New("capture engine requires a source and a catalog")
	}
	if cfg.BackupDir == "" {
		return nil, errors.New("capture engine requires a backup directory")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.BackupDir, ".work")
	}
	if cfg.Compression == "" {
		cfg.Compression = models.CompressionNone
	}
	if !cfg.Compression.Valid() {
		return nil, &models.CompressionError{Op: "configure", Type: cfg.Compression, Err: errors.New("unknown codec")}
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	for _, dir := range []string{cfg.BackupDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Engine{cfg: cfg, source: src, catalog: cat, baseline: baseline}, nil
}

// captureRun carries the state of one Capture call so cleanup knows what
// exists on disk.
type captureRun struct {
	rec          *models.BackupMetadata
	workDir      string
	snapshotPath string
	artifactPath string
	wroteBytes   bool
}

// Capture takes a backup of the given type. Non-full types need parentID.
// On failure the record is marked failed (or discarded if cancelled before
// any artifact bytes existed) and a *models.CaptureError is returned.
func (e *Engine) Capture(ctx context.Context, typ models.BackupType, parentID string) (*models.BackupMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.CaptureError{Step: StepStart, Err: err}
	}
	if typ != models.BackupTypeFull && e.baseline == nil {
		return nil, &models.CaptureError{Step: StepStart, Err: errors.New("no baseline provider for delta capture")}
	}

	rec, err := e.catalog.RecordStart(ctx, catalog.StartRequest{
		Type:        typ,
		ParentID:    parentID,
		Compression: e.cfg.Compression,
	})
	if err != nil {
		return nil, err
	}

	run := &captureRun{rec: rec}
	start := time.Now()
	log := logging.Ctx(ctx).With().
		Str("backup_id", rec.ID).
		Str("chain_id", rec.ChainID).
		Str("type", string(typ)).
		Logger()
	log.Debug().Str("source", e.source.Name()).Msg("Capture started")

	step, err := e.run(ctx, run)
	if err != nil {
		e.cleanupFailed(ctx, run, step, err)
		log.Error().Err(err).Str("step", step).Msg("Capture failed")
		return nil, &models.CaptureError{BackupID: rec.ID, Step: step, Err: err}
	}

	done, err := e.catalog.Get(context.WithoutCancel(ctx), rec.ID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int64("size_bytes", done.SizeBytes).
		Dur("duration", time.Since(start)).
		Msg("Capture complete")
	return done, nil
}

// run executes every step after record_start and returns the failing step.
func (e *Engine) run(ctx context.Context, run *captureRun) (string, error) {
	rec := run.rec
	workDir, err := os.MkdirTemp(e.cfg.WorkDir, "capture-"+rec.ID+"-")
	if err != nil {
		return StepSnapshot, fmt.Errorf("create work dir: %w", err)
	}
	run.workDir = workDir
	defer os.RemoveAll(workDir) //nolint:errcheck // Best effort cleanup

	run.snapshotPath = filepath.Join(workDir, "snapshot.img")
	if err := e.source.Snapshot(ctx, run.snapshotPath); err != nil {
		return StepSnapshot, err
	}
	if err := ctx.Err(); err != nil {
		return StepSnapshot, err
	}

	var basePath string
	if rec.Type != models.BackupTypeFull {
		basePath, err = e.baselineImage(ctx, rec, workDir)
		if err != nil {
			return StepBaseline, err
		}
		if err := ctx.Err(); err != nil {
			return StepBaseline, err
		}
	}

	// Past this point the artifact is written to completion regardless of
	// cancellation.
	wctx := context.WithoutCancel(ctx)
	run.artifactPath = filepath.Join(e.cfg.BackupDir, models.ArtifactName(rec.ID, rec.Type, rec.Compression))
	checksum, size, err := e.writeArtifact(run, basePath)
	if err != nil {
		return StepWrite, err
	}

	if rec.Type == models.BackupTypeWAL {
		if err := e.source.Checkpoint(wctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("backup_id", rec.ID).Msg("Checkpoint after wal capture failed")
		}
	}

	if err := e.catalog.RecordComplete(wctx, rec.ID, run.artifactPath, checksum, size); err != nil {
		return StepComplete, err
	}

	if e.cfg.BaselineCache {
		if err := e.cacheBaseline(rec, run.snapshotPath); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("backup_id", rec.ID).Msg("Baseline cache update failed")
		}
	}
	return "", nil
}

// writeArtifact streams the body through the compressor and the digest into
// the artifact file and fsyncs it.
//
//nolint:gosec // G304: artifact paths are built from catalog-assigned ids
func (e *Engine) writeArtifact(run *captureRun, basePath string) (checksum string, size int64, err error) {
	f, err := os.OpenFile(run.artifactPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("create artifact: %w", err)
	}
	run.wroteBytes = true
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close artifact: %w", cerr)
		}
	}()

	hw := integrity.NewHashingWriter(f)
	cw, err := compression.NewWriter(hw, e.cfg.Compression, e.cfg.CompressionLevel)
	if err != nil {
		return "", 0, err
	}

	if basePath == "" {
		err = copyFileTo(cw, run.snapshotPath)
	} else {
		err = e.writeDelta(cw, basePath, run.snapshotPath)
	}
	if err != nil {
		cw.Close() //nolint:errcheck // Already failing
		return "", 0, err
	}
	if err := cw.Close(); err != nil {
		return "", 0, err
	}
	if err := f.Sync(); err != nil {
		return "", 0, fmt.Errorf("fsync artifact: %w", err)
	}
	return hw.Sum(), hw.Count(), nil
}

//nolint:gosec // G304: both paths live in the engine's work directory
func (e *Engine) writeDelta(w io.Writer, basePath, curPath string) error {
	base, err := os.Open(basePath)
	if err != nil {
		return fmt.Errorf("open baseline: %w", err)
	}
	defer base.Close() //nolint:errcheck // Read-only
	cur, err := os.Open(curPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer cur.Close() //nolint:errcheck // Read-only

	bi, err := base.Stat()
	if err != nil {
		return err
	}
	ci, err := cur.Stat()
	if err != nil {
		return err
	}
	stats, err := EncodeDelta(w, base, bi.Size(), cur, ci.Size(), e.cfg.BlockSize)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	logging.Debug().
		Int64("blocks", stats.Blocks).
		Int64("changed", stats.Changed).
		Msg("Delta encoded")
	return nil
}

// baselineImage returns a path holding the parent's image, from the cache
// when possible.
func (e *Engine) baselineImage(ctx context.Context, rec *models.BackupMetadata, workDir string) (string, error) {
	if e.cfg.BaselineCache {
		cached := e.cachePath(rec.ChainID, rec.ParentID)
		if _, err := os.Stat(cached); err == nil {
			return cached, nil
		}
	}
	dst := filepath.Join(workDir, "baseline.img")
	if err := e.baseline.Materialize(ctx, rec.ParentID, dst); err != nil {
		return "", fmt.Errorf("materialize parent %s: %w", rec.ParentID, err)
	}
	return dst, nil
}

func (e *Engine) cachePath(chainID, backupID string) string {
	return filepath.Join(e.cfg.WorkDir, "baselines", chainID, backupID+".img")
}

// cacheBaseline moves the snapshot into the cache as the chain's newest image
// and drops older images of that chain.
func (e *Engine) cacheBaseline(rec *models.BackupMetadata, snapshotPath string) error {
	dir := filepath.Join(e.cfg.WorkDir, "baselines", rec.ChainID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	keep := e.cachePath(rec.ChainID, rec.ID)
	if err := os.Rename(snapshotPath, keep); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if p := filepath.Join(dir, entry.Name()); p != keep {
			os.Remove(p) //nolint:errcheck // Stale cache entry
		}
	}
	return nil
}

// ForgetChain drops cached baselines of a chain, called once the chain has
// been deleted by retention.
func (e *Engine) ForgetChain(chainID string) error {
	if chainID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(e.cfg.WorkDir, "baselines", chainID))
}

// cleanupFailed reconciles the catalog and the filesystem after a failed run.
func (e *Engine) cleanupFailed(ctx context.Context, run *captureRun, step string, cause error) {
	cctx := context.WithoutCancel(ctx)
	if run.artifactPath != "" && run.wroteBytes {
		if err := os.Remove(run.artifactPath); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("path", run.artifactPath).Msg("Failed to remove partial artifact")
		}
	}

	cancelled := errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	if cancelled && !run.wroteBytes {
		if err := e.catalog.Discard(cctx, run.rec.ID); err != nil {
			logging.Warn().Err(err).Str("backup_id", run.rec.ID).Msg("Failed to discard cancelled capture")
		}
		return
	}

	reason := fmt.Sprintf("%s: %v", step, cause)
	if err := e.catalog.RecordFailed(cctx, run.rec.ID, reason); err != nil {
		logging.Warn().Err(err).Str("backup_id", run.rec.ID).Msg("Failed to record capture failure")
	}
}

//nolint:gosec // G304: path lives in the engine's work directory
func copyFileTo(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close() //nolint:errcheck // Read-only
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("stream snapshot: %w", err)
	}
	return nil
}

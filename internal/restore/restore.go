// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package restore rebuilds a database file from a backup chain.
//
// Every member of the chain is fetched and checksum-verified before the first
// byte is applied. The image is assembled next to the target as
// {target}.restore-{id}, synced, and renamed into place, so a failed restore
// never leaves a partially written target behind.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tomtom215/signalwatch/internal/capture"
	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/compression"
	"github.com/tomtom215/signalwatch/internal/integrity"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/metrics"
	"github.com/tomtom215/signalwatch/internal/models"
)

// Downloader fetches remote copies. *transport.Transport implements it.
type Downloader interface {
	Download(ctx context.Context, remoteKey string, provider models.CloudProvider, localPath string) error
}

// Options control a single restore.
type Options struct {
	// Overwrite replaces an existing non-empty target.
	Overwrite bool
	// VerifyDatabase opens the rebuilt image and runs the engine's own
	// integrity check before it replaces the target.
	VerifyDatabase bool
	// Driver selects the integrity check: sqlite (default) or duckdb.
	Driver string
}

// Engine restores backups recorded in a catalog.
type Engine struct {
	catalog catalog.Catalog
	remote  Downloader
	workDir string
	rename  func(oldpath, newpath string) error
}

// NewEngine creates an Engine. remote may be nil when no providers are
// configured; workDir holds downloads while a restore runs.
func NewEngine(cat catalog.Catalog, remote Downloader, workDir string) (*Engine, error) {
	if cat == nil {
		return nil, errors.New("restore engine requires a catalog")
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("create restore work dir: %w", err)
	}
	return &Engine{catalog: cat, remote: remote, workDir: workDir, rename: os.Rename}, nil
}

// prepared is a resolved, fetched and verified chain.
type prepared struct {
	chain      []*models.BackupMetadata
	paths      []string
	downloaded []string
}

// Restore writes the database image backupID represents to target.
func (e *Engine) Restore(ctx context.Context, backupID, target string, opts Options) (report *models.RestoreReport, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRestore(time.Since(start), err)
	}()

	log := logging.Ctx(ctx).With().Str("backup_id", backupID).Str("target", target).Logger()

	if target == "" {
		return nil, errors.New("restore target is required")
	}
	if err := checkTarget(target, opts.Overwrite); err != nil {
		return nil, err
	}

	stage, err := os.MkdirTemp(e.workDir, "restore-"+backupID+"-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage) //nolint:errcheck // Best effort cleanup

	p, err := e.prepare(ctx, backupID, stage)
	if err != nil {
		log.Error().Err(err).Msg("Restore aborted before apply")
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return nil, fmt.Errorf("create target directory: %w", err)
	}
	tmp := target + ".restore-" + backupID
	os.Remove(tmp) //nolint:errcheck // Leftover from an interrupted restore

	written, err := e.build(ctx, p, tmp)
	if err != nil {
		os.Remove(tmp) //nolint:errcheck // Best effort cleanup
		log.Error().Err(err).Msg("Restore apply failed")
		return nil, err
	}

	report = &models.RestoreReport{
		BackupID:     backupID,
		TargetPath:   target,
		Downloaded:   p.downloaded,
		BytesWritten: written,
	}
	for _, m := range p.chain {
		report.Chain = append(report.Chain, m.ID)
	}

	if opts.VerifyDatabase {
		warnings, err := checkDatabase(ctx, opts.Driver, backupID, tmp)
		if err != nil {
			os.Remove(tmp) //nolint:errcheck // Best effort cleanup
			log.Error().Err(err).Msg("Restored image failed the integrity check")
			return nil, err
		}
		report.Warnings = append(report.Warnings, warnings...)
	}

	if err := e.swapIn(tmp, target, backupID, opts.Overwrite); err != nil {
		os.Remove(tmp) //nolint:errcheck // Best effort cleanup
		log.Error().Err(err).Msg("Restore swap failed, previous target kept")
		return nil, err
	}
	if err := syncDir(filepath.Dir(target)); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("sync target directory: %v", err))
	}

	report.Duration = time.Since(start)
	for _, w := range report.Warnings {
		log.Warn().Msg(w)
	}
	log.Info().
		Int("chain_length", len(report.Chain)).
		Int("downloaded", len(report.Downloaded)).
		Int64("bytes_written", written).
		Dur("duration", report.Duration).
		Msg("Restore complete")
	return report, nil
}

// Materialize writes the image backupID represents to dst. It is the
// baseline provider for delta captures.
func (e *Engine) Materialize(ctx context.Context, backupID, dst string) error {
	stage, err := os.MkdirTemp(e.workDir, "materialize-"+backupID+"-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage) //nolint:errcheck // Best effort cleanup

	p, err := e.prepare(ctx, backupID, stage)
	if err != nil {
		return err
	}
	if _, err := e.build(ctx, p, dst); err != nil {
		os.Remove(dst) //nolint:errcheck // Best effort cleanup
		return err
	}
	return nil
}

// ResolveChain returns the chain ending at backupID, root first. Parent links
// are followed iteratively; a missing or non-restorable ancestor, a chain id
// mismatch or a cycle yields *models.ChainBrokenError.
func (e *Engine) ResolveChain(ctx context.Context, backupID string) ([]*models.BackupMetadata, error) {
	cur, err := e.catalog.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var chain []*models.BackupMetadata
	for {
		if seen[cur.ID] {
			return nil, &models.ChainBrokenError{BackupID: backupID, MissingID: cur.ID, Reason: "cycle in parent links"}
		}
		seen[cur.ID] = true

		if !cur.Status.Restorable() {
			return nil, &models.ChainBrokenError{BackupID: backupID, MissingID: cur.ID, Reason: "status is " + string(cur.Status)}
		}
		chain = append(chain, cur)
		if cur.IsRoot() {
			break
		}
		if cur.ParentID == "" {
			return nil, &models.ChainBrokenError{BackupID: backupID, MissingID: cur.ID, Reason: "no parent recorded"}
		}

		parent, err := e.catalog.Get(ctx, cur.ParentID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, &models.ChainBrokenError{BackupID: backupID, MissingID: cur.ParentID, Reason: "ancestor missing from catalog"}
		}
		if err != nil {
			return nil, err
		}
		if parent.ChainID != cur.ChainID {
			return nil, &models.ChainBrokenError{BackupID: backupID, MissingID: parent.ID, Reason: "ancestor belongs to another chain"}
		}
		cur = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// prepare resolves the chain, fetches every artifact and verifies every
// checksum.
func (e *Engine) prepare(ctx context.Context, backupID, stage string) (*prepared, error) {
	chain, err := e.ResolveChain(ctx, backupID)
	if err != nil {
		return nil, err
	}

	p := &prepared{chain: chain, paths: make([]string, len(chain))}
	for i, m := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, downloaded, err := e.fetch(ctx, m, stage)
		if err != nil {
			return nil, err
		}
		p.paths[i] = path
		if downloaded {
			p.downloaded = append(p.downloaded, m.ID)
		}
	}

	for i, m := range chain {
		if err := integrity.VerifyFile(m.ID, p.paths[i], m.Checksum); err != nil {
			metrics.RecordVerification(err)
			return nil, err
		}
		metrics.RecordVerification(nil)
	}
	return p, nil
}

// fetch returns a local path for m's artifact, downloading it from the first
// recorded provider that succeeds when the local copy is gone.
func (e *Engine) fetch(ctx context.Context, m *models.BackupMetadata, stage string) (string, bool, error) {
	if m.LocalPath != "" {
		if _, err := os.Stat(m.LocalPath); err == nil {
			return m.LocalPath, false, nil
		}
	}
	if len(m.RemoteLocations) == 0 || e.remote == nil {
		return "", false, &models.ChainBrokenError{
			BackupID:  m.ID,
			MissingID: m.ID,
			Reason:    "artifact is not on local disk and no remote copy is reachable",
		}
	}

	providers := make([]models.CloudProvider, 0, len(m.RemoteLocations))
	for p := range m.RemoteLocations {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	dst := filepath.Join(stage, m.ArtifactName())
	var lastErr error
	for _, provider := range providers {
		err := e.remote.Download(ctx, m.RemoteLocations[provider], provider, dst)
		if err == nil {
			logging.Ctx(ctx).Debug().
				Str("backup_id", m.ID).
				Str("provider", string(provider)).
				Msg("Artifact downloaded for restore")
			return dst, true, nil
		}
		lastErr = err
		logging.Ctx(ctx).Warn().Err(err).
			Str("backup_id", m.ID).
			Str("provider", string(provider)).
			Msg("Download failed, trying next provider")
	}
	return "", false, fmt.Errorf("fetch artifact for backup %s: %w", m.ID, lastErr)
}

// build decompresses the full image into out and applies each delta in order.
//
//nolint:gosec // G304: out is derived from the operator-supplied target
func (e *Engine) build(ctx context.Context, p *prepared, out string) (written int64, err error) {
	f, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
	if err != nil {
		return 0, fmt.Errorf("create image: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close image: %w", cerr)
		}
	}()

	for i, m := range p.chain {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if i == 0 {
			err = applyFull(f, m, p.paths[i])
		} else {
			err = applyDelta(f, m, p.paths[i])
		}
		if err != nil {
			return 0, err
		}
	}

	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("fsync image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

//nolint:gosec // G304: artifact paths come from the catalog
func applyFull(img *os.File, m *models.BackupMetadata, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", m.ID, err)
	}
	defer src.Close() //nolint:errcheck // Read-only

	if _, err := compression.Decompress(img, src, m.Compression); err != nil {
		return fmt.Errorf("decompress full backup %s: %w", m.ID, err)
	}
	return nil
}

//nolint:gosec // G304: artifact paths come from the catalog
func applyDelta(img *os.File, m *models.BackupMetadata, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", m.ID, err)
	}
	defer src.Close() //nolint:errcheck // Read-only

	r, err := compression.NewReader(src, m.Compression)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // Read-only

	if _, err := capture.ApplyDelta(img, r); err != nil {
		return fmt.Errorf("apply %s backup %s: %w", m.Type, m.ID, err)
	}
	return nil
}

// checkTarget refuses to replace a non-empty file unless overwrite is set.
func checkTarget(target string, overwrite bool) error {
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat target: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("restore target %s is a directory", target)
	}
	if info.Size() > 0 && !overwrite {
		return fmt.Errorf("%w: %s", models.ErrTargetExists, target)
	}
	return nil
}

// sidecarSuffixes name the journal files of the database being replaced.
// They describe the old image and must not survive next to the new one.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal", ".wal"}

// swapIn renames tmp over target. With overwrite, the journal files of the
// previous database are moved aside first and only removed once the new
// image is in place; if the swap fails they are moved back.
func (e *Engine) swapIn(tmp, target, backupID string, overwrite bool) error {
	var aside map[string]string
	if overwrite {
		var err error
		if aside, err = e.setAsideSidecars(target, backupID); err != nil {
			return err
		}
	}
	if err := e.rename(tmp, target); err != nil {
		if rerr := e.putBackSidecars(aside); rerr != nil {
			return errors.Join(fmt.Errorf("move restored image into place: %w", err), rerr)
		}
		return fmt.Errorf("move restored image into place: %w", err)
	}
	for _, moved := range aside {
		os.Remove(moved) //nolint:errcheck // Best effort cleanup
	}
	return nil
}

// setAsideSidecars renames every existing sidecar of target, returning the
// original to moved path mapping. On failure nothing stays moved.
func (e *Engine) setAsideSidecars(target, backupID string) (map[string]string, error) {
	aside := make(map[string]string)
	for _, suffix := range sidecarSuffixes {
		orig := target + suffix
		if _, err := os.Lstat(orig); errors.Is(err, os.ErrNotExist) {
			continue
		}
		moved := orig + ".replaced-" + backupID
		if err := e.rename(orig, moved); err != nil {
			perr := e.putBackSidecars(aside)
			return nil, errors.Join(fmt.Errorf("set aside %s: %w", orig, err), perr)
		}
		aside[orig] = moved
	}
	return aside, nil
}

func (e *Engine) putBackSidecars(aside map[string]string) error {
	var errs []error
	for orig, moved := range aside {
		if err := e.rename(moved, orig); err != nil {
			errs = append(errs, fmt.Errorf("restore sidecar %s: %w", orig, err))
		}
	}
	return errors.Join(errs...)
}

func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // G304: directory of the restore target
	if err != nil {
		return err
	}
	defer d.Close() //nolint:errcheck // Read-only
	return d.Sync()
}

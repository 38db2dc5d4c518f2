// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
manager.go - Backup Manager

This file contains the Manager, which wires the capture, restore, retention
and transport components around one catalog and exposes the operations the
scheduler, the admin API and the operator CLI call.

Manager Responsibilities:
  - Backup creation with automatic parent selection
  - Verification and multi-provider upload
  - Restore and retention under per-chain locks
  - Startup reconciliation of interrupted captures
  - Callback notification for backup events

Locking:
A capture holds its chain's lock from record_start to record_complete, and
retention holds it while deleting. Verification and upload hold it for their
whole run, restore while reading the chain.
Locks on different chains never contend.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/signalwatch/internal/capture"
	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/integrity"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/metrics"
	"github.com/tomtom215/signalwatch/internal/models"
	"github.com/tomtom215/signalwatch/internal/restore"
	"github.com/tomtom215/signalwatch/internal/retention"
	"github.com/tomtom215/signalwatch/internal/transport"
)

// Operation names attached to the logging context.
const (
	OpCreate    = "create_backup"
	OpVerify    = "verify_backup"
	OpUpload    = "upload_backup"
	OpRestore   = "restore"
	OpRetention = "enforce_retention"
	OpRecover   = "recover_interrupted"
)

// InterruptedReason is recorded on captures found in_progress at startup.
const InterruptedReason = "interrupted"

// ErrNoProviders is returned by uploads when no provider is configured.
var ErrNoProviders = errors.New("no cloud providers configured")

// Manager orchestrates backup operations over one catalog.
type Manager struct {
	cfg       *Config
	catalog   catalog.Catalog
	capture   *capture.Engine
	restore   *restore.Engine
	retention *retention.Enforcer
	transport *transport.Transport
	locks     *ChainLocks
	now       func() time.Time

	// Callbacks
	onBackupComplete func(rec *models.BackupMetadata)
	onRestoreStart   func(backupID string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager. tr may be nil when no providers are configured.
func NewManager(cfg *Config, cat catalog.Catalog, src capture.Source, tr *transport.Transport, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backup configuration is required")
	}
	if err := cfg.Retention.Validate(); err != nil {
		return nil, err
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 1
	}

	m := &Manager{
		cfg:       cfg,
		catalog:   cat,
		transport: tr,
		locks:     NewChainLocks(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	var downloader restore.Downloader
	if tr != nil {
		downloader = tr
	}
	re, err := restore.NewEngine(cat, downloader, filepath.Join(cfg.workDir(), "restore"))
	if err != nil {
		return nil, err
	}
	m.restore = re

	ce, err := capture.NewEngine(cfg.captureConfig(), src, cat, re)
	if err != nil {
		return nil, err
	}
	m.capture = ce

	retOpts := []retention.Option{
		retention.WithLocks(m.locks),
		retention.WithClock(func() time.Time { return m.now() }),
		retention.OnChainDeleted(m.forgetChain),
	}
	if tr != nil {
		retOpts = append(retOpts, retention.WithRemote(tr))
	}
	m.retention = retention.NewEnforcer(cat, retOpts...)

	return m, nil
}

// SetOnBackupComplete sets the callback for backup completion.
func (m *Manager) SetOnBackupComplete(fn func(rec *models.BackupMetadata)) {
	m.onBackupComplete = fn
}

// SetOnRestoreStart sets the callback for restore start.
func (m *Manager) SetOnRestoreStart(fn func(backupID string)) {
	m.onRestoreStart = fn
}

// Locks exposes the chain locks.
func (m *Manager) Locks() *ChainLocks { return m.locks }

// Config returns the manager configuration.
func (m *Manager) Config() *Config { return m.cfg }

// Providers returns the configured cloud providers, sorted.
func (m *Manager) Providers() []models.CloudProvider {
	if m.transport == nil {
		return nil
	}
	return m.transport.Providers()
}

// CreateBackup captures a backup of the given type. Incremental and wal
// backups build on opts.ParentID or, when empty, on the newest restorable
// record of the newest chain.
//
// When verification or upload fails after a successful capture, the record
// is returned together with the error: the artifact exists and is catalogued.
func (m *Manager) CreateBackup(ctx context.Context, typ models.BackupType, opts CreateOptions) (*models.BackupMetadata, error) {
	ctx = operationContext(ctx, OpCreate)
	if !typ.Valid() {
		return nil, &models.ChainError{Reason: "unknown backup type " + string(typ)}
	}
	if typ == models.BackupTypeFull && opts.ParentID != "" {
		return nil, &models.ChainError{ParentID: opts.ParentID, Reason: "full backups cannot have a parent"}
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	start := time.Now()
	rec, err := m.captureLocked(ctx, typ, opts.ParentID)
	size := int64(0)
	if rec != nil {
		size = rec.SizeBytes
	}
	metrics.RecordCapture(string(typ), string(m.cfg.Compression), time.Since(start), size, err)
	if err != nil {
		return nil, err
	}

	log := logging.Ctx(ctx).With().
		Str("backup_id", rec.ID).
		Str("chain_id", rec.ChainID).
		Str("type", string(typ)).
		Str("trigger", string(opts.Trigger)).
		Logger()

	if opts.Verify || m.cfg.VerifyAfterCapture {
		if err := m.verify(ctx, rec.ID); err != nil {
			log.Error().Err(err).Msg("Verification after capture failed")
			return rec, err
		}
	}

	if opts.Upload || m.cfg.UploadAfterCapture {
		// Upload is a separate step; a cancelled caller keeps the local backup.
		if err := ctx.Err(); err != nil {
			return m.refresh(ctx, rec), err
		}
		if _, err := m.upload(ctx, rec.ID); err != nil {
			log.Error().Err(err).Msg("Upload after capture failed")
			return m.refresh(ctx, rec), err
		}
	}

	rec = m.refresh(ctx, rec)
	if m.onBackupComplete != nil {
		m.onBackupComplete(rec.Clone())
	}
	log.Info().Str("status", string(rec.Status)).Msg("Backup created")
	return rec, nil
}

// captureLocked resolves the parent, takes the chain lock and captures.
// An automatically chosen parent that retention removed while the lock was
// awaited is chosen again once.
func (m *Manager) captureLocked(ctx context.Context, typ models.BackupType, parentID string) (*models.BackupMetadata, error) {
	if typ == models.BackupTypeFull {
		// A full backup roots a new chain nobody else can hold yet.
		return m.capture.Capture(ctx, typ, "")
	}

	auto := parentID == ""
	for attempt := 0; ; attempt++ {
		parent, err := m.resolveParent(ctx, typ, parentID)
		if err != nil {
			return nil, err
		}

		unlock := m.locks.Lock(parent.ChainID)
		current, err := m.catalog.Get(ctx, parent.ID)
		if err == nil && current.Status.Restorable() {
			rec, err := m.capture.Capture(ctx, typ, parent.ID)
			unlock()
			return rec, err
		}
		unlock()

		if !auto || attempt > 0 {
			if err != nil {
				return nil, err
			}
			return nil, &models.ChainError{ParentID: parent.ID, Reason: "parent status is " + string(current.Status)}
		}
		parentID = ""
	}
}

// resolveParent returns the explicit parent or picks one.
func (m *Manager) resolveParent(ctx context.Context, typ models.BackupType, parentID string) (*models.BackupMetadata, error) {
	if parentID != "" {
		parent, err := m.catalog.Get(ctx, parentID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, &models.ChainError{ParentID: parentID, Reason: "parent does not exist"}
		}
		return parent, err
	}

	records, err := m.catalog.List(ctx, catalog.Filter{Statuses: restorableStatuses})
	if err != nil {
		return nil, err
	}
	return SelectParent(records, typ)
}

var restorableStatuses = []models.BackupStatus{
	models.StatusComplete, models.StatusVerified, models.StatusUploaded,
}

// SelectParent picks the parent for a new backup of typ from records, which
// must be in catalog order: the newest record of the newest chain, skipping
// wal records for incrementals.
func SelectParent(records []*models.BackupMetadata, typ models.BackupType) (*models.BackupMetadata, error) {
	var chainID string
	for i := len(records) - 1; i >= 0; i-- {
		if r := records[i]; r.IsRoot() && r.Status.Restorable() {
			chainID = r.ChainID
			break
		}
	}
	if chainID == "" {
		return nil, &models.ChainError{Reason: "no restorable full backup to build on"}
	}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.ChainID != chainID || !r.Status.Restorable() {
			continue
		}
		if typ == models.BackupTypeIncremental && r.Type == models.BackupTypeWAL {
			continue
		}
		return r, nil
	}
	return nil, &models.ChainError{Reason: "no restorable parent in chain " + chainID}
}

// ListBackups returns catalog records in created_at order.
func (m *Manager) ListBackups(ctx context.Context, f catalog.Filter) ([]*models.BackupMetadata, error) {
	return m.catalog.List(ctx, f)
}

// GetBackup returns one record or *models.NotFoundError.
func (m *Manager) GetBackup(ctx context.Context, id string) (*models.BackupMetadata, error) {
	return m.catalog.Get(ctx, id)
}

// VerifyBackup re-digests the artifact and records the verification.
// A mismatch returns *models.CorruptionError and leaves the record unchanged.
func (m *Manager) VerifyBackup(ctx context.Context, id string) (*models.BackupMetadata, error) {
	ctx = operationContext(ctx, OpVerify)
	if err := m.verify(ctx, id); err != nil {
		return nil, err
	}
	return m.catalog.Get(ctx, id)
}

// verify checks id under its chain lock.
func (m *Manager) verify(ctx context.Context, id string) error {
	rec, err := m.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	unlock := m.locks.Lock(rec.ChainID)
	defer unlock()

	if rec, err = m.catalog.Get(ctx, id); err != nil {
		return err
	}
	if !rec.Status.Restorable() {
		return &models.TransitionError{ID: rec.ID, From: rec.Status, To: models.StatusVerified}
	}
	if rec.LocalPath == "" {
		return fmt.Errorf("backup %s has no local artifact to verify", rec.ID)
	}
	err = integrity.VerifyFile(rec.ID, rec.LocalPath, rec.Checksum)
	metrics.RecordVerification(err)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("backup_id", rec.ID).Msg("Checksum verification failed")
		return err
	}
	if err := m.catalog.RecordVerified(ctx, rec.ID); err != nil {
		return err
	}
	logging.Ctx(ctx).Debug().Str("backup_id", rec.ID).Msg("Checksum verified")
	return nil
}

// Restore writes the image of backupID to target.
func (m *Manager) Restore(ctx context.Context, backupID, target string, opts restore.Options) (*models.RestoreReport, error) {
	ctx = operationContext(ctx, OpRestore)
	rec, err := m.catalog.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if opts.Driver == "" {
		opts.Driver = m.cfg.DatabaseDriver
	}
	if m.onRestoreStart != nil {
		m.onRestoreStart(backupID)
	}

	unlock := m.locks.Lock(rec.ChainID)
	defer unlock()
	return m.restore.Restore(ctx, backupID, target, opts)
}

// EnforceRetention applies the configured policy.
func (m *Manager) EnforceRetention(ctx context.Context) (*retention.Result, error) {
	ctx = operationContext(ctx, OpRetention)
	res, err := m.retention.Enforce(ctx, m.cfg.Retention)
	if _, serr := m.Stats(ctx); serr != nil {
		logging.Ctx(ctx).Debug().Err(serr).Msg("Catalog census failed")
	}
	return res, err
}

// PreviewRetention returns what EnforceRetention would delete now.
func (m *Manager) PreviewRetention(ctx context.Context) (*retention.Selection, error) {
	return m.retention.Preview(ctx, m.cfg.Retention)
}

func (m *Manager) forgetChain(chainID string) {
	if err := m.capture.ForgetChain(chainID); err != nil {
		logging.Warn().Err(err).Str("chain_id", chainID).Msg("Failed to drop cached baseline")
	}
}

// RecoverInterrupted reconciles work cut short by a crash: in_progress
// records become failed, their partial artifacts are removed and stale
// capture and restore directories are cleared. Run it before any capture.
func (m *Manager) RecoverInterrupted(ctx context.Context) (*RecoveryResult, error) {
	ctx = operationContext(ctx, OpRecover)
	log := logging.Ctx(ctx)

	records, err := m.catalog.List(ctx, catalog.Filter{Statuses: []models.BackupStatus{models.StatusInProgress}})
	if err != nil {
		return nil, err
	}

	res := &RecoveryResult{Failed: []string{}}
	for _, rec := range records {
		partial := filepath.Join(m.cfg.BackupDir, rec.ArtifactName())
		if err := os.Remove(partial); err == nil {
			res.RemovedFiles++
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", partial).Msg("Failed to remove partial artifact")
		}
		if err := m.catalog.RecordFailed(ctx, rec.ID, InterruptedReason); err != nil {
			return res, err
		}
		res.Failed = append(res.Failed, rec.ID)
		log.Warn().Str("backup_id", rec.ID).Str("type", string(rec.Type)).Msg("Interrupted capture marked failed")
	}

	res.RemovedFiles += m.clearWorkDirs(ctx)
	if len(res.Failed) > 0 || res.RemovedFiles > 0 {
		log.Info().Int("failed", len(res.Failed)).Int("removed_files", res.RemovedFiles).Msg("Interrupted work reconciled")
	}
	return res, nil
}

// clearWorkDirs removes per-run scratch directories. Baselines are kept.
func (m *Manager) clearWorkDirs(ctx context.Context) int {
	removed := 0
	dirs := []string{m.cfg.workDir()}
	dirs = append(dirs, filepath.Join(dirs[0], "restore"))
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, "capture-") && !strings.HasPrefix(name, "restore-") &&
				!strings.HasPrefix(name, "materialize-") {
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("path", name).Msg("Failed to remove stale work directory")
				continue
			}
			removed++
		}
	}
	return removed
}

// Stats summarizes the catalog and refreshes the catalog gauges.
func (m *Manager) Stats(ctx context.Context) (*models.BackupStats, error) {
	records, err := m.catalog.List(ctx, catalog.Filter{})
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(records)

	byStatus := make(map[string]int, len(stats.ByStatus))
	for s, n := range stats.ByStatus {
		byStatus[string(s)] = n
	}
	metrics.UpdateCatalogGauges(byStatus, stats.TotalSizeBytes)
	return stats, nil
}

// ComputeStats builds a census of records. Deleted records count only in
// ByStatus; sizes and chains cover restorable records.
func ComputeStats(records []*models.BackupMetadata) *models.BackupStats {
	stats := &models.BackupStats{
		ByStatus:     make(map[models.BackupStatus]int),
		ByType:       make(map[models.BackupType]int),
		RemoteCopies: make(map[models.CloudProvider]int),
	}
	chains := make(map[string]bool)

	for _, r := range records {
		stats.ByStatus[r.Status]++
		if r.Status == models.StatusDeleted {
			continue
		}
		stats.TotalBackups++
		stats.ByType[r.Type]++
		for p := range r.RemoteLocations {
			stats.RemoteCopies[p]++
		}
		if !r.Status.Restorable() {
			continue
		}
		stats.TotalSizeBytes += r.SizeBytes
		if r.IsRoot() {
			chains[r.ChainID] = true
			created := r.CreatedAt
			if stats.LatestFull == nil || created.After(*stats.LatestFull) {
				stats.LatestFull = &created
			}
			if stats.OldestRestorable == nil || created.Before(*stats.OldestRestorable) {
				stats.OldestRestorable = &created
			}
		}
		if r.VerifiedAt != nil && (stats.LatestVerified == nil || r.VerifiedAt.After(*stats.LatestVerified)) {
			v := *r.VerifiedAt
			stats.LatestVerified = &v
		}
	}
	stats.Chains = len(chains)
	return stats
}

// refresh re-reads rec, falling back to the copy in hand.
func (m *Manager) refresh(ctx context.Context, rec *models.BackupMetadata) *models.BackupMetadata {
	fresh, err := m.catalog.Get(context.WithoutCancel(ctx), rec.ID)
	if err != nil {
		return rec
	}
	return fresh
}

// operationContext tags ctx with the operation and a correlation id.
func operationContext(ctx context.Context, op string) context.Context {
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	return logging.ContextWithOperation(ctx, op)
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package catalog is the durable record of every backup produced.
//
// The catalog exclusively owns metadata lifetime. Capture, transport, restore
// and retention request transitions through it and never edit records
// directly. Each transition is one transactional update keyed by the record
// id and guarded on the record's current status, so only the component owning
// the current lifecycle step can move a record forward.
//
// Records are listed ordered by created_at ascending (ties broken by the
// catalog-assigned sequence). Chain reconstruction and oldest-first retention
// rely on that ordering.
package catalog

import (
	"context"
	"time"

	"github.com/tomtom215/signalwatch/internal/models"
)

// Catalog is implemented by every catalog store.
type Catalog interface {
	// RecordStart creates an in_progress record. parentID is required for
	// incremental and wal backups and must name a restorable record.
	RecordStart(ctx context.Context, req StartRequest) (*models.BackupMetadata, error)

	// RecordComplete finalizes a record once its artifact is on disk.
	RecordComplete(ctx context.Context, id, localPath, checksum string, size int64) error

	// RecordVerified marks a successful integrity pass.
	RecordVerified(ctx context.Context, id string) error

	// RecordUploaded records the final remote copy and moves the record to uploaded.
	RecordUploaded(ctx context.Context, id string, provider models.CloudProvider, remoteKey string) error

	// AddRemoteLocation records a remote copy without changing status.
	AddRemoteLocation(ctx context.Context, id string, provider models.CloudProvider, remoteKey string) error

	// RecordFailed moves an in_progress record to failed.
	RecordFailed(ctx context.Context, id, reason string) error

	// ExpireChain moves every listed record to expired in one transaction.
	ExpireChain(ctx context.Context, ids []string) error

	// RecordDeleted moves an expired or failed record to deleted and clears
	// local_path.
	RecordDeleted(ctx context.Context, id string) error

	// Discard removes an in_progress record that never persisted any bytes.
	Discard(ctx context.Context, id string) error

	// List returns matching records ordered by created_at ascending.
	List(ctx context.Context, f Filter) ([]*models.BackupMetadata, error)

	// Get returns one record or *models.NotFoundError.
	Get(ctx context.Context, id string) (*models.BackupMetadata, error)

	Close() error
}

// StartRequest describes a capture about to begin.
type StartRequest struct {
	Type        models.BackupType
	ParentID    string
	Compression models.CompressionType
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Types         []models.BackupType
	Statuses      []models.BackupStatus
	ChainID       string
	ParentID      string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// allowed lists the legal forward transitions.
var allowed = map[models.BackupStatus][]models.BackupStatus{
	models.StatusInProgress: {models.StatusComplete, models.StatusFailed},
	models.StatusComplete:   {models.StatusVerified, models.StatusUploaded, models.StatusExpired},
	models.StatusVerified:   {models.StatusUploaded, models.StatusExpired},
	models.StatusUploaded:   {models.StatusExpired},
	models.StatusExpired:    {models.StatusDeleted},
	// Failed records hold no artifact and are purged with their chain.
	models.StatusFailed: {models.StatusDeleted},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to models.BackupStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesFor returns every status that may move to target.
func sourcesFor(target models.BackupStatus) []models.BackupStatus {
	var out []models.BackupStatus
	for from, tos := range allowed {
		for _, to := range tos {
			if to == target {
				out = append(out, from)
			}
		}
	}
	return out
}

// validateStart checks the request and its parent, returning the chain id the
// new record belongs to ("" for a full backup, which roots its own chain).
func validateStart(req StartRequest, parent *models.BackupMetadata) (string, error) {
	if !req.Type.Valid() {
		return "", &models.ChainError{Reason: "unknown backup type " + string(req.Type)}
	}
	if req.Compression != "" && !req.Compression.Valid() {
		return "", &models.CompressionError{Op: "record", Type: req.Compression, Err: errUnknownCompression}
	}

	if req.Type == models.BackupTypeFull {
		if req.ParentID != "" {
			return "", &models.ChainError{ParentID: req.ParentID, Reason: "full backups cannot have a parent"}
		}
		return "", nil
	}

	if req.ParentID == "" {
		return "", &models.ChainError{Reason: string(req.Type) + " backup requires a parent"}
	}
	if parent == nil {
		return "", &models.ChainError{ParentID: req.ParentID, Reason: "parent does not exist"}
	}
	if !parent.Status.Restorable() {
		return "", &models.ChainError{ParentID: parent.ID, Reason: "parent status is " + string(parent.Status)}
	}
	if req.Type == models.BackupTypeIncremental && parent.Type == models.BackupTypeWAL {
		return "", &models.ChainError{ParentID: parent.ID, Reason: "incremental parent must be full or incremental"}
	}
	if parent.ChainID == "" {
		return "", &models.ChainError{ParentID: parent.ID, Reason: "parent has no recorded chain"}
	}
	return parent.ChainID, nil
}

// matches applies a Filter to one record. Stores that cannot push a filter
// down into a query use it directly.
func (f *Filter) matches(m *models.BackupMetadata) bool {
	if len(f.Types) > 0 && !containsType(f.Types, m.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, m.Status) {
		return false
	}
	if f.ChainID != "" && m.ChainID != f.ChainID {
		return false
	}
	if f.ParentID != "" && m.ParentID != f.ParentID {
		return false
	}
	if !f.CreatedAfter.IsZero() && !m.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !m.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

func containsType(list []models.BackupType, t models.BackupType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(list []models.BackupStatus, s models.BackupStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// paginate applies offset and limit to an already ordered slice.
func paginate(records []*models.BackupMetadata, offset, limit int) []*models.BackupMetadata {
	if offset > 0 {
		if offset >= len(records) {
			return []*models.BackupMetadata{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// clampCreatedAt keeps created_at non-decreasing across the catalog.
func clampCreatedAt(now, newest time.Time) time.Time {
	if now.Before(newest) {
		return newest
	}
	return now
}

func ptrTime(t time.Time) *time.Time { return &t }

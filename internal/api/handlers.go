// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/signalwatch/internal/backup"
	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/models"
	"github.com/tomtom215/signalwatch/internal/restore"
	"github.com/tomtom215/signalwatch/internal/retention"
)

// BackupService is the backup manager surface the API drives.
// *backup.Manager implements it.
type BackupService interface {
	CreateBackup(ctx context.Context, typ models.BackupType, opts backup.CreateOptions) (*models.BackupMetadata, error)
	ListBackups(ctx context.Context, f catalog.Filter) ([]*models.BackupMetadata, error)
	GetBackup(ctx context.Context, id string) (*models.BackupMetadata, error)
	VerifyBackup(ctx context.Context, id string) (*models.BackupMetadata, error)
	UploadBackup(ctx context.Context, id string) (*backup.UploadResult, error)
	Restore(ctx context.Context, backupID, target string, opts restore.Options) (*models.RestoreReport, error)
	EnforceRetention(ctx context.Context) (*retention.Result, error)
	PreviewRetention(ctx context.Context) (*retention.Selection, error)
	Stats(ctx context.Context) (*models.BackupStats, error)
}

// JobLister exposes the scheduled jobs. *backup.Scheduler implements it.
type JobLister interface {
	Entries() []backup.JobInfo
}

// Handler serves the admin API.
type Handler struct {
	svc         BackupService
	jobs        JobLister
	restoreRoot string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRestoreRoot confines restore targets to root. Without it the restore
// endpoint refuses every request.
func WithRestoreRoot(root string) HandlerOption {
	return func(h *Handler) { h.restoreRoot = root }
}

// NewHandler creates a handler. jobs may be nil when no scheduler runs.
func NewHandler(svc BackupService, jobs JobLister, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, jobs: jobs}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health answers liveness probes. The catalog is touched through Stats so a
// dead store reports 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if _, err := h.svc.Stats(r.Context()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check failed")
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "catalog unavailable")
		return
	}
	rw.Success(map[string]string{"status": "ok"})
}

// ListBackups handles GET /api/v1/backups.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	f, err := parseListFilter(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	// One extra row tells whether another page exists.
	limit := f.Limit
	f.Limit++
	records, err := h.svc.ListBackups(r.Context(), f)
	if err != nil {
		writeDomainError(rw, err, nil)
		return
	}
	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	if records == nil {
		records = []*models.BackupMetadata{}
	}
	rw.SuccessWithPagination(records, &PaginationMeta{
		Count:   len(records),
		Offset:  f.Offset,
		Limit:   limit,
		HasMore: hasMore,
	})
}

// CreateBackup handles POST /api/v1/backups.
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req CreateBackupRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	rec, err := h.svc.CreateBackup(r.Context(), models.BackupType(req.Type), backup.CreateOptions{
		ParentID: req.ParentID,
		Verify:   req.Verify,
		Upload:   req.Upload,
		Trigger:  backup.TriggerManual,
	})
	if err != nil {
		// A capture that succeeded before verify or upload failed still
		// produced a record.
		var details interface{}
		if rec != nil {
			details = rec
		}
		writeDomainError(rw, err, details)
		return
	}
	rw.Created(rec)
}

// Stats handles GET /api/v1/backups/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeDomainError(rw, err, nil)
		return
	}
	rw.Success(stats)
}

// GetBackup handles GET /api/v1/backups/{id}.
func (h *Handler) GetBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rec, err := h.svc.GetBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(rw, err, nil)
		return
	}
	rw.Success(rec)
}

// VerifyBackup handles POST /api/v1/backups/{id}/verify.
func (h *Handler) VerifyBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rec, err := h.svc.VerifyBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(rw, err, nil)
		return
	}
	rw.Success(rec)
}

// UploadBackup handles POST /api/v1/backups/{id}/upload. A partial failure
// carries the per-provider result in the error details.
func (h *Handler) UploadBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	result, err := h.svc.UploadBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		var details interface{}
		if result != nil {
			details = result
		}
		if errors.Is(err, models.ErrTransport) {
			rw.ErrorWithDetails(http.StatusBadGateway, ErrCodeUpstream, err.Error(), details)
			return
		}
		writeDomainError(rw, err, details)
		return
	}
	rw.Success(result)
}

// Restore handles POST /api/v1/backups/{id}/restore.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req RestoreRequest
	if !decodeAndValidate(rw, r, &req) {
		return
	}

	if h.restoreRoot == "" {
		rw.Forbidden("restore is disabled: server.restore_root is not set")
		return
	}
	target, err := resolveRestoreTarget(h.restoreRoot, req.TargetPath)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("target_path", req.TargetPath).Msg("Restore target rejected")
		rw.Forbidden(err.Error())
		return
	}

	report, err := h.svc.Restore(r.Context(), chi.URLParam(r, "id"), target, restore.Options{
		Overwrite:      req.Overwrite,
		VerifyDatabase: req.VerifyDatabase,
	})
	if err != nil {
		writeDomainError(rw, err, nil)
		return
	}
	rw.Success(report)
}

// PreviewRetention handles GET /api/v1/retention/preview.
func (h *Handler) PreviewRetention(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	sel, err := h.svc.PreviewRetention(r.Context())
	if err != nil {
		writeDomainError(rw, err, nil)
		return
	}
	rw.Success(sel)
}

// EnforceRetention handles POST /api/v1/retention/enforce.
func (h *Handler) EnforceRetention(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	result, err := h.svc.EnforceRetention(r.Context())
	if err != nil {
		writeDomainError(rw, err, nil)
		return
	}
	rw.Success(result)
}

// Schedule handles GET /api/v1/schedule.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.jobs == nil {
		rw.Success([]backup.JobInfo{})
		return
	}
	rw.Success(h.jobs.Entries())
}

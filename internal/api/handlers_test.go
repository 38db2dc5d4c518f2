// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalwatch/internal/backup"
	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/models"
	"github.com/tomtom215/signalwatch/internal/restore"
	"github.com/tomtom215/signalwatch/internal/retention"
)

type fakeService struct {
	mu         sync.Mutex
	records    map[string]*models.BackupMetadata
	lastFilter catalog.Filter
	lastCreate backup.CreateOptions
	lastType   models.BackupType
	lastTarget string
	createErr  error
	uploadErr  error
	statsErr   error
}

func newFakeService() *fakeService {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeService{records: map[string]*models.BackupMetadata{
		"full-1": {ID: "full-1", Type: models.BackupTypeFull, ChainID: "full-1", Status: models.StatusVerified, CreatedAt: now},
		"inc-1":  {ID: "inc-1", Type: models.BackupTypeIncremental, ParentID: "full-1", ChainID: "full-1", Status: models.StatusComplete, CreatedAt: now.Add(time.Hour)},
	}}
}

func (f *fakeService) CreateBackup(_ context.Context, typ models.BackupType, opts backup.CreateOptions) (*models.BackupMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastType, f.lastCreate = typ, opts
	if f.createErr != nil {
		return nil, f.createErr
	}
	rec := &models.BackupMetadata{ID: "new-1", Type: typ, Status: models.StatusComplete}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeService) ListBackups(_ context.Context, filter catalog.Filter) ([]*models.BackupMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	out := []*models.BackupMetadata{f.records["full-1"], f.records["inc-1"]}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeService) GetBackup(_ context.Context, id string) (*models.BackupMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, models.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeService) VerifyBackup(ctx context.Context, id string) (*models.BackupMetadata, error) {
	if id == "corrupt" {
		return nil, fmt.Errorf("verify %s: %w", id, models.ErrCorruption)
	}
	return f.GetBackup(ctx, id)
}

func (f *fakeService) UploadBackup(_ context.Context, id string) (*backup.UploadResult, error) {
	result := &backup.UploadResult{
		BackupID: id,
		Status:   models.StatusVerified,
		Uploaded: map[models.CloudProvider]string{models.ProviderS3: "signalwatch/" + id},
	}
	if f.uploadErr != nil {
		result.Failed = map[models.CloudProvider]string{models.ProviderGCS: f.uploadErr.Error()}
		return result, f.uploadErr
	}
	result.Status = models.StatusUploaded
	return result, nil
}

func (f *fakeService) Restore(_ context.Context, backupID, target string, _ restore.Options) (*models.RestoreReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTarget = target
	if filepath.Base(target) == "occupied" {
		return nil, models.ErrTargetExists
	}
	return &models.RestoreReport{BackupID: backupID, TargetPath: target, Chain: []string{"full-1", backupID}}, nil
}

func (f *fakeService) EnforceRetention(context.Context) (*retention.Result, error) {
	return &retention.Result{}, nil
}

func (f *fakeService) PreviewRetention(context.Context) (*retention.Selection, error) {
	return &retention.Selection{}, nil
}

func (f *fakeService) Stats(context.Context) (*models.BackupStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &models.BackupStats{TotalBackups: 2}, nil
}

type staticJobs []backup.JobInfo

func (s staticJobs) Entries() []backup.JobInfo { return s }

const testRestoreRoot = "/srv/signalwatch-restore"

func newTestRouter(svc BackupService) http.Handler {
	return NewRouter(NewHandler(svc, staticJobs{{Name: backup.JobFull, Schedule: "@daily"}}, WithRestoreRoot(testRestoreRoot)), RouterConfig{})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s %s: %v (body %q)", method, path, err, rec.Body.String())
	}
	return rec, resp
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK, ""},
		{"list", http.MethodGet, "/api/v1/backups", "", http.StatusOK, ""},
		{"get", http.MethodGet, "/api/v1/backups/full-1", "", http.StatusOK, ""},
		{"get missing", http.MethodGet, "/api/v1/backups/nope", "", http.StatusNotFound, ErrCodeNotFound},
		{"stats", http.MethodGet, "/api/v1/backups/stats", "", http.StatusOK, ""},
		{"create", http.MethodPost, "/api/v1/backups", `{"type":"full"}`, http.StatusCreated, ""},
		{"create bad type", http.MethodPost, "/api/v1/backups", `{"type":"weekly"}`, http.StatusBadRequest, ErrCodeValidationFailed},
		{"create missing type", http.MethodPost, "/api/v1/backups", `{}`, http.StatusBadRequest, ErrCodeValidationFailed},
		{"create empty body", http.MethodPost, "/api/v1/backups", "", http.StatusBadRequest, ErrCodeBadRequest},
		{"create unknown field", http.MethodPost, "/api/v1/backups", `{"type":"full","level":3}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"verify", http.MethodPost, "/api/v1/backups/full-1/verify", "", http.StatusOK, ""},
		{"verify corrupt", http.MethodPost, "/api/v1/backups/corrupt/verify", "", http.StatusUnprocessableEntity, ErrCodeCorruption},
		{"upload", http.MethodPost, "/api/v1/backups/full-1/upload", "", http.StatusOK, ""},
		{"restore", http.MethodPost, "/api/v1/backups/inc-1/restore", `{"target_path":"db"}`, http.StatusOK, ""},
		{"restore absolute inside root", http.MethodPost, "/api/v1/backups/inc-1/restore", `{"target_path":"/srv/signalwatch-restore/db"}`, http.StatusOK, ""},
		{"restore occupied", http.MethodPost, "/api/v1/backups/inc-1/restore", `{"target_path":"occupied"}`, http.StatusConflict, ErrCodeConflict},
		{"restore escapes root", http.MethodPost, "/api/v1/backups/inc-1/restore", `{"target_path":"../etc/passwd","overwrite":true}`, http.StatusForbidden, ErrCodeForbidden},
		{"restore absolute outside root", http.MethodPost, "/api/v1/backups/inc-1/restore", `{"target_path":"/etc/passwd","overwrite":true}`, http.StatusForbidden, ErrCodeForbidden},
		{"restore onto root", http.MethodPost, "/api/v1/backups/inc-1/restore", `{"target_path":"."}`, http.StatusForbidden, ErrCodeForbidden},
		{"restore no target", http.MethodPost, "/api/v1/backups/inc-1/restore", `{}`, http.StatusBadRequest, ErrCodeValidationFailed},
		{"preview", http.MethodGet, "/api/v1/retention/preview", "", http.StatusOK, ""},
		{"enforce", http.MethodPost, "/api/v1/retention/enforce", "", http.StatusOK, ""},
		{"schedule", http.MethodGet, "/api/v1/schedule", "", http.StatusOK, ""},
		{"unknown", http.MethodGet, "/api/v1/nothing", "", http.StatusNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, resp := do(t, newTestRouter(newFakeService()), tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			wantSuccess := tt.code == ""
			if resp.Success != wantSuccess {
				t.Errorf("success = %v, want %v", resp.Success, wantSuccess)
			}
			if tt.code != "" && (resp.Error == nil || resp.Error.Code != tt.code) {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.code)
			}
			if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q", got)
			}
		})
	}
}

func TestListBackupsQuery(t *testing.T) {
	t.Parallel()
	svc := newFakeService()
	h := newTestRouter(svc)

	rec, resp := do(t, h, http.MethodGet, "/api/v1/backups?type=full&type=incremental&status=verified&chain_id=full-1&limit=1&offset=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f := svc.lastFilter
	if len(f.Types) != 2 || f.Statuses[0] != models.StatusVerified || f.ChainID != "full-1" || f.Offset != 2 {
		t.Errorf("filter = %+v", f)
	}
	// One extra row is requested to detect the next page.
	if f.Limit != 2 {
		t.Errorf("service limit = %d, want 2", f.Limit)
	}
	if resp.Meta == nil || resp.Meta.Pagination == nil {
		t.Fatal("missing pagination meta")
	}
	if p := resp.Meta.Pagination; p.Count != 1 || !p.HasMore || p.Limit != 1 {
		t.Errorf("pagination = %+v", p)
	}

	for _, q := range []string{"type=weekly", "status=lost", "limit=0", "limit=5000", "offset=-1", "limit=x"} {
		rec, _ := do(t, h, http.MethodGet, "/api/v1/backups?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestCreateBackupPassesOptions(t *testing.T) {
	t.Parallel()
	svc := newFakeService()

	rec, _ := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/backups",
		`{"type":"incremental","parent_id":"full-1","verify":true,"upload":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastType != models.BackupTypeIncremental {
		t.Errorf("type = %s", svc.lastType)
	}
	o := svc.lastCreate
	if o.ParentID != "full-1" || !o.Verify || !o.Upload || o.Trigger != backup.TriggerManual {
		t.Errorf("options = %+v", o)
	}
}

func TestCreateBackupErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"chain", models.ErrChain, http.StatusConflict},
		{"no providers", backup.ErrNoProviders, http.StatusConflict},
		{"capture", fmt.Errorf("snapshot: %w", models.ErrCapture), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newFakeService()
			svc.createErr = tt.err
			rec, resp := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/backups", `{"type":"incremental"}`)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if resp.Success {
				t.Error("success = true")
			}
		})
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	t.Parallel()
	svc := newFakeService()
	svc.createErr = errors.New("disk /secret/path exploded")

	rec, resp := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/backups", `{"type":"full"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(resp.Error.Message, "secret") {
		t.Errorf("message leaks cause: %q", resp.Error.Message)
	}
}

func TestUploadPartialFailureCarriesResult(t *testing.T) {
	t.Parallel()
	svc := newFakeService()
	svc.uploadErr = fmt.Errorf("upload full-1: %w", models.ErrTransport)

	rec, resp := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/backups/full-1/upload", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeUpstream {
		t.Fatalf("error = %+v", resp.Error)
	}
	details, ok := resp.Error.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("details = %T", resp.Error.Details)
	}
	if _, ok := details["failed"]; !ok {
		t.Errorf("details missing failed map: %v", details)
	}
}

func TestHealthReportsCatalogFailure(t *testing.T) {
	t.Parallel()
	svc := newFakeService()
	svc.statsErr = errors.New("badger closed")

	rec, resp := do(t, newTestRouter(svc), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("code = %s", resp.Error.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := NewRouter(NewHandler(newFakeService(), nil), RouterConfig{RateLimitRequests: 2, RateLimitWindow: time.Hour})

	var last int
	for i := 0; i < 3; i++ {
		rec, _ := do(t, h, http.MethodGet, "/api/v1/backups/stats", "")
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}

func TestRequestIDInMeta(t *testing.T) {
	t.Parallel()
	rec, resp := do(t, newTestRouter(newFakeService()), http.MethodGet, "/api/v1/backups/stats", "")
	id := rec.Header().Get("X-Request-ID")
	if id == "" {
		t.Fatal("missing X-Request-ID header")
	}
	if resp.Meta == nil || resp.Meta.RequestID != id {
		t.Errorf("meta request id = %+v, want %s", resp.Meta, id)
	}
}

func TestRestoreTargetIsConfinedToRoot(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	rec, _ := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/backups/inc-1/restore", `{"target_path":"nested/../signals.db"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	svc.mu.Lock()
	got := svc.lastTarget
	svc.mu.Unlock()
	if want := filepath.Join(testRestoreRoot, "signals.db"); got != want {
		t.Errorf("service saw target %q, want %q", got, want)
	}
}

func TestRestoreDisabledWithoutRoot(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	router := NewRouter(NewHandler(svc, nil), RouterConfig{})
	rec, resp := do(t, router, http.MethodPost, "/api/v1/backups/inc-1/restore", `{"target_path":"db"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeForbidden {
		t.Errorf("error = %+v, want %s", resp.Error, ErrCodeForbidden)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.lastTarget != "" {
		t.Errorf("service was called with %q", svc.lastTarget)
	}
}

func TestResolveRestoreTarget(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "db"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		requested string
		want      string
		wantErr   bool
	}{
		{"relative file", "signals.db", filepath.Join(realRoot, "signals.db"), false},
		{"nested missing directories", "a/b/signals.db", filepath.Join(realRoot, "a", "b", "signals.db"), false},
		{"existing subdirectory", "db/signals.db", filepath.Join(realRoot, "db", "signals.db"), false},
		{"absolute inside", filepath.Join(root, "signals.db"), filepath.Join(realRoot, "signals.db"), false},
		{"parent traversal", "../signals.db", "", true},
		{"absolute outside", filepath.Join(outside, "signals.db"), "", true},
		{"symlink out of root", "escape/signals.db", "", true},
		{"root itself", ".", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolveRestoreTarget(root, tt.requested)
			if tt.wantErr {
				if err == nil {
					t.Errorf("resolveRestoreTarget(%q) = %q, want error", tt.requested, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveRestoreTarget(%q) error = %v", tt.requested, err)
			}
			if got != tt.want {
				t.Errorf("resolveRestoreTarget(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}

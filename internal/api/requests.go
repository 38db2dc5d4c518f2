// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/models"
	"github.com/tomtom215/signalwatch/internal/validation"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Default and maximum page sizes for list requests.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// CreateBackupRequest is the body of POST /api/v1/backups.
type CreateBackupRequest struct {
	Type     string `json:"type" validate:"required,backup_type"`
	ParentID string `json:"parent_id,omitempty"`
	Verify   bool   `json:"verify,omitempty"`
	Upload   bool   `json:"upload,omitempty"`
}

// RestoreRequest is the body of POST /api/v1/backups/{id}/restore.
// TargetPath is taken relative to the restore root; an absolute path must
// already lie inside it.
type RestoreRequest struct {
	TargetPath     string `json:"target_path" validate:"required"`
	Overwrite      bool   `json:"overwrite,omitempty"`
	VerifyDatabase bool   `json:"verify_database,omitempty"`
}

// decodeAndValidate reads a JSON body into v and validates it. It writes the
// error response itself and reports whether the handler should go on.
func decodeAndValidate(rw *ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(rw.w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			rw.BadRequest("request body is required")
		} else {
			rw.BadRequest("invalid JSON body: " + err.Error())
		}
		return false
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		rw.ValidationError(verr.Error(), verr)
		return false
	}
	return true
}

// parseListFilter reads list query parameters.
func parseListFilter(r *http.Request) (catalog.Filter, error) {
	q := r.URL.Query()
	f := catalog.Filter{
		ChainID:  q.Get("chain_id"),
		ParentID: q.Get("parent_id"),
		Limit:    defaultListLimit,
	}

	for _, raw := range q["type"] {
		t, err := models.ParseBackupType(raw)
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, t)
	}
	for _, raw := range q["status"] {
		s := models.BackupStatus(raw)
		if !validStatus(s) {
			return f, fmt.Errorf("unknown status %q", raw)
		}
		f.Statuses = append(f.Statuses, s)
	}

	var err error
	if f.Limit, err = intParam(q.Get("limit"), defaultListLimit, 1, maxListLimit); err != nil {
		return f, fmt.Errorf("limit: %w", err)
	}
	if f.Offset, err = intParam(q.Get("offset"), 0, 0, -1); err != nil {
		return f, fmt.Errorf("offset: %w", err)
	}
	return f, nil
}

// intParam parses value within [minimum, maximum]; a negative maximum means
// unbounded.
func intParam(value string, def, minimum, maximum int) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", value)
	}
	if n < minimum || (maximum >= 0 && n > maximum) {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return n, nil
}

func validStatus(s models.BackupStatus) bool {
	switch s {
	case models.StatusInProgress, models.StatusComplete, models.StatusVerified,
		models.StatusUploaded, models.StatusExpired, models.StatusDeleted, models.StatusFailed:
		return true
	}
	return false
}

// resolveRestoreTarget maps requested into root and returns the path with
// symlinks of its existing part resolved. Paths that leave root, through
// ".." or a link, and root itself are rejected.
func resolveRestoreTarget(root, requested string) (string, error) {
	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("restore root: %w", err)
	}
	base = resolveExisting(base)

	target := requested
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = resolveExisting(filepath.Clean(target))

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("target_path must be a file inside the restore root %s", root)
	}
	return target, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// appends the rest unchanged.
func resolveExisting(p string) string {
	rest := ""
	for cur := p; ; {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(real, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

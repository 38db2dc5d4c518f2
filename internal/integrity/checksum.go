// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package integrity computes and verifies artifact digests.
//
// Digests are lowercase hex SHA-256 over the exact bytes stored on disk, which
// for backups means the compressed artifact. Verification failures are reported
// as *models.CorruptionError and are never repaired.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/tomtom215/signalwatch/internal/models"
)

// HashingWriter forwards writes to an underlying writer while digesting and
// counting every byte that was accepted.
type HashingWriter struct {
	w     io.Writer
	h     hash.Hash
	count int64
}

// NewHashingWriter wraps w.
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: sha256.New()}
}

// Write implements io.Writer.
func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
		hw.count += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of everything written so far.
func (hw *HashingWriter) Sum() string {
	return hex.EncodeToString(hw.h.Sum(nil))
}

// Count returns the number of bytes written.
func (hw *HashingWriter) Count() int64 {
	return hw.count
}

// Sum digests r until EOF and returns the hex digest and byte count.
func Sum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// FileSum digests the file at path.
func FileSum(path string) (string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the catalog
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sum, n, err := Sum(f)
	if err != nil {
		return "", n, fmt.Errorf("read %s: %w", path, err)
	}
	return sum, n, nil
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// VerifyFile re-digests path and compares it to expected.
// A mismatch returns *models.CorruptionError tagged with backupID.
func VerifyFile(backupID, path, expected string) error {
	actual, _, err := FileSum(path)
	if err != nil {
		return err
	}
	if !Equal(actual, expected) {
		return &models.CorruptionError{
			BackupID: backupID,
			Path:     path,
			Expected: expected,
			Actual:   actual,
		}
	}
	return nil
}

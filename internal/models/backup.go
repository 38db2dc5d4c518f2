// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// BackupType represents how a backup relates to the database it protects.
type BackupType string

const (
	// BackupTypeFull is a complete, independently restorable snapshot.
	BackupTypeFull BackupType = "full"
	// BackupTypeIncremental is a block delta against the last full or incremental backup.
	BackupTypeIncremental BackupType = "incremental"
	// BackupTypeWAL captures writes since the last checkpoint of the live database.
	BackupTypeWAL BackupType = "wal"
)

// Valid reports whether t is a known backup type.
func (t BackupType) Valid() bool {
	switch t {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeWAL:
		return true
	}
	return false
}

// ParseBackupType converts a string into a BackupType.
func ParseBackupType(s string) (BackupType, error) {
	t := BackupType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown backup type %q", s)
	}
	return t, nil
}

// CompressionType identifies the codec applied to an artifact.
// It is stored per artifact so restore never depends on the current policy.
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

// Extension returns the artifact file extension for the compression type.
func (c CompressionType) Extension() string {
	switch c {
	case CompressionGzip:
		return "gz"
	case CompressionZstd:
		return "zst"
	default:
		return "bin"
	}
}

// Valid reports whether c is a known compression type.
func (c CompressionType) Valid() bool {
	switch c {
	case CompressionNone, CompressionGzip, CompressionZstd:
		return true
	}
	return false
}

// ParseCompressionType converts a string into a CompressionType.
// An empty string maps to CompressionNone.
func ParseCompressionType(s string) (CompressionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CompressionNone, nil
	}
	c := CompressionType(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown compression type %q", s)
	}
	return c, nil
}

// CloudProvider identifies a remote object store.
type CloudProvider string

const (
	ProviderNone  CloudProvider = "none"
	ProviderS3    CloudProvider = "s3"
	ProviderGCS   CloudProvider = "gcs"
	ProviderAzure CloudProvider = "azure"
	ProviderOSS   CloudProvider = "oss"
)

// Valid reports whether p names a provider that can hold a remote copy.
func (p CloudProvider) Valid() bool {
	switch p {
	case ProviderS3, ProviderGCS, ProviderAzure, ProviderOSS:
		return true
	}
	return false
}

// BackupStatus is the lifecycle state of a catalog record.
//
//	in_progress -> complete -> verified -> uploaded -> expired -> deleted
//	in_progress -> failed
type BackupStatus string

const (
	StatusInProgress BackupStatus = "in_progress"
	StatusComplete   BackupStatus = "complete"
	StatusVerified   BackupStatus = "verified"
	StatusUploaded   BackupStatus = "uploaded"
	StatusExpired    BackupStatus = "expired"
	StatusDeleted    BackupStatus = "deleted"
	StatusFailed     BackupStatus = "failed"
)

// Restorable reports whether a record in this status can take part in a restore
// or serve as a parent for a new capture.
func (s BackupStatus) Restorable() bool {
	switch s {
	case StatusComplete, StatusVerified, StatusUploaded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s BackupStatus) Terminal() bool {
	return s == StatusDeleted || s == StatusFailed
}

// BackupMetadata is the catalog record for one backup artifact.
type BackupMetadata struct {
	ID              string                   `json:"id"`
	Type            BackupType               `json:"type"`
	ParentID        string                   `json:"parent_id,omitempty"`
	ChainID         string                   `json:"chain_id"`
	Compression     CompressionType          `json:"compression"`
	LocalPath       string                   `json:"local_path,omitempty"`
	RemoteLocations map[CloudProvider]string `json:"remote_locations,omitempty"`
	Checksum        string                   `json:"checksum,omitempty"`
	SizeBytes       int64                    `json:"size_bytes"`
	Status          BackupStatus             `json:"status"`
	FailureReason   string                   `json:"failure_reason,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
	VerifiedAt      *time.Time               `json:"verified_at,omitempty"`
	UploadedAt      *time.Time               `json:"uploaded_at,omitempty"`
	Sequence        int64                    `json:"sequence"`
}

// IsRoot reports whether the record starts a chain.
func (m *BackupMetadata) IsRoot() bool {
	return m.Type == BackupTypeFull
}

// ArtifactName returns the deterministic file name for the record's artifact.
func (m *BackupMetadata) ArtifactName() string {
	return ArtifactName(m.ID, m.Type, m.Compression)
}

// Clone returns a deep copy so callers can never alias catalog state.
func (m *BackupMetadata) Clone() *BackupMetadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.RemoteLocations != nil {
		c.RemoteLocations = make(map[CloudProvider]string, len(m.RemoteLocations))
		for k, v := range m.RemoteLocations {
			c.RemoteLocations[k] = v
		}
	}
	c.CompletedAt = cloneTime(m.CompletedAt)
	c.VerifiedAt = cloneTime(m.VerifiedAt)
	c.UploadedAt = cloneTime(m.UploadedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ArtifactName builds {backup_id}.{type}.{compression-extension}.
func ArtifactName(id string, t BackupType, c CompressionType) string {
	return fmt.Sprintf("%s.%s.%s", id, t, c.Extension())
}

// RemoteKey namespaces an artifact name under prefix.
func RemoteKey(prefix, artifactName string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return artifactName
	}
	return path.Join(prefix, artifactName)
}

// RestoreReport describes a completed restore.
type RestoreReport struct {
	BackupID     string        `json:"backup_id"`
	TargetPath   string        `json:"target_path"`
	Chain        []string      `json:"chain"`
	Downloaded   []string      `json:"downloaded,omitempty"`
	BytesWritten int64         `json:"bytes_written"`
	Duration     time.Duration `json:"duration"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// BackupStats summarizes the catalog.
type BackupStats struct {
	TotalBackups     int                   `json:"total_backups"`
	TotalSizeBytes   int64                 `json:"total_size_bytes"`
	ByStatus         map[BackupStatus]int  `json:"by_status"`
	ByType           map[BackupType]int    `json:"by_type"`
	Chains           int                   `json:"chains"`
	LatestFull       *time.Time            `json:"latest_full,omitempty"`
	LatestVerified   *time.Time            `json:"latest_verified,omitempty"`
	RemoteCopies     map[CloudProvider]int `json:"remote_copies,omitempty"`
	OldestRestorable *time.Time            `json:"oldest_restorable,omitempty"`
}

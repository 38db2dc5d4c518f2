// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package models

import (
	"testing"
	"time"
)

func TestArtifactName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		typ  BackupType
		comp CompressionType
		want string
	}{
		{"abc", BackupTypeFull, CompressionNone, "abc.full.bin"},
		{"abc", BackupTypeIncremental, CompressionGzip, "abc.incremental.gz"},
		{"abc", BackupTypeWAL, CompressionZstd, "abc.wal.zst"},
	}

	for _, tt := range tests {
		if got := ArtifactName(tt.id, tt.typ, tt.comp); got != tt.want {
			t.Errorf("ArtifactName(%q, %q, %q) = %q, want %q", tt.id, tt.typ, tt.comp, got, tt.want)
		}
	}
}

func TestRemoteKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		want   string
	}{
		{"", "abc.full.gz"},
		{"prod", "prod/abc.full.gz"},
		{"/prod/db/", "prod/db/abc.full.gz"},
	}

	for _, tt := range tests {
		if got := RemoteKey(tt.prefix, "abc.full.gz"); got != tt.want {
			t.Errorf("RemoteKey(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestParseTypes(t *testing.T) {
	t.Parallel()

	if bt, err := ParseBackupType(" Incremental "); err != nil || bt != BackupTypeIncremental {
		t.Errorf("ParseBackupType() = %q, %v", bt, err)
	}
	if _, err := ParseBackupType("differential"); err == nil {
		t.Error("expected error for unknown backup type")
	}

	if ct, err := ParseCompressionType(""); err != nil || ct != CompressionNone {
		t.Errorf("ParseCompressionType(\"\") = %q, %v", ct, err)
	}
	if ct, err := ParseCompressionType("ZSTD"); err != nil || ct != CompressionZstd {
		t.Errorf("ParseCompressionType(ZSTD) = %q, %v", ct, err)
	}
	if _, err := ParseCompressionType("lz4"); err == nil {
		t.Error("expected error for unknown compression type")
	}
}

func TestStatusRestorable(t *testing.T) {
	t.Parallel()

	restorable := map[BackupStatus]bool{
		StatusInProgress: false,
		StatusComplete:   true,
		StatusVerified:   true,
		StatusUploaded:   true,
		StatusExpired:    false,
		StatusDeleted:    false,
		StatusFailed:     false,
	}
	for status, want := range restorable {
		if got := status.Restorable(); got != want {
			t.Errorf("%s.Restorable() = %v, want %v", status, got, want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	now := time.Now()
	orig := &BackupMetadata{
		ID:              "a",
		RemoteLocations: map[CloudProvider]string{ProviderS3: "k"},
		VerifiedAt:      &now,
	}
	c := orig.Clone()
	c.RemoteLocations[ProviderGCS] = "other"
	*c.VerifiedAt = now.Add(time.Hour)

	if len(orig.RemoteLocations) != 1 {
		t.Errorf("clone aliased remote locations: %v", orig.RemoteLocations)
	}
	if !orig.VerifiedAt.Equal(now) {
		t.Error("clone aliased verified_at")
	}
}

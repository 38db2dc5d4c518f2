// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package backup

import "github.com/tomtom215/signalwatch/internal/models"

// Trigger identifies what started an operation. It is logged, not stored.
type Trigger string

const (
	// TriggerManual indicates an operator or API request
	TriggerManual Trigger = "manual"

	// TriggerScheduled indicates a cron job
	TriggerScheduled Trigger = "scheduled"
)

// CreateOptions tune a single CreateBackup call.
type CreateOptions struct {
	// ParentID pins the parent of an incremental or wal backup. Empty picks
	// the newest restorable record of the newest chain.
	ParentID string `json:"parent_id,omitempty"`

	// Verify re-reads the artifact after capture, in addition to the
	// configured default.
	Verify bool `json:"verify,omitempty"`

	// Upload ships the artifact to every provider, in addition to the
	// configured default.
	Upload bool `json:"upload,omitempty"`

	Trigger Trigger `json:"trigger,omitempty"`
}

// UploadResult reports a multi-provider upload.
type UploadResult struct {
	BackupID string `json:"backup_id"`

	// Status after the upload; uploaded only if every provider holds a copy.
	Status models.BackupStatus `json:"status"`

	// Uploaded maps each provider holding a copy to its remote key.
	Uploaded map[models.CloudProvider]string `json:"uploaded"`

	// Failed maps each failing provider to its error.
	Failed map[models.CloudProvider]string `json:"failed,omitempty"`
}

// RecoveryResult reports the startup reconciliation of interrupted work.
type RecoveryResult struct {
	// Failed lists records moved from in_progress to failed.
	Failed []string `json:"failed"`

	// RemovedFiles counts partial artifacts and stale work directories removed.
	RemovedFiles int `json:"removed_files"`
}

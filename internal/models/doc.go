// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
Package models defines the data structures shared by the backup subsystem.

Key Components:

  - BackupMetadata: one catalog record per artifact (full, incremental or wal)
  - BackupStatus: the record lifecycle, with Restorable and Terminal helpers
  - BackupStats: the catalog census served by the admin API
  - RestoreReport: what a restore replayed and wrote
  - Typed errors (CaptureError, ChainError, CorruptionError, TransportError,
    ...) that match the Err* sentinels through errors.Is

Status lifecycle (catalog.CanTransition enforces it):

	in_progress ──> complete ──> verified ──> uploaded ──> expired ──> deleted
	     │              └──────────────────────> uploaded
	     └──> failed ──> deleted

Any restorable status may also move straight to expired.

Chains:

A full backup roots a chain and its ChainID equals its own ID. Every
incremental or wal record names a ParentID inside the same chain and
inherits the ChainID, so a restore walks parents back to the root.

Usage Example:

	import "github.com/tomtom215/signalwatch/internal/models"

	if errors.Is(err, models.ErrChainBroken) {
	    // a parent is gone; take a new full backup
	}
	if models.IsRetriable(err) {
	    // transient provider failure
	}

Artifacts are named ArtifactName(id, type, compression), e.g.
"0b6f....incremental.zst", and live under RemoteKey(prefix, name) remotely.
*/
package models

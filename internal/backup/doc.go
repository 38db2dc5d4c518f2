// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package backup orchestrates backup and recovery of the Signalwatch
// database: capture, verification, off-site upload, restore, retention and
// scheduling over one catalog.
//
// # Overview
//
// Backups form chains. A full backup starts a chain; incremental and wal
// backups store a block delta against their parent. Restoring any record
// replays its chain from the full backup forward.
//
//	full ── incremental ── wal ── wal
//	   \
//	    └─ (next chain) full ── incremental
//
// # Architecture
//
//	Manager    - Orchestrates operations and holds per-chain locks
//	Scheduler  - Runs cron jobs (full, incremental, wal, retention, verify)
//	Config     - Settings mapped from the application config
//	ChainLocks - Serializes capture, restore and retention per chain
//
// The heavy lifting lives in sibling packages:
//
//	capture   - snapshots the source and writes artifacts
//	restore   - resolves chains and rebuilds images
//	retention - plans and enforces chain-level retention
//	transport - multi-provider uploads with retry and circuit breaking
//	catalog   - durable lifecycle records (SQLite, Postgres or Badger)
//
// # Usage
//
//	cfg, err := backup.ConfigFromApp(appCfg)
//	if err != nil {
//		return err
//	}
//	mgr, err := backup.NewManager(cfg, cat, src, tr)
//	if err != nil {
//		return err
//	}
//	if _, err := mgr.RecoverInterrupted(ctx); err != nil {
//		return err
//	}
//	rec, err := mgr.CreateBackup(ctx, models.BackupTypeFull, backup.CreateOptions{Verify: true})
//
// # Failure Semantics
//
// A capture that fails leaves a failed record and no artifact. A verification
// or upload failure after a successful capture returns the record alongside
// the error. Uploads to several providers fail independently; the record
// reaches uploaded only once every provider holds a copy.
package backup

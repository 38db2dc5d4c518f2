// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
Package main is the entry point for the Signalwatch backup daemon.

The daemon protects the Signalwatch database with full, incremental and WAL
backups, keeps a catalog of every artifact, ships artifacts to cloud object
stores and prunes old chains according to the retention policy.

# Application Architecture

The server runs its long-lived work under Suture v4 supervision:

	RootSupervisor ("signalwatch")
	├── MaintenanceSupervisor ("maintenance-layer")
	│   └── Backup Scheduler (cron jobs: full, incremental, wal, retention, verify)
	└── APISupervisor ("api-layer")
	    └── Admin HTTP Server (optional, server.enabled)

Startup order:

 1. Configuration: Koanf v2 with defaults, config file and environment
 2. Logging: zerolog with JSON/console output modes
 3. Catalog: SQLite, PostgreSQL or BadgerDB
 4. Source: the live SQLite or DuckDB database
 5. Transport: S3, GCS, Azure Blob and OSS providers
 6. Backup Manager, then recovery of work interrupted by a crash
 7. Supervisor Tree until SIGINT or SIGTERM

# Configuration

Configuration is read from config.yaml (CONFIG_PATH or the default paths) and
environment variables, which win:

	DATABASE_DRIVER=sqlite DATABASE_PATH=/data/signalwatch.db
	CATALOG_DRIVER=postgres CATALOG_DSN=postgres://...
	BACKUP_DIR=/data/backups BACKUP_COMPRESSION=zstd
	SCHEDULE_FULL="0 2 * * *" SCHEDULE_INCREMENTAL="0 * * * *"
	RETENTION_MAX_AGE_DAYS=30 RETENTION_MIN_KEEP=1
	HTTP_HOST=127.0.0.1 HTTP_PORT=3858 RESTORE_ROOT=/data/restore
	LOG_LEVEL=info LOG_FORMAT=json

Cloud providers are listed under transport.providers in the config file.
Their secrets come from CREDENTIAL_<ID>_<FIELD> variables, for example
CREDENTIAL_PRIMARY_SECRET_KEY for credential_id "primary".

# Signal Handling

On SIGINT or SIGTERM the scheduler stops taking new jobs and waits for the
running one, then the HTTP server drains in-flight requests. A backup that is
killed outright is marked failed at the next start.
*/
package main

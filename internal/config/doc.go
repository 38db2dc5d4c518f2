// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package config provides centralized configuration management for the backup
// subsystem.
//
// Configuration is layered with Koanf v2: built-in defaults, then an optional
// YAML file, then environment variables. The result is validated with struct
// tags (see package validation) and cross-field checks before use.
//
// # Configuration File
//
//	database:
//	  driver: sqlite
//	  path: /data/signalwatch.db
//	catalog:
//	  driver: sqlite            # sqlite, postgres or badger
//	  path: /data/backups/catalog.db
//	backup:
//	  dir: /data/backups
//	  compression: zstd
//	  verify_after_capture: true
//	retention:
//	  max_age_days: 30
//	  min_keep: 2
//	schedule:
//	  full: "0 2 * * *"
//	  wal: "*/15 * * * *"
//	transport:
//	  prefix: prod
//	  providers:
//	    - name: s3
//	      bucket: signalwatch-backups
//	      region: us-east-1
//	      credential_id: primary
//	credentials:
//	  primary:
//	    access_key: AKIA...
//	    secret_key: ...
//
// # Environment Variables
//
// Selected settings can be overridden without a file:
//
//   - DATABASE_DRIVER, DATABASE_PATH
//   - CATALOG_DRIVER, CATALOG_PATH, CATALOG_DSN
//   - BACKUP_DIR, BACKUP_COMPRESSION, BACKUP_BLOCK_SIZE
//   - RETENTION_MAX_AGE_DAYS, RETENTION_MAX_COUNT, RETENTION_MIN_KEEP
//   - SCHEDULE_FULL, SCHEDULE_INCREMENTAL, SCHEDULE_WAL, SCHEDULE_RETENTION
//   - TRANSPORT_PREFIX, TRANSPORT_MAX_ATTEMPTS, TRANSPORT_CALL_TIMEOUT
//   - HTTP_HOST, HTTP_PORT, RESTORE_ROOT, LOG_LEVEL, LOG_FORMAT
//
// Secrets for a credential id are set with CREDENTIAL_<ID>_<FIELD>, for example
// CREDENTIAL_PRIMARY_SECRET_KEY. Providers themselves are only configurable in
// the file.
//
// # Credentials
//
// Credentials are referenced from providers by id and resolved when the
// transport is built. They are never written to the catalog or logged.
package config

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
Package metrics provides Prometheus metrics for the backup subsystem.

All collectors are registered with the default registry through promauto and
exposed by the admin server at /metrics:

	curl http://localhost:8088/metrics

# Available Metrics

Capture:
  - backup_captures_total{type, result}
  - backup_capture_duration_seconds{type}
  - backup_artifact_bytes{type, compression}
  - backup_last_success_timestamp_seconds{type}

Transport:
  - backup_transport_attempts_total{provider, operation, result}
  - backup_transport_duration_seconds{provider, operation}
  - backup_transport_bytes_total{provider, direction}
  - circuit_breaker_state{name}, circuit_breaker_requests_total{name, result},
    circuit_breaker_transitions_total{name, from, to}

Restore and retention:
  - backup_restores_total{result}, backup_restore_duration_seconds
  - backup_retention_runs_total{result}, backup_retention_deleted_total{type},
    backup_retention_warnings_total

Catalog:
  - backup_catalog_records{status}, backup_catalog_bytes

HTTP:
  - http_requests_total{method, endpoint, status}
  - http_request_duration_seconds{method, endpoint}
  - http_requests_in_flight, http_rate_limit_hits_total{endpoint}

# Usage

Components call the Record* helpers rather than touching collectors directly:

	start := time.Now()
	rec, err := engine.Capture(ctx, models.BackupTypeFull, "")
	metrics.RecordCapture("full", "zstd", time.Since(start), rec.SizeBytes, err)

# Thread Safety

Prometheus collectors are safe for concurrent use.
*/
package metrics

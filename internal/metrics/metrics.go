// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values shared by the backup metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultRetry   = "retry"
)

var (
	// Capture Metrics
	BackupCaptureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backup_capture_duration_seconds",
			Help:    "Duration of backup captures in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"type"},
	)

	BackupCapturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_captures_total",
			Help: "Total number of backup captures by type and result",
		},
		[]string{"type", "result"},
	)

	BackupArtifactBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backup_artifact_bytes",
			Help:    "Size of backup artifacts after compression",
			Buckets: prometheus.ExponentialBuckets(4096, 4, 12), // 4KiB .. 16GiB
		},
		[]string{"type", "compression"},
	)

	BackupLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backup_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful capture by type",
		},
		[]string{"type"},
	)

	// Verification Metrics
	BackupVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_verifications_total",
			Help: "Total number of checksum verifications by result",
		},
		[]string{"result"},
	)

	// Transport Metrics
	TransportAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_transport_attempts_total",
			Help: "Total number of cloud transport calls by provider, operation and result",
		},
		[]string{"provider", "operation", "result"},
	)

	TransportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backup_transport_duration_seconds",
			Help:    "Duration of individual cloud transport calls",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"provider", "operation"},
	)

	TransportBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_transport_bytes_total",
			Help: "Total bytes uploaded or downloaded by provider",
		},
		[]string{"provider", "direction"},
	)

	// Restore Metrics
	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_restores_total",
			Help: "Total number of restores by result",
		},
		[]string{"result"},
	)

	RestoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backup_restore_duration_seconds",
			Help:    "Duration of restores in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	// Retention Metrics
	RetentionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_retention_runs_total",
			Help: "Total number of retention runs by result",
		},
		[]string{"result"},
	)

	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_retention_deleted_total",
			Help: "Total number of backups deleted by retention, by type",
		},
		[]string{"type"},
	)

	RetentionWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backup_retention_warnings_total",
			Help: "Total number of non-fatal retention failures (remote or local delete)",
		},
	)

	// Catalog Metrics
	CatalogRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backup_catalog_records",
			Help: "Number of catalog records by status",
		},
		[]string{"status"},
	)

	CatalogBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backup_catalog_bytes",
			Help: "Total artifact bytes held by restorable backups",
		},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiting",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Application Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "signalwatch_info",
			Help: "Application build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalwatch_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordCapture records one capture attempt.
func RecordCapture(backupType, compression string, duration time.Duration, size int64, err error) {
	BackupCapturesTotal.WithLabelValues(backupType, resultLabel(err)).Inc()
	BackupCaptureDuration.WithLabelValues(backupType).Observe(duration.Seconds())
	if err == nil {
		BackupArtifactBytes.WithLabelValues(backupType, compression).Observe(float64(size))
		BackupLastSuccess.WithLabelValues(backupType).Set(float64(time.Now().Unix()))
	}
}

// RecordVerification records a checksum verification.
func RecordVerification(err error) {
	BackupVerificationsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordTransportCall records a single provider call. result is one of the
// Result* constants.
func RecordTransportCall(provider, operation, result string, duration time.Duration) {
	TransportAttemptsTotal.WithLabelValues(provider, operation, result).Inc()
	TransportDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordTransportBytes adds transferred bytes; direction is "upload" or "download".
func RecordTransportBytes(provider, direction string, n int64) {
	if n > 0 {
		TransportBytesTotal.WithLabelValues(provider, direction).Add(float64(n))
	}
}

// RecordRestore records a restore attempt.
func RecordRestore(duration time.Duration, err error) {
	RestoresTotal.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		RestoreDuration.Observe(duration.Seconds())
	}
}

// RecordRetention records one retention run.
func RecordRetention(deletedByType map[string]int, warnings int, err error) {
	RetentionRunsTotal.WithLabelValues(resultLabel(err)).Inc()
	for typ, n := range deletedByType {
		RetentionDeletedTotal.WithLabelValues(typ).Add(float64(n))
	}
	if warnings > 0 {
		RetentionWarningsTotal.Add(float64(warnings))
	}
}

// UpdateCatalogGauges replaces the catalog gauges with a fresh census.
func UpdateCatalogGauges(byStatus map[string]int, restorableBytes int64) {
	CatalogRecords.Reset()
	for status, n := range byStatus {
		CatalogRecords.WithLabelValues(status).Set(float64(n))
	}
	CatalogBytes.Set(float64(restorableBytes))
}

// RecordAPIRequest records API request metrics.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements active request counter.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCapture(t *testing.T) {
	tests := []struct {
		name       string
		backupType string
		err        error
		result     string
	}{
		{"successful full", "full", nil, ResultSuccess},
		{"failed incremental", "incremental", errors.New("snapshot failed"), ResultFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(BackupCapturesTotal.WithLabelValues(tt.backupType, tt.result))
			RecordCapture(tt.backupType, "zstd", 2*time.Second, 4096, tt.err)
			after := testutil.ToFloat64(BackupCapturesTotal.WithLabelValues(tt.backupType, tt.result))
			if after != before+1 {
				t.Errorf("backup_captures_total{%s,%s} = %v, want %v", tt.backupType, tt.result, after, before+1)
			}
		})
	}

	if ts := testutil.ToFloat64(BackupLastSuccess.WithLabelValues("full")); ts == 0 {
		t.Error("last success timestamp not set after a successful capture")
	}
}

func TestRecordTransportCall(t *testing.T) {
	before := testutil.ToFloat64(TransportAttemptsTotal.WithLabelValues("s3", "put", ResultRetry))
	RecordTransportCall("s3", "put", ResultRetry, 150*time.Millisecond)
	RecordTransportCall("s3", "put", ResultRetry, 150*time.Millisecond)
	after := testutil.ToFloat64(TransportAttemptsTotal.WithLabelValues("s3", "put", ResultRetry))
	if after != before+2 {
		t.Errorf("transport attempts = %v, want %v", after, before+2)
	}

	bytesBefore := testutil.ToFloat64(TransportBytesTotal.WithLabelValues("gcs", "upload"))
	RecordTransportBytes("gcs", "upload", 1024)
	RecordTransportBytes("gcs", "upload", 0)
	if got := testutil.ToFloat64(TransportBytesTotal.WithLabelValues("gcs", "upload")); got != bytesBefore+1024 {
		t.Errorf("transport bytes = %v, want %v", got, bytesBefore+1024)
	}
}

func TestRecordRetention(t *testing.T) {
	fullBefore := testutil.ToFloat64(RetentionDeletedTotal.WithLabelValues("full"))
	incBefore := testutil.ToFloat64(RetentionDeletedTotal.WithLabelValues("incremental"))
	warnBefore := testutil.ToFloat64(RetentionWarningsTotal)

	RecordRetention(map[string]int{"full": 1, "incremental": 3}, 2, nil)

	if got := testutil.ToFloat64(RetentionDeletedTotal.WithLabelValues("full")); got != fullBefore+1 {
		t.Errorf("deleted full = %v, want %v", got, fullBefore+1)
	}
	if got := testutil.ToFloat64(RetentionDeletedTotal.WithLabelValues("incremental")); got != incBefore+3 {
		t.Errorf("deleted incremental = %v, want %v", got, incBefore+3)
	}
	if got := testutil.ToFloat64(RetentionWarningsTotal); got != warnBefore+2 {
		t.Errorf("warnings = %v, want %v", got, warnBefore+2)
	}
}

func TestUpdateCatalogGauges(t *testing.T) {
	UpdateCatalogGauges(map[string]int{"complete": 3, "failed": 1}, 12345)
	UpdateCatalogGauges(map[string]int{"complete": 2}, 100)

	if got := testutil.ToFloat64(CatalogRecords.WithLabelValues("complete")); got != 2 {
		t.Errorf("complete records = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(CatalogRecords); got != 1 {
		t.Errorf("status series = %d, want stale series reset to 1", got)
	}
	if got := testutil.ToFloat64(CatalogBytes); got != 100 {
		t.Errorf("catalog bytes = %v, want 100", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/backups", "200"))
	RecordAPIRequest("GET", "/api/v1/backups", 200, 5*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/backups", "200")); got != before+1 {
		t.Errorf("api requests = %v, want %v", got, before+1)
	}

	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got < 1 {
		t.Errorf("active requests = %v, want >= 1", got)
	}
	TrackActiveRequest(false)
}

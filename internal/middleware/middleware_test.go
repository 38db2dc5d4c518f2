// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
	}{
		{"generates id", ""},
		{"keeps upstream id", "proxy-1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if got != seen {
				t.Errorf("header id %q != context id %q", got, seen)
			}
			if tt.incoming != "" && got != tt.incoming {
				t.Errorf("id = %q, want %q", got, tt.incoming)
			}
			if tt.incoming == "" {
				if _, err := uuid.Parse(got); err != nil {
					t.Errorf("generated id %q is not a UUID: %v", got, err)
				}
			}
		})
	}
}

func TestPrometheusMetricsPassesStatus(t *testing.T) {
	t.Parallel()

	codes := []int{http.StatusOK, http.StatusCreated, http.StatusNotFound, http.StatusInternalServerError}
	for _, code := range codes {
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()
			r := chi.NewRouter()
			r.Use(PrometheusMetrics)
			r.Use(AccessLog)
			r.Get("/api/v1/backups/{id}", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
			})

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/backups/abc", nil))
			if rec.Code != code {
				t.Errorf("status = %d, want %d", rec.Code, code)
			}
		})
	}
}

func TestStatusWriter(t *testing.T) {
	t.Parallel()

	t.Run("defaults to 200 on write", func(t *testing.T) {
		t.Parallel()
		sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		if _, err := sw.Write([]byte("ok")); err != nil {
			t.Fatal(err)
		}
		if sw.status != http.StatusOK {
			t.Errorf("status = %d, want 200", sw.status)
		}
	})

	t.Run("keeps first status", func(t *testing.T) {
		t.Parallel()
		sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		sw.WriteHeader(http.StatusConflict)
		sw.WriteHeader(http.StatusInternalServerError)
		if sw.status != http.StatusConflict {
			t.Errorf("status = %d, want 409", sw.status)
		}
	})
}

func TestRoutePatternUnmatched(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := routePattern(req); got != "unmatched" {
		t.Errorf("routePattern() = %q, want unmatched", got)
	}
}

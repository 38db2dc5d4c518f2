// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
Package middleware provides HTTP middleware for the admin API.

Key Components:

  - RequestID: UUID request ids propagated into the logging context
  - PrometheusMetrics: request counts, latency and in-flight gauge
  - AccessLog: one structured line per request

All middleware uses the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(middleware.PrometheusMetrics)

Metrics are labeled with the chi route pattern (for example
/api/v1/backups/{id}) rather than the raw path, so ids never become labels.
*/
package middleware

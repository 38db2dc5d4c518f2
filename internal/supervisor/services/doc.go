// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
Package services adapts Signalwatch components to suture v4 supervision.

Each wrapper translates a component lifecycle into suture's Serve pattern:

	type Service interface {
	    Serve(ctx context.Context) error
	}

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server running the admin API
  - Converts ListenAndServe into Serve with graceful Shutdown

Backup Scheduler (SchedulerService):
  - Wraps backup.Scheduler with its Start/Stop lifecycle
  - Waits for in-flight jobs on shutdown, bounded by a timeout

Every wrapper implements fmt.Stringer so supervisor events name it.
*/
package services

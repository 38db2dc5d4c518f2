// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
Package supervisor provides process supervision for the Signalwatch backup
daemon using suture v4.

# Overview

Long-running services are grouped into two layers so a failing job runner
never takes the admin API down with it:

	RootSupervisor ("signalwatch")
	├── MaintenanceSupervisor ("maintenance-layer")
	│   └── SchedulerService (backup cron jobs)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (admin API, if server.enabled)

Crashed services restart with backoff. Each layer counts failures on its own.

# Usage

	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddMaintenanceService(services.NewSchedulerService(scheduler))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	return tree.Serve(ctx)

Events are logged through log/slog via sutureslog.
*/
package supervisor

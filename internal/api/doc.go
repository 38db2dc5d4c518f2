// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
Package api provides the admin HTTP API of the Signalwatch backup daemon.

Endpoints:

	GET  /healthz                        liveness and catalog reachability
	GET  /metrics                        Prometheus exposition
	GET  /api/v1/backups                 list (type, status, chain_id, limit, offset)
	POST /api/v1/backups                 create {type, parent_id, verify, upload}
	GET  /api/v1/backups/stats           catalog census
	GET  /api/v1/backups/{id}            one record
	POST /api/v1/backups/{id}/verify     re-digest the artifact
	POST /api/v1/backups/{id}/upload     ship to every provider
	POST /api/v1/backups/{id}/restore    restore {target_path, overwrite, verify_database}
	GET  /api/v1/retention/preview       what enforcement would delete now
	POST /api/v1/retention/enforce       apply the configured policy
	GET  /api/v1/schedule                registered cron jobs

Responses use the APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}}

Domain errors map to statuses in writeDomainError: not found is 404, chain,
transition and target conflicts are 409, policy errors are 400 and checksum
mismatches are 422. Anything else is 500.

The API has no authentication of its own and binds to localhost by default.
Restore targets are confined to server.restore_root; a target_path that
leaves it, directly or through a symlink, is refused with 403.
*/
package api

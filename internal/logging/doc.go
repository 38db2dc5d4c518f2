// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package logging provides centralized zerolog-based structured logging.
//
// The global logger is configured once with Init and used through the level
// helpers (Info, Warn, ...) or, inside operations, through Ctx(ctx), which
// attaches the correlation_id, request_id and operation carried by the
// context.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json", Timestamp: true})
//
//	ctx = logging.ContextWithNewCorrelationID(ctx)
//	ctx = logging.ContextWithOperation(ctx, "create_backup")
//	logging.Ctx(ctx).Info().
//	    Str("backup_id", meta.ID).
//	    Str("chain_id", meta.ChainID).
//	    Str("type", string(meta.Type)).
//	    Msg("Backup captured")
//
// # Field Names
//
// Backup components use these keys so log queries work across packages:
// backup_id, chain_id, parent_id, type, provider, key, step, status.
//
// # Secrets
//
// Credentials and DSNs pass through SanitizeSecret, SanitizeDSN or
// SanitizeValue before they are logged.
//
// # slog
//
// SlogHandler adapts zerolog to log/slog for sutureslog.
//
// Always terminate log chains with .Msg() or .Send(); an unterminated event
// is never written.
package logging

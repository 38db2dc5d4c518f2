// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/signalwatch/config.yaml",
	"/etc/signalwatch/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// credentialEnvPrefix introduces per-credential variables:
// CREDENTIAL_<ID>_<FIELD>, e.g. CREDENTIAL_PRIMARY_SECRET_KEY.
const credentialEnvPrefix = "credential_"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "/data/signalwatch.db",
		},
		Catalog: CatalogConfig{
			Driver: CatalogSQLite,
			Path:   "/data/backups/catalog.db",
		},
		Backup: BackupConfig{
			Dir:                "/data/backups",
			Compression:        "zstd",
			CompressionLevel:   0, // codec default
			BlockSize:          4096,
			VerifyAfterCapture: true,
			UploadAfterCapture: false,
			BaselineCache:      true,
		},
		Retention: RetentionConfig{
			MaxAgeDays: 30,
			MinKeep:    1,
		},
		Schedule: ScheduleConfig{
			Full:      "0 2 * * *",
			Retention: "30 3 * * *",
		},
		Transport: TransportConfig{
			Prefix:          "signalwatch",
			MaxAttempts:     5,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      30 * time.Second,
			CallTimeout:     10 * time.Minute,
			Concurrency:     2,
			BreakerFailures: 5,
			BreakerTimeout:  time.Minute,
		},
		Server: ServerConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              3858,
			Timeout:           30 * time.Second,
			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
			RestoreRoot:       "/data/restore",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: path if non-empty, otherwise CONFIG_PATH or the default paths
//  3. Environment Variables: Override any mapped setting
//
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional unless named explicitly)
	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Live database
	"database_driver": "database.driver",
	"database_path":   "database.path",

	// Catalog
	"catalog_driver": "catalog.driver",
	"catalog_path":   "catalog.path",
	"catalog_dsn":    "catalog.dsn",

	// Local artifacts
	"backup_dir":                  "backup.dir",
	"backup_work_dir":             "backup.work_dir",
	"backup_compression":          "backup.compression",
	"backup_compression_level":    "backup.compression_level",
	"backup_block_size":           "backup.block_size",
	"backup_verify_after_capture": "backup.verify_after_capture",
	"backup_upload_after_capture": "backup.upload_after_capture",
	"backup_baseline_cache":       "backup.baseline_cache",

	// Retention
	"retention_max_age_days": "retention.max_age_days",
	"retention_max_count":    "retention.max_count",
	"retention_min_keep":     "retention.min_keep",

	// Schedules
	"schedule_full":        "schedule.full",
	"schedule_incremental": "schedule.incremental",
	"schedule_wal":         "schedule.wal",
	"schedule_retention":   "schedule.retention",
	"schedule_verify":      "schedule.verify",

	// Transport
	"transport_prefix":               "transport.prefix",
	"transport_max_attempts":         "transport.max_attempts",
	"transport_initial_backoff":      "transport.initial_backoff",
	"transport_max_backoff":          "transport.max_backoff",
	"transport_call_timeout":         "transport.call_timeout",
	"transport_concurrency":          "transport.concurrency",
	"transport_upload_bytes_per_sec": "transport.upload_bytes_per_sec",
	"transport_breaker_failures":     "transport.breaker_failures",
	"transport_breaker_timeout":      "transport.breaker_timeout",

	// Admin server
	"http_enabled":        "server.enabled",
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",
	"restore_root":        "server.restore_root",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// credentialFields are the recognised CREDENTIAL_<ID>_<FIELD> suffixes.
var credentialFields = []string{
	"access_key",
	"secret_key",
	"session_token",
	"service_account_file",
	"connection_string",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DATABASE_PATH -> database.path
//   - BACKUP_COMPRESSION -> backup.compression
//   - LOG_LEVEL -> logging.level
//   - CREDENTIAL_PRIMARY_SECRET_KEY -> credentials.primary.secret_key
//
// Unmapped variables return "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	if rest, ok := strings.CutPrefix(key, credentialEnvPrefix); ok {
		for _, field := range credentialFields {
			id, found := strings.CutSuffix(rest, "_"+field)
			if found && id != "" {
				return "credentials." + id + "." + field
			}
		}
	}

	return ""
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package config

import (
	"path/filepath"
	"time"
)

// Config holds the backup subsystem configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in defaults for every optional setting
//  2. Config File: Optional YAML file (config.yaml or CONFIG_PATH)
//  3. Environment Variables: Override individual settings
//
// Configuration Categories:
//
//  1. Data plane:
//     - Database: the live database that is captured
//     - Backup: local artifact storage and capture options
//
//  2. Control plane:
//     - Catalog: where backup metadata lives (separate from the data plane)
//     - Retention: pruning policy
//     - Schedule: cron expressions for periodic jobs
//
//  3. Off-site:
//     - Transport: retry, timeout and provider list
//     - Credentials: secrets referenced by provider credential_id
//
//  4. Operations:
//     - Server: admin HTTP surface
//     - Logging: log level and format
//
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Database    DatabaseConfig              `koanf:"database"`
	Catalog     CatalogConfig               `koanf:"catalog"`
	Backup      BackupConfig                `koanf:"backup"`
	Retention   RetentionConfig             `koanf:"retention"`
	Schedule    ScheduleConfig              `koanf:"schedule"`
	Transport   TransportConfig             `koanf:"transport"`
	Credentials map[string]CredentialConfig `koanf:"credentials"`
	Server      ServerConfig                `koanf:"server"`
	Logging     LoggingConfig               `koanf:"logging"`
}

// DatabaseConfig identifies the live database to capture.
type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"required,oneof=sqlite duckdb"`
	Path   string `koanf:"path" validate:"required"`
}

// Catalog drivers.
const (
	CatalogSQLite   = "sqlite"
	CatalogPostgres = "postgres"
	CatalogBadger   = "badger"
)

// CatalogConfig selects the catalog store. Path is used by sqlite (a file)
// and badger (a directory); DSN by postgres.
type CatalogConfig struct {
	Driver string `koanf:"driver" validate:"required,oneof=sqlite postgres badger"`
	Path   string `koanf:"path"`
	DSN    string `koanf:"dsn"`
}

// BackupConfig controls local artifact storage and capture behaviour.
type BackupConfig struct {
	Dir                string `koanf:"dir" validate:"required"`
	WorkDir            string `koanf:"work_dir"` // defaults to {dir}/.work
	Compression        string `koanf:"compression" validate:"oneof=none gzip zstd"`
	CompressionLevel   int    `koanf:"compression_level" validate:"gte=-2,lte=22"`
	BlockSize          int    `koanf:"block_size" validate:"gte=512,lte=16777216"`
	VerifyAfterCapture bool   `koanf:"verify_after_capture"`
	UploadAfterCapture bool   `koanf:"upload_after_capture"`
	BaselineCache      bool   `koanf:"baseline_cache"`
}

// EffectiveWorkDir returns WorkDir or the default beneath Dir.
func (b BackupConfig) EffectiveWorkDir() string {
	if b.WorkDir != "" {
		return b.WorkDir
	}
	return filepath.Join(b.Dir, ".work")
}

// RetentionConfig is the configured pruning policy. Zero MaxAgeDays disables
// the age limit; an absent max_count disables the count limit.
type RetentionConfig struct {
	MaxAgeDays int  `koanf:"max_age_days" validate:"gte=0"`
	MaxCount   *int `koanf:"max_count" validate:"omitempty,gte=0"`
	MinKeep    int  `koanf:"min_keep" validate:"gte=0"`
}

// ScheduleConfig holds standard five-field cron expressions. An empty entry
// disables that job.
type ScheduleConfig struct {
	Full        string `koanf:"full" validate:"omitempty,cron"`
	Incremental string `koanf:"incremental" validate:"omitempty,cron"`
	WAL         string `koanf:"wal" validate:"omitempty,cron"`
	Retention   string `koanf:"retention" validate:"omitempty,cron"`
	Verify      string `koanf:"verify" validate:"omitempty,cron"`
}

// TransportConfig tunes cloud transfers.
type TransportConfig struct {
	Prefix            string           `koanf:"prefix"`
	MaxAttempts       int              `koanf:"max_attempts" validate:"gte=1,lte=20"`
	InitialBackoff    time.Duration    `koanf:"initial_backoff"`
	MaxBackoff        time.Duration    `koanf:"max_backoff"`
	CallTimeout       time.Duration    `koanf:"call_timeout"`
	Concurrency       int              `koanf:"concurrency" validate:"gte=1"`
	UploadBytesPerSec int64            `koanf:"upload_bytes_per_sec" validate:"gte=0"`
	BreakerFailures   uint32           `koanf:"breaker_failures"`
	BreakerTimeout    time.Duration    `koanf:"breaker_timeout"`
	Providers         []ProviderConfig `koanf:"providers" validate:"dive"`
}

// ProviderConfig is one object store destination.
type ProviderConfig struct {
	Name         string `koanf:"name" validate:"required,oneof=s3 gcs azure oss"`
	Bucket       string `koanf:"bucket" validate:"required"`
	Region       string `koanf:"region"`
	Endpoint     string `koanf:"endpoint" validate:"omitempty,url"`
	CredentialID string `koanf:"credential_id"`
	PathStyle    bool   `koanf:"path_style"`
}

// CredentialConfig holds provider secrets. Which fields apply depends on
// the provider: access/secret keys for s3 and oss (account name and key for
// azure), a service account file for gcs, a connection string for azure.
type CredentialConfig struct {
	AccessKey          string `koanf:"access_key"`
	SecretKey          string `koanf:"secret_key"`
	SessionToken       string `koanf:"session_token"`
	ServiceAccountFile string `koanf:"service_account_file"`
	ConnectionString   string `koanf:"connection_string"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout           time.Duration `koanf:"timeout"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	// RestoreRoot confines admin API restore targets. Empty disables
	// restore over the API; the CLI is unaffected.
	RestoreRoot string `koanf:"restore_root"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

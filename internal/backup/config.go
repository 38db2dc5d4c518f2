// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package backup

import (
	"fmt"
	"path/filepath"

	"github.com/tomtom215/signalwatch/internal/capture"
	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/models"
	"github.com/tomtom215/signalwatch/internal/retention"
)

// Config holds everything the manager needs from the application config.
type Config struct {
	// Directory holding artifacts
	BackupDir string

	// Scratch space for snapshots, baselines and downloads
	WorkDir string

	// Database driver of the protected database (sqlite or duckdb)
	DatabaseDriver string

	// Codec and level applied to new artifacts
	Compression      models.CompressionType
	CompressionLevel int

	// Delta granularity in bytes
	BlockSize int

	// Keep the newest image of each chain for the next delta
	BaselineCache bool

	// Verify the checksum of every new artifact
	VerifyAfterCapture bool

	// Upload every new artifact to all providers
	UploadAfterCapture bool

	// Parallel provider uploads per artifact
	UploadConcurrency int

	// Retention policy applied by EnforceRetention
	Retention retention.Policy

	// Cron schedules, see Scheduler
	Schedule config.ScheduleConfig
}

// ConfigFromApp maps the application configuration.
func ConfigFromApp(cfg *config.Config) (*Config, error) {
	ct, err := models.ParseCompressionType(cfg.Backup.Compression)
	if err != nil {
		return nil, fmt.Errorf("backup compression: %w", err)
	}
	return &Config{
		BackupDir:          cfg.Backup.Dir,
		WorkDir:            cfg.Backup.EffectiveWorkDir(),
		DatabaseDriver:     cfg.Database.Driver,
		Compression:        ct,
		CompressionLevel:   cfg.Backup.CompressionLevel,
		BlockSize:          cfg.Backup.BlockSize,
		BaselineCache:      cfg.Backup.BaselineCache,
		VerifyAfterCapture: cfg.Backup.VerifyAfterCapture,
		UploadAfterCapture: cfg.Backup.UploadAfterCapture,
		UploadConcurrency:  cfg.Transport.Concurrency,
		Retention:          retention.FromConfig(cfg.Retention),
		Schedule:           cfg.Schedule,
	}, nil
}

// workDir mirrors the capture engine default.
func (c *Config) workDir() string {
	if c.WorkDir == "" {
		return filepath.Join(c.BackupDir, ".work")
	}
	return c.WorkDir
}

func (c *Config) captureConfig() capture.Config {
	return capture.Config{
		BackupDir:        c.BackupDir,
		WorkDir:          c.workDir(),
		Compression:      c.Compression,
		CompressionLevel: c.CompressionLevel,
		BlockSize:        c.BlockSize,
		BaselineCache:    c.BaselineCache,
	}
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/signalwatch/internal/logging"
)

// BackupScheduler matches the lifecycle of *backup.Scheduler.
type BackupScheduler interface {
	Start()
	Stop(ctx context.Context) error
}

// SchedulerService runs the backup scheduler under supervision.
//
//	scheduler, err := backup.NewScheduler(manager, cfg.Schedule)
//	tree.AddMaintenanceService(services.NewSchedulerService(scheduler, time.Minute))
type SchedulerService struct {
	scheduler   BackupScheduler
	stopTimeout time.Duration
	name        string
}

// NewSchedulerService wraps scheduler. stopTimeout bounds the wait for
// in-flight jobs at shutdown; a non-positive value means 30s.
func NewSchedulerService(scheduler BackupScheduler, stopTimeout time.Duration) *SchedulerService {
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &SchedulerService{
		scheduler:   scheduler,
		stopTimeout: stopTimeout,
		name:        "backup-scheduler",
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	s.scheduler.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := s.scheduler.Stop(stopCtx); err != nil {
		logging.Warn().Err(err).Dur("timeout", s.stopTimeout).Msg("Backup jobs still running at shutdown")
		return fmt.Errorf("backup scheduler stop: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor events.
func (s *SchedulerService) String() string {
	return s.name
}

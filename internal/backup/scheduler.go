// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

/*
scheduler.go - Backup Scheduling

This file runs the periodic jobs of the backup subsystem on cron schedules.

Jobs:
  - full, incremental, wal: CreateBackup with TriggerScheduled
  - retention: EnforceRetention
  - verify: VerifyBackup for every complete record not yet verified

Overlap:
A job that is still running when its next tick fires skips that tick.
Jobs of different kinds may overlap; chain locks serialize what matters.

Integration:
The server binary wraps the scheduler in services.SchedulerService and adds
it to the maintenance layer of the supervisor tree.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/models"
)

// Job names.
const (
	JobFull        = "full"
	JobIncremental = "incremental"
	JobWAL         = "wal"
	JobRetention   = "retention"
	JobVerify      = "verify"
)

// JobInfo describes one scheduled job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Scheduler runs backup jobs on cron expressions.
type Scheduler struct {
	manager   *Manager
	cron      *cron.Cron
	entries   map[string]cron.EntryID
	schedules map[string]string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler registers a job for every non-empty expression in schedule.
func NewScheduler(m *Manager, schedule config.ScheduleConfig) (*Scheduler, error) {
	log := cronLogger{logger: logging.WithComponent("scheduler")}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		manager: m,
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		entries:   make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		ctx:       ctx,
		cancel:    cancel,
	}

	jobs := []struct {
		name string
		expr string
	}{
		{JobFull, schedule.Full},
		{JobIncremental, schedule.Incremental},
		{JobWAL, schedule.WAL},
		{JobRetention, schedule.Retention},
		{JobVerify, schedule.Verify},
	}
	for _, j := range jobs {
		if j.expr == "" {
			continue
		}
		name := j.name
		id, err := s.cron.AddFunc(j.expr, func() {
			if err := s.RunJob(s.ctx, name); err != nil {
				logging.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
			}
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s %q: %w", name, j.expr, err)
		}
		s.entries[name] = id
		s.schedules[name] = j.expr
	}
	return s, nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	logging.Info().Int("jobs", len(s.entries)).Msg("Backup scheduler started")
}

// Stop halts the scheduler, cancels running jobs and waits for them to
// return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists registered jobs sorted by name.
func (s *Scheduler) Entries() []JobInfo {
	out := make([]JobInfo, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, JobInfo{
			Name:     name,
			Schedule: s.schedules[name],
			Next:     e.Next,
			Prev:     e.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunJob runs a job once, synchronously.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	log := logging.Ctx(ctx).With().Str("job", name).Logger()
	opts := CreateOptions{Trigger: TriggerScheduled}

	switch name {
	case JobFull, JobIncremental, JobWAL:
		rec, err := s.manager.CreateBackup(ctx, models.BackupType(name), opts)
		if errors.Is(err, models.ErrChain) {
			log.Warn().Err(err).Msg("Skipping scheduled backup until a full backup exists")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info().Str("backup_id", rec.ID).Msg("Scheduled backup completed")
		return nil

	case JobRetention:
		res, err := s.manager.EnforceRetention(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("deleted", len(res.Deleted)).Int("warnings", len(res.Warnings)).Msg("Retention applied")
		return nil

	case JobVerify:
		return s.verifyPending(ctx, log)
	}
	return fmt.Errorf("unknown job %q", name)
}

// verifyPending verifies every complete record. One corrupt artifact does
// not stop the rest.
func (s *Scheduler) verifyPending(ctx context.Context, log zerolog.Logger) error {
	records, err := s.manager.ListBackups(ctx, catalog.Filter{Statuses: []models.BackupStatus{models.StatusComplete}})
	if err != nil {
		return err
	}
	var errs []error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.manager.VerifyBackup(ctx, rec.ID); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info().Int("checked", len(records)).Int("failed", len(errs)).Msg("Scheduled verification finished")
	return errors.Join(errs...)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

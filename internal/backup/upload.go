// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/models"
)

// UploadBackup ships the artifact of id to every configured provider that
// does not already hold a copy. The record moves to uploaded only once every
// provider succeeded; partial success keeps the status and records each
// successful location.
//
// The chain lock is held for the whole upload, so retention cannot expire
// the chain while objects are in flight.
func (m *Manager) UploadBackup(ctx context.Context, id string) (*UploadResult, error) {
	return m.upload(operationContext(ctx, OpUpload), id)
}

func (m *Manager) upload(ctx context.Context, id string) (*UploadResult, error) {
	if m.transport == nil || len(m.transport.Providers()) == 0 {
		return nil, ErrNoProviders
	}
	rec, err := m.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(rec.ChainID)
	defer unlock()

	// Retention may have taken the chain while the lock was awaited.
	if rec, err = m.catalog.Get(ctx, id); err != nil {
		return nil, err
	}
	if !rec.Status.Restorable() {
		return nil, &models.TransitionError{ID: rec.ID, From: rec.Status, To: models.StatusUploaded}
	}
	if rec.LocalPath == "" {
		return nil, fmt.Errorf("backup %s has no local artifact to upload", rec.ID)
	}

	result := &UploadResult{
		BackupID: rec.ID,
		Uploaded: make(map[models.CloudProvider]string),
		Failed:   make(map[models.CloudProvider]string),
	}
	key := m.transport.Key(rec.ArtifactName())

	var (
		mu       sync.Mutex
		pending  []models.CloudProvider
		failures = make(map[models.CloudProvider]error)
	)
	for _, p := range m.transport.Providers() {
		if existing, ok := rec.RemoteLocations[p]; ok {
			result.Uploaded[p] = existing
			continue
		}
		pending = append(pending, p)
	}

	// Providers fail independently; one failure must not cancel the others.
	var g errgroup.Group
	g.SetLimit(m.cfg.UploadConcurrency)
	for _, p := range pending {
		g.Go(func() error {
			remoteKey, err := m.transport.Upload(ctx, rec.LocalPath, p, key, rec.Checksum)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[p] = err.Error()
				failures[p] = err
				return err
			}
			result.Uploaded[p] = remoteKey
			return nil
		})
	}
	_ = g.Wait() // failures are collected per provider

	// Persist what succeeded even if the caller gave up meanwhile.
	persistCtx := context.WithoutCancel(ctx)
	log := logging.Ctx(ctx).With().Str("backup_id", rec.ID).Logger()
	for _, p := range pending {
		remoteKey, ok := result.Uploaded[p]
		if !ok {
			continue
		}
		if err := m.catalog.AddRemoteLocation(persistCtx, rec.ID, p, remoteKey); err != nil {
			// An unrecorded object would never be cleaned up by retention.
			if derr := m.transport.Delete(persistCtx, remoteKey, p); derr != nil {
				log.Warn().Err(derr).Str("provider", string(p)).Str("key", remoteKey).Msg("Failed to remove unrecorded remote copy")
			}
			return result, err
		}
		log.Debug().Str("provider", string(p)).Str("key", remoteKey).Msg("Remote copy recorded")
	}

	if len(result.Failed) == 0 {
		last := m.transport.Providers()
		p := last[len(last)-1]
		if err := m.catalog.RecordUploaded(persistCtx, rec.ID, p, result.Uploaded[p]); err != nil {
			return result, err
		}
	}

	if fresh, err := m.catalog.Get(persistCtx, rec.ID); err == nil {
		result.Status = fresh.Status
	}
	if len(result.Failed) == 0 {
		log.Info().Int("providers", len(result.Uploaded)).Msg("Backup uploaded")
		return result, nil
	}

	errs := make([]error, 0, len(result.Failed))
	for _, p := range pending {
		if err, ok := failures[p]; ok {
			errs = append(errs, err)
		}
	}
	err = errors.Join(errs...)
	log.Warn().Err(err).Int("failed", len(result.Failed)).Msg("Upload incomplete")
	return result, fmt.Errorf("upload %s: %w", rec.ID, err)
}

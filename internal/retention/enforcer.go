// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/metrics"
	"github.com/tomtom215/signalwatch/internal/models"
)

// ChainLocker serializes work on one chain.
type ChainLocker interface {
	Lock(chainID string) (unlock func())
}

// RemoteDeleter removes remote copies. *transport.Transport implements it.
type RemoteDeleter interface {
	Delete(ctx context.Context, remoteKey string, provider models.CloudProvider) error
}

// Result is the outcome of one Enforce run.
type Result struct {
	// Deleted holds every record moved to deleted, oldest chain first.
	Deleted []*models.BackupMetadata `json:"deleted"`
	// Warnings lists cleanup failures that did not stop the deletion.
	Warnings []string `json:"warnings,omitempty"`
	// Skipped lists chains the plan selected but a concurrent capture kept.
	Skipped []string `json:"skipped,omitempty"`
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithRemote deletes remote copies through r.
func WithRemote(r RemoteDeleter) Option {
	return func(e *Enforcer) { e.remote = r }
}

// WithLocks shares chain locks with capture.
func WithLocks(l ChainLocker) Option {
	return func(e *Enforcer) { e.locks = l }
}

// WithClock overrides the time source used for age cutoffs.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// OnChainDeleted registers a callback run after a chain is fully deleted.
func OnChainDeleted(fn func(chainID string)) Option {
	return func(e *Enforcer) { e.onDeleted = fn }
}

// Enforcer applies a Policy to the catalog.
type Enforcer struct {
	catalog   catalog.Catalog
	remote    RemoteDeleter
	locks     ChainLocker
	now       func() time.Time
	onDeleted func(chainID string)
}

// NewEnforcer creates an Enforcer over cat.
func NewEnforcer(cat catalog.Catalog, opts ...Option) *Enforcer {
	e := &Enforcer{catalog: cat, now: time.Now, locks: noLocks{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Preview returns what Enforce would do now, without changing anything.
func (e *Enforcer) Preview(ctx context.Context, policy Policy) (*Selection, error) {
	records, err := e.catalog.List(ctx, catalog.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return Plan(records, policy, e.now())
}

// Enforce deletes every chain the policy selects, oldest first. Remote or
// local cleanup failures become warnings; catalog failures stop the run.
// Cancellation is honored between chains.
func (e *Enforcer) Enforce(ctx context.Context, policy Policy) (result *Result, err error) {
	result = &Result{}
	deletedByType := make(map[string]int)
	defer func() {
		metrics.RecordRetention(deletedByType, len(result.Warnings), err)
	}()

	sel, err := e.Preview(ctx, policy)
	if err != nil {
		return result, err
	}

	log := logging.Ctx(ctx)
	for _, d := range sel.Delete {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		deleted, err := e.deleteChain(ctx, d.Chain.ID, result)
		if err != nil {
			return result, fmt.Errorf("delete chain %s: %w", d.Chain.ID, err)
		}
		if len(deleted) == 0 {
			continue
		}
		for _, rec := range deleted {
			deletedByType[string(rec.Type)]++
		}
		result.Deleted = append(result.Deleted, deleted...)
		log.Info().
			Str("chain_id", d.Chain.ID).
			Str("reason", d.Reason).
			Int("members", len(deleted)).
			Int64("size_bytes", d.Chain.SizeBytes).
			Msg("Retention deleted chain")
		if e.onDeleted != nil {
			e.onDeleted(d.Chain.ID)
		}
	}

	log.Info().
		Int("deleted", len(result.Deleted)).
		Int("warnings", len(result.Warnings)).
		Int("kept_chains", len(sel.Keep)).
		Msg("Retention pass complete")
	return result, nil
}

// deleteChain removes one chain under its lock. Members are re-read after
// locking so a capture that landed since planning is either included or
// blocks the deletion.
func (e *Enforcer) deleteChain(ctx context.Context, chainID string, result *Result) ([]*models.BackupMetadata, error) {
	unlock := e.locks.Lock(chainID)
	defer unlock()

	// Once started, a chain is finished even if ctx is cancelled.
	ctx = context.WithoutCancel(ctx)
	log := logging.Ctx(ctx).With().Str("chain_id", chainID).Logger()

	members, err := e.catalog.List(ctx, catalog.Filter{ChainID: chainID})
	if err != nil {
		return nil, err
	}
	var live, expire []*models.BackupMetadata
	for _, m := range members {
		switch m.Status {
		case models.StatusDeleted:
			continue
		case models.StatusInProgress:
			log.Warn().Str("backup_id", m.ID).Msg("Capture in progress, chain kept")
			result.Skipped = append(result.Skipped, chainID)
			return nil, nil
		case models.StatusComplete, models.StatusVerified, models.StatusUploaded:
			expire = append(expire, m)
		}
		live = append(live, m)
	}
	if len(live) == 0 {
		return nil, nil
	}

	if len(expire) > 0 {
		ids := make([]string, len(expire))
		for i, m := range expire {
			ids[i] = m.ID
		}
		if err := e.catalog.ExpireChain(ctx, ids); err != nil {
			return nil, err
		}
	}

	deleted := make([]*models.BackupMetadata, 0, len(live))
	for _, m := range live {
		e.removeArtifacts(ctx, m, result)
		if err := e.catalog.RecordDeleted(ctx, m.ID); err != nil {
			return deleted, err
		}
		rec := m.Clone()
		rec.Status = models.StatusDeleted
		rec.LocalPath = ""
		deleted = append(deleted, rec)
	}
	return deleted, nil
}

// removeArtifacts reclaims local space and removes every recorded remote copy.
func (e *Enforcer) removeArtifacts(ctx context.Context, m *models.BackupMetadata, result *Result) {
	log := logging.Ctx(ctx).With().Str("backup_id", m.ID).Str("chain_id", m.ChainID).Logger()

	if m.LocalPath != "" {
		if err := os.Remove(m.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			result.warn(fmt.Sprintf("backup %s: remove local %s: %v", m.ID, m.LocalPath, err))
			log.Warn().Err(err).Str("path", m.LocalPath).Msg("Failed to remove local artifact")
		}
	}

	for provider, key := range m.RemoteLocations {
		if e.remote == nil {
			result.warn(fmt.Sprintf("backup %s: no transport to delete %s copy %s", m.ID, provider, key))
			continue
		}
		if err := e.remote.Delete(ctx, key, provider); err != nil {
			result.warn(fmt.Sprintf("backup %s: delete %s copy %s: %v", m.ID, provider, key, err))
			log.Warn().Err(err).Str("provider", string(provider)).Str("key", key).Msg("Failed to delete remote copy")
		}
	}
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

type noLocks struct{}

func (noLocks) Lock(string) func() { return func() {} }

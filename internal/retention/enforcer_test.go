// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRemote struct {
	mu      sync.Mutex
	deleted []string
	fail    error
}

func (f *fakeRemote) Delete(_ context.Context, key string, provider models.CloudProvider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, string(provider)+":"+key)
	return f.fail
}

type fixture struct {
	cat   catalog.Catalog
	clock *testClock
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: base}
	cat, err := catalog.OpenBadger("", catalog.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })
	return &fixture{cat: cat, clock: clock, dir: t.TempDir()}
}

// capture records a complete backup with an artifact file on disk.
func (f *fixture) capture(t *testing.T, typ models.BackupType, parent string) *models.BackupMetadata {
	t.Helper()
	ctx := context.Background()
	f.clock.Advance(time.Hour)
	rec, err := f.cat.RecordStart(ctx, catalog.StartRequest{Type: typ, ParentID: parent, Compression: models.CompressionNone})
	if err != nil {
		t.Fatalf("RecordStart() error = %v", err)
	}
	path := filepath.Join(f.dir, rec.ArtifactName())
	if err := os.WriteFile(path, []byte(rec.ID), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := f.cat.RecordComplete(ctx, rec.ID, path, "abc123", int64(len(rec.ID))); err != nil {
		t.Fatalf("RecordComplete() error = %v", err)
	}
	done, err := f.cat.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	return done
}

func (f *fixture) status(t *testing.T, id string) models.BackupStatus {
	t.Helper()
	rec, err := f.cat.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return rec.Status
}

func TestEnforceDeletesOlderChain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.capture(t, models.BackupTypeFull, "")
	a2 := f.capture(t, models.BackupTypeIncremental, a.ID)
	if err := f.cat.AddRemoteLocation(ctx, a.ID, models.ProviderS3, "prod/"+a.ArtifactName()); err != nil {
		t.Fatal(err)
	}
	b := f.capture(t, models.BackupTypeFull, "")
	b2 := f.capture(t, models.BackupTypeWAL, b.ID)

	remote := &fakeRemote{}
	var forgotten []string
	e := NewEnforcer(f.cat,
		WithRemote(remote),
		WithClock(f.clock.Now),
		OnChainDeleted(func(id string) { forgotten = append(forgotten, id) }),
	)

	res, err := e.Enforce(ctx, Policy{MaxCount: Count(1)})
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if len(res.Deleted) != 2 || res.Deleted[0].ID != a.ID || res.Deleted[1].ID != a2.ID {
		t.Fatalf("Deleted = %+v, want the whole older chain", res.Deleted)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v", res.Warnings)
	}
	for _, id := range []string{a.ID, a2.ID} {
		if got := f.status(t, id); got != models.StatusDeleted {
			t.Errorf("%s status = %s, want deleted", id, got)
		}
	}
	for _, id := range []string{b.ID, b2.ID} {
		if got := f.status(t, id); got != models.StatusComplete {
			t.Errorf("%s status = %s, want complete", id, got)
		}
	}
	for _, m := range []*models.BackupMetadata{a, a2} {
		if _, err := os.Stat(m.LocalPath); !os.IsNotExist(err) {
			t.Errorf("artifact %s should be removed, stat err = %v", m.LocalPath, err)
		}
	}
	if _, err := os.Stat(b.LocalPath); err != nil {
		t.Errorf("kept artifact missing: %v", err)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "s3:prod/"+a.ArtifactName() {
		t.Errorf("remote deletes = %v", remote.deleted)
	}
	if len(forgotten) != 1 || forgotten[0] != a.ChainID {
		t.Errorf("OnChainDeleted calls = %v", forgotten)
	}
}

func TestEnforceRemoteFailureIsWarning(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.capture(t, models.BackupTypeFull, "")
	if err := f.cat.RecordUploaded(ctx, a.ID, models.ProviderGCS, "a-key"); err != nil {
		t.Fatal(err)
	}
	f.capture(t, models.BackupTypeFull, "")

	e := NewEnforcer(f.cat, WithRemote(&fakeRemote{fail: errors.New("bucket unreachable")}), WithClock(f.clock.Now))
	res, err := e.Enforce(ctx, Policy{MaxCount: Count(1)})
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if len(res.Deleted) != 1 {
		t.Fatalf("Deleted = %d records, want 1", len(res.Deleted))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one remote failure", res.Warnings)
	}
	if got := f.status(t, a.ID); got != models.StatusDeleted {
		t.Errorf("status = %s, want deleted despite remote failure", got)
	}
}

func TestEnforceKeepsNewestChain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	b1 := f.capture(t, models.BackupTypeFull, "")
	b2 := f.capture(t, models.BackupTypeIncremental, b1.ID)
	b3 := f.capture(t, models.BackupTypeIncremental, b2.ID)
	f.clock.Advance(365 * 24 * time.Hour)

	e := NewEnforcer(f.cat, WithClock(f.clock.Now))
	for _, p := range []Policy{{MaxCount: Count(1)}, {MaxAgeDays: 1}, {MaxCount: Count(0), MinKeep: 0}} {
		res, err := e.Enforce(context.Background(), p)
		if err != nil {
			t.Fatalf("Enforce(%+v) error = %v", p, err)
		}
		if len(res.Deleted) != 0 {
			t.Errorf("Enforce(%+v) deleted %d records from the only chain", p, len(res.Deleted))
		}
	}
	for _, id := range []string{b1.ID, b2.ID, b3.ID} {
		if got := f.status(t, id); got != models.StatusComplete {
			t.Errorf("%s status = %s, want complete", id, got)
		}
	}
}

func TestEnforceMaxCountZeroKeepsOnlyFloor(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.capture(t, models.BackupTypeFull, "")
	a2 := f.capture(t, models.BackupTypeIncremental, a.ID)
	b := f.capture(t, models.BackupTypeFull, "")
	b2 := f.capture(t, models.BackupTypeWAL, b.ID)

	res, err := NewEnforcer(f.cat, WithClock(f.clock.Now)).Enforce(ctx, Policy{MaxCount: Count(0)})
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if len(res.Deleted) != 2 {
		t.Fatalf("Deleted = %d records, want the older chain", len(res.Deleted))
	}
	for _, id := range []string{a.ID, a2.ID} {
		if got := f.status(t, id); got != models.StatusDeleted {
			t.Errorf("%s status = %s, want deleted", id, got)
		}
	}
	for _, id := range []string{b.ID, b2.ID} {
		if got := f.status(t, id); got != models.StatusComplete {
			t.Errorf("%s status = %s, want complete", id, got)
		}
	}
}

// capturingLocker starts a new capture on the chain as soon as the lock is
// requested, simulating a capture that won the race with retention.
type capturingLocker struct {
	t   *testing.T
	cat catalog.Catalog
}

func (l capturingLocker) Lock(chainID string) func() {
	_, err := l.cat.RecordStart(context.Background(), catalog.StartRequest{
		Type:     models.BackupTypeWAL,
		ParentID: chainID,
	})
	if err != nil {
		l.t.Errorf("RecordStart() error = %v", err)
	}
	return func() {}
}

func TestEnforceSkipsChainWithNewCapture(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	a := f.capture(t, models.BackupTypeFull, "")
	f.capture(t, models.BackupTypeFull, "")

	e := NewEnforcer(f.cat, WithLocks(capturingLocker{t: t, cat: f.cat}), WithClock(f.clock.Now))
	res, err := e.Enforce(context.Background(), Policy{MaxCount: Count(1)})
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("Deleted = %d records, want none", len(res.Deleted))
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != a.ChainID {
		t.Errorf("Skipped = %v, want [%s]", res.Skipped, a.ChainID)
	}
	if got := f.status(t, a.ID); got != models.StatusComplete {
		t.Errorf("status = %s, want complete", got)
	}
}

func TestEnforcePurgesFailedMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.capture(t, models.BackupTypeFull, "")
	broken, err := f.cat.RecordStart(ctx, catalog.StartRequest{Type: models.BackupTypeIncremental, ParentID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.cat.RecordFailed(ctx, broken.ID, "snapshot: disk full"); err != nil {
		t.Fatal(err)
	}
	f.capture(t, models.BackupTypeFull, "")

	e := NewEnforcer(f.cat, WithClock(f.clock.Now))
	res, err := e.Enforce(ctx, Policy{MaxCount: Count(1)})
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if len(res.Deleted) != 2 {
		t.Fatalf("Deleted = %d records, want 2", len(res.Deleted))
	}
	if got := f.status(t, broken.ID); got != models.StatusDeleted {
		t.Errorf("failed member status = %s, want deleted", got)
	}
}

func TestEnforceRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := NewEnforcer(f.cat).Enforce(context.Background(), Policy{MinKeep: -1})
	if !errors.Is(err, models.ErrPolicy) {
		t.Fatalf("Enforce() error = %v, want ErrPolicy", err)
	}
}

func TestEnforceHonorsCancellation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	a := f.capture(t, models.BackupTypeFull, "")
	f.capture(t, models.BackupTypeFull, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEnforcer(f.cat, WithClock(f.clock.Now)).Enforce(ctx, Policy{MaxCount: Count(1)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Enforce() error = %v, want context.Canceled", err)
	}
	if got := f.status(t, a.ID); got != models.StatusComplete {
		t.Errorf("status = %s, want complete after cancelled run", got)
	}
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	a := f.capture(t, models.BackupTypeFull, "")
	f.capture(t, models.BackupTypeFull, "")

	sel, err := NewEnforcer(f.cat, WithClock(f.clock.Now)).Preview(context.Background(), Policy{MaxCount: Count(1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.Delete) != 1 || sel.Delete[0].Chain.ID != a.ChainID {
		t.Fatalf("Preview delete = %v", chainIDs(sel.Delete))
	}
	if got := f.status(t, a.ID); got != models.StatusComplete {
		t.Errorf("status = %s, want complete", got)
	}
}

func TestFromConfigAndValidate(t *testing.T) {
	t.Parallel()

	limit := 3
	p := FromConfig(config.RetentionConfig{MaxAgeDays: 7, MaxCount: &limit})
	if p.MaxAgeDays != 7 || p.MaxCount == nil || *p.MaxCount != 3 {
		t.Errorf("FromConfig() = %+v", p)
	}
	limit = 9
	if *p.MaxCount != 3 {
		t.Error("FromConfig() aliases the configured max_count")
	}
	if unset := FromConfig(config.RetentionConfig{}); unset.MaxCount != nil {
		t.Errorf("FromConfig() without max_count = %d, want nil", *unset.MaxCount)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.floor() != 1 {
		t.Errorf("floor() = %d, want 1", p.floor())
	}
	if (Policy{MinKeep: 4}).floor() != 4 {
		t.Error("floor() should follow MinKeep")
	}
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

//go:build integration

package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/signalwatch/internal/models"
	"github.com/tomtom215/signalwatch/internal/testinfra"
)

func TestPostgresStore(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testinfra.StartPostgres(ctx, t)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	clock := newStepClock()
	store, err := OpenPostgres(ctx, pg.DSN, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenPostgres() error = %v", err)
	}
	defer store.Close()

	full, err := store.RecordStart(ctx, StartRequest{Type: models.BackupTypeFull, Compression: models.CompressionGzip})
	if err != nil {
		t.Fatalf("RecordStart() error = %v", err)
	}
	if err := store.RecordComplete(ctx, full.ID, "/b/"+full.ID, "sum", 10); err != nil {
		t.Fatalf("RecordComplete() error = %v", err)
	}
	clock.Advance(time.Second)
	inc, err := store.RecordStart(ctx, StartRequest{Type: models.BackupTypeIncremental, ParentID: full.ID})
	if err != nil {
		t.Fatalf("RecordStart(incremental) error = %v", err)
	}
	if err := store.RecordUploaded(ctx, full.ID, models.ProviderS3, "k"); err != nil {
		t.Fatalf("RecordUploaded() error = %v", err)
	}

	records, err := store.List(ctx, Filter{ChainID: full.ID})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 || records[0].ID != full.ID || records[1].ID != inc.ID {
		t.Fatalf("unexpected chain listing: %+v", records)
	}
	if records[0].RemoteLocations[models.ProviderS3] != "k" {
		t.Errorf("remote locations = %v", records[0].RemoteLocations)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
}

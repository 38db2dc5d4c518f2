// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package catalog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/signalwatch/internal/models"
)

// Key layout
//
//	backup:<id>     JSON-encoded models.BackupMetadata
//	meta:sequence   big-endian uint64, last assigned sequence
//	meta:newest     big-endian int64, newest created_at in unix nanos
const (
	prefixBackup = "backup:"
	keySequence  = "meta:sequence"
	keyNewest    = "meta:newest"
)

// conflictRetries bounds retries of optimistic transactions that lose a race.
const conflictRetries = 5

// BadgerStore is an embedded key-value catalog. Writes are serialized because
// every RecordStart touches the shared sequence key.
type BadgerStore struct {
	db   *badger.DB
	opts options
	wmu  sync.Mutex
}

// OpenBadger opens a Badger catalog in dir. An empty dir opens an in-memory
// store, which is only useful for tests.
func OpenBadger(dir string, opts ...Option) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(dir)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.SyncWrites = true
	bopts.Logger = nil // catalog events are logged by callers

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger catalog: %w", err)
	}
	return &BadgerStore{db: db, opts: buildOptions(opts)}, nil
}

// Close implements Catalog.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var err error
	for i := 0; i < conflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("catalog update kept conflicting: %w", err)
}

// RecordStart implements Catalog.
func (s *BadgerStore) RecordStart(ctx context.Context, req StartRequest) (*models.BackupMetadata, error) {
	if req.Compression == "" {
		req.Compression = models.CompressionNone
	}

	var rec *models.BackupMetadata
	err := s.update(ctx, func(txn *badger.Txn) error {
		var parent *models.BackupMetadata
		if req.ParentID != "" {
			p, err := getRecord(txn, req.ParentID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return err
			}
			parent = p
		}
		chainID, err := validateStart(req, parent)
		if err != nil {
			return err
		}

		id := uuid.NewString()
		if chainID == "" {
			chainID = id
		}

		seq, err := readUint(txn, keySequence)
		if err != nil {
			return err
		}
		seq++
		newest, err := readUint(txn, keyNewest)
		if err != nil {
			return err
		}
		createdAt := s.opts.now().UTC()
		if newest > 0 {
			createdAt = clampCreatedAt(createdAt, time.Unix(0, int64(newest)).UTC())
		}

		rec = &models.BackupMetadata{
			ID:          id,
			Type:        req.Type,
			ParentID:    req.ParentID,
			ChainID:     chainID,
			Compression: req.Compression,
			Status:      models.StatusInProgress,
			CreatedAt:   createdAt,
			Sequence:    int64(seq),
		}
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		if err := writeUint(txn, keySequence, seq); err != nil {
			return err
		}
		return writeUint(txn, keyNewest, uint64(createdAt.UnixNano()))
	})
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// mutate loads id, checks the transition to "to" and applies fn before writing.
func (s *BadgerStore) mutate(ctx context.Context, id string, to models.BackupStatus, fn func(rec *models.BackupMetadata)) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return mutateTxn(txn, id, to, fn)
	})
}

func mutateTxn(txn *badger.Txn, id string, to models.BackupStatus, fn func(rec *models.BackupMetadata)) error {
	rec, err := getRecord(txn, id)
	if err != nil {
		return err
	}
	if !CanTransition(rec.Status, to) {
		return &models.TransitionError{ID: id, From: rec.Status, To: to}
	}
	rec.Status = to
	if fn != nil {
		fn(rec)
	}
	return putRecord(txn, rec)
}

// RecordComplete implements Catalog.
func (s *BadgerStore) RecordComplete(ctx context.Context, id, localPath, checksum string, size int64) error {
	now := s.opts.now().UTC()
	return s.mutate(ctx, id, models.StatusComplete, func(rec *models.BackupMetadata) {
		rec.LocalPath = localPath
		rec.Checksum = checksum
		rec.SizeBytes = size
		rec.CompletedAt = ptrTime(now)
	})
}

// RecordVerified implements Catalog.
func (s *BadgerStore) RecordVerified(ctx context.Context, id string) error {
	now := s.opts.now().UTC()
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Status == models.StatusVerified || rec.Status == models.StatusUploaded {
			rec.VerifiedAt = ptrTime(now)
			return putRecord(txn, rec)
		}
		return mutateTxn(txn, id, models.StatusVerified, func(r *models.BackupMetadata) {
			r.VerifiedAt = ptrTime(now)
		})
	})
}

// RecordUploaded implements Catalog.
func (s *BadgerStore) RecordUploaded(ctx context.Context, id string, provider models.CloudProvider, remoteKey string) error {
	now := s.opts.now().UTC()
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Status != models.StatusUploaded && !CanTransition(rec.Status, models.StatusUploaded) {
			return &models.TransitionError{ID: id, From: rec.Status, To: models.StatusUploaded}
		}
		if rec.RemoteLocations == nil {
			rec.RemoteLocations = make(map[models.CloudProvider]string)
		}
		rec.RemoteLocations[provider] = remoteKey
		rec.Status = models.StatusUploaded
		rec.UploadedAt = ptrTime(now)
		return putRecord(txn, rec)
	})
}

// AddRemoteLocation implements Catalog.
func (s *BadgerStore) AddRemoteLocation(ctx context.Context, id string, provider models.CloudProvider, remoteKey string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if !rec.Status.Restorable() {
			return &models.TransitionError{ID: id, From: rec.Status, To: models.StatusUploaded}
		}
		if rec.RemoteLocations == nil {
			rec.RemoteLocations = make(map[models.CloudProvider]string)
		}
		rec.RemoteLocations[provider] = remoteKey
		return putRecord(txn, rec)
	})
}

// RecordFailed implements Catalog.
func (s *BadgerStore) RecordFailed(ctx context.Context, id, reason string) error {
	return s.mutate(ctx, id, models.StatusFailed, func(rec *models.BackupMetadata) {
		rec.FailureReason = reason
	})
}

// ExpireChain implements Catalog. Badger transactions are atomic, so either
// every record expires or none does.
func (s *BadgerStore) ExpireChain(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return errEmptyChain
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := mutateTxn(txn, id, models.StatusExpired, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordDeleted implements Catalog.
func (s *BadgerStore) RecordDeleted(ctx context.Context, id string) error {
	return s.mutate(ctx, id, models.StatusDeleted, func(rec *models.BackupMetadata) {
		rec.LocalPath = ""
	})
}

// Discard implements Catalog.
func (s *BadgerStore) Discard(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Status != models.StatusInProgress {
			return fmt.Errorf("discard backup %s (%s): %w", id, rec.Status, errNotInProgress)
		}
		return txn.Delete([]byte(prefixBackup + id))
	})
}

// Get implements Catalog.
func (s *BadgerStore) Get(ctx context.Context, id string) (*models.BackupMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *models.BackupMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

// List implements Catalog.
func (s *BadgerStore) List(ctx context.Context, f Filter) ([]*models.BackupMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := []*models.BackupMetadata{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixBackup)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec models.BackupMetadata
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode backup record: %w", err)
			}
			if f.matches(&rec) {
				records = append(records, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].Sequence < records[j].Sequence
	})
	return paginate(records, f.Offset, f.Limit), nil
}

func getRecord(txn *badger.Txn, id string) (*models.BackupMetadata, error) {
	item, err := txn.Get([]byte(prefixBackup + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &models.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	var rec models.BackupMetadata
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode backup %s: %w", id, err)
	}
	return &rec, nil
}

func putRecord(txn *badger.Txn, rec *models.BackupMetadata) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode backup %s: %w", rec.ID, err)
	}
	return txn.Set([]byte(prefixBackup+rec.ID), data)
}

func readUint(txn *badger.Txn, key string) (uint64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %s", key)
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

func writeUint(txn *badger.Txn, key string, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return txn.Set([]byte(key), buf)
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package restore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tomtom215/signalwatch/internal/capture"
	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/models"
)

// scriptedSource returns the next image on every snapshot.
type scriptedSource struct {
	mu     sync.Mutex
	images [][]byte
	calls  int
}

func (s *scriptedSource) Snapshot(_ context.Context, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := s.images[min(s.calls, len(s.images)-1)]
	s.calls++
	return os.WriteFile(dst, img, 0o600)
}

func (s *scriptedSource) Checkpoint(context.Context) error { return nil }
func (s *scriptedSource) Name() string                     { return "scripted" }

// memRemote serves downloads from memory. Providers listed in failing return
// an error.
type memRemote struct {
	mu      sync.Mutex
	objects map[string][]byte
	failing map[models.CloudProvider]bool
	calls   []models.CloudProvider
}

func (r *memRemote) Download(_ context.Context, key string, provider models.CloudProvider, localPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, provider)
	if r.failing[provider] {
		return &models.TransportError{Provider: provider, Op: "get", Key: key, Err: errors.New("access denied")}
	}
	data, ok := r.objects[key]
	if !ok {
		return &models.TransportError{Provider: provider, Op: "get", Key: key, Err: errors.New("no such key")}
	}
	return os.WriteFile(localPath, data, 0o600)
}

type fixture struct {
	cat     catalog.Catalog
	capture *capture.Engine
	restore *Engine
	remote  *memRemote
}

func newFixture(t *testing.T, images ...[]byte) *fixture {
	t.Helper()
	cat, err := catalog.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	remote := &memRemote{objects: map[string][]byte{}, failing: map[models.CloudProvider]bool{}}
	re, err := NewEngine(cat, remote, t.TempDir())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	ce, err := capture.NewEngine(capture.Config{
		BackupDir:   filepath.Join(t.TempDir(), "backups"),
		Compression: models.CompressionZstd,
		BlockSize:   512,
	}, &scriptedSource{images: images}, cat, re)
	if err != nil {
		t.Fatalf("capture.NewEngine() error = %v", err)
	}
	return &fixture{cat: cat, capture: ce, restore: re, remote: remote}
}

func (f *fixture) take(t *testing.T, typ models.BackupType, parent string) *models.BackupMetadata {
	t.Helper()
	rec, err := f.capture.Capture(context.Background(), typ, parent)
	if err != nil {
		t.Fatalf("Capture(%s) error = %v", typ, err)
	}
	return rec
}

func (f *fixture) restoreBytes(t *testing.T, id string) []byte {
	t.Helper()
	target := filepath.Join(t.TempDir(), "restored.db")
	if _, err := f.restore.Restore(context.Background(), id, target, Options{}); err != nil {
		t.Fatalf("Restore(%s) error = %v", id, err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// image builds n blocks of 512 bytes whose content depends on seed.
func image(n int, seed byte) []byte {
	out := make([]byte, n*512)
	for i := range out {
		out[i] = byte(i/512) ^ seed ^ byte(i)
	}
	return out
}

// modified returns a copy of img with block i rewritten.
func modified(img []byte, blocks ...int) []byte {
	out := append([]byte(nil), img...)
	for _, b := range blocks {
		for i := b * 512; i < (b+1)*512 && i < len(out); i++ {
			out[i] ^= 0x5a
		}
	}
	return out
}

func TestRestoreFull(t *testing.T) {
	t.Parallel()

	v0 := image(8, 1)
	f := newFixture(t, v0)
	full := f.take(t, models.BackupTypeFull, "")

	target := filepath.Join(t.TempDir(), "nested", "restored.db")
	report, err := f.restore.Restore(context.Background(), full.ID, target, Options{})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, v0) {
		t.Error("restored image differs from the captured image")
	}
	if len(report.Chain) != 1 || report.Chain[0] != full.ID {
		t.Errorf("Chain = %v", report.Chain)
	}
	if report.BytesWritten != int64(len(v0)) {
		t.Errorf("BytesWritten = %d, want %d", report.BytesWritten, len(v0))
	}
	if _, err := os.Stat(target + ".restore-" + full.ID); !os.IsNotExist(err) {
		t.Error("staging file should be gone after restore")
	}
}

func TestRestoreChainEqualsFull(t *testing.T) {
	t.Parallel()

	v0 := image(10, 3)
	v1 := modified(v0, 2, 7)
	v2 := append(modified(v1, 0), image(3, 9)...)
	f := newFixture(t, v0, v1, v2, v2)

	b1 := f.take(t, models.BackupTypeFull, "")
	b2 := f.take(t, models.BackupTypeIncremental, b1.ID)
	b3 := f.take(t, models.BackupTypeIncremental, b2.ID)
	direct := f.take(t, models.BackupTypeFull, "")

	fromChain := f.restoreBytes(t, b3.ID)
	fromFull := f.restoreBytes(t, direct.ID)
	if !bytes.Equal(fromChain, fromFull) {
		t.Fatal("chain restore differs from a full backup taken at the same moment")
	}
	if !bytes.Equal(fromChain, v2) {
		t.Error("chain restore differs from the source image")
	}
	if got := f.restoreBytes(t, b2.ID); !bytes.Equal(got, v1) {
		t.Error("restoring the middle of the chain should give its own image")
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	t.Parallel()

	v0 := image(6, 4)
	f := newFixture(t, v0, modified(v0, 1), modified(v0, 1, 5))
	b1 := f.take(t, models.BackupTypeFull, "")
	b2 := f.take(t, models.BackupTypeIncremental, b1.ID)
	b3 := f.take(t, models.BackupTypeWAL, b2.ID)

	first := f.restoreBytes(t, b3.ID)
	second := f.restoreBytes(t, b3.ID)
	if !bytes.Equal(first, second) {
		t.Error("two restores of the same backup differ")
	}
}

func TestRestoreCorruptionLeavesTargetUntouched(t *testing.T) {
	t.Parallel()

	v0 := image(6, 5)
	f := newFixture(t, v0, modified(v0, 3))
	b1 := f.take(t, models.BackupTypeFull, "")
	b2 := f.take(t, models.BackupTypeIncremental, b1.ID)

	data, err := os.ReadFile(b2.LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(b2.LocalPath, data, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		existing []byte
		opts     Options
	}{
		{"empty target", nil, Options{}},
		{"existing target with overwrite", []byte("previous database"), Options{Overwrite: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "restored.db")
			if tt.existing != nil {
				if err := os.WriteFile(target, tt.existing, 0o600); err != nil {
					t.Fatal(err)
				}
			}

			_, err := f.restore.Restore(context.Background(), b2.ID, target, tt.opts)
			var ce *models.CorruptionError
			if !errors.As(err, &ce) {
				t.Fatalf("Restore() error = %v, want CorruptionError", err)
			}
			if ce.BackupID != b2.ID {
				t.Errorf("CorruptionError.BackupID = %s, want %s", ce.BackupID, b2.ID)
			}

			got, err := os.ReadFile(target)
			if tt.existing == nil {
				if !os.IsNotExist(err) {
					t.Errorf("target should not exist, stat err = %v", err)
				}
			} else if !bytes.Equal(got, tt.existing) {
				t.Error("existing target was modified")
			}
			if _, err := os.Stat(target + ".restore-" + b2.ID); !os.IsNotExist(err) {
				t.Error("no staging file may be left behind")
			}
		})
	}
}

func TestRestoreTargetHandling(t *testing.T) {
	t.Parallel()

	v0 := image(4, 6)
	f := newFixture(t, v0)
	full := f.take(t, models.BackupTypeFull, "")
	ctx := context.Background()

	target := filepath.Join(t.TempDir(), "live.db")
	if err := os.WriteFile(target, []byte("in use"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target+"-wal", []byte("stale wal"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := f.restore.Restore(ctx, full.ID, target, Options{}); !errors.Is(err, models.ErrTargetExists) {
		t.Fatalf("Restore() error = %v, want ErrTargetExists", err)
	}
	if _, err := f.restore.Restore(ctx, full.ID, target, Options{Overwrite: true}); err != nil {
		t.Fatalf("Restore(Overwrite) error = %v", err)
	}
	got, _ := os.ReadFile(target)
	if !bytes.Equal(got, v0) {
		t.Error("overwrite did not replace the target")
	}
	if _, err := os.Stat(target + "-wal"); !os.IsNotExist(err) {
		t.Error("stale wal sidecar should be removed on overwrite")
	}

	empty := filepath.Join(t.TempDir(), "empty.db")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.restore.Restore(ctx, full.ID, empty, Options{}); err != nil {
		t.Errorf("an empty target file should be accepted: %v", err)
	}
}

func TestRestoreFailedSwapKeepsSidecars(t *testing.T) {
	t.Parallel()

	f := newFixture(t, image(4, 7))
	full := f.take(t, models.BackupTypeFull, "")
	ctx := context.Background()

	dir := t.TempDir()
	target := filepath.Join(dir, "live.db")
	previous := map[string][]byte{
		target:              []byte("committed pages"),
		target + "-wal":     []byte("wal frames"),
		target + "-journal": []byte("rollback journal"),
	}
	for path, data := range previous {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	f.restore.rename = func(oldpath, newpath string) error {
		if newpath == target {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrPermission}
		}
		return os.Rename(oldpath, newpath)
	}
	if _, err := f.restore.Restore(ctx, full.ID, target, Options{Overwrite: true}); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("Restore() error = %v, want the rename failure", err)
	}

	for path, want := range previous {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("%s lost after failed restore: %v", filepath.Base(path), err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s = %q, want %q", filepath.Base(path), got, want)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(previous) {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("target directory holds %v, want only the previous files", names)
	}

	// With a working rename the same restore replaces the database and its
	// journal files are gone.
	f.restore.rename = os.Rename
	if _, err := f.restore.Restore(ctx, full.ID, target, Options{Overwrite: true}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	entries, err = os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "live.db" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("target directory holds %v, want only live.db", names)
	}
}

func TestResolveChainErrors(t *testing.T) {
	t.Parallel()

	v0 := image(4, 7)
	f := newFixture(t, v0, modified(v0, 1))
	ctx := context.Background()
	b1 := f.take(t, models.BackupTypeFull, "")
	b2 := f.take(t, models.BackupTypeIncremental, b1.ID)

	chain, err := f.restore.ResolveChain(ctx, b2.ID)
	if err != nil {
		t.Fatalf("ResolveChain() error = %v", err)
	}
	if len(chain) != 2 || chain[0].ID != b1.ID || chain[1].ID != b2.ID {
		t.Errorf("chain = %v, want root first", chain)
	}

	if _, err := f.restore.ResolveChain(ctx, "does-not-exist"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}

	if err := f.cat.ExpireChain(ctx, []string{b1.ID}); err != nil {
		t.Fatal(err)
	}
	_, err = f.restore.ResolveChain(ctx, b2.ID)
	var broken *models.ChainBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("ResolveChain() error = %v, want ChainBrokenError", err)
	}
	if broken.MissingID != b1.ID {
		t.Errorf("MissingID = %s, want %s", broken.MissingID, b1.ID)
	}

	target := filepath.Join(t.TempDir(), "restored.db")
	if _, err := f.restore.Restore(ctx, b2.ID, target, Options{}); !errors.Is(err, models.ErrChainBroken) {
		t.Errorf("Restore() error = %v, want ErrChainBroken", err)
	}
}

func TestRestoreDownloadsMissingArtifacts(t *testing.T) {
	t.Parallel()

	v0 := image(5, 8)
	v1 := modified(v0, 4)
	f := newFixture(t, v0, v1)
	ctx := context.Background()
	b1 := f.take(t, models.BackupTypeFull, "")
	b2 := f.take(t, models.BackupTypeIncremental, b1.ID)

	for _, rec := range []*models.BackupMetadata{b1, b2} {
		data, err := os.ReadFile(rec.LocalPath)
		if err != nil {
			t.Fatal(err)
		}
		key := "prod/" + rec.ArtifactName()
		f.remote.objects[key] = data
		for _, p := range []models.CloudProvider{models.ProviderAzure, models.ProviderS3} {
			if err := f.cat.AddRemoteLocation(ctx, rec.ID, p, key); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := os.Remove(b1.LocalPath); err != nil {
		t.Fatal(err)
	}
	f.remote.failing[models.ProviderAzure] = true

	target := filepath.Join(t.TempDir(), "restored.db")
	report, err := f.restore.Restore(ctx, b2.ID, target, Options{})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(report.Downloaded) != 1 || report.Downloaded[0] != b1.ID {
		t.Errorf("Downloaded = %v, want [%s]", report.Downloaded, b1.ID)
	}
	want := []models.CloudProvider{models.ProviderAzure, models.ProviderS3}
	if fmt.Sprint(f.remote.calls) != fmt.Sprint(want) {
		t.Errorf("download attempts = %v, want %v", f.remote.calls, want)
	}
	got, _ := os.ReadFile(target)
	if !bytes.Equal(got, v1) {
		t.Error("restored image differs after download")
	}
}

func TestRestoreMissingArtifactWithoutRemote(t *testing.T) {
	t.Parallel()

	f := newFixture(t, image(3, 2))
	full := f.take(t, models.BackupTypeFull, "")
	if err := os.Remove(full.LocalPath); err != nil {
		t.Fatal(err)
	}

	_, err := f.restore.Restore(context.Background(), full.ID, filepath.Join(t.TempDir(), "out.db"), Options{})
	if !errors.Is(err, models.ErrChainBroken) {
		t.Fatalf("Restore() error = %v, want ErrChainBroken", err)
	}
}

func TestMaterializeMatchesRestore(t *testing.T) {
	t.Parallel()

	v0 := image(4, 11)
	f := newFixture(t, v0, modified(v0, 2))
	b1 := f.take(t, models.BackupTypeFull, "")
	b2 := f.take(t, models.BackupTypeIncremental, b1.ID)

	dst := filepath.Join(t.TempDir(), "baseline.img")
	if err := f.restore.Materialize(context.Background(), b2.ID, dst); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	got, _ := os.ReadFile(dst)
	if !bytes.Equal(got, f.restoreBytes(t, b2.ID)) {
		t.Error("Materialize and Restore disagree")
	}
}

func TestRestoreVerifiesSQLiteImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "signals.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		"CREATE TABLE detections (id INTEGER PRIMARY KEY, freq_hz INTEGER, label TEXT)",
		"INSERT INTO detections (freq_hz, label) VALUES (433920000, 'ism'), (868300000, 'lora')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	src, err := capture.OpenSQLiteSource(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	cat, err := catalog.OpenSQLite(context.Background(), filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	re, err := NewEngine(cat, nil, filepath.Join(dir, "work"))
	if err != nil {
		t.Fatal(err)
	}
	ce, err := capture.NewEngine(capture.Config{BackupDir: filepath.Join(dir, "backups")}, src, cat, re)
	if err != nil {
		t.Fatal(err)
	}
	full, err := ce.Capture(context.Background(), models.BackupTypeFull, "")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	target := filepath.Join(dir, "restored", "signals.db")
	if _, err := re.Restore(context.Background(), full.ID, target, Options{VerifyDatabase: true}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	restored, err := sql.Open("sqlite", target)
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()
	var n int
	if err := restored.QueryRow("SELECT count(*) FROM detections").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("restored %d rows, want 2", n)
	}
}

func TestRestoreRejectsUnreadableDatabase(t *testing.T) {
	t.Parallel()

	f := newFixture(t, image(4, 12))
	full := f.take(t, models.BackupTypeFull, "")

	target := filepath.Join(t.TempDir(), "restored.db")
	if _, err := f.restore.Restore(context.Background(), full.ID, target, Options{VerifyDatabase: true}); err == nil {
		t.Fatal("Restore() of a non-database image with VerifyDatabase should fail")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("target must not be created when verification fails")
	}
}

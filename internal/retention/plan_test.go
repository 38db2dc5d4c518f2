// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package retention

import (
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/signalwatch/internal/models"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// rec builds a record created day days after base.
func rec(id string, typ models.BackupType, parent, chain string, status models.BackupStatus, day int) *models.BackupMetadata {
	return &models.BackupMetadata{
		ID:        id,
		Type:      typ,
		ParentID:  parent,
		ChainID:   chain,
		Status:    status,
		SizeBytes: 100,
		CreatedAt: base.AddDate(0, 0, day),
	}
}

func full(id string, day int) *models.BackupMetadata {
	return rec(id, models.BackupTypeFull, "", id, models.StatusComplete, day)
}

func verified(id string, day int) *models.BackupMetadata {
	r := rec(id, models.BackupTypeFull, "", id, models.StatusVerified, day)
	at := r.CreatedAt.Add(time.Minute)
	r.VerifiedAt = &at
	return r
}

func inc(id, parent, chain string, day int) *models.BackupMetadata {
	return rec(id, models.BackupTypeIncremental, parent, chain, models.StatusComplete, day)
}

func chainIDs(ds []Decision) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Chain.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGroupChains(t *testing.T) {
	t.Parallel()

	records := []*models.BackupMetadata{
		full("a", 0),
		inc("a2", "a", "a", 1),
		full("b", 2),
		rec("a3", models.BackupTypeWAL, "a2", "a", models.StatusVerified, 3),
		rec("gone", models.BackupTypeFull, "", "gone", models.StatusDeleted, 4),
	}
	chains := GroupChains(records)
	if len(chains) != 2 {
		t.Fatalf("got %d chains, want 2", len(chains))
	}
	a := chains[0]
	if a.ID != "a" || a.Root == nil || a.Root.ID != "a" {
		t.Fatalf("chains[0] = %+v", a)
	}
	if !equalStrings(a.IDs(), []string{"a", "a2", "a3"}) {
		t.Errorf("members = %v", a.IDs())
	}
	if !a.Newest.Equal(base.AddDate(0, 0, 3)) {
		t.Errorf("Newest = %v", a.Newest)
	}
	if a.SizeBytes != 300 {
		t.Errorf("SizeBytes = %d, want 300", a.SizeBytes)
	}
	if chains[1].ID != "b" || !chains[1].Complete() {
		t.Errorf("chains[1] = %+v", chains[1])
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	now := base.AddDate(0, 0, 100)

	tests := []struct {
		name       string
		records    []*models.BackupMetadata
		policy     Policy
		wantDelete []string
		wantKeep   []string
	}{
		{
			name:     "single chain over every limit is kept",
			records:  []*models.BackupMetadata{full("b1", 0), inc("b2", "b1", "b1", 1), inc("b3", "b2", "b1", 2)},
			policy:   Policy{MaxCount: Count(1), MaxAgeDays: 1},
			wantKeep: []string{"b1"},
		},
		{
			name:       "max_count zero keeps only the newest chain",
			records:    []*models.BackupMetadata{full("a", 0), full("b", 10)},
			policy:     Policy{MaxCount: Count(0), MinKeep: 0},
			wantDelete: []string{"a"},
			wantKeep:   []string{"b"},
		},
		{
			name:     "max_count zero on a single chain keeps it",
			records:  []*models.BackupMetadata{full("a", 0), inc("a2", "a", "a", 1)},
			policy:   Policy{MaxCount: Count(0)},
			wantKeep: []string{"a"},
		},
		{
			name:     "unset max_count keeps every chain",
			records:  []*models.BackupMetadata{full("a", 0), full("b", 10)},
			policy:   Policy{},
			wantKeep: []string{"b", "a"},
		},
		{
			name: "equally old chains evict the verified one first",
			records: []*models.BackupMetadata{
				full("u", 0),
				verified("v", 0),
				full("n", 5),
			},
			policy:     Policy{MaxCount: Count(2)},
			wantDelete: []string{"v"},
			wantKeep:   []string{"n", "u"},
		},
		{
			name:       "age limit deletes all but the floor",
			records:    []*models.BackupMetadata{full("a", 0), full("b", 10)},
			policy:     Policy{MaxAgeDays: 1},
			wantDelete: []string{"a"},
			wantKeep:   []string{"b"},
		},
		{
			name: "two chains with max_count one drop the older",
			records: []*models.BackupMetadata{
				full("a", 0), inc("a2", "a", "a", 1),
				full("b", 5), inc("b2", "b", "b", 6),
			},
			policy:     Policy{MaxCount: Count(1)},
			wantDelete: []string{"a"},
			wantKeep:   []string{"b"},
		},
		{
			name:       "deletions run oldest first",
			records:    []*models.BackupMetadata{full("a", 0), full("b", 1), full("c", 2), full("d", 3)},
			policy:     Policy{MaxCount: Count(2)},
			wantDelete: []string{"a", "b"},
			wantKeep:   []string{"d", "c"},
		},
		{
			name:     "min_keep overrides max_count",
			records:  []*models.BackupMetadata{full("a", 0), full("b", 1)},
			policy:   Policy{MaxCount: Count(1), MinKeep: 2},
			wantKeep: []string{"b", "a"},
		},
		{
			name:       "age uses the newest member of a chain",
			records:    []*models.BackupMetadata{full("a", 0), inc("a2", "a", "a", 95), full("b", 1), full("c", 96)},
			policy:     Policy{MaxAgeDays: 30},
			wantDelete: []string{"b"},
			wantKeep:   []string{"c", "a"},
		},
		{
			name: "capture in progress blocks deletion",
			records: []*models.BackupMetadata{
				full("a", 0),
				rec("a2", models.BackupTypeIncremental, "a", "a", models.StatusInProgress, 1),
				full("b", 2),
			},
			policy:   Policy{MaxCount: Count(1)},
			wantKeep: []string{"b", "a"},
		},
		{
			name: "interrupted chain is finished",
			records: []*models.BackupMetadata{
				full("a", 0),
				rec("x", models.BackupTypeFull, "", "x", models.StatusExpired, 1),
				rec("x2", models.BackupTypeIncremental, "x", "x", models.StatusExpired, 2),
			},
			policy:     Policy{},
			wantDelete: []string{"x"},
			wantKeep:   []string{"a"},
		},
		{
			name: "orphans of a deleted root are finished",
			records: []*models.BackupMetadata{
				rec("x", models.BackupTypeFull, "", "x", models.StatusDeleted, 0),
				rec("x2", models.BackupTypeIncremental, "x", "x", models.StatusExpired, 1),
				full("a", 2),
			},
			policy:     Policy{},
			wantDelete: []string{"x"},
			wantKeep:   []string{"a"},
		},
		{
			name: "failed chains age out but do not count",
			records: []*models.BackupMetadata{
				rec("f", models.BackupTypeFull, "", "f", models.StatusFailed, 0),
				full("a", 80),
				full("b", 81),
				rec("g", models.BackupTypeFull, "", "g", models.StatusFailed, 82),
			},
			policy:     Policy{MaxCount: Count(2), MaxAgeDays: 30},
			wantDelete: []string{"f"},
			wantKeep:   []string{"g", "b", "a"},
		},
		{
			name: "newest full failing does not unprotect the previous chain",
			records: []*models.BackupMetadata{
				full("a", 0),
				rec("g", models.BackupTypeFull, "", "g", models.StatusFailed, 1),
			},
			policy:   Policy{MaxCount: Count(1), MaxAgeDays: 1},
			wantKeep: []string{"g", "a"},
		},
		{
			name:     "empty catalog",
			policy:   Policy{MaxCount: Count(1)},
			wantKeep: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sel, err := Plan(tt.records, tt.policy, now)
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			if got := chainIDs(sel.Delete); !equalStrings(got, tt.wantDelete) {
				t.Errorf("delete = %v, want %v", got, tt.wantDelete)
			}
			if got := chainIDs(sel.Keep); !equalStrings(got, tt.wantKeep) {
				t.Errorf("keep = %v, want %v", got, tt.wantKeep)
			}
		})
	}
}

func TestChainVerified(t *testing.T) {
	t.Parallel()

	at := base
	unverifiedInc := inc("v2", "v", "v", 1)
	failed := rec("v3", models.BackupTypeWAL, "v2", "v", models.StatusFailed, 2)
	checkedInc := inc("v4", "v", "v", 3)
	checkedInc.VerifiedAt = &at

	tests := []struct {
		name    string
		records []*models.BackupMetadata
		want    bool
	}{
		{"verified root", []*models.BackupMetadata{verified("v", 0)}, true},
		{"unverified root", []*models.BackupMetadata{full("v", 0)}, false},
		{"unverified member", []*models.BackupMetadata{verified("v", 0), unverifiedInc}, false},
		{"failed members are ignored", []*models.BackupMetadata{verified("v", 0), failed, checkedInc}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chains := GroupChains(tt.records)
			if len(chains) != 1 {
				t.Fatalf("got %d chains, want 1", len(chains))
			}
			if got := chains[0].Verified(); got != tt.want {
				t.Errorf("Verified() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanNeverOrphansMembers(t *testing.T) {
	t.Parallel()

	records := []*models.BackupMetadata{
		full("a", 0), inc("a2", "a", "a", 1),
		rec("a3", models.BackupTypeWAL, "a2", "a", models.StatusUploaded, 2),
		full("b", 3), inc("b2", "b", "b", 4),
	}
	sel, err := Plan(records, Policy{MaxCount: Count(1)}, base.AddDate(0, 0, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.Delete) != 1 {
		t.Fatalf("got %d deletions, want 1", len(sel.Delete))
	}
	if got := sel.Delete[0].Chain.IDs(); !equalStrings(got, []string{"a", "a2", "a3"}) {
		t.Errorf("deleted members = %v, want the whole chain", got)
	}
	if sel.Delete[0].Reason != ReasonMaxCount {
		t.Errorf("reason = %q, want %q", sel.Delete[0].Reason, ReasonMaxCount)
	}
}

func TestPlanRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []Policy{{MaxAgeDays: -1}, {MaxCount: Count(-1)}, {MinKeep: -2}} {
		_, err := Plan(nil, p, base)
		var pe *models.PolicyError
		if !errors.As(err, &pe) {
			t.Errorf("Plan(%+v) error = %v, want PolicyError", p, err)
		}
		if !errors.Is(err, models.ErrPolicy) {
			t.Errorf("Plan(%+v) error should match ErrPolicy", p)
		}
	}
}

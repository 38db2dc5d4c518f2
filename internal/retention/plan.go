// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package retention

import (
	"sort"
	"time"

	"github.com/tomtom215/signalwatch/internal/models"
)

// Reasons attached to a Decision.
const (
	ReasonFloor       = "floor"
	ReasonInProgress  = "in_progress"
	ReasonNewer       = "newer_than_floor"
	ReasonPolicy      = "within_policy"
	ReasonMaxCount    = "max_count"
	ReasonMaxAge      = "max_age"
	ReasonInterrupted = "interrupted"
)

// Chain is one full backup plus every incremental and wal record built on it.
type Chain struct {
	ID        string                   `json:"chain_id"`
	Root      *models.BackupMetadata   `json:"-"`
	Members   []*models.BackupMetadata `json:"members"`
	Started   time.Time                `json:"started"`
	Newest    time.Time                `json:"newest"`
	SizeBytes int64                    `json:"size_bytes"`
}

// Complete reports whether the chain's full backup can be restored.
func (c *Chain) Complete() bool {
	return c.Root != nil && c.Root.Status.Restorable()
}

// Verified reports whether every restorable member passed an integrity check.
func (c *Chain) Verified() bool {
	n := 0
	for _, m := range c.Members {
		if !m.Status.Restorable() {
			continue
		}
		if m.VerifiedAt == nil {
			return false
		}
		n++
	}
	return n > 0
}

func (c *Chain) hasStatus(status models.BackupStatus) bool {
	for _, m := range c.Members {
		if m.Status == status {
			return true
		}
	}
	return false
}

// IDs returns the member ids in catalog order.
func (c *Chain) IDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}

// Decision is the verdict for one chain.
type Decision struct {
	Chain  *Chain `json:"chain"`
	Reason string `json:"reason"`
}

// Selection splits the catalog into chains to delete (oldest first) and
// chains to keep (newest first).
type Selection struct {
	Delete []Decision `json:"delete"`
	Keep   []Decision `json:"keep"`
}

// GroupChains partitions records by chain id, ignoring deleted records.
// Chains are returned in eviction order: oldest first, and among chains
// started at the same instant, verified before unverified.
func GroupChains(records []*models.BackupMetadata) []*Chain {
	byID := make(map[string]*Chain)
	var order []*Chain

	for _, rec := range records {
		if rec.Status == models.StatusDeleted {
			continue
		}
		c, ok := byID[rec.ChainID]
		if !ok {
			c = &Chain{ID: rec.ChainID, Started: rec.CreatedAt}
			byID[rec.ChainID] = c
			order = append(order, c)
		}
		c.Members = append(c.Members, rec)
		if rec.IsRoot() && rec.ID == rec.ChainID {
			c.Root = rec
			c.Started = rec.CreatedAt
		}
		if rec.CreatedAt.Before(c.Started) {
			c.Started = rec.CreatedAt
		}
		if rec.CreatedAt.After(c.Newest) {
			c.Newest = rec.CreatedAt
		}
		c.SizeBytes += rec.SizeBytes
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if !a.Started.Equal(b.Started) {
			return a.Started.Before(b.Started)
		}
		return a.Verified() && !b.Verified()
	})
	return order
}

// Plan decides, without side effects, which chains policy deletes at now.
//
// The newest max(MinKeep, 1) complete chains are protected, and only chains
// started strictly before the oldest protected chain are candidates. Among
// candidates, complete chains are walked in reverse eviction order: once
// MaxCount chains (protected ones included) are kept, the rest go, so a
// MaxCount of zero keeps only the floor, and any chain whose newest member is
// older than MaxAgeDays goes. Chains with a capture in progress are
// never touched. Chains left partly expired by an interrupted run are always
// finished.
func Plan(records []*models.BackupMetadata, policy Policy, now time.Time) (*Selection, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	chains := GroupChains(records)
	protected := make(map[string]bool)
	var floorStart time.Time
	for i := len(chains) - 1; i >= 0 && len(protected) < policy.floor(); i-- {
		if chains[i].Complete() {
			protected[chains[i].ID] = true
			floorStart = chains[i].Started
		}
	}

	var cutoff time.Time
	if policy.MaxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -policy.MaxAgeDays)
	}

	sel := &Selection{}
	kept := len(protected)
	for i := len(chains) - 1; i >= 0; i-- {
		c := chains[i]
		switch {
		case c.hasStatus(models.StatusInProgress):
			sel.keep(c, ReasonInProgress)
		case protected[c.ID]:
			sel.keep(c, ReasonFloor)
		case c.Root == nil || c.hasStatus(models.StatusExpired):
			sel.remove(c, ReasonInterrupted)
		case len(protected) == 0 || !c.Started.Before(floorStart):
			sel.keep(c, ReasonNewer)
		case !c.Complete():
			// Failed captures hold no artifact; they age out with the policy.
			if !cutoff.IsZero() && c.Newest.Before(cutoff) {
				sel.remove(c, ReasonMaxAge)
			} else {
				sel.keep(c, ReasonPolicy)
			}
		case policy.MaxCount != nil && kept >= *policy.MaxCount:
			sel.remove(c, ReasonMaxCount)
		case !cutoff.IsZero() && c.Newest.Before(cutoff):
			sel.remove(c, ReasonMaxAge)
		default:
			sel.keep(c, ReasonPolicy)
			kept++
		}
	}

	// Walked newest first; deletions execute oldest first.
	for i, j := 0, len(sel.Delete)-1; i < j; i, j = i+1, j-1 {
		sel.Delete[i], sel.Delete[j] = sel.Delete[j], sel.Delete[i]
	}
	return sel, nil
}

func (s *Selection) keep(c *Chain, reason string) {
	s.Keep = append(s.Keep, Decision{Chain: c, Reason: reason})
}

func (s *Selection) remove(c *Chain, reason string) {
	s.Delete = append(s.Delete, Decision{Chain: c, Reason: reason})
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package retention

import (
	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/models"
)

// Policy defines which chains may be deleted.
//
// Zero disables MaxAgeDays. A nil MaxCount is no limit, while zero keeps
// nothing beyond the floor. MinKeep below one is raised to one: the newest
// complete chain is never deleted.
type Policy struct {
	// MaxAgeDays deletes chains whose newest member is older than N days.
	MaxAgeDays int `json:"max_age_days"`

	// MaxCount keeps at most N complete chains (one full backup each).
	MaxCount *int `json:"max_count,omitempty"`

	// MinKeep is the number of newest complete chains never deleted.
	MinKeep int `json:"min_keep"`
}

// Count returns a MaxCount of n.
func Count(n int) *int { return &n }

// FromConfig maps the retention configuration section.
func FromConfig(cfg config.RetentionConfig) Policy {
	p := Policy{
		MaxAgeDays: cfg.MaxAgeDays,
		MinKeep:    cfg.MinKeep,
	}
	if cfg.MaxCount != nil {
		p.MaxCount = Count(*cfg.MaxCount)
	}
	return p
}

// Validate rejects negative values.
func (p Policy) Validate() error {
	if p.MaxAgeDays < 0 {
		return &models.PolicyError{Field: "max_age_days", Reason: "must not be negative"}
	}
	if p.MaxCount != nil && *p.MaxCount < 0 {
		return &models.PolicyError{Field: "max_count", Reason: "must not be negative"}
	}
	if p.MinKeep < 0 {
		return &models.PolicyError{Field: "min_keep", Reason: "must not be negative"}
	}
	return nil
}

// floor returns the number of newest complete chains that are protected.
func (p Policy) floor() int {
	if p.MinKeep < 1 {
		return 1
	}
	return p.MinKeep
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package models

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching. Each typed error below reports Is() == true
// against its sentinel so callers need not know the concrete type.
var (
	ErrCapture      = errors.New("capture failed")
	ErrChain        = errors.New("invalid backup chain")
	ErrChainBroken  = errors.New("backup chain broken")
	ErrCompression  = errors.New("compression codec failure")
	ErrCorruption   = errors.New("checksum mismatch")
	ErrTransport    = errors.New("transport failure")
	ErrNotFound     = errors.New("backup not found")
	ErrPolicy       = errors.New("invalid retention policy")
	ErrTransition   = errors.New("invalid status transition")
	ErrTargetExists = errors.New("restore target is not empty")
)

// CaptureError reports an I/O failure while producing a backup.
type CaptureError struct {
	BackupID string
	Step     string
	Err      error
}

func (e *CaptureError) Error() string {
	if e.BackupID == "" {
		return fmt.Sprintf("capture %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("capture %s (backup %s): %v", e.Step, e.BackupID, e.Err)
}

func (e *CaptureError) Unwrap() error        { return e.Err }
func (e *CaptureError) Is(target error) bool { return target == ErrCapture }

// ChainError reports an invalid or missing parent when starting a capture.
type ChainError struct {
	ParentID string
	Reason   string
}

func (e *ChainError) Error() string {
	if e.ParentID == "" {
		return "chain error: " + e.Reason
	}
	return fmt.Sprintf("chain error: parent %s: %s", e.ParentID, e.Reason)
}

func (e *ChainError) Is(target error) bool { return target == ErrChain }

// ChainBrokenError reports an ancestor that is missing or not restorable
// while resolving a chain for restore.
type ChainBrokenError struct {
	BackupID  string
	MissingID string
	Reason    string
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("chain for %s broken at %s: %s", e.BackupID, e.MissingID, e.Reason)
}

func (e *ChainBrokenError) Is(target error) bool {
	return target == ErrChainBroken || target == ErrChain
}

// CompressionError reports a stream codec failure.
type CompressionError struct {
	Op   string
	Type CompressionType
	Err  error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("%s %s stream: %v", e.Op, e.Type, e.Err)
}

func (e *CompressionError) Unwrap() error        { return e.Err }
func (e *CompressionError) Is(target error) bool { return target == ErrCompression }

// CorruptionError reports a checksum mismatch on read.
type CorruptionError struct {
	BackupID string
	Path     string
	Expected string
	Actual   string
}

func (e *CorruptionError) Error() string {
	if e.BackupID == "" {
		return fmt.Sprintf("corrupt artifact %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
	}
	return fmt.Sprintf("corrupt artifact for backup %s (%s): expected %s, got %s",
		e.BackupID, e.Path, e.Expected, e.Actual)
}

func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }

// TransportError reports a cloud upload, download or delete failure.
// Retriable marks transient faults (timeouts, 5xx, throttling).
type TransportError struct {
	Provider  CloudProvider
	Op        string
	Key       string
	Retriable bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "permanent"
	if e.Retriable {
		kind = "transient"
	}
	return fmt.Sprintf("%s %s %s (%s): %v", e.Provider, e.Op, e.Key, kind, e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// NotFoundError reports an unknown backup id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string        { return "backup not found: " + e.ID }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PolicyError reports an invalid retention configuration.
type PolicyError struct {
	Field  string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("retention policy %s: %s", e.Field, e.Reason)
}

func (e *PolicyError) Is(target error) bool { return target == ErrPolicy }

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	ID   string
	From BackupStatus
	To   BackupStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("backup %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrTransition }

// IsRetriable reports whether err wraps a transient TransportError.
func IsRetriable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retriable
	}
	return false
}

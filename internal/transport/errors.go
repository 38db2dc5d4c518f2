// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/tomtom215/signalwatch/internal/models"
)

// errChecksumMismatch marks a stored object whose server-side digest does not
// match the local artifact.
var errChecksumMismatch = errors.New("remote checksum does not match local artifact")

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// isTransientNetErr recognizes timeouts and dropped connections.
func isTransientNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func transportErr(provider models.CloudProvider, op, key string, retriable bool, err error) *models.TransportError {
	return &models.TransportError{Provider: provider, Op: op, Key: key, Retriable: retriable, Err: err}
}

func mismatchErr(provider models.CloudProvider, key, local, remote string) *models.TransportError {
	// Damaged in flight; a fresh upload may succeed.
	return transportErr(provider, OpPut, key, true,
		fmt.Errorf("%w: local %s, remote %s", errChecksumMismatch, local, remote))
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/signalwatch/internal/backup"
	"github.com/tomtom215/signalwatch/internal/models"
)

// statusFor maps domain errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, models.ErrCorruption):
		return http.StatusUnprocessableEntity, ErrCodeCorruption
	case errors.Is(err, models.ErrPolicy):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, models.ErrChain),
		errors.Is(err, models.ErrChainBroken),
		errors.Is(err, models.ErrTransition),
		errors.Is(err, models.ErrTargetExists),
		errors.Is(err, backup.ErrNoProviders):
		return http.StatusConflict, ErrCodeConflict
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}

// writeDomainError writes err with its mapped status. Client errors carry
// the error text; server errors are logged and answered generically.
func writeDomainError(rw *ResponseWriter, err error, details interface{}) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError && details == nil {
		rw.InternalError(err)
		return
	}
	rw.ErrorWithDetails(status, code, err.Error(), details)
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package catalog

import "errors"

var (
	errUnknownCompression = errors.New("unknown compression type")
	errEmptyChain         = errors.New("no records to expire")
	errNotInProgress      = errors.New("only in_progress records can be discarded")
	errUnknownDriver      = errors.New("unknown catalog driver")
)

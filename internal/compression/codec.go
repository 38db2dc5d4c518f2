// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package compression wraps artifact streams in the codec recorded for them.
//
// Every codec round-trips exactly, including the empty stream. CompressionNone
// is a pass-through kept so callers never special-case uncompressed artifacts.
package compression

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/tomtom215/signalwatch/internal/models"
)

// DefaultLevel selects each codec's own default level.
const DefaultLevel = 0

// NewWriter returns a writer that compresses into w.
// Close must be called to flush trailers; it does not close w.
func NewWriter(w io.Writer, ct models.CompressionType, level int) (io.WriteCloser, error) {
	switch ct {
	case models.CompressionNone, "":
		return nopWriteCloser{w}, nil

	case models.CompressionGzip:
		if level == DefaultLevel {
			level = gzip.DefaultCompression
		}
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, &models.CompressionError{Op: "compress", Type: ct, Err: err}
		}
		return &codecWriter{wc: gw, ct: ct}, nil

	case models.CompressionZstd:
		opts := []zstd.EOption{zstd.WithEncoderConcurrency(1)}
		if level != DefaultLevel {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		zw, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, &models.CompressionError{Op: "compress", Type: ct, Err: err}
		}
		return &codecWriter{wc: zw, ct: ct}, nil

	default:
		return nil, &models.CompressionError{Op: "compress", Type: ct, Err: errUnknownCodec}
	}
}

// NewReader returns a reader that decompresses r.
// Close releases codec resources; it does not close r.
func NewReader(r io.Reader, ct models.CompressionType) (io.ReadCloser, error) {
	switch ct {
	case models.CompressionNone, "":
		return io.NopCloser(r), nil

	case models.CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, &models.CompressionError{Op: "decompress", Type: ct, Err: err}
		}
		return &codecReader{r: gr, closer: gr.Close, ct: ct}, nil

	case models.CompressionZstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, &models.CompressionError{Op: "decompress", Type: ct, Err: err}
		}
		return &codecReader{r: zr, closer: func() error { zr.Close(); return nil }, ct: ct}, nil

	default:
		return nil, &models.CompressionError{Op: "decompress", Type: ct, Err: errUnknownCodec}
	}
}

// Compress streams src through the codec into dst and returns the number of
// uncompressed bytes consumed.
func Compress(dst io.Writer, src io.Reader, ct models.CompressionType, level int) (int64, error) {
	w, err := NewWriter(dst, ct, level)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, src)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("compress stream: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Decompress streams src through the decoder into dst and returns the number
// of decompressed bytes written.
func Decompress(dst io.Writer, src io.Reader, ct models.CompressionType) (int64, error) {
	r, err := NewReader(src, ct)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	n, err := io.Copy(dst, r)
	if err != nil {
		return n, fmt.Errorf("decompress stream: %w", err)
	}
	return n, nil
}

var errUnknownCodec = errors.New("unknown codec")

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// codecWriter tags codec failures so they surface as CompressionError.
type codecWriter struct {
	wc io.WriteCloser
	ct models.CompressionType
}

func (c *codecWriter) Write(p []byte) (int, error) {
	n, err := c.wc.Write(p)
	if err != nil {
		return n, &models.CompressionError{Op: "compress", Type: c.ct, Err: err}
	}
	return n, nil
}

func (c *codecWriter) Close() error {
	if err := c.wc.Close(); err != nil {
		return &models.CompressionError{Op: "compress", Type: c.ct, Err: err}
	}
	return nil
}

type codecReader struct {
	r      io.Reader
	closer func() error
	ct     models.CompressionType
}

func (c *codecReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &models.CompressionError{Op: "decompress", Type: c.ct, Err: err}
	}
	return n, err
}

func (c *codecReader) Close() error {
	return c.closer()
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package transport

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/models"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// GCSProvider stores artifacts in a Google Cloud Storage bucket.
type GCSProvider struct {
	client *storage.Client
	bucket string
}

// NewGCSProvider builds a client from a service account file, or an
// unauthenticated client when only an emulator endpoint is configured.
func NewGCSProvider(ctx context.Context, pc config.ProviderConfig, cred config.CredentialConfig) (*GCSProvider, error) {
	if pc.Bucket == "" {
		return nil, errors.New("gcs provider requires a bucket")
	}
	var opts []option.ClientOption
	if pc.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(pc.Endpoint))
	}
	switch {
	case cred.ServiceAccountFile != "":
		opts = append(opts, option.WithCredentialsFile(cred.ServiceAccountFile))
	case pc.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSProvider{client: client, bucket: pc.Bucket}, nil
}

// Name implements Provider.
func (p *GCSProvider) Name() models.CloudProvider { return models.ProviderGCS }

// Put implements Provider. The writer sends a CRC32C that GCS checks before
// finalizing the object; the stored CRC32C is compared again afterwards.
func (p *GCSProvider) Put(ctx context.Context, key string, body io.ReadSeeker, _ int64, checksum string) error {
	h := crc32.New(castagnoli)
	if err := digestBody(h, body); err != nil {
		return transportErr(models.ProviderGCS, OpPut, key, false, fmt.Errorf("hash artifact: %w", err))
	}
	crc := h.Sum32()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := p.client.Bucket(p.bucket).Object(key).NewWriter(wctx)
	w.ContentType = "application/octet-stream"
	w.CRC32C = crc
	w.SendCRC32C = true
	w.Metadata = map[string]string{"sha256": checksum}

	if _, err := io.Copy(w, body); err != nil {
		cancel() // aborts the upload without finalizing the object
		_ = w.Close()
		return classifyGCS(OpPut, key, err)
	}
	if err := w.Close(); err != nil {
		return classifyGCS(OpPut, key, err)
	}
	if attrs := w.Attrs(); attrs != nil && attrs.CRC32C != crc {
		return mismatchErr(models.ProviderGCS, key, fmt.Sprintf("crc32c:%08x", crc), fmt.Sprintf("crc32c:%08x", attrs.CRC32C))
	}
	return nil
}

// Get implements Provider.
func (p *GCSProvider) Get(ctx context.Context, key string, w io.Writer) error {
	r, err := p.client.Bucket(p.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return classifyGCS(OpGet, key, err)
	}
	defer r.Close() //nolint:errcheck // Read-only

	if _, err := io.Copy(w, r); err != nil {
		return classifyGCS(OpGet, key, err)
	}
	return nil
}

// Remove implements Provider. A missing object counts as removed.
func (p *GCSProvider) Remove(ctx context.Context, key string) error {
	err := p.client.Bucket(p.bucket).Object(key).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return classifyGCS(OpDelete, key, err)
}

// Close releases the underlying client.
func (p *GCSProvider) Close() error {
	return p.client.Close()
}

func classifyGCS(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return transportErr(models.ProviderGCS, op, key, false, err)
	}
	retriable := isTransientNetErr(err)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		retriable = transientStatus(gerr.Code)
	}
	return transportErr(models.ProviderGCS, op, key, retriable, err)
}

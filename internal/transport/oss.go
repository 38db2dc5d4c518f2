// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package transport

import (
	"context"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"strconv"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"

	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/models"
)

var crc64ECMA = crc64.MakeTable(crc64.ECMA)

// OSSProvider stores artifacts in an Alibaba Cloud OSS bucket.
type OSSProvider struct {
	client *oss.Client
	bucket string
}

// NewOSSProvider builds a client from static credentials with SDK retries
// disabled.
func NewOSSProvider(pc config.ProviderConfig, cred config.CredentialConfig) (*OSSProvider, error) {
	if pc.Bucket == "" {
		return nil, errors.New("oss provider requires a bucket")
	}
	if pc.Region == "" {
		return nil, errors.New("oss provider requires a region")
	}
	if cred.AccessKey == "" || cred.SecretKey == "" {
		return nil, errors.New("oss provider requires access and secret keys")
	}

	cfg := oss.LoadDefaultConfig().
		WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cred.AccessKey, cred.SecretKey, cred.SessionToken)).
		WithRegion(pc.Region).
		WithRetryMaxAttempts(1)
	if pc.Endpoint != "" {
		cfg = cfg.WithEndpoint(pc.Endpoint)
	}
	if pc.PathStyle {
		cfg = cfg.WithUsePathStyle(true)
	}
	return &OSSProvider{client: oss.NewClient(cfg), bucket: pc.Bucket}, nil
}

// Name implements Provider.
func (p *OSSProvider) Name() models.CloudProvider { return models.ProviderOSS }

// Put implements Provider. OSS returns the CRC-64/ECMA of the stored object,
// which must equal the local one.
func (p *OSSProvider) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, checksum string) error {
	h := crc64.New(crc64ECMA)
	if err := digestBody(h, body); err != nil {
		return transportErr(models.ProviderOSS, OpPut, key, false, fmt.Errorf("hash artifact: %w", err))
	}
	want := strconv.FormatUint(h.Sum64(), 10)

	result, err := p.client.PutObject(ctx, &oss.PutObjectRequest{
		Bucket:        oss.Ptr(p.bucket),
		Key:           oss.Ptr(key),
		Body:          body,
		ContentLength: oss.Ptr(size),
		ContentType:   oss.Ptr("application/octet-stream"),
		Metadata:      map[string]string{"sha256": checksum},
	})
	if err != nil {
		return classifyOSS(OpPut, key, err)
	}
	if got := oss.ToString(result.HashCRC64); got != "" && got != want {
		return mismatchErr(models.ProviderOSS, key, "crc64:"+want, "crc64:"+got)
	}
	return nil
}

// Get implements Provider.
func (p *OSSProvider) Get(ctx context.Context, key string, w io.Writer) error {
	result, err := p.client.GetObject(ctx, &oss.GetObjectRequest{
		Bucket: oss.Ptr(p.bucket),
		Key:    oss.Ptr(key),
	})
	if err != nil {
		return classifyOSS(OpGet, key, err)
	}
	defer result.Body.Close() //nolint:errcheck // Read-only

	if _, err := io.Copy(w, result.Body); err != nil {
		return transportErr(models.ProviderOSS, OpGet, key, true, err)
	}
	return nil
}

// Remove implements Provider. OSS deletes are idempotent.
func (p *OSSProvider) Remove(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &oss.DeleteObjectRequest{
		Bucket: oss.Ptr(p.bucket),
		Key:    oss.Ptr(key),
	})
	if err != nil {
		return classifyOSS(OpDelete, key, err)
	}
	return nil
}

func classifyOSS(op, key string, err error) error {
	retriable := isTransientNetErr(err)
	var se *oss.ServiceError
	if errors.As(err, &se) {
		switch se.Code {
		case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			retriable = false
		default:
			retriable = transientStatus(se.StatusCode)
		}
	}
	return transportErr(models.ProviderOSS, op, key, retriable, err)
}

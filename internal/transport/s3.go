// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package transport

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/models"
)

// S3Provider stores artifacts in an S3 bucket or an S3-compatible endpoint
// such as MinIO.
type S3Provider struct {
	client *s3.Client
	bucket string
}

// NewS3Provider builds a client from static credentials. The SDK's own
// retryer is disabled; Transport owns retries.
func NewS3Provider(pc config.ProviderConfig, cred config.CredentialConfig) (*S3Provider, error) {
	if pc.Bucket == "" {
		return nil, errors.New("s3 provider requires a bucket")
	}
	region := pc.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg := aws.Config{
		Region:           region,
		RetryMaxAttempts: 1,
	}
	if cred.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cred.AccessKey, cred.SecretKey, cred.SessionToken)
	} else {
		awsCfg.Credentials = aws.AnonymousCredentials{}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if pc.Endpoint != "" {
			o.BaseEndpoint = aws.String(pc.Endpoint)
		}
		o.UsePathStyle = pc.PathStyle
	})
	return &S3Provider{client: client, bucket: pc.Bucket}, nil
}

// Name implements Provider.
func (p *S3Provider) Name() models.CloudProvider { return models.ProviderS3 }

// Put implements Provider. S3 validates the supplied SHA-256 on receipt; the
// checksum echoed back is compared as well.
func (p *S3Provider) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, checksum string) error {
	raw, err := hex.DecodeString(checksum)
	if err != nil {
		return transportErr(models.ProviderS3, OpPut, key, false, fmt.Errorf("invalid checksum %q: %w", checksum, err))
	}
	want := base64.StdEncoding.EncodeToString(raw)

	out, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(p.bucket),
		Key:               aws.String(key),
		Body:              body,
		ContentLength:     aws.Int64(size),
		ContentType:       aws.String("application/octet-stream"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(want),
		Metadata:          map[string]string{"sha256": checksum},
	})
	if err != nil {
		return classifyS3(OpPut, key, err)
	}
	if got := aws.ToString(out.ChecksumSHA256); got != "" && got != want {
		return mismatchErr(models.ProviderS3, key, want, got)
	}
	return nil
}

// Get implements Provider.
func (p *S3Provider) Get(ctx context.Context, key string, w io.Writer) error {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3(OpGet, key, err)
	}
	defer out.Body.Close() //nolint:errcheck // Body fully consumed or abandoned

	if _, err := io.Copy(w, out.Body); err != nil {
		return transportErr(models.ProviderS3, OpGet, key, true, err)
	}
	return nil
}

// Remove implements Provider. S3 deletes are idempotent.
func (p *S3Provider) Remove(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3(OpDelete, key, err)
	}
	return nil
}

// permanentS3Codes never succeed on retry.
var permanentS3Codes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"NoSuchKey":             true,
	"InvalidBucketName":     true,
	"QuotaExceeded":         true,
	"EntityTooLarge":        true,
}

// transientS3Codes are throttling and server-side faults.
var transientS3Codes = map[string]bool{
	"SlowDown":                  true,
	"InternalError":             true,
	"ServiceUnavailable":        true,
	"RequestTimeout":            true,
	"BadDigest":                 true,
	"XAmzContentSHA256Mismatch": true,
}

func classifyS3(op, key string, err error) error {
	retriable := isTransientNetErr(err)

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		retriable = transientStatus(re.HTTPStatusCode())
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch code := ae.ErrorCode(); {
		case permanentS3Codes[code]:
			retriable = false
		case transientS3Codes[code]:
			retriable = true
		}
	}
	return transportErr(models.ProviderS3, op, key, retriable, err)
}

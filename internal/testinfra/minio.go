// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultMinIOImage is the MinIO image used for s3 provider tests.
	DefaultMinIOImage = "minio/minio:RELEASE.2024-10-13T13-34-11Z"

	minioPort      = "9000/tcp"
	minioAccessKey = "signalwatch"
	minioSecretKey = "signalwatch-secret"
)

// MinIOContainer is a running MinIO server with one bucket created.
type MinIOContainer struct {
	testcontainers.Container

	// Endpoint is the http URL of the S3 API.
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// StartMinIO starts a MinIO container, creates bucket and terminates the
// container when t finishes.
func StartMinIO(ctx context.Context, t *testing.T, bucket string) (*MinIOContainer, error) {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        DefaultMinIOImage,
			ExposedPorts: []string{minioPort},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioAccessKey,
				"MINIO_ROOT_PASSWORD": minioSecretKey,
			},
			Cmd: []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").
				WithPort(minioPort).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio container: %w", err)
	}
	terminateOnCleanup(t, container)

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("get minio host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, minioPort)
	if err != nil {
		return nil, fmt.Errorf("get minio port: %w", err)
	}
	addr := host + ":" + mapped.Port()

	m := &MinIOContainer{
		Container: container,
		Endpoint:  "http://" + addr,
		AccessKey: minioAccessKey,
		SecretKey: minioSecretKey,
		Bucket:    bucket,
	}
	if err := m.createBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MinIOContainer) createBucket(ctx context.Context) error {
	client := s3.NewFromConfig(aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider(m.AccessKey, m.SecretKey, ""),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(m.Endpoint)
		o.UsePathStyle = true
	})

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(m.Bucket)}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.Bucket, err)
	}
	return nil
}

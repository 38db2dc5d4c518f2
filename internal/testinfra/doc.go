// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

// Package testinfra starts throwaway containers for integration tests.
//
// Everything except this file is behind the integration build tag:
//
//	go test -tags integration ./...
//
// # Containers
//
// StartMinIO runs an S3-compatible server with one bucket, used by the s3
// provider tests in internal/transport. StartPostgres runs a PostgreSQL server
// whose DSN feeds catalog.OpenPostgres. Both register termination with
// t.Cleanup.
//
//	func TestS3RoundTrip(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    minio, err := testinfra.StartMinIO(ctx, t, "backups")
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    provider, err := transport.NewS3Provider(config.ProviderConfig{
//	        Name: "s3", Bucket: minio.Bucket, Endpoint: minio.Endpoint, PathStyle: true,
//	    }, config.CredentialConfig{AccessKey: minio.AccessKey, SecretKey: minio.SecretKey})
//	    // ...
//	}
//
// # CI Considerations
//
// These tests require Docker and network access. They are skipped when
// Docker is unavailable or -short is set. First runs download images.
package testinfra

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package transport

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // G501: Content-MD5 is the blob service's integrity header
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/models"
)

// AzureProvider stores artifacts as block blobs in one container.
type AzureProvider struct {
	client    *azblob.Client
	container string
}

// NewAzureProvider authenticates with a connection string, or with an
// account name (access_key) and key (secret_key) against the endpoint URL.
func NewAzureProvider(pc config.ProviderConfig, cred config.CredentialConfig) (*AzureProvider, error) {
	if pc.Bucket == "" {
		return nil, errors.New("azure provider requires a container (bucket)")
	}
	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cred.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cred.ConnectionString, opts)
	case cred.AccessKey != "" && cred.SecretKey != "":
		endpoint := pc.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cred.AccessKey)
		}
		var shared *azblob.SharedKeyCredential
		shared, err = azblob.NewSharedKeyCredential(cred.AccessKey, cred.SecretKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(endpoint, shared, opts)
		}
	default:
		return nil, errors.New("azure provider requires a connection string or account credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}
	return &AzureProvider{client: client, container: pc.Bucket}, nil
}

// Name implements Provider.
func (p *AzureProvider) Name() models.CloudProvider { return models.ProviderAzure }

// Put implements Provider. The blob carries Content-MD5 and the artifact's
// SHA-256 as metadata; both length and MD5 are read back and compared.
func (p *AzureProvider) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, checksum string) error {
	h := md5.New() //nolint:gosec // G401: integrity header, not a security boundary
	if err := digestBody(h, body); err != nil {
		return transportErr(models.ProviderAzure, OpPut, key, false, fmt.Errorf("hash artifact: %w", err))
	}
	sum := h.Sum(nil)

	sha := checksum
	_, err := p.client.UploadStream(ctx, p.container, key, body, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentMD5:  sum,
			BlobContentType: to("application/octet-stream"),
		},
		Metadata: map[string]*string{"sha256": &sha},
	})
	if err != nil {
		return classifyAzure(OpPut, key, err)
	}

	props, err := p.client.ServiceClient().
		NewContainerClient(p.container).
		NewBlobClient(key).
		GetProperties(ctx, nil)
	if err != nil {
		return classifyAzure(OpPut, key, err)
	}
	if props.ContentLength == nil || *props.ContentLength != size {
		return mismatchErr(models.ProviderAzure, key, fmt.Sprintf("%d bytes", size), fmt.Sprintf("%d bytes", deref(props.ContentLength)))
	}
	if len(props.ContentMD5) > 0 && !bytes.Equal(props.ContentMD5, sum) {
		return mismatchErr(models.ProviderAzure, key, "md5:"+hex.EncodeToString(sum), "md5:"+hex.EncodeToString(props.ContentMD5))
	}
	if remote := metadataValue(props.Metadata, "sha256"); remote != "" && !strings.EqualFold(remote, checksum) {
		return mismatchErr(models.ProviderAzure, key, checksum, remote)
	}
	return nil
}

// Get implements Provider.
func (p *AzureProvider) Get(ctx context.Context, key string, w io.Writer) error {
	resp, err := p.client.DownloadStream(ctx, p.container, key, nil)
	if err != nil {
		return classifyAzure(OpGet, key, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only

	if _, err := io.Copy(w, resp.Body); err != nil {
		return transportErr(models.ProviderAzure, OpGet, key, true, err)
	}
	return nil
}

// Remove implements Provider. A missing blob counts as removed.
func (p *AzureProvider) Remove(ctx context.Context, key string) error {
	_, err := p.client.DeleteBlob(ctx, p.container, key, nil)
	if err == nil || bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return classifyAzure(OpDelete, key, err)
}

// metadataValue looks a key up case-insensitively; the service may change
// the case of metadata names.
func metadataValue(md map[string]*string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}

func classifyAzure(op, key string, err error) error {
	if bloberror.HasCode(err,
		bloberror.BlobNotFound,
		bloberror.ContainerNotFound,
		bloberror.AuthenticationFailed,
		bloberror.AuthorizationFailure,
		bloberror.InsufficientAccountPermissions,
	) {
		return transportErr(models.ProviderAzure, op, key, false, err)
	}
	if bloberror.HasCode(err, bloberror.ServerBusy, bloberror.OperationTimedOut, bloberror.InternalError) {
		return transportErr(models.ProviderAzure, op, key, true, err)
	}

	retriable := isTransientNetErr(err)
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		retriable = transientStatus(re.StatusCode)
	}
	return transportErr(models.ProviderAzure, op, key, retriable, err)
}

func to[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

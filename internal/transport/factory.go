// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package transport

import (
	"context"
	"fmt"

	"github.com/tomtom215/signalwatch/internal/config"
	"github.com/tomtom215/signalwatch/internal/logging"
	"github.com/tomtom215/signalwatch/internal/models"
)

// NewProvider constructs the provider named by pc, resolving its credential
// id against creds. Credentials stay in memory and never reach the catalog.
func NewProvider(ctx context.Context, pc config.ProviderConfig, creds map[string]config.CredentialConfig) (Provider, error) {
	var cred config.CredentialConfig
	if pc.CredentialID != "" {
		c, ok := creds[pc.CredentialID]
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown credential id %q", pc.Name, pc.CredentialID)
		}
		cred = c
	}

	switch models.CloudProvider(pc.Name) {
	case models.ProviderS3:
		return NewS3Provider(pc, cred)
	case models.ProviderGCS:
		return NewGCSProvider(ctx, pc, cred)
	case models.ProviderAzure:
		return NewAzureProvider(pc, cred)
	case models.ProviderOSS:
		return NewOSSProvider(pc, cred)
	default:
		return nil, fmt.Errorf("unknown cloud provider %q", pc.Name)
	}
}

// NewFromConfig builds a Transport with every configured provider.
func NewFromConfig(ctx context.Context, cfg *config.TransportConfig, creds map[string]config.CredentialConfig) (*Transport, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := NewProvider(ctx, pc, creds)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
		logging.Info().
			Str("provider", pc.Name).
			Str("bucket", pc.Bucket).
			Str("endpoint", pc.Endpoint).
			Str("credential_id", pc.CredentialID).
			Str("access_key", logging.SanitizeValue("access_key", creds[pc.CredentialID].AccessKey)).
			Msg("Cloud provider configured")
	}
	return New(OptionsFromConfig(cfg), providers...)
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tomtom215/signalwatch/internal/validation"
)

// credentialIDPattern keeps ids usable as koanf path segments and env names.
var credentialIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Validate checks that required configuration is present and valid. Tag
// rules run first, then cross-field checks.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	validators := []func() error{
		c.validateCatalog,
		c.validateBackup,
		c.validateTransport,
		c.validateCredentials,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateCatalog checks that the selected driver has a location.
func (c *Config) validateCatalog() error {
	switch c.Catalog.Driver {
	case CatalogPostgres:
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn is required for the postgres catalog")
		}
	default:
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is required for the %s catalog", c.Catalog.Driver)
		}
	}
	if c.Catalog.Driver == CatalogSQLite && c.Catalog.Path == c.Database.Path {
		return fmt.Errorf("catalog.path must not be the captured database")
	}
	return nil
}

// validateBackup checks delta block sizing.
func (c *Config) validateBackup() error {
	bs := c.Backup.BlockSize
	if bs&(bs-1) != 0 {
		return fmt.Errorf("backup.block_size must be a power of two, got %d", bs)
	}
	return nil
}

// validateTransport checks backoff ordering and provider uniqueness.
func (c *Config) validateTransport() error {
	t := c.Transport
	if t.InitialBackoff < 0 || t.MaxBackoff < 0 || t.CallTimeout < 0 || t.BreakerTimeout < 0 {
		return fmt.Errorf("transport durations must not be negative")
	}
	if t.MaxBackoff > 0 && t.InitialBackoff > t.MaxBackoff {
		return fmt.Errorf("transport.initial_backoff (%s) exceeds transport.max_backoff (%s)", t.InitialBackoff, t.MaxBackoff)
	}

	seen := make(map[string]bool, len(t.Providers))
	for _, p := range t.Providers {
		if seen[p.Name] {
			return fmt.Errorf("transport.providers: %s configured more than once", p.Name)
		}
		seen[p.Name] = true

		if p.CredentialID == "" {
			continue
		}
		if _, ok := c.Credentials[p.CredentialID]; !ok {
			return fmt.Errorf("transport.providers: %s references unknown credential %q", p.Name, p.CredentialID)
		}
	}
	if c.Backup.UploadAfterCapture && len(t.Providers) == 0 {
		return fmt.Errorf("backup.upload_after_capture requires at least one transport provider")
	}
	return nil
}

// validateCredentials rejects malformed ids and values that still look like
// template placeholders.
func (c *Config) validateCredentials() error {
	for id, cred := range c.Credentials {
		if !credentialIDPattern.MatchString(id) {
			return fmt.Errorf("credentials: invalid id %q (use lowercase letters, digits, '_' and '-')", id)
		}
		secrets := map[string]string{
			"secret_key":        cred.SecretKey,
			"session_token":     cred.SessionToken,
			"connection_string": cred.ConnectionString,
		}
		for field, value := range secrets {
			if value != "" && containsPlaceholder(value) {
				return fmt.Errorf("credentials.%s.%s contains a placeholder value", id, field)
			}
		}
	}
	return nil
}

// placeholderPatterns defines common placeholder patterns that indicate
// the user forgot to set a real value.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"YOUR_KEY",
	"PLACEHOLDER",
}

// containsPlaceholder checks if a value contains common placeholder patterns.
func containsPlaceholder(value string) bool {
	upperValue := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upperValue, pattern) {
			return true
		}
	}
	return false
}

// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// SanitizeSecret masks a secret, showing only the first and last 4 characters.
// Example: "wJalrXUtnFEMI/K7MDENG/bPxRfiCY" -> "wJal...fiCY"
func SanitizeSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 12 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// keywordPassword matches password=... in libpq keyword/value DSNs.
var keywordPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// SanitizeDSN removes the password from a database connection string. Both
// URL ("postgres://user:pw@host/db") and keyword ("host=x password=pw")
// forms are handled.
func SanitizeDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "***"
		}
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "***")
			}
		}
		q := u.Query()
		if q.Has("password") {
			q.Set("password", "***")
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
	return keywordPassword.ReplaceAllString(dsn, "${1}***")
}

// sensitiveKeys are configuration keys whose values must never be logged.
var sensitiveKeys = map[string]bool{
	"access_key":        true,
	"secret_key":        true,
	"session_token":     true,
	"connection_string": true,
	"password":          true,
	"token":             true,
	"dsn":               true,
}

// SanitizeValue sanitizes a value based on its key name.
func SanitizeValue(key, value string) string {
	lowerKey := strings.ToLower(key)
	if lowerKey == "dsn" {
		return SanitizeDSN(value)
	}
	if sensitiveKeys[lowerKey] {
		return SanitizeSecret(value)
	}
	return value
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package auth

import (
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"
)

// AdminKeyHeader carries the administrative credential.
const AdminKeyHeader = "X-Admin-Key"

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// ValidToken reports whether s is shaped like a playback token.
func ValidToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// ExtractAdminKey returns the admin key from the request:
// Authorization: Bearer first, then the X-Admin-Key header.
func ExtractAdminKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.Header.Get(AdminKeyHeader))
}

// AuthorizeToken returns true if got matches expected using constant-time comparison.
// Empty tokens are always treated as unauthorized.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// AuthorizeAdmin checks the request's admin key against expected.
func AuthorizeAdmin(r *http.Request, expected string) bool {
	if r == nil {
		return false
	}
	return AuthorizeToken(ExtractAdminKey(r), expected)
}

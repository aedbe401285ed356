// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package net validates outbound URLs against a host allow-list.
package net

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrSchemeNotAllowed rejects anything but http and https.
	ErrSchemeNotAllowed = errors.New("outbound url scheme not allowed")
	// ErrHostNotAllowed rejects hosts outside the allow-list.
	ErrHostNotAllowed = errors.New("outbound host not allowed")
)

// NormalizeHost validates and normalizes a host for comparison: lower case,
// no trailing dot, IDNs in ASCII form.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.ContainsAny(host, "/@%") {
		return "", fmt.Errorf("host must not include path, userinfo or zone: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// HostAllowlist matches hosts against exact names and "*.suffix" patterns.
// A wildcard matches subdomains only, not the bare suffix.
type HostAllowlist struct {
	exact    map[string]struct{}
	suffixes []string // each with a leading dot
}

// NewHostAllowlist compiles patterns. An empty list allows nothing.
func NewHostAllowlist(patterns []string) (*HostAllowlist, error) {
	a := &HostAllowlist{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(p, "*."); ok {
			host, err := NormalizeHost(rest)
			if err != nil {
				return nil, fmt.Errorf("allow-list pattern %q: %w", p, err)
			}
			a.suffixes = append(a.suffixes, "."+host)
			continue
		}
		if strings.Contains(p, "*") {
			return nil, fmt.Errorf("allow-list pattern %q: wildcard only allowed as leading *.", p)
		}
		host, err := NormalizeHost(p)
		if err != nil {
			return nil, fmt.Errorf("allow-list pattern %q: %w", p, err)
		}
		a.exact[host] = struct{}{}
	}
	return a, nil
}

// Allows reports whether host matches the allow-list.
func (a *HostAllowlist) Allows(host string) bool {
	if a == nil {
		return false
	}
	h, err := NormalizeHost(host)
	if err != nil {
		return false
	}
	if _, ok := a.exact[h]; ok {
		return true
	}
	for _, s := range a.suffixes {
		if strings.HasSuffix(h, s) && len(h) > len(s) {
			return true
		}
	}
	return false
}

// CheckURL verifies scheme and host of u.
func (a *HostAllowlist) CheckURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: %q", ErrSchemeNotAllowed, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: userinfo present", ErrHostNotAllowed)
	}
	if !a.Allows(u.Hostname()) {
		return fmt.Errorf("%w: %q", ErrHostNotAllowed, u.Hostname())
	}
	return nil
}

// ParseAndCheck parses raw and applies CheckURL.
func (a *HostAllowlist) ParseAndCheck(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrHostNotAllowed)
	}
	if err := a.CheckURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// SanitizeURL removes userinfo and query for logging. Signed media URLs carry
// credentials in the query string.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url-redacted"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

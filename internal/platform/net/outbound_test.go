// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"CDN.Example.COM.": "cdn.example.com",
		"bücher.example":   "xn--bcher-kva.example",
		"[::1]":            "::1",
		"10.0.0.1":         "10.0.0.1",
	}
	for in, want := range cases {
		got, err := NormalizeHost(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "http://x", "a/b", "user@host", "host:80", "."} {
		_, err := NormalizeHost(bad)
		assert.Error(t, err, bad)
	}
}

func TestHostAllowlist(t *testing.T) {
	a, err := NewHostAllowlist([]string{"images.example.com", "*.media.example.net", " "})
	require.NoError(t, err)

	assert.True(t, a.Allows("images.example.com"))
	assert.True(t, a.Allows("IMAGES.example.com."))
	assert.True(t, a.Allows("a.media.example.net"))
	assert.True(t, a.Allows("x.y.media.example.net"))
	assert.False(t, a.Allows("media.example.net"), "wildcard excludes the bare suffix")
	assert.False(t, a.Allows("evilmedia.example.net"))
	assert.False(t, a.Allows("example.com"))
	assert.False(t, a.Allows("169.254.169.254"))

	empty, err := NewHostAllowlist(nil)
	require.NoError(t, err)
	assert.False(t, empty.Allows("images.example.com"))

	var nilList *HostAllowlist
	assert.False(t, nilList.Allows("images.example.com"))
}

func TestNewHostAllowlist_RejectsBadPatterns(t *testing.T) {
	for _, p := range []string{"cdn*.example.com", "*.", "https://x.example.com"} {
		_, err := NewHostAllowlist([]string{p})
		assert.Error(t, err, p)
	}
}

func TestParseAndCheck(t *testing.T) {
	a, err := NewHostAllowlist([]string{"cdn.example.com"})
	require.NoError(t, err)

	_, err = a.ParseAndCheck("https://cdn.example.com/a.mp3?sig=1")
	assert.NoError(t, err)
	_, err = a.ParseAndCheck("ftp://cdn.example.com/a.mp3")
	assert.ErrorIs(t, err, ErrSchemeNotAllowed)
	_, err = a.ParseAndCheck("file:///etc/passwd")
	assert.ErrorIs(t, err, ErrHostNotAllowed)
	_, err = a.ParseAndCheck("http://other.example.com/a.mp3")
	assert.ErrorIs(t, err, ErrHostNotAllowed)
	_, err = a.ParseAndCheck("https://user:pw@cdn.example.com/a.mp3")
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestSanitizeURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a.mp3", SanitizeURL("https://u:p@cdn.example.com/a.mp3?token=secret#x"))
	assert.Equal(t, "invalid-url-redacted", SanitizeURL("://bad"))
}

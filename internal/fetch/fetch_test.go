// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pnet "github.com/ManuGH/tune2hls/internal/platform/net"
)

func newFetcher(t *testing.T, maxBytes int64, timeout time.Duration) *Fetcher {
	t.Helper()
	allow, err := pnet.NewHostAllowlist([]string{"127.0.0.1"})
	require.NoError(t, err)
	return New(Options{Allow: allow, MaxBytes: maxBytes, Timeout: timeout, Logger: zerolog.Nop()})
}

// assertEmptyDir fails if dir holds any file, including renameio temp files.
func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetch_Success(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/audio.mp3", http.StatusFound)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "audio")
	got, err := newFetcher(t, 1<<20, 5*time.Second).Fetch(context.Background(), srv.URL+"/start", dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the committed file remains")
}

func TestFetch_RedirectToDisallowedHost(t *testing.T) {
	var evilHits atomic.Int32
	evil := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		evilHits.Add(1)
		_, _ = w.Write([]byte("secret"))
	}))
	defer evil.Close()
	evilURL, err := url.Parse(evil.URL)
	require.NoError(t, err)
	// Same server reached through a name that is not allow-listed.
	target := fmt.Sprintf("http://localhost:%s/meta", evilURL.Port())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err = newFetcher(t, 1<<20, 5*time.Second).Fetch(context.Background(), srv.URL, filepath.Join(dir, "audio"))
	require.ErrorIs(t, err, ErrHostNotAllowed)
	assert.Zero(t, evilHits.Load())
	assertEmptyDir(t, dir)
}

func TestFetch_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := newFetcher(t, 1<<20, 5*time.Second).Fetch(context.Background(), srv.URL+"/r", filepath.Join(dir, "a"))
	require.ErrorIs(t, err, ErrTooManyRedirects)
	assertEmptyDir(t, dir)
}

func TestFetch_DeclaredLengthTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write(bytes.Repeat([]byte("b"), 2048))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := newFetcher(t, 1024, 5*time.Second).Fetch(context.Background(), srv.URL, filepath.Join(dir, "a"))
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "declared")
	assertEmptyDir(t, dir)
}

func TestFetch_StreamedBodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing before the body forces chunked encoding with no length.
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for i := 0; i < 4; i++ {
			_, _ = w.Write(bytes.Repeat([]byte("c"), 512))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := newFetcher(t, 1024, 5*time.Second).Fetch(context.Background(), srv.URL, filepath.Join(dir, "a"))
	require.ErrorIs(t, err, ErrTooLarge)
	assertEmptyDir(t, dir)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := newFetcher(t, 1<<20, 100*time.Millisecond).Fetch(context.Background(), srv.URL, filepath.Join(dir, "a"))
	require.ErrorIs(t, err, ErrTimeout)
	assertEmptyDir(t, dir)
}

func TestFetch_Rejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newFetcher(t, 1024, time.Second)
	dir := t.TempDir()

	_, err := f.Fetch(context.Background(), srv.URL+"/missing", filepath.Join(dir, "a"))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	_, err = f.Fetch(context.Background(), strings.Replace(srv.URL, "http", "ftp", 1), filepath.Join(dir, "a"))
	assert.ErrorIs(t, err, ErrSchemeNotAllowed)

	_, err = f.Fetch(context.Background(), "http://example.com/a.mp3", filepath.Join(dir, "a"))
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	assertEmptyDir(t, dir)
}

func TestFetch_ParentCancelIsNotTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := newFetcher(t, 1024, 5*time.Second).Fetch(ctx, srv.URL, filepath.Join(t.TempDir(), "a"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, "not_allowed", reasonFor(fmt.Errorf("x: %w", ErrHostNotAllowed)))
	assert.Equal(t, "too_large", reasonFor(ErrTooLarge))
	assert.Equal(t, "status", reasonFor(&StatusError{StatusCode: 500}))
	assert.Equal(t, "io", reasonFor(os.ErrClosed))
}

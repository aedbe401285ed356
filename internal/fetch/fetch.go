// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fetch downloads remote media into local files under host, size,
// redirect and time limits. A failed fetch never leaves a file behind.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tune2hls/internal/log"
	"github.com/ManuGH/tune2hls/internal/metrics"
	"github.com/ManuGH/tune2hls/internal/platform/httpx"
	pnet "github.com/ManuGH/tune2hls/internal/platform/net"
)

// MaxRedirects is the number of redirects followed before giving up.
const MaxRedirects = 5

var (
	ErrHostNotAllowed   = pnet.ErrHostNotAllowed
	ErrSchemeNotAllowed = pnet.ErrSchemeNotAllowed
	ErrTooLarge         = errors.New("fetch: response exceeds size limit")
	ErrTimeout          = errors.New("fetch: timed out")
	ErrTooManyRedirects = errors.New("fetch: too many redirects")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: unexpected status %d", e.StatusCode)
}

// Options configures a Fetcher.
type Options struct {
	Allow    *pnet.HostAllowlist
	MaxBytes int64
	Timeout  time.Duration
	// Client overrides the default traced client. Its CheckRedirect is
	// replaced by the allow-list policy.
	Client *http.Client
	Logger zerolog.Logger
}

// Fetcher downloads allow-listed URLs.
type Fetcher struct {
	allow    *pnet.HostAllowlist
	maxBytes int64
	timeout  time.Duration
	client   *http.Client
	logger   zerolog.Logger
}

// New returns a Fetcher. A zero MaxBytes or Timeout disables that limit.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		allow:    opts.Allow,
		maxBytes: opts.MaxBytes,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
	if opts.Client != nil {
		c := *opts.Client
		c.CheckRedirect = f.checkRedirect
		f.client = &c
	} else {
		// The per-request context carries the deadline, so the client has none.
		f.client = httpx.NewClient(httpx.Options{
			CheckRedirect: f.checkRedirect,
			SpanName:      "fetch",
		})
	}
	return f
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= MaxRedirects {
		return ErrTooManyRedirects
	}
	if err := f.allow.CheckURL(req.URL); err != nil {
		return err
	}
	return nil
}

// Fetch downloads rawURL to dest and returns dest.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) (string, error) {
	return f.FetchKind(ctx, "media", rawURL, dest)
}

// FetchKind is Fetch with a media kind label ("audio", "cover") for metrics.
func (f *Fetcher) FetchKind(ctx context.Context, kind, rawURL, dest string) (string, error) {
	logger := f.logger.With().
		Str(xglog.FieldURL, pnet.SanitizeURL(rawURL)).
		Str("kind", kind).
		Logger()

	n, err := f.fetch(ctx, rawURL, dest)
	if err != nil {
		metrics.IncFetchError(reasonFor(err))
		logger.Debug().Err(err).Msg("fetch failed")
		return "", err
	}
	metrics.AddFetchBytes(kind, n)
	logger.Debug().Int64(xglog.FieldBytes, n).Msg("fetch complete")
	return dest, nil
}

func (f *Fetcher) fetch(parent context.Context, rawURL, dest string) (int64, error) {
	u, err := f.allow.ParseAndCheck(rawURL)
	if err != nil {
		return 0, err
	}

	ctx := parent
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, f.timeout)
		defer cancel()
	}
	timedOut := func(err error) error {
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, f.timeout)
		}
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, timedOut(fmt.Errorf("fetch: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return 0, fmt.Errorf("%w: declared %d > %d bytes", ErrTooLarge, resp.ContentLength, f.maxBytes)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("fetch: create dest dir: %w", err)
	}
	pf, err := renameio.NewPendingFile(dest, renameio.WithTempDir(filepath.Dir(dest)), renameio.WithPermissions(0o644))
	if err != nil {
		return 0, fmt.Errorf("fetch: create temp file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		// One byte over the limit is enough to detect an overrun.
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	n, err := io.Copy(pf, body)
	if err != nil {
		return 0, timedOut(fmt.Errorf("fetch: read body: %w", err))
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("fetch: commit: %w", err)
	}
	return n, nil
}

func reasonFor(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, ErrHostNotAllowed), errors.Is(err, ErrSchemeNotAllowed):
		return "not_allowed"
	case errors.Is(err, ErrTooManyRedirects):
		return "redirects"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "io"
	}
}

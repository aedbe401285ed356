// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package upstream is the client for the music metadata service: playlist
// listings and signed audio URLs. Calls are paced, guarded by a circuit
// breaker and never retried here.
package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ManuGH/tune2hls/internal/cache"
	xglog "github.com/ManuGH/tune2hls/internal/log"
	"github.com/ManuGH/tune2hls/internal/platform/httpx"
	"github.com/ManuGH/tune2hls/internal/resilience"
)

var (
	// ErrNotFound is returned for unknown playlists or tracks.
	ErrNotFound = errors.New("upstream: not found")
	// ErrUnauthorized is returned when the credential is rejected.
	ErrUnauthorized = errors.New("upstream: unauthorized")
	// ErrUnavailable wraps transport failures and 5xx answers.
	ErrUnavailable = errors.New("upstream: unavailable")
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRPS       = 10
	defaultMemoTTL   = time.Minute
	maxResponseBytes = 8 << 20
)

// Track is upstream track metadata.
type Track struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Duration float64 `json:"duration"`
	Cover    string  `json:"cover,omitempty"`
}

// DisplayName is "Artist - Title", or whichever part is known.
func (t Track) DisplayName() string {
	switch {
	case t.Artist != "" && t.Title != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	default:
		return t.Artist
	}
}

// Playlist is an ordered track listing.
type Playlist struct {
	Name   string  `json:"name"`
	Cover  string  `json:"cover,omitempty"`
	Tracks []Track `json:"tracks"`
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RPS paces outgoing calls; Burst defaults to twice RPS.
	RPS   float64
	Burst int
	// Memo caches playlists for MemoTTL. Nil uses an in-memory cache.
	Memo    cache.Cache[Playlist]
	MemoTTL time.Duration
	Breaker *resilience.CircuitBreaker
	Client  *http.Client
	Logger  zerolog.Logger
}

// Client talks to the metadata service.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	memo    cache.Cache[Playlist]
	memoTTL time.Duration
	group   singleflight.Group
	logger  zerolog.Logger
}

// New returns a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream: invalid base url %q", opts.BaseURL)
	}
	opts = normalizeOptions(opts)
	c := &Client{
		baseURL: base,
		http:    opts.Client,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		breaker: opts.Breaker,
		memo:    opts.Memo,
		memoTTL: opts.MemoTTL,
		logger:  opts.Logger,
	}
	if c.http == nil {
		c.http = httpx.NewClient(httpx.Options{Timeout: opts.Timeout, SpanName: "upstream"})
	}
	return c, nil
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RPS <= 0 {
		opts.RPS = defaultRPS
	}
	if opts.Burst <= 0 {
		opts.Burst = max(int(opts.RPS*2), 1)
	}
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = defaultMemoTTL
	}
	if opts.Memo == nil {
		opts.Memo = cache.NewMemory[Playlist](cache.MemoryOptions{MaxEntries: 256, Name: "upstream_playlist"})
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker("upstream", 5, 30*time.Second,
			resilience.WithIgnore(func(err error) bool {
				return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled)
			}))
	}
	return opts
}

// PlaylistTracks returns the playlist, served from the memo when fresh.
// Concurrent callers for the same playlist and credential share one request.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID, credential string) (*Playlist, error) {
	key := memoKey(playlistID, credential)
	if p, ok := c.memo.Get(key); ok {
		return &p, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		var p Playlist
		if err := c.get(ctx, "/playlists/"+url.PathEscape(playlistID), credential, &p); err != nil {
			return nil, err
		}
		c.memo.Set(key, p, c.memoTTL)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := v.(Playlist)
	return &p, nil
}

// TrackAudioURL returns a signed audio URL for the track. An empty string
// with a nil error means the track has no playable audio.
func (c *Client) TrackAudioURL(ctx context.Context, trackID, credential string) (string, error) {
	var body struct {
		URL string `json:"url"`
	}
	err := c.get(ctx, "/tracks/"+url.PathEscape(trackID)+"/stream", credential, &body)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return body.URL, nil
}

// Invalidate drops a memoised playlist.
func (c *Client) Invalidate(playlistID, credential string) {
	c.memo.Delete(memoKey(playlistID, credential))
}

func (c *Client) get(ctx context.Context, path, credential string, v any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path

	logger := c.logger.With().Str(xglog.FieldURL, u.Path).Logger()
	return c.breaker.Execute(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if credential != "" {
			req.Header.Set("Authorization", "Bearer "+credential)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			logger.Warn().Err(err).Msg("upstream request failed")
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()
		logger.Debug().Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("upstream request")

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrUnauthorized
		case resp.StatusCode != http.StatusOK:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// memoKey hashes the credential so it never sits in a cache key.
func memoKey(playlistID, credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return playlistID + ":" + hex.EncodeToString(sum[:8])
}

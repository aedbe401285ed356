// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/tune2hls/internal/transcoder"
)

// DefaultSegmentBytes is above the store's minimum valid segment size.
const DefaultSegmentBytes = 2048

// FakeEncoder implements transcoder.Runner without ffmpeg: it writes segment
// files and a VOD playlist where the real encoder would.
type FakeEncoder struct {
	// Durations are the segment lengths written. Empty writes a playlist
	// with no segments.
	Durations    []float64
	SegmentBytes int
	// Err makes Run fail without writing output.
	Err error
	// Gate, when set, blocks Run until it is closed or ctx ends.
	Gate chan struct{}

	mu       sync.Mutex
	calls    int
	lastArgs []string
}

// NewFakeEncoder returns an encoder producing the given durations.
func NewFakeEncoder(durations ...float64) *FakeEncoder {
	return &FakeEncoder{Durations: durations, SegmentBytes: DefaultSegmentBytes}
}

// Run implements transcoder.Runner.
func (f *FakeEncoder) Run(ctx context.Context, args []string) (transcoder.Result, error) {
	f.mu.Lock()
	f.calls++
	f.lastArgs = append([]string(nil), args...)
	f.mu.Unlock()

	start := time.Now()
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return transcoder.Result{ExitCode: -1, Elapsed: time.Since(start)}, ctx.Err()
		}
	}
	if f.Err != nil {
		return transcoder.Result{ExitCode: 1, Stderr: f.Err.Error(), Elapsed: time.Since(start)}, f.Err
	}

	pattern := argAfter(args, "-hls_segment_filename")
	if pattern == "" || len(args) == 0 {
		return transcoder.Result{ExitCode: 1}, fmt.Errorf("fake encoder: no output pattern")
	}
	playlist := args[len(args)-1]
	size := f.SegmentBytes
	if size <= 0 {
		size = DefaultSegmentBytes
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i, d := range f.Durations {
		name := fmt.Sprintf(filepath.Base(pattern), i)
		if err := os.WriteFile(filepath.Join(filepath.Dir(pattern), name), make([]byte, size), 0o644); err != nil {
			return transcoder.Result{ExitCode: 1}, err
		}
		fmt.Fprintf(&b, "#EXTINF:%f,\n%s\n", d, name)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	if err := os.WriteFile(playlist, []byte(b.String()), 0o644); err != nil {
		return transcoder.Result{ExitCode: 1}, err
	}
	return transcoder.Result{Elapsed: time.Since(start)}, nil
}

// Calls returns the number of Run invocations.
func (f *FakeEncoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastArgs returns the arguments of the latest Run.
func (f *FakeEncoder) LastArgs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lastArgs...)
}

func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// FakeFetcher implements transcoder.Fetcher by writing the URL into dest.
type FakeFetcher struct {
	// Fail maps a media kind ("audio", "cover") to the error it returns.
	Fail map[string]error

	mu    sync.Mutex
	calls map[string]int
}

// FetchKind implements transcoder.Fetcher.
func (f *FakeFetcher) FetchKind(ctx context.Context, kind, rawURL, dest string) (string, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[kind]++
	err := f.Fail[kind]
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, []byte(kind+":"+rawURL), 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

// Calls returns how often kind was fetched.
func (f *FakeFetcher) Calls(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

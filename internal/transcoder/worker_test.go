// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tune2hls/internal/segstore"
	"github.com/ManuGH/tune2hls/internal/testutil"
	"github.com/ManuGH/tune2hls/internal/transcoder"
)

var testCfg = transcoder.Config{Width: 1280, Height: 720, FPS: 1, SegmentSeconds: 10, Threads: 2}

func newStore(t *testing.T) *segstore.Store {
	t.Helper()
	s, err := segstore.New(segstore.Config{
		Root:        t.TempDir(),
		Width:       testCfg.Width,
		Height:      testCfg.Height,
		MaxAge:      time.Hour,
		MaxBytes:    1 << 30,
		TargetRatio: 0.8,
		MemoEntries: 10,
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func assertNoScratch(t *testing.T, store *segstore.Store) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(store.Root(), ".tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries, "attempt dirs must be removed")
}

func request() transcoder.Request {
	return transcoder.Request{
		TrackID:      "42",
		AudioURL:     "https://cdn.example.com/42.mp3",
		CoverURL:     "https://img.example.com/42.jpg",
		DurationHint: 23.5,
	}
}

func TestGenerate_Success(t *testing.T) {
	store := newStore(t)
	enc := testutil.NewFakeEncoder(10, 10, 3.5)
	fetcher := &testutil.FakeFetcher{}
	w := transcoder.NewWorker(testCfg, fetcher, store, enc, zerolog.Nop())

	m, err := w.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 3, m.SegmentCount)
	assert.Equal(t, []float64{10, 10, 3.5}, m.Durations)
	assert.Equal(t, segstore.FormatVersion, m.Version)
	assert.True(t, store.IsValid("42"))

	for i := 0; i < 3; i++ {
		p, err := store.SegmentPath("42", i)
		require.NoError(t, err)
		assert.FileExists(t, p)
	}
	assert.Equal(t, 1, fetcher.Calls("audio"))
	assert.Equal(t, 1, fetcher.Calls("cover"))
	assert.Contains(t, enc.LastArgs(), "-loop", "cover is used as still image")
	assertNoScratch(t, store)
}

func TestGenerate_CoverFailureFallsBack(t *testing.T) {
	store := newStore(t)
	enc := testutil.NewFakeEncoder(10)
	fetcher := &testutil.FakeFetcher{Fail: map[string]error{"cover": errors.New("404")}}
	w := transcoder.NewWorker(testCfg, fetcher, store, enc, zerolog.Nop())

	_, err := w.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Contains(t, enc.LastArgs(), "lavfi")
	assert.True(t, store.IsValid("42"))
}

func TestGenerate_AudioFetchFailure(t *testing.T) {
	store := newStore(t)
	enc := testutil.NewFakeEncoder(10)
	boom := errors.New("connection reset")
	fetcher := &testutil.FakeFetcher{Fail: map[string]error{"audio": boom}}
	w := transcoder.NewWorker(testCfg, fetcher, store, enc, zerolog.Nop())

	_, err := w.Generate(context.Background(), request())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, transcoder.PhaseFetchAudio, transcoder.PhaseOf(err))
	assert.Zero(t, enc.Calls())
	assert.False(t, store.IsValid("42"))
	assert.NoDirExists(t, filepath.Join(store.Root(), "42"))
	assertNoScratch(t, store)
}

func TestGenerate_EncoderFailure(t *testing.T) {
	store := newStore(t)
	enc := testutil.NewFakeEncoder()
	enc.Err = &transcoder.EncodeError{ExitCode: 1, Stderr: "Invalid data found"}
	w := transcoder.NewWorker(testCfg, &testutil.FakeFetcher{}, store, enc, zerolog.Nop())

	_, err := w.Generate(context.Background(), request())
	var ee *transcoder.EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, transcoder.PhaseEncode, transcoder.PhaseOf(err))
	assert.NoDirExists(t, filepath.Join(store.Root(), "42"))
	assertNoScratch(t, store)
}

func TestGenerate_NoSegments(t *testing.T) {
	store := newStore(t)
	w := transcoder.NewWorker(testCfg, &testutil.FakeFetcher{}, store, testutil.NewFakeEncoder(), zerolog.Nop())

	_, err := w.Generate(context.Background(), request())
	require.ErrorIs(t, err, transcoder.ErrNoSegments)
	assert.Equal(t, transcoder.PhaseParse, transcoder.PhaseOf(err))
	assertNoScratch(t, store)
}

func TestGenerate_ReplacesStaleTrackDir(t *testing.T) {
	store := newStore(t)
	dir := filepath.Join(store.Root(), "42")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_007.ts"), []byte("stale"), 0o644))

	w := transcoder.NewWorker(testCfg, &testutil.FakeFetcher{}, store, testutil.NewFakeEncoder(10, 4), zerolog.Nop())
	_, err := w.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "segment_007.ts"))
	assert.True(t, store.IsValid("42"))
}

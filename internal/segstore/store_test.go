// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package segstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocks struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (f *fakeLocks) InFlight(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id]
}

func (f *fakeLocks) set(id string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids == nil {
		f.ids = map[string]bool{}
	}
	f.ids[id] = v
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig(root string) Config {
	return Config{
		Root:        root,
		Width:       1280,
		Height:      720,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    1 << 30,
		TargetRatio: 0.8,
		MemoEntries: 10,
	}
}

func newTestStore(t *testing.T, cfg Config, locks LockChecker) *Store {
	t.Helper()
	s, err := New(cfg, locks, zerolog.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return baseTime }
	t.Cleanup(s.Close)
	return s
}

// writeSegments creates n segment files of size bytes in dir.
func writeSegments(t *testing.T, dir string, n, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, SegmentName(i)), make([]byte, size), 0o644))
	}
}

// seedTrack writes a complete entry directly, bypassing Publish.
func seedTrack(t *testing.T, s *Store, id string, segs, size int, created time.Time) {
	t.Helper()
	dir := filepath.Join(s.Root(), id)
	writeSegments(t, dir, segs, size)
	durs := make([]float64, segs)
	for i := range durs {
		durs[i] = 10
	}
	require.NoError(t, writeManifest(filepath.Join(dir, ManifestFile), &Manifest{
		Version: FormatVersion, Width: 1280, Height: 720,
		SegmentCount: segs, Durations: durs, CreatedAt: created,
	}))
}

func TestPublish_ThenLookup(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)

	attempt, err := s.NewAttemptDir("101")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), ".tmp"), filepath.Dir(attempt))
	writeSegments(t, attempt, 3, 2048)

	m, err := s.Publish("101", attempt, []float64{10, 10, 3.5})
	require.NoError(t, err)
	assert.Equal(t, 3, m.SegmentCount)
	assert.Equal(t, baseTime, m.CreatedAt)

	got, ok := s.Lookup("101")
	require.True(t, ok)
	assert.Equal(t, []float64{10, 10, 3.5}, got.Durations)
	assert.InDelta(t, 23.5, got.TotalDuration(), 1e-9)

	_, err = os.Stat(filepath.Join(attempt, SegmentName(0)))
	assert.True(t, os.IsNotExist(err), "segments are moved, not copied")

	p, err := s.SegmentPath("101", 2)
	require.NoError(t, err)
	assert.FileExists(t, p)
}

func TestPublish_ReplacesStaleContent(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	seedTrack(t, s, "7", 5, 2048, baseTime.Add(-time.Hour))

	attempt, err := s.NewAttemptDir("7")
	require.NoError(t, err)
	writeSegments(t, attempt, 2, 2048)
	_, err = s.Publish("7", attempt, []float64{10, 4})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(s.Root(), "7", SegmentName(4)))
	assert.True(t, os.IsNotExist(err))
	m, ok := s.Lookup("7")
	require.True(t, ok)
	assert.Equal(t, 2, m.SegmentCount)
}

func TestPublish_MissingSegmentLeavesNothing(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	attempt, err := s.NewAttemptDir("8")
	require.NoError(t, err)
	writeSegments(t, attempt, 1, 2048)

	_, err = s.Publish("8", attempt, []float64{10, 10})
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(s.Root(), "8"))
	assert.False(t, s.IsValid("8"))
}

func TestLookup_InvalidEntries(t *testing.T) {
	root := t.TempDir()
	s := newTestStore(t, testConfig(root), nil)

	seedTrack(t, s, "fresh", 2, 2048, baseTime.Add(-time.Hour))
	seedTrack(t, s, "old", 2, 2048, baseTime.Add(-8*24*time.Hour))
	seedTrack(t, s, "tiny", 2, 100, baseTime)
	seedTrack(t, s, "holes", 3, 2048, baseTime)
	require.NoError(t, os.Remove(filepath.Join(root, "holes", SegmentName(1))))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "corrupt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "corrupt", ManifestFile), []byte("{oops"), 0o644))

	assert.True(t, s.IsValid("fresh"))
	assert.False(t, s.IsValid("old"), "expired")
	assert.False(t, s.IsValid("tiny"), "segments under minimum size")
	assert.False(t, s.IsValid("holes"), "missing segment")
	assert.False(t, s.IsValid("corrupt"), "corrupt manifest is a miss")
	assert.False(t, s.IsValid("absent"))

	other := testConfig(root)
	other.Width, other.Height = 1920, 1080
	s2 := newTestStore(t, other, nil)
	assert.False(t, s2.IsValid("fresh"), "dimension mismatch")
}

func TestLookup_VersionMismatch(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	dir := filepath.Join(s.Root(), "5")
	writeSegments(t, dir, 1, 2048)
	require.NoError(t, writeManifest(filepath.Join(dir, ManifestFile), &Manifest{
		Version: FormatVersion - 1, Width: 1280, Height: 720,
		SegmentCount: 1, Durations: []float64{10}, CreatedAt: baseTime,
	}))
	assert.False(t, s.IsValid("5"))
}

func TestLookup_DropsMemoWhenSegmentVanishes(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	seedTrack(t, s, "9", 2, 2048, baseTime)
	require.True(t, s.IsValid("9"))
	assert.Equal(t, 1, s.memo.Len())

	require.NoError(t, os.Remove(filepath.Join(s.Root(), "9", SegmentName(0))))
	assert.False(t, s.IsValid("9"))
	assert.Equal(t, 0, s.memo.Len())
}

func TestTrackDir_RejectsUnsafeIDs(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	for _, id := range []string{"", "../etc", ".tmp", "a/b", "x y"} {
		_, err := s.TrackDir(id)
		assert.ErrorIs(t, err, ErrInvalidTrackID, id)
	}
	_, err := s.SegmentPath("1", -1)
	assert.ErrorIs(t, err, ErrSegmentOutOfRange)
}

func TestPurge_SkipsInFlightAndClearsMemo(t *testing.T) {
	locks := &fakeLocks{}
	s := newTestStore(t, testConfig(t.TempDir()), locks)
	seedTrack(t, s, "1", 1, 2048, baseTime)
	seedTrack(t, s, "2", 1, 2048, baseTime)
	require.True(t, s.IsValid("1"))
	locks.set("2", true)

	n, err := s.Purge()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, filepath.Join(s.Root(), "1"))
	assert.DirExists(t, filepath.Join(s.Root(), "2"))
	assert.DirExists(t, filepath.Join(s.Root(), ".tmp"))
	assert.Equal(t, 0, s.memo.Len())
}

func TestStats(t *testing.T) {
	locks := &fakeLocks{}
	s := newTestStore(t, testConfig(t.TempDir()), locks)
	seedTrack(t, s, "new", 2, 2048, baseTime.Add(-time.Minute))
	seedTrack(t, s, "old", 1, 4096, baseTime.Add(-time.Hour))
	locks.set("new", true)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Tracks, 2)
	assert.Equal(t, "old", st.Tracks[0].TrackID)
	assert.InDelta(t, 3600, st.Tracks[0].AgeSeconds, 0.001)
	assert.Equal(t, 2, st.Tracks[1].Segments)
	assert.True(t, st.Tracks[1].InFlight)
	assert.Greater(t, st.TotalBytes, int64(4096+2*2048))
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package segstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackBytes(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	n, err := dirSize(filepath.Join(s.Root(), id))
	require.NoError(t, err)
	return n
}

func TestSweep_AgeRule(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	seedTrack(t, s, "young", 1, 2048, baseTime.Add(-24*time.Hour))
	seedTrack(t, s, "ancient", 1, 2048, baseTime.Add(-30*24*time.Hour))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedAge)
	assert.Equal(t, 0, res.RemovedSize)
	assert.NoDirExists(t, filepath.Join(s.Root(), "ancient"))
	assert.DirExists(t, filepath.Join(s.Root(), "young"))
}

func TestSweep_SizeRuleOldestFirst(t *testing.T) {
	cfg := testConfig(t.TempDir())
	s := newTestStore(t, cfg, nil)

	// Four tracks of equal size, ages 4h..1h.
	for i, id := range []string{"a", "b", "c", "d"} {
		seedTrack(t, s, id, 2, 10_000, baseTime.Add(-time.Duration(4-i)*time.Hour))
	}
	per := trackBytes(t, s, "a")

	// Cap at 3.5 tracks, target ratio 0.6 -> 2.1 tracks: keep the two newest.
	s.cfg.MaxBytes = per*3 + per/2
	s.cfg.TargetRatio = 0.6

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemovedSize)
	assert.NoDirExists(t, filepath.Join(s.Root(), "a"))
	assert.NoDirExists(t, filepath.Join(s.Root(), "b"))
	assert.DirExists(t, filepath.Join(s.Root(), "c"))
	assert.DirExists(t, filepath.Join(s.Root(), "d"))
	assert.LessOrEqual(t, res.TotalBytes, int64(float64(s.cfg.MaxBytes)*s.cfg.TargetRatio))
}

func TestSweep_NeverDeletesInFlight(t *testing.T) {
	locks := &fakeLocks{}
	s := newTestStore(t, testConfig(t.TempDir()), locks)
	seedTrack(t, s, "oldest", 2, 10_000, baseTime.Add(-3*time.Hour))
	seedTrack(t, s, "middle", 2, 10_000, baseTime.Add(-2*time.Hour))
	seedTrack(t, s, "expired", 1, 2048, baseTime.Add(-30*24*time.Hour))
	seedTrack(t, s, "newest", 2, 10_000, baseTime.Add(-time.Hour))
	per := trackBytes(t, s, "oldest")

	locks.set("oldest", true)
	locks.set("expired", true)
	s.cfg.MaxBytes = per * 2
	s.cfg.TargetRatio = 0.5

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(s.Root(), "oldest"), "in-flight beats size rule")
	assert.DirExists(t, filepath.Join(s.Root(), "expired"), "in-flight beats age rule")
	assert.NoDirExists(t, filepath.Join(s.Root(), "middle"))
	assert.NoDirExists(t, filepath.Join(s.Root(), "newest"))
	assert.Equal(t, 0, res.RemovedAge)
	assert.Equal(t, 2, res.RemovedSize)
	assert.GreaterOrEqual(t, res.Protected, 2)
}

func TestSweep_UsesDirMtimeWithoutManifest(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	dir := filepath.Join(s.Root(), "orphan")
	writeSegments(t, dir, 1, 2048)
	old := baseTime.Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(dir, old, old))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedAge)
}

func TestSweep_SkipsTmpAndCoalesces(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	attempt, err := s.NewAttemptDir("1")
	require.NoError(t, err)
	old := baseTime.Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), ".tmp"), old, old))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
	assert.DirExists(t, attempt)

	s.sweepMu.Lock()
	res, err = s.Sweep(context.Background())
	s.sweepMu.Unlock()
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestRequestSweep_FoldsRequests(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	seedTrack(t, s, "ancient", 1, 2048, baseTime.Add(-30*24*time.Hour))

	s.RequestSweep(200 * time.Millisecond)
	s.timerMu.Lock()
	first := s.sweepTimer
	s.timerMu.Unlock()
	s.RequestSweep(200 * time.Millisecond)
	s.timerMu.Lock()
	assert.Same(t, first, s.sweepTimer)
	s.timerMu.Unlock()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.Root(), "ancient"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_CancelsPendingSweep(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	seedTrack(t, s, "ancient", 1, 2048, baseTime.Add(-30*24*time.Hour))

	s.RequestSweep(time.Hour)
	s.Close()
	s.RequestSweep(time.Millisecond) // ignored after close
	time.Sleep(20 * time.Millisecond)
	assert.DirExists(t, filepath.Join(s.Root(), "ancient"))
}

func TestCleanupTemp(t *testing.T) {
	s := newTestStore(t, testConfig(t.TempDir()), nil)
	stale, err := s.NewAttemptDir("1")
	require.NoError(t, err)
	fresh, err := s.NewAttemptDir("1")
	require.NoError(t, err)
	assert.NotEqual(t, stale, fresh, "attempt dirs are unique")

	old := baseTime.Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(fresh, baseTime, baseTime))

	n, err := s.CleanupTemp(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
}

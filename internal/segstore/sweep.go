// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package segstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/tune2hls/internal/metrics"
)

// SweepResult summarises one eviction sweep.
type SweepResult struct {
	// Skipped is set when another sweep was already running.
	Skipped     bool
	Scanned     int
	RemovedAge  int
	RemovedSize int
	// Protected counts eligible directories spared because a job owns them.
	Protected  int
	FreedBytes int64
	// TotalBytes is the cache size after the sweep.
	TotalBytes int64
}

type trackUsage struct {
	id    string
	dir   string
	bytes int64
	stamp time.Time
	segs  int
}

// Sweep applies the age rule, then deletes oldest-first while the cache is
// above MaxBytes until it is at or below MaxBytes*TargetRatio. Directories of
// in-flight tracks are never deleted. Concurrent calls are coalesced: only one
// sweep runs, the others return with Skipped set.
func (s *Store) Sweep(ctx context.Context) (SweepResult, error) {
	if !s.sweepMu.TryLock() {
		return SweepResult{Skipped: true}, nil
	}
	defer s.sweepMu.Unlock()

	start := time.Now()
	defer func() { metrics.CacheSweepDuration.Observe(time.Since(start).Seconds()) }()

	usages, err := s.scan(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Scanned: len(usages)}
	now := s.now()
	kept := make([]trackUsage, 0, len(usages))
	var total int64

	for _, u := range usages {
		if s.cfg.MaxAge > 0 && now.Sub(u.stamp) > s.cfg.MaxAge {
			if s.evict(u, &res) {
				res.RemovedAge++
				res.FreedBytes += u.bytes
				continue
			}
		}
		kept = append(kept, u)
		total += u.bytes
	}

	if s.cfg.MaxBytes > 0 && total > s.cfg.MaxBytes {
		target := int64(float64(s.cfg.MaxBytes) * s.cfg.TargetRatio)
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].stamp.Before(kept[j].stamp) })
		for _, u := range kept {
			if total <= target {
				break
			}
			if err := ctx.Err(); err != nil {
				res.TotalBytes = total
				return res, err
			}
			if s.evict(u, &res) {
				res.RemovedSize++
				res.FreedBytes += u.bytes
				total -= u.bytes
			}
		}
	}

	res.TotalBytes = total
	metrics.RecordEviction("age", res.RemovedAge)
	metrics.RecordEviction("size", res.RemovedSize)
	metrics.SetCacheSize(total, res.Scanned-res.RemovedAge-res.RemovedSize)

	if res.RemovedAge+res.RemovedSize > 0 || res.Protected > 0 {
		s.logger.Info().
			Int("removed_age", res.RemovedAge).
			Int("removed_size", res.RemovedSize).
			Int("protected", res.Protected).
			Int64("freed_bytes", res.FreedBytes).
			Int64("total_bytes", res.TotalBytes).
			Msg("cache sweep finished")
	}
	return res, nil
}

// evict removes one directory unless it is in flight. The lock is checked
// immediately before deletion.
func (s *Store) evict(u trackUsage, res *SweepResult) bool {
	if s.locks.InFlight(u.id) {
		res.Protected++
		return false
	}
	if err := os.RemoveAll(u.dir); err != nil {
		s.logger.Warn().Err(err).Str("track_id", u.id).Msg("evict track dir")
		return false
	}
	s.memo.Delete(u.id)
	return true
}

// RequestSweep schedules a sweep after delay. Requests arriving while one is
// pending are folded into it.
func (s *Store) RequestSweep(delay time.Duration) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.closed || s.sweepTimer != nil {
		return
	}
	s.sweepWG.Add(1)
	s.sweepTimer = time.AfterFunc(delay, func() {
		defer s.sweepWG.Done()
		s.timerMu.Lock()
		s.sweepTimer = nil
		s.timerMu.Unlock()
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("delayed cache sweep failed")
		}
	})
}

// scan measures every track directory. Dot directories are skipped.
func (s *Store) scan(ctx context.Context) ([]trackUsage, error) {
	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("segstore: read root: %w", err)
	}
	out := make([]trackUsage, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(s.cfg.Root, e.Name())
		bytes, err := dirSize(dir)
		if err != nil {
			// Removed concurrently or unreadable; the next sweep will see it again.
			s.logger.Debug().Err(err).Str("path", dir).Msg("skip track dir")
			continue
		}
		u := trackUsage{id: e.Name(), dir: dir, bytes: bytes}
		if m, err := s.readManifestDisk(e.Name()); err == nil {
			u.stamp = m.CreatedAt
			u.segs = m.SegmentCount
		} else if info, err := e.Info(); err == nil {
			u.stamp = info.ModTime()
		}
		out = append(out, u)
	}
	return out, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// CleanupTemp removes attempt directories older than maxAge and returns how
// many were removed.
func (s *Store) CleanupTemp(maxAge time.Duration) (int, error) {
	tmp := filepath.Join(s.cfg.Root, tmpDirName)
	entries, err := os.ReadDir(tmp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("segstore: read tmp: %w", err)
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(tmp, e.Name())); err != nil {
			s.logger.Warn().Err(err).Str("path", e.Name()).Msg("remove stale attempt dir")
			continue
		}
		removed++
	}
	metrics.RecordEviction("tmp", removed)
	return removed, nil
}

// TrackStat describes one cached track.
type TrackStat struct {
	TrackID    string  `json:"track_id"`
	Bytes      int64   `json:"bytes"`
	AgeSeconds float64 `json:"age_seconds"`
	Segments   int     `json:"segments"`
	InFlight   bool    `json:"in_flight"`
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Root       string      `json:"root"`
	TotalBytes int64       `json:"total_bytes"`
	MaxBytes   int64       `json:"max_bytes"`
	Tracks     []TrackStat `json:"tracks"`
	MemoSize   int         `json:"manifest_memo_entries"`
}

// Stats scans the cache directory. Tracks are ordered oldest first.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	usages, err := s.scan(ctx)
	if err != nil {
		return Stats{}, err
	}
	sort.SliceStable(usages, func(i, j int) bool { return usages[i].stamp.Before(usages[j].stamp) })

	now := s.now()
	st := Stats{
		Root:     s.cfg.Root,
		MaxBytes: s.cfg.MaxBytes,
		Tracks:   make([]TrackStat, 0, len(usages)),
		MemoSize: s.memo.Len(),
	}
	for _, u := range usages {
		st.TotalBytes += u.bytes
		st.Tracks = append(st.Tracks, TrackStat{
			TrackID:    u.id,
			Bytes:      u.bytes,
			AgeSeconds: now.Sub(u.stamp).Seconds(),
			Segments:   u.segs,
			InFlight:   s.locks.InFlight(u.id),
		})
	}
	return st, nil
}

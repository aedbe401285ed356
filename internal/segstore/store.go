// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package segstore is the on-disk segment cache.
//
// Each track owns a directory <root>/<trackID>/ holding segment_NNN.ts files
// and a manifest.json written only after every segment is in place. Attempt
// scratch space lives under <root>/.tmp and is never visible as a track.
package segstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/tune2hls/internal/cache"
	"github.com/ManuGH/tune2hls/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const tmpDirName = ".tmp"

var (
	// ErrInvalidTrackID rejects ids that are unsafe as directory names.
	ErrInvalidTrackID = errors.New("segstore: invalid track id")
	// ErrSegmentOutOfRange is returned for an index past the manifest's count.
	ErrSegmentOutOfRange = errors.New("segstore: segment index out of range")
)

var trackIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// LockChecker reports whether a track directory is owned by a running job.
type LockChecker interface {
	InFlight(trackID string) bool
}

// Config describes the cache root and the validity rules.
type Config struct {
	Root        string
	Width       int
	Height      int
	MaxAge      time.Duration
	MaxBytes    int64
	TargetRatio float64
	// MemoEntries bounds the in-memory manifest cache.
	MemoEntries int
}

// Store manages the segment cache directory.
type Store struct {
	cfg    Config
	locks  LockChecker
	logger zerolog.Logger
	memo   *cache.Memory[*Manifest]
	now    func() time.Time

	sweepMu    sync.Mutex // held for the duration of a sweep
	timerMu    sync.Mutex
	sweepTimer *time.Timer
	closed     bool
	sweepWG    sync.WaitGroup
}

// New creates the root and scratch directories and returns a Store.
// locks may be nil when nothing is ever in flight.
func New(cfg Config, locks LockChecker, logger zerolog.Logger) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("segstore: empty root")
	}
	if cfg.TargetRatio <= 0 || cfg.TargetRatio > 1 {
		cfg.TargetRatio = 0.8
	}
	if cfg.MemoEntries <= 0 {
		cfg.MemoEntries = 500
	}
	if err := os.MkdirAll(filepath.Join(cfg.Root, tmpDirName), 0o755); err != nil {
		return nil, fmt.Errorf("segstore: create root: %w", err)
	}
	if locks == nil {
		locks = noLocks{}
	}
	return &Store{
		cfg:    cfg,
		locks:  locks,
		logger: logger,
		memo: cache.NewMemory[*Manifest](cache.MemoryOptions{
			MaxEntries: cfg.MemoEntries,
			Name:       "manifest",
		}),
		now: time.Now,
	}, nil
}

type noLocks struct{}

func (noLocks) InFlight(string) bool { return false }

// Root returns the cache root directory.
func (s *Store) Root() string { return s.cfg.Root }

// TrackDir returns the directory for a track.
func (s *Store) TrackDir(trackID string) (string, error) {
	if !trackIDPattern.MatchString(trackID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrackID, trackID)
	}
	return filepath.Join(s.cfg.Root, trackID), nil
}

// SegmentPath returns the path of segment index for a track. It does not
// check that the file exists.
func (s *Store) SegmentPath(trackID string, index int) (string, error) {
	dir, err := s.TrackDir(trackID)
	if err != nil {
		return "", err
	}
	if index < 0 {
		return "", ErrSegmentOutOfRange
	}
	return filepath.Join(dir, SegmentName(index)), nil
}

// ReadManifest returns the manifest for a track, preferring the in-memory
// cache. It does not check validity; use Lookup for that.
func (s *Store) ReadManifest(trackID string) (*Manifest, error) {
	if m, ok := s.memo.Get(trackID); ok {
		return m, nil
	}
	m, err := s.readManifestDisk(trackID)
	if err != nil {
		return nil, err
	}
	s.memo.Set(trackID, m, 0)
	return m, nil
}

func (s *Store) readManifestDisk(trackID string) (*Manifest, error) {
	dir, err := s.TrackDir(trackID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("segstore: open manifest: %w", err)
	}
	defer f.Close()
	return decodeManifest(f)
}

// Lookup returns the manifest if the entry is valid: manifest readable,
// version and dimensions matching the configuration, younger than MaxAge, and
// every segment present with at least MinSegmentBytes. Invalid entries are
// dropped from the in-memory cache so a regeneration is picked up.
func (s *Store) Lookup(trackID string) (*Manifest, bool) {
	m, err := s.ReadManifest(trackID)
	if err != nil {
		if errors.Is(err, ErrCorruptManifest) {
			s.logger.Debug().Err(err).Str("track_id", trackID).Msg("corrupt manifest treated as miss")
			metrics.RecordCacheLookup("invalid")
		} else {
			metrics.RecordCacheLookup("miss")
		}
		return nil, false
	}
	if reason := s.invalidReason(trackID, m); reason != "" {
		s.memo.Delete(trackID)
		s.logger.Debug().Str("track_id", trackID).Str("reason", reason).Msg("cache entry invalid")
		metrics.RecordCacheLookup("invalid")
		return nil, false
	}
	metrics.RecordCacheLookup("hit")
	return m, true
}

// IsValid reports whether the track can be served from cache.
func (s *Store) IsValid(trackID string) bool {
	_, ok := s.Lookup(trackID)
	return ok
}

func (s *Store) invalidReason(trackID string, m *Manifest) string {
	switch {
	case m.Version != FormatVersion:
		return "version"
	case m.Width != s.cfg.Width || m.Height != s.cfg.Height:
		return "dimensions"
	case s.cfg.MaxAge > 0 && s.now().Sub(m.CreatedAt) > s.cfg.MaxAge:
		return "expired"
	}
	for i := 0; i < m.SegmentCount; i++ {
		p, err := s.SegmentPath(trackID, i)
		if err != nil {
			return "path"
		}
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() || fi.Size() < MinSegmentBytes {
			return "segment"
		}
	}
	return ""
}

// NewAttemptDir creates a scratch directory unique to one generation attempt.
func (s *Store) NewAttemptDir(trackID string) (string, error) {
	if !trackIDPattern.MatchString(trackID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrackID, trackID)
	}
	dir := filepath.Join(s.cfg.Root, tmpDirName, trackID+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("segstore: create attempt dir: %w", err)
	}
	return dir, nil
}

// Publish moves segments 0..len(durations)-1 from srcDir into the track
// directory and then writes the manifest. Any previous content of the track
// directory is removed first. Callers must own the track's in-flight lock.
func (s *Store) Publish(trackID, srcDir string, durations []float64) (*Manifest, error) {
	dir, err := s.TrackDir(trackID)
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		Version:      FormatVersion,
		Width:        s.cfg.Width,
		Height:       s.cfg.Height,
		SegmentCount: len(durations),
		Durations:    append([]float64(nil), durations...),
		CreatedAt:    s.now().UTC(),
	}
	if err := m.check(); err != nil {
		return nil, err
	}

	s.memo.Delete(trackID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("segstore: clear track dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segstore: create track dir: %w", err)
	}
	for i := range durations {
		name := SegmentName(i)
		if err := os.Rename(filepath.Join(srcDir, name), filepath.Join(dir, name)); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("segstore: move %s: %w", name, err)
		}
	}
	if err := writeManifest(filepath.Join(dir, ManifestFile), m); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	s.memo.Set(trackID, m, 0)
	return m, nil
}

// Forget drops a track from the in-memory manifest cache.
func (s *Store) Forget(trackID string) {
	s.memo.Delete(trackID)
}

// Purge deletes every track directory not owned by a running job and clears
// the in-memory manifest cache. It returns the number of directories removed.
func (s *Store) Purge() (int, error) {
	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return 0, fmt.Errorf("segstore: read root: %w", err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if s.locks.InFlight(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.cfg.Root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	s.memo.Clear()
	metrics.RecordEviction("purge", removed)
	return removed, errors.Join(errs...)
}

// Close stops any pending delayed sweep and waits for a running one.
func (s *Store) Close() {
	s.timerMu.Lock()
	s.closed = true
	if s.sweepTimer != nil && s.sweepTimer.Stop() {
		s.sweepWG.Done()
	}
	s.sweepTimer = nil
	s.timerMu.Unlock()
	s.sweepWG.Wait()
}

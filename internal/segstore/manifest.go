// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package segstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/renameio/v2"
)

// FormatVersion is bumped whenever the on-disk layout or encoder output changes
// incompatibly. Entries with another version are invalid, not merely stale.
const FormatVersion = 2

const (
	// ManifestFile is the per-track metadata file, written last on publish.
	ManifestFile = "manifest.json"
	// MinSegmentBytes is the smallest segment file considered intact.
	MinSegmentBytes = 1024
)

var (
	// ErrNoManifest means the track has no readable manifest.
	ErrNoManifest = errors.New("segstore: no manifest")
	// ErrCorruptManifest means the manifest exists but cannot be used.
	ErrCorruptManifest = errors.New("segstore: corrupt manifest")
)

// Manifest is the persisted record of a generated track.
type Manifest struct {
	Version      int       `json:"version"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	SegmentCount int       `json:"segment_count"`
	Durations    []float64 `json:"durations"`
	CreatedAt    time.Time `json:"created_at"`
}

// SegmentName returns the file name of segment i.
func SegmentName(i int) string {
	return fmt.Sprintf("segment_%03d.ts", i)
}

// TotalDuration sums the segment durations.
func (m *Manifest) TotalDuration() float64 {
	var total float64
	for _, d := range m.Durations {
		total += d
	}
	return total
}

// check verifies internal consistency, independent of configuration.
func (m *Manifest) check() error {
	if m.SegmentCount <= 0 {
		return fmt.Errorf("%w: segment_count %d", ErrCorruptManifest, m.SegmentCount)
	}
	if len(m.Durations) != m.SegmentCount {
		return fmt.Errorf("%w: %d durations for %d segments", ErrCorruptManifest, len(m.Durations), m.SegmentCount)
	}
	for i, d := range m.Durations {
		if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("%w: segment %d duration %v", ErrCorruptManifest, i, d)
		}
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrCorruptManifest)
	}
	return nil
}

func decodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

// writeManifest replaces path atomically: fsync, then rename.
func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

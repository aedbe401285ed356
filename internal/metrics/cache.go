// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts segment cache lookups by result (hit, miss, invalid).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_cache_lookups_total",
		Help: "Segment cache validity checks, by result.",
	}, []string{"result"})

	// CacheBytes is the on-disk cache size measured by the last sweep.
	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tune2hls_cache_bytes",
		Help: "On-disk segment cache size measured by the last sweep.",
	})

	// CacheTracks is the number of track directories seen by the last sweep.
	CacheTracks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tune2hls_cache_tracks",
		Help: "Track directories seen by the last sweep.",
	})

	// CacheEvictions counts deleted directories by reason (age, size, purge, tmp).
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_cache_evictions_total",
		Help: "Directories deleted from the segment cache, by reason.",
	}, []string{"reason"})

	// CacheSweepDuration tracks eviction sweep runtime.
	CacheSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tune2hls_cache_sweep_duration_seconds",
		Help:    "Duration of eviction sweeps.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	// MemoEntries is the size of in-memory caches, by cache name.
	MemoEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tune2hls_memo_entries",
		Help: "Entries held by in-memory caches.",
	}, []string{"cache"})
)

// RecordCacheLookup increments the lookup counter.
func RecordCacheLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordEviction adds deleted directories for a reason.
func RecordEviction(reason string, n int) {
	if n <= 0 {
		return
	}
	CacheEvictions.WithLabelValues(reason).Add(float64(n))
}

// SetCacheSize publishes the measured cache size.
func SetCacheSize(bytes int64, tracks int) {
	CacheBytes.Set(float64(bytes))
	CacheTracks.Set(float64(tracks))
}

// SetMemoEntries publishes the entry count of a named in-memory cache.
func SetMemoEntries(name string, n int) {
	MemoEntries.WithLabelValues(name).Set(float64(n))
}

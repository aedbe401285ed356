// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for tune2hls.
// Labels are kept low-cardinality: no track, playlist or token ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsRunning tracks transcode jobs holding an admission slot.
	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tune2hls_jobs_running",
		Help: "Current number of transcode jobs holding an admission slot.",
	})

	// JobsWaiting tracks jobs queued for an admission slot.
	JobsWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tune2hls_jobs_waiting",
		Help: "Current number of transcode jobs waiting for an admission slot.",
	})

	// AdmissionTotal counts admission outcomes (immediate, queued, rejected, canceled).
	AdmissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_admission_total",
		Help: "Admission decisions, by outcome.",
	}, []string{"outcome"})

	// InFlightJoinsTotal counts requests that joined an already running generation.
	InFlightJoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tune2hls_inflight_joins_total",
		Help: "Requests that awaited an in-flight generation instead of starting one.",
	})

	// InFlightReclaimedTotal counts settled handles purged by housekeeping.
	InFlightReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tune2hls_inflight_reclaimed_total",
		Help: "Stale in-flight handles removed by housekeeping.",
	})

	// GenerationsTotal counts track generations by result.
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_generations_total",
		Help: "Track generations, by result (success, busy, error, no_url).",
	}, []string{"result"})

	// PrefetchTotal counts prefetch outcomes per track.
	PrefetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_prefetch_tracks_total",
		Help: "Prefetch outcomes per track, by trigger and outcome.",
	}, []string{"trigger", "outcome"})
)

// RecordAdmission increments the admission counter for an outcome.
func RecordAdmission(outcome string) {
	AdmissionTotal.WithLabelValues(outcome).Inc()
}

// SetJobLoad publishes the current admission counters.
func SetJobLoad(running, waiting int) {
	JobsRunning.Set(float64(running))
	JobsWaiting.Set(float64(waiting))
}

// RecordGeneration increments the generation counter.
func RecordGeneration(result string) {
	GenerationsTotal.WithLabelValues(result).Inc()
}

// RecordPrefetch increments the prefetch counter.
func RecordPrefetch(trigger, outcome string) {
	PrefetchTotal.WithLabelValues(trigger, outcome).Inc()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EncoderDuration tracks wall-clock encoder runtime.
	EncoderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tune2hls_encoder_duration_seconds",
		Help:    "Wall-clock duration of encoder invocations.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2.0, 12), // 0.5s to ~17m
	}, []string{"result"})

	// TranscodeFailures tracks failed generations by phase.
	TranscodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_transcode_failures_total",
		Help: "Failed transcode attempts, by phase.",
	}, []string{"phase"})

	// FetchBytes tracks downloaded bytes by kind (audio, cover).
	FetchBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_fetch_bytes_total",
		Help: "Bytes downloaded from upstream media hosts.",
	}, []string{"kind"})

	// FetchErrors tracks download failures by reason.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_fetch_errors_total",
		Help: "Download failures, by reason.",
	}, []string{"reason"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_proc_terminate_total",
		Help: "Signals sent to encoder process groups, by signal and result.",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tune2hls_proc_wait_total",
		Help: "Reaped encoder processes after termination, by outcome.",
	}, []string{"outcome"})
)

// ObserveEncoder records one encoder invocation.
func ObserveEncoder(result string, seconds float64) {
	EncoderDuration.WithLabelValues(result).Observe(seconds)
}

// IncTranscodeFailure increments the failure counter for a phase.
func IncTranscodeFailure(phase string) {
	TranscodeFailures.WithLabelValues(phase).Inc()
}

// AddFetchBytes adds downloaded bytes for a media kind.
func AddFetchBytes(kind string, n int64) {
	FetchBytes.WithLabelValues(kind).Add(float64(n))
}

// IncFetchError increments the download failure counter.
func IncFetchError(reason string) {
	FetchErrors.WithLabelValues(reason).Inc()
}

// IncProcTerminate records a signal sent to a process group.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(outcome string) {
	procWait.WithLabelValues(outcome).Inc()
}

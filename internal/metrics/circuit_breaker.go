// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "tune2hls_circuit_breaker_state",
	Help: "Circuit breaker state (1 for the current state, 0 otherwise).",
}, []string{"name", "state"})

var breakerStates = []string{"closed", "open", "half-open"}

// SetCircuitBreakerState marks state as the active state for a breaker.
func SetCircuitBreakerState(name, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		circuitBreakerState.WithLabelValues(name, s).Set(v)
	}
}

var circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tune2hls_circuit_breaker_trips_total",
	Help: "Transitions into the open state, by breaker and reason.",
}, []string{"name", "reason"})

// RecordCircuitBreakerTrip counts a breaker opening.
func RecordCircuitBreakerTrip(name, reason string) {
	circuitBreakerTrips.WithLabelValues(name, reason).Inc()
}

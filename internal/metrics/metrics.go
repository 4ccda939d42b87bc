package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ffximgr",
			Subsystem: "monitor",
			Name:      "detections_total",
			Help:      "Number of tracked-process detections per monitor profile.",
		}, []string{"profile"},
	)
	processRemovals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ffximgr",
			Subsystem: "monitor",
			Name:      "removals_total",
			Help:      "Number of tracked-process removals per monitor profile.",
		}, []string{"profile"},
	)
	trackedProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ffximgr",
			Subsystem: "monitor",
			Name:      "tracked_processes",
			Help:      "Current number of tracked processes.",
		},
	)
	sweepRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ffximgr",
			Subsystem: "monitor",
			Name:      "sweep_recoveries_total",
			Help:      "Stale removals and missed detections recovered by the safety sweep.",
		}, []string{"kind"},
	)

	activations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ffximgr",
			Subsystem: "activation",
			Name:      "attempts_total",
			Help:      "Window activation attempts by outcome reason.",
		}, []string{"reason"},
	)
	activationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ffximgr",
			Subsystem: "activation",
			Name:      "latency_seconds",
			Help:      "Latency from accepted trigger to completed focus change.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ffximgr",
			Subsystem: "activation",
			Name:      "breaker_open",
			Help:      "1 while the trigger circuit breaker is open, else 0.",
		},
	)
	breakerTrips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ffximgr",
			Subsystem: "activation",
			Name:      "breaker_trips_total",
			Help:      "Number of times the trigger circuit breaker tripped.",
		},
	)

	mappingLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ffximgr",
			Subsystem: "hotkeymap",
			Name:      "lookups_total",
			Help:      "Hotkey mapping cache lookups by result (hit/miss).",
		}, []string{"result"},
	)
	mappingRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ffximgr",
			Subsystem: "hotkeymap",
			Name:      "refreshes_total",
			Help:      "Completed mapping table rebuilds.",
		},
	)

	inputPresses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ffximgr",
			Subsystem: "input",
			Name:      "presses_total",
			Help:      "Edge-triggered binding presses by source (keyboard/gamepad/joystick).",
		}, []string{"source"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processDetections, processRemovals, trackedProcesses, sweepRecoveries,
		activations, activationLatency, breakerState, breakerTrips,
		mappingLookups, mappingRefreshes, inputPresses,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncDetection(profile string) {
	if regOK.Load() {
		processDetections.WithLabelValues(profile).Inc()
	}
}

func IncRemoval(profile string) {
	if regOK.Load() {
		processRemovals.WithLabelValues(profile).Inc()
	}
}

func SetTrackedProcesses(n int) {
	if regOK.Load() {
		trackedProcesses.Set(float64(n))
	}
}

func IncSweepRecovery(kind string) {
	if regOK.Load() {
		sweepRecoveries.WithLabelValues(kind).Inc()
	}
}

func IncActivation(reason string) {
	if regOK.Load() {
		activations.WithLabelValues(reason).Inc()
	}
}

func ObserveActivationLatency(seconds float64) {
	if regOK.Load() {
		activationLatency.Observe(seconds)
	}
}

func SetBreakerOpen(open bool) {
	if regOK.Load() {
		v := 0.0
		if open {
			v = 1
		}
		breakerState.Set(v)
	}
}

func IncBreakerTrip() {
	if regOK.Load() {
		breakerTrips.Inc()
	}
}

func IncMappingLookup(hit bool) {
	if regOK.Load() {
		result := "miss"
		if hit {
			result = "hit"
		}
		mappingLookups.WithLabelValues(result).Inc()
	}
}

func IncMappingRefresh() {
	if regOK.Load() {
		mappingRefreshes.Inc()
	}
}

func IncPress(source string) {
	if regOK.Load() {
		inputPresses.WithLabelValues(source).Inc()
	}
}

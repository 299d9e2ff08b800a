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

	supervisorRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devhost",
			Subsystem: "supervisor",
			Name:      "runs_total",
			Help:      "Supervision runs by terminal outcome (ready, already_running, failed, timed_out).",
		}, []string{"outcome"},
	)
	startupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "devhost",
			Subsystem: "supervisor",
			Name:      "startup_duration_seconds",
			Help:      "Time from launch until the dev server announced readiness.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devhost",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "devhost",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	linesDrained = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devhost",
			Subsystem: "devserver",
			Name:      "lines_total",
			Help:      "Output lines read from the dev server, per stream.",
		}, []string{"stream"},
	)
	provisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devhost",
			Subsystem: "provision",
			Name:      "total",
			Help:      "Artifact provisioning attempts by result (created, skipped, failed).",
		}, []string{"result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{supervisorRuns, startupDuration, stateTransitions, currentState, linesDrained, provisions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with the default registry is fine
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRun(outcome string) {
	if regOK.Load() {
		supervisorRuns.WithLabelValues(outcome).Inc()
	}
}

func ObserveStartup(seconds float64) {
	if regOK.Load() {
		startupDuration.Observe(seconds)
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentState(state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentState.WithLabelValues(state).Set(value)
	}
}

func IncLine(stream string) {
	if regOK.Load() {
		linesDrained.WithLabelValues(stream).Inc()
	}
}

func IncProvision(result string) {
	if regOK.Load() {
		provisions.WithLabelValues(result).Inc()
	}
}

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

	processSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easycli",
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of successful process spawns, including restarts.",
		}, []string{"group", "item"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easycli",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of policy-driven restarts.",
		}, []string{"group", "item"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easycli",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of observed process exits.",
		}, []string{"group", "item"},
	)
	crashLoopHalts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easycli",
			Subsystem: "process",
			Name:      "crash_loop_halts_total",
			Help:      "Number of items permanently halted by crash loop detection.",
		}, []string{"group", "item"},
	)
	runningProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "easycli",
			Subsystem: "process",
			Name:      "running",
			Help:      "Currently running processes per group.",
		}, []string{"group"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processSpawns, processRestarts, processExits, crashLoopHalts, runningProcesses}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns an http.Handler serving Prometheus metrics for the
// default gatherer. The caller wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncSpawn(group, item string) {
	if regOK.Load() {
		processSpawns.WithLabelValues(group, item).Inc()
	}
}
func IncRestart(group, item string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(group, item).Inc()
	}
}
func IncExit(group, item string) {
	if regOK.Load() {
		processExits.WithLabelValues(group, item).Inc()
	}
}
func IncCrashLoopHalt(group, item string) {
	if regOK.Load() {
		crashLoopHalts.WithLabelValues(group, item).Inc()
	}
}
func SetRunning(group string, n int) {
	if regOK.Load() {
		runningProcesses.WithLabelValues(group).Set(float64(n))
	}
}

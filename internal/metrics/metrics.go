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

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service spawns.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stop attempts (graceful or kill).",
		}, []string{"name"},
	)
	serviceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "failures_total",
			Help:      "Number of services that failed to reach ready, by cause.",
		}, []string{"name", "cause"},
	)
	readinessWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "readiness_wait_seconds",
			Help:      "Time spent waiting for a service to answer its readiness probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	serviceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	untrackedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackctl",
			Subsystem: "service",
			Name:      "untracked_kills_total",
			Help:      "Processes terminated through untracked discovery (by image name or port owner).",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, serviceFailures, readinessWait, serviceState, untrackedKills}
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

// RegisterDefault registers with the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler serving the default gatherer. The caller
// wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncFailure(name, cause string) {
	if regOK.Load() {
		serviceFailures.WithLabelValues(name, cause).Inc()
	}
}

func ObserveReadinessWait(name string, seconds float64) {
	if regOK.Load() {
		readinessWait.WithLabelValues(name).Observe(seconds)
	}
}

func SetState(name, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1.0
		}
		serviceState.WithLabelValues(name, state).Set(v)
	}
}

func AddUntrackedKills(name string, n int) {
	if regOK.Load() && n > 0 {
		untrackedKills.WithLabelValues(name).Add(float64(n))
	}
}

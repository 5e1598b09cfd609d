// SPDX-License-Identifier: MPL-2.0

// Package metrics exposes launch and session counters in the Prometheus
// text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "termlaunch"

// Spawn results used as the result label.
const (
	ResultOK          = "ok"
	ResultComposition = "composition"
	ResultMerge       = "merge"
	ResultHandler     = "handler"
	ResultLaunch      = "launch"
)

// Metrics holds every collector on a private registry, so several instances
// can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	Spawns        *prometheus.CounterVec
	SpawnDuration *prometheus.HistogramVec
	ExitCodes     *prometheus.CounterVec

	ProviderUpdates *prometheus.CounterVec
	Containers      *prometheus.GaugeVec

	SSHSessionsActive prometheus.Gauge
	SSHSessionsTotal  prometheus.Counter
	SSHAuthFailures   prometheus.Counter
}

// New registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Spawns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spawns_total",
				Help:      "Launch attempts by target kind and result stage.",
			},
			[]string{"target", "result"},
		),
		SpawnDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "spawn_duration_seconds",
				Help:      "Time from composing a launch to the child being started.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"target"},
		),
		ExitCodes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exits_total",
				Help:      "Terminated children by target kind and how they ended.",
			},
			[]string{"target", "how"},
		),
		ProviderUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_updates_total",
				Help:      "Container list reloads by provider and result.",
			},
			[]string{"provider", "result"},
		),
		Containers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "containers",
				Help:      "Containers known per provider.",
			},
			[]string{"provider"},
		),
		SSHSessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ssh_sessions_active",
			Help:      "Open SSH terminal sessions.",
		}),
		SSHSessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ssh_sessions_total",
			Help:      "SSH terminal sessions accepted.",
		}),
		SSHAuthFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ssh_auth_failures_total",
			Help:      "Rejected SSH token logins.",
		}),
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSpawn records one launch attempt. A nil receiver is a no-op so
// callers can run without metrics.
func (m *Metrics) ObserveSpawn(target, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Spawns.WithLabelValues(target, result).Inc()
	if result == ResultOK {
		m.SpawnDuration.WithLabelValues(target).Observe(elapsed.Seconds())
	}
}

// ObserveExit records how a child ended: "exited", "failed" for a non-zero
// status, or "signaled".
func (m *Metrics) ObserveExit(target, how string) {
	if m == nil {
		return
	}
	m.ExitCodes.WithLabelValues(target, how).Inc()
}

// ObserveProviderUpdate records a container list reload.
func (m *Metrics) ObserveProviderUpdate(provider string, count int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ProviderUpdates.WithLabelValues(provider, "error").Inc()
		return
	}
	m.ProviderUpdates.WithLabelValues(provider, ResultOK).Inc()
	m.Containers.WithLabelValues(provider).Set(float64(count))
}

// SessionOpened and SessionClosed track SSH sessions.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SSHSessionsTotal.Inc()
	m.SSHSessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SSHSessionsActive.Dec()
}

// AuthFailed counts a rejected login.
func (m *Metrics) AuthFailed() {
	if m == nil {
		return
	}
	m.SSHAuthFailures.Inc()
}

// Package metrics exposes the tracker's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incomed"

// Sync attempt results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics bundles every instrument the services report into. One
// instance per process, registered against a single registry.
type Metrics struct {
	RecomputeTotal prometheus.Counter
	IncomeCents    prometheus.Gauge
	WorkedMinutes  prometheus.Gauge
	TickInterval   prometheus.Gauge

	SyncAttempts   *prometheus.CounterVec
	SyncQueueDepth prometheus.Gauge
	SyncRetries    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecomputeTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "recompute_total",
			Help:      "Income recomputations performed.",
		}),
		IncomeCents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "income_cents",
			Help:      "Current day's income in cents.",
		}),
		WorkedMinutes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "worked_minutes",
			Help:      "Current day's worked minutes.",
		}),
		TickInterval: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_interval_seconds",
			Help:      "Current recompute tick interval.",
		}),
		SyncAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Sync attempts by result.",
		}, []string{"result"}),
		SyncQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "queue_depth",
			Help:      "Sync requests waiting in the cooldown queue.",
		}),
		SyncRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "retries_total",
			Help:      "Retry timers fired after a failed sync.",
		}),
	}
}

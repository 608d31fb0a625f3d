// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PersistDuration tracks how long a full snapshot save takes per adapter.
	PersistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "family_safety_persist_duration_seconds",
		Help:    "Snapshot save duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"adapter"})

	// PersistFailures counts snapshot saves that returned an error.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "family_safety_persist_failures_total",
		Help: "Total failed snapshot saves",
	}, []string{"adapter"})

	SnapshotBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "family_safety_snapshot_bytes",
		Help: "Size of the last saved snapshot",
	})

	// Pairings counts pairing attempts by result (started, paired, not_found, throttled).
	Pairings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "family_safety_pairings_total",
		Help: "Device pairing attempts by result",
	}, []string{"result"})

	// Heartbeats counts agent heartbeats by result (ok, unauthorized, overdue).
	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "family_safety_heartbeats_total",
		Help: "Agent heartbeats by result",
	}, []string{"result"})

	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "family_safety_access_requests_total",
		Help: "Access requests by type and outcome",
	}, []string{"type", "outcome"})

	AuditEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "family_safety_audit_entries",
		Help: "Audit entries currently retained",
	})

	IntegritySignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "family_safety_integrity_signals_total",
		Help: "Circumvention signals reported by agents",
	}, []string{"signal"})
)

// ObservePersist records one save against adapter.
func ObservePersist(adapter string, started time.Time, size int, err error) {
	PersistDuration.WithLabelValues(adapter).Observe(time.Since(started).Seconds())
	if err != nil {
		PersistFailures.WithLabelValues(adapter).Inc()
		return
	}
	SnapshotBytes.Set(float64(size))
}
